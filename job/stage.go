package job

import "fmt"

// Stage identifies a point in the document ingestion pipeline. Stages
// progress forward only; the active set is the ordered sequence from
// StageJobValidated through the configured terminal stage. The Failed*
// stages are not part of the active sequence: they are written once a job
// is deadlettered, recording which phase it died in.
type Stage uint8

const (
	StageUnknown Stage = iota
	StageJobValidated
	StageParsing
	StageParsed
	StageParseValidated
	StageChunking
	StageChunked
	StageEmbedding
	StageEmbedded

	StageFailedParse
	StageFailedChunking
	StageFailedEmbedding
	StageFailedUnknown
)

// activeStages is the forward-only progression a job walks while healthy.
// Index in this slice doubles as the stage's ordinal for terminal-stage
// comparisons.
var activeStages = []Stage{
	StageJobValidated,
	StageParsing,
	StageParsed,
	StageParseValidated,
	StageChunking,
	StageChunked,
	StageEmbedding,
	StageEmbedded,
}

func stageToString(s Stage) string {
	switch s {
	case StageJobValidated:
		return "job_validated"
	case StageParsing:
		return "parsing"
	case StageParsed:
		return "parsed"
	case StageParseValidated:
		return "parse_validated"
	case StageChunking:
		return "chunking"
	case StageChunked:
		return "chunked"
	case StageEmbedding:
		return "embedding"
	case StageEmbedded:
		return "embedded"
	case StageFailedParse:
		return "failed_parse"
	case StageFailedChunking:
		return "failed_chunking"
	case StageFailedEmbedding:
		return "failed_embedding"
	case StageFailedUnknown:
		return "failed_unknown"
	default:
		return "unknown"
	}
}

func stageFromString(s string) (Stage, error) {
	switch s {
	case "job_validated":
		return StageJobValidated, nil
	case "parsing":
		return StageParsing, nil
	case "parsed":
		return StageParsed, nil
	case "parse_validated":
		return StageParseValidated, nil
	case "chunking":
		return StageChunking, nil
	case "chunked":
		return StageChunked, nil
	case "embedding":
		return StageEmbedding, nil
	case "embedded":
		return StageEmbedded, nil
	case "failed_parse":
		return StageFailedParse, nil
	case "failed_chunking":
		return StageFailedChunking, nil
	case "failed_embedding":
		return StageFailedEmbedding, nil
	case "failed_unknown":
		return StageFailedUnknown, nil
	default:
		return StageUnknown, fmt.Errorf("job: unknown stage %q", s)
	}
}

// ParseStage parses the wire representation of a Stage.
func ParseStage(s string) (Stage, error) {
	return stageFromString(s)
}

func (s Stage) String() string {
	return stageToString(s)
}

func (s Stage) MarshalText() ([]byte, error) {
	if s == StageUnknown {
		return nil, fmt.Errorf("job: cannot marshal unknown stage")
	}
	return []byte(stageToString(s)), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := stageFromString(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Failed reports whether s is one of the terminal failure stages.
func (s Stage) Failed() bool {
	switch s {
	case StageFailedParse, StageFailedChunking, StageFailedEmbedding, StageFailedUnknown:
		return true
	default:
		return false
	}
}

// ordinal returns s's position in the active forward progression, or -1 if
// s is not an active stage (e.g. a Failed* stage).
func (s Stage) ordinal() int {
	for i, a := range activeStages {
		if a == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s in the active progression, and
// false if s is the last active stage (StageEmbedded) or not an active
// stage at all.
func (s Stage) Next() (Stage, bool) {
	i := s.ordinal()
	if i < 0 || i+1 >= len(activeStages) {
		return StageUnknown, false
	}
	return activeStages[i+1], true
}

// AtOrAfter reports whether s has reached or passed terminal in the active
// progression. Both stages must be active stages; a Failed* stage is never
// at-or-after an active one.
func (s Stage) AtOrAfter(terminal Stage) bool {
	si, ti := s.ordinal(), terminal.ordinal()
	if si < 0 || ti < 0 {
		return false
	}
	return si >= ti
}

// ActiveStages returns the ordered forward progression a healthy job walks,
// job_validated through embedded. Used by the lease query to restrict
// candidates to the active set (spec §4.1 lease rule).
func ActiveStages() []Stage {
	out := make([]Stage, len(activeStages))
	copy(out, activeStages)
	return out
}

// FailedStageFor maps the stage a job was working on when it was
// deadlettered to the corresponding failed_* marker stage.
func FailedStageFor(working Stage) Stage {
	switch working {
	case StageJobValidated, StageParsing, StageParsed:
		return StageFailedParse
	case StageParseValidated, StageChunking, StageChunked:
		return StageFailedChunking
	case StageEmbedding, StageEmbedded:
		return StageFailedEmbedding
	default:
		return StageFailedUnknown
	}
}
