package job_test

import (
	"testing"

	"github.com/ingestpipe/pipeline/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTextRoundTrip(t *testing.T) {
	stages := []job.Stage{
		job.StageJobValidated, job.StageParsing, job.StageParsed,
		job.StageParseValidated, job.StageChunking, job.StageChunked,
		job.StageEmbedding, job.StageEmbedded,
		job.StageFailedParse, job.StageFailedChunking,
		job.StageFailedEmbedding, job.StageFailedUnknown,
	}
	for _, s := range stages {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got job.Stage
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}
}

func TestParseStageRejectsUnknown(t *testing.T) {
	_, err := job.ParseStage("bogus")
	assert.Error(t, err)
}

func TestStageNextWalksActiveProgression(t *testing.T) {
	s := job.StageJobValidated
	var walked []job.Stage
	for {
		walked = append(walked, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		s = next
	}
	assert.Equal(t, job.StageEmbedded, walked[len(walked)-1])
	assert.Len(t, walked, 8)
}

func TestStageAtOrAfter(t *testing.T) {
	assert.True(t, job.StageChunked.AtOrAfter(job.StageParsing))
	assert.False(t, job.StageParsing.AtOrAfter(job.StageChunked))
	assert.True(t, job.StageEmbedded.AtOrAfter(job.StageEmbedded))
}

func TestFailedStageForMapsPhase(t *testing.T) {
	assert.Equal(t, job.StageFailedParse, job.FailedStageFor(job.StageParsing))
	assert.Equal(t, job.StageFailedChunking, job.FailedStageFor(job.StageChunking))
	assert.Equal(t, job.StageFailedEmbedding, job.FailedStageFor(job.StageEmbedding))
	assert.Equal(t, job.StageFailedUnknown, job.FailedStageFor(job.StageFailedParse))
}
