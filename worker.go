package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/internal"
	"github.com/ingestpipe/pipeline/job"
)

// JobStore is the subset of store/postgres.JobStore the worker loop
// needs: lease one job, advance it, reschedule it, or deadletter it.
type JobStore interface {
	Lease(ctx context.Context, now time.Time) (*job.Job, error)
	Advance(ctx context.Context, id uuid.UUID, nextStage job.Stage, nextState job.State, progress job.Progress) error
	Retry(ctx context.Context, id uuid.UUID, retryCount int, lastErr job.LastError) error
	Deadletter(ctx context.Context, id uuid.UUID, failedStage job.Stage, lastErr job.LastError) error
	Ping(ctx context.Context) error
}

// WorkerConfig controls a Worker's runtime behavior, per spec §9.
type WorkerConfig struct {
	WorkerID                string
	TerminalStage           job.Stage
	PollInterval            time.Duration
	MaxRetries              int
	RetryBaseDelay          time.Duration
	RetryJitter             float64
	CircuitFailureThreshold uint32
	CircuitRecoveryTimeout  time.Duration
}

// Worker leases jobs one at a time and runs one stage transition per
// lease: the job advances to its next stage (queued again, or done at the
// terminal stage), goes back to retryable, or is deadlettered. Reuses the
// teacher's atomic start/stop (lcBase) and periodic-polling
// (internal.TimerTask) machinery, since leasing one job at a time needs
// neither the teacher's batch pull nor its concurrent worker pool.
type Worker struct {
	lcBase
	id       string
	jobs     JobStore
	docs     DocumentStore
	deps     *stageDeps
	pollTask internal.TimerTask
	log      *slog.Logger
	breaker  *gobreaker.CircuitBreaker

	terminalStage  job.Stage
	pollInterval   time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	retryJitter    float64
}

// NewWorker constructs a Worker. deps bundles the stage handlers'
// collaborators (blob store, external clients, chunker); jobs/docs are
// the store interfaces the worker loop itself uses to transition rows.
func NewWorker(jobs JobStore, docs DocumentStore, deps *stageDeps, cfg WorkerConfig, log *slog.Logger) *Worker {
	threshold := cfg.CircuitFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	recovery := cfg.CircuitRecoveryTimeout
	if recovery == 0 {
		recovery = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 3 * time.Second
	}
	terminal := cfg.TerminalStage
	if terminal == job.StageUnknown {
		terminal = job.StageEmbedded
	}
	id := cfg.WorkerID
	if id == "" {
		id = uuid.NewString()
	}

	return &Worker{
		id:   id,
		jobs: jobs,
		docs: docs,
		deps: deps,
		log:  log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "pipeline-worker",
			Timeout: recovery,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		terminalStage:  terminal,
		pollInterval:   cfg.PollInterval,
		maxRetries:     maxRetries,
		retryBaseDelay: baseDelay,
		retryJitter:    cfg.RetryJitter,
	}
}

// Start begins the polling loop in the background. Start returns
// ErrDoubleStarted if already running.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.tryStart(); err != nil {
		return err
	}
	w.pollTask.Start(ctx, w.tick, w.pollInterval)
	return nil
}

// Stop gracefully stops the polling loop, waiting up to timeout for the
// in-flight lease/handle cycle to finish.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.tryStop(timeout, w.pollTask.Stop)
}

// tick runs one lease-and-handle cycle. Per spec §4.2 step 1, an open
// worker-level circuit breaker is checked before attempting a lease; when
// open the tick is a no-op and the next poll interval retries it.
func (w *Worker) tick(ctx context.Context) {
	if w.breaker.State() == gobreaker.StateOpen {
		w.log.Debug("worker circuit open, skipping tick")
		return
	}
	w.runOnce(ctx)
}

// runOnce leases exactly one job and drives it through its current
// stage's handler, per spec §4.2 steps 2-6.
func (w *Worker) runOnce(ctx context.Context) {
	leased, err := w.breaker.Execute(func() (any, error) {
		return w.jobs.Lease(ctx, time.Now())
	})
	if err != nil {
		w.log.Error("lease failed", "err", err)
		return
	}
	j, _ := leased.(*job.Job)
	if j == nil {
		return
	}
	w.handle(ctx, j)
}

// handle dispatches j to its stage's handler and applies the resulting
// transition, retry, or deadletter.
func (w *Worker) handle(ctx context.Context, j *job.Job) {
	handler, ok := stageHandlers[j.Stage]
	if !ok {
		w.fail(ctx, j, &ClassifiedError{Kind: job.ErrorKindFatalRemote, Err: errUnknownStage(j.Stage)})
		return
	}

	nextStage, err := handler(ctx, w.deps, j)
	if err != nil {
		w.fail(ctx, j, err)
		return
	}

	nextState := job.StateQueued
	if nextStage.AtOrAfter(w.terminalStage) {
		nextState = job.StateDone
		if err := w.docs.UpdateStatus(ctx, j.DocumentID, document.StatusCompleted); err != nil {
			w.log.Error("cannot finalize document status", "document_id", j.DocumentID, "err", err)
		}
	}

	if err := w.jobs.Advance(ctx, j.ID, nextStage, nextState, j.Progress); err != nil {
		w.log.Error("cannot advance job", "job_id", j.ID, "err", err)
	}
}

// fail classifies err and either schedules a retry or deadletters j, per
// spec §4.8.
func (w *Worker) fail(ctx context.Context, j *job.Job, err error) {
	kind := classify(err)
	now := time.Now().UTC()

	if !kind.Retryable() || j.RetryCount+1 > w.maxRetries {
		recordKind := kind
		if kind.Retryable() {
			// Only disjunct left is exhaustion: the kind itself would
			// have allowed another attempt.
			recordKind = job.ErrorKindRetriesExhausted
		}
		failedStage := job.FailedStageFor(j.Stage)
		lastErr := job.LastError{Kind: recordKind, Message: err.Error(), Timestamp: now}
		if derr := w.jobs.Deadletter(ctx, j.ID, failedStage, lastErr); derr != nil {
			w.log.Error("cannot deadletter job", "job_id", j.ID, "err", derr)
		}
		if derr := w.docs.UpdateStatus(ctx, j.DocumentID, statusForFailedStage(failedStage)); derr != nil {
			w.log.Error("cannot mark document failed", "document_id", j.DocumentID, "err", derr)
		}
		w.log.Warn("job deadlettered", "job_id", j.ID, "stage", failedStage, "kind", recordKind, "err", err)
		return
	}

	retryCount := j.RetryCount + 1
	delay := job.BackoffDelay(retryCount, w.retryBaseDelay, w.retryJitter, rand.Float64)
	lastErr := job.LastError{Kind: kind, Message: err.Error(), Timestamp: now, RetryAt: now.Add(delay)}
	if rerr := w.jobs.Retry(ctx, j.ID, retryCount, lastErr); rerr != nil {
		w.log.Error("cannot schedule retry", "job_id", j.ID, "err", rerr)
	}
}

func statusForFailedStage(stage job.Stage) document.Status {
	switch stage {
	case job.StageFailedParse:
		return document.StatusFailedParse
	case job.StageFailedChunking:
		return document.StatusFailedChunking
	case job.StageFailedEmbedding:
		return document.StatusFailedEmbedding
	default:
		return document.StatusFailedUnknown
	}
}

func errUnknownStage(stage job.Stage) error {
	return errors.New("no handler registered for stage " + stage.String())
}
