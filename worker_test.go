package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobStore struct {
	jobs        map[uuid.UUID]*job.Job
	advanceErr  error
	retryErr    error
	deadErr     error
	deadletters []uuid.UUID
	retries     []uuid.UUID
}

func newFakeJobStore(jobs ...*job.Job) *fakeJobStore {
	m := make(map[uuid.UUID]*job.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeJobStore{jobs: m}
}

func (s *fakeJobStore) Lease(ctx context.Context, now time.Time) (*job.Job, error) {
	for _, j := range s.jobs {
		if j.State == job.StateQueued {
			j.State = job.StateWorking
			return j, nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) Advance(ctx context.Context, id uuid.UUID, nextStage job.Stage, nextState job.State, progress job.Progress) error {
	if s.advanceErr != nil {
		return s.advanceErr
	}
	j := s.jobs[id]
	j.Stage = nextStage
	j.State = nextState
	j.Progress = progress
	return nil
}

func (s *fakeJobStore) Retry(ctx context.Context, id uuid.UUID, retryCount int, lastErr job.LastError) error {
	s.retries = append(s.retries, id)
	if s.retryErr != nil {
		return s.retryErr
	}
	j := s.jobs[id]
	j.State = job.StateRetryable
	j.RetryCount = retryCount
	j.LastError = &lastErr
	return nil
}

func (s *fakeJobStore) Deadletter(ctx context.Context, id uuid.UUID, failedStage job.Stage, lastErr job.LastError) error {
	s.deadletters = append(s.deadletters, id)
	if s.deadErr != nil {
		return s.deadErr
	}
	j := s.jobs[id]
	j.Stage = failedStage
	j.State = job.StateDeadletter
	j.LastError = &lastErr
	return nil
}

func (s *fakeJobStore) Ping(ctx context.Context) error {
	return nil
}

type fakeDocumentStore struct {
	statuses map[uuid.UUID]document.Status
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{statuses: map[uuid.UUID]document.Status{}}
}

func (s *fakeDocumentStore) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	return &document.Document{ID: id}, nil
}

func (s *fakeDocumentStore) FindByParsedHash(ctx context.Context, parsedHash string, excludeID uuid.UUID) (*document.Document, error) {
	return nil, errors.New("not found")
}

func (s *fakeDocumentStore) UpdateParsed(ctx context.Context, id uuid.UUID, parsedPath, parsedHash string) error {
	return nil
}

func (s *fakeDocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status document.Status) error {
	s.statuses[id] = status
	return nil
}

func newTestWorker(jobs JobStore, docs DocumentStore, cfg WorkerConfig) *Worker {
	return NewWorker(jobs, docs, &stageDeps{}, cfg, testLogger())
}

func TestHandleAdvancesToNextStageOnSuccess(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageJobValidated
	j.State = job.StateWorking
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded})

	w.handle(context.Background(), j)

	assert.Equal(t, job.StageParsing, jobs.jobs[j.ID].Stage)
	assert.Equal(t, job.StateQueued, jobs.jobs[j.ID].State)
	assert.Empty(t, jobs.deadletters)
	assert.Empty(t, jobs.retries)
}

func TestHandleMarksDocumentCompletedAtTerminalStage(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageChunked
	j.State = job.StateWorking
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedding})

	w.handle(context.Background(), j)

	assert.Equal(t, job.StateDone, jobs.jobs[j.ID].State)
	assert.Equal(t, document.StatusCompleted, docs.statuses[j.DocumentID])
}

func TestHandleUnknownStageDeadlettersAsFatal(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageFailedUnknown
	j.State = job.StateWorking
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded, MaxRetries: 3})

	w.handle(context.Background(), j)

	require.Len(t, jobs.deadletters, 1)
	assert.Equal(t, job.StateDeadletter, jobs.jobs[j.ID].State)
	assert.Equal(t, document.StatusFailedUnknown, docs.statuses[j.DocumentID])
}

func TestFailRetriesWhileUnderMaxRetries(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageParsing
	j.State = job.StateWorking
	j.RetryCount = 0
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded, MaxRetries: 3, RetryBaseDelay: time.Second})

	w.fail(context.Background(), j, &ClassifiedError{Kind: job.ErrorKindTransientRemote, Err: errors.New("boom")})

	require.Len(t, jobs.retries, 1)
	assert.Empty(t, jobs.deadletters)
	assert.Equal(t, job.StateRetryable, jobs.jobs[j.ID].State)
	assert.Equal(t, 1, jobs.jobs[j.ID].RetryCount)
}

func TestFailDeadlettersOnceRetriesExhausted(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageParsing
	j.State = job.StateWorking
	j.RetryCount = 3
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded, MaxRetries: 3, RetryBaseDelay: time.Second})

	w.fail(context.Background(), j, &ClassifiedError{Kind: job.ErrorKindTransientRemote, Err: errors.New("boom")})

	require.Len(t, jobs.deadletters, 1)
	assert.Equal(t, job.StageFailedParse, jobs.jobs[j.ID].Stage)
	assert.Equal(t, document.StatusFailedParse, docs.statuses[j.DocumentID])
	assert.Equal(t, job.ErrorKindRetriesExhausted, jobs.jobs[j.ID].LastError.Kind)
}

func TestFailDeadlettersImmediatelyForNonRetryableKind(t *testing.T) {
	j := job.New(uuid.New(), job.Payload{})
	j.Stage = job.StageChunking
	j.State = job.StateWorking
	jobs := newFakeJobStore(j)
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded, MaxRetries: 3})

	w.fail(context.Background(), j, &ClassifiedError{Kind: job.ErrorKindContentInvariant, Err: errors.New("empty")})

	require.Len(t, jobs.deadletters, 1)
	assert.Equal(t, job.StageFailedChunking, jobs.jobs[j.ID].Stage)
}

func TestRunOnceIsNoopWhenNothingLeasable(t *testing.T) {
	jobs := newFakeJobStore()
	docs := newFakeDocumentStore()
	w := newTestWorker(jobs, docs, WorkerConfig{TerminalStage: job.StageEmbedded})

	w.runOnce(context.Background())

	assert.Empty(t, jobs.deadletters)
	assert.Empty(t, jobs.retries)
}
