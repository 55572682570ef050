package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/job"
)

// JobStore implements the job-queue half of C1 (Job Store): lease,
// transition, and inspect job rows under Postgres row-level locking.
//
// Lease uses a single UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP
// LOCKED) statement, generalizing the teacher's SQLite
// UPDATE-with-subquery technique to real skip-locked semantics, which
// spec §4.1's lease rule requires and SQLite cannot provide.
type JobStore struct {
	db bun.IDB
}

// NewJobStore constructs a JobStore over db, which may be a *bun.DB or a
// *bun.Tx so dedup.Service can create a terminal job row in the same
// transaction as the cloned document and chunks. Schema initialization
// (InitSchema) must have run already.
func NewJobStore(db bun.IDB) *JobStore {
	return &JobStore{db: db}
}

func isAffected(res sql.Result) bool {
	rows, err := res.RowsAffected()
	if err != nil {
		return true
	}
	return rows != 0
}

// Create inserts a freshly constructed job row (either job.New's
// job_validated/queued or job.NewTerminal's terminal/done, per spec
// §4.9's cross-user duplicate case).
func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	row := rowFromJob(j)
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// Get retrieves a job by id. It returns ErrJobNotFound if no row matches.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var row jobRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return row.toJob()
}

// Lease selects and locks the oldest eligible job — stage in the active
// set, state in {queued, working, retryable}, and retry_at either unset
// or in the past — and transitions it to state working. It returns
// (nil, nil) if no job is currently eligible.
func (s *JobStore) Lease(ctx context.Context, now time.Time) (*job.Job, error) {
	stages := make([]string, 0, len(job.ActiveStages()))
	for _, st := range job.ActiveStages() {
		stages = append(stages, st.String())
	}

	subQuery := s.db.NewSelect().
		Model((*jobRow)(nil)).
		Column("id").
		Where("stage IN (?)", bun.In(stages)).
		Where("state IN (?)", bun.In([]string{
			job.StateQueued.String(), job.StateWorking.String(), job.StateRetryable.String(),
		})).
		Where("(retry_at IS NULL OR retry_at <= ?)", now).
		OrderExpr("created_at ASC").
		Limit(1).
		For("UPDATE SKIP LOCKED")

	var rows []jobRow
	err := s.db.NewUpdate().
		Model((*jobRow)(nil)).
		Set("state = ?", job.StateWorking.String()).
		Set("updated_at = ?", now).
		Where("id IN (?)", subQuery).
		Returning("*").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toJob()
}

// Advance transitions a leased (working) job to the next stage, writing
// state queued for an intermediate stage or done for the terminal one, and
// persisting the handler's progress counters. It is the single write a
// stage handler issues on success, releasing the lease in the same
// statement. Returns ErrLeaseLost if the job is no longer in state working
// (another worker already moved it, or it was concurrently deadlettered).
func (s *JobStore) Advance(ctx context.Context, id uuid.UUID, nextStage job.Stage, nextState job.State, progress job.Progress) error {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*jobRow)(nil)).
		Set("stage = ?", nextStage.String()).
		Set("state = ?", nextState.String()).
		Set("progress = ?", map[string]int(progress)).
		Set("last_error_kind = NULL").
		Set("last_error_message = NULL").
		Set("last_error_at = NULL").
		Set("retry_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("state = ?", job.StateWorking.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return ErrLeaseLost
	}
	return nil
}

// Retry records a retryable failure: increments retry_count, writes the
// structured last-error record (including retry_at), and returns the job
// to state retryable so the lease query picks it up again once retry_at
// has passed.
func (s *JobStore) Retry(ctx context.Context, id uuid.UUID, retryCount int, lastErr job.LastError) error {
	now := time.Now()
	kind := lastErr.Kind.String()
	res, err := s.db.NewUpdate().
		Model((*jobRow)(nil)).
		Set("state = ?", job.StateRetryable.String()).
		Set("retry_count = ?", retryCount).
		Set("last_error_kind = ?", kind).
		Set("last_error_message = ?", lastErr.Message).
		Set("last_error_at = ?", lastErr.Timestamp).
		Set("retry_at = ?", lastErr.RetryAt).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("state = ?", job.StateWorking.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return ErrLeaseLost
	}
	return nil
}

// Deadletter marks a job as terminally failed: stage becomes the failed_*
// marker for the phase it died in, state becomes deadletter, and the
// last-error record is written without a retry_at (it will never be
// leased again).
func (s *JobStore) Deadletter(ctx context.Context, id uuid.UUID, failedStage job.Stage, lastErr job.LastError) error {
	now := time.Now()
	kind := lastErr.Kind.String()
	res, err := s.db.NewUpdate().
		Model((*jobRow)(nil)).
		Set("stage = ?", failedStage.String()).
		Set("state = ?", job.StateDeadletter.String()).
		Set("last_error_kind = ?", kind).
		Set("last_error_message = ?", lastErr.Message).
		Set("last_error_at = ?", lastErr.Timestamp).
		Set("retry_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("state = ?", job.StateWorking.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return ErrLeaseLost
	}
	return nil
}

// List returns up to limit jobs in the given state (all states if state is
// job.StateUnknown), for administrative inspection. Not part of the
// worker's hot path.
func (s *JobStore) List(ctx context.Context, state job.State, limit int) ([]*job.Job, error) {
	query := s.db.NewSelect().Model((*jobRow)(nil))
	if state != job.StateUnknown {
		query = query.Where("state = ?", state.String())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []jobRow
	if err := query.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// Ping verifies the store can reach Postgres, for the worker's /healthz
// endpoint.
func (s *JobStore) Ping(ctx context.Context) error {
	var one int
	return s.db.NewSelect().ColumnExpr("1").Scan(ctx, &one)
}
