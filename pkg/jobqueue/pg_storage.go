package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/queuekit/pkg/pg"
)

// PgSchema creates the jobs table and its dispatch index. Run it once at
// deploy time (or through a migration tool) before using PgStorage.
const PgSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	payload          JSONB,
	priority         SMALLINT NOT NULL DEFAULT 5,
	state            TEXT NOT NULL DEFAULT 'queued',
	sequence         BIGSERIAL,
	attempts_made    INT NOT NULL DEFAULT 0,
	max_attempts     INT NOT NULL DEFAULT 3,
	progress         INT NOT NULL DEFAULT 0,
	user_id          TEXT NOT NULL DEFAULT '',
	result           JSONB,
	failure_reason   TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at     TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ,
	next_eligible_at TIMESTAMPTZ,
	lease_expires_at TIMESTAMPTZ,
	locked_by        UUID
);

CREATE INDEX IF NOT EXISTS jobs_dispatch_idx
	ON jobs (priority, sequence)
	WHERE state = 'queued';

CREATE INDEX IF NOT EXISTS jobs_delayed_idx
	ON jobs (next_eligible_at)
	WHERE state = 'delayed';

CREATE INDEX IF NOT EXISTS jobs_lease_idx
	ON jobs (lease_expires_at)
	WHERE state = 'active';
`

const jobColumns = `id, type, payload, priority, state, sequence, attempts_made,
	max_attempts, progress, user_id, result, failure_reason, created_at,
	processed_at, finished_at, next_eligible_at, lease_expires_at, locked_by`

// PgStorage implements Storage on PostgreSQL. Claims rely on
// FOR UPDATE SKIP LOCKED so concurrent dispatchers never block each other or
// hand out the same row twice.
type PgStorage struct {
	pool *pgxpool.Pool

	completedRetention RetentionPolicy
	failedRetention    RetentionPolicy
}

// PgOption configures PgStorage.
type PgOption func(*PgStorage)

// WithPgCompletedRetention bounds how long completed jobs stay queryable.
func WithPgCompletedRetention(p RetentionPolicy) PgOption {
	return func(s *PgStorage) {
		s.completedRetention = p
	}
}

// WithPgFailedRetention bounds how long failed jobs stay queryable.
func WithPgFailedRetention(p RetentionPolicy) PgOption {
	return func(s *PgStorage) {
		s.failedRetention = p
	}
}

// NewPgStorage creates a PostgreSQL-backed Storage on an existing pool.
func NewPgStorage(pool *pgxpool.Pool, opts ...PgOption) (*PgStorage, error) {
	if pool == nil {
		return nil, ErrStorageNil
	}

	s := &PgStorage{
		pool:               pool,
		completedRetention: RetentionPolicy{MaxAge: 24 * time.Hour, MaxCount: 1000},
		failedRetention:    RetentionPolicy{MaxAge: 7 * 24 * time.Hour, MaxCount: 5000},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// CreateJob persists a new job.
func (s *PgStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return ErrJobNotFound
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, type, payload, priority, state, max_attempts, user_id, created_at, next_eligible_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sequence`,
		job.ID, job.Type, job.Payload, int(job.Priority), string(job.State),
		job.MaxAttempts, job.UserID, job.CreatedAt, job.NextEligibleAt,
	).Scan(&job.Sequence)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateJobID, job.ID)
		}
		return s.wrap("create job", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *PgStorage) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, s.wrap("get job", err)
	}
	return job, nil
}

// ClaimNextJob promotes due delayed jobs and claims the front of the queue.
// SKIP LOCKED makes the claim race-free across connections.
func (s *PgStorage) ClaimNextJob(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error) {
	now := time.Now()

	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'queued', next_eligible_at = NULL
		WHERE state = 'delayed' AND next_eligible_at <= $1`, now)
	if err != nil {
		return nil, s.wrap("promote delayed", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active',
		    progress = 0,
		    processed_at = $1,
		    lease_expires_at = $2,
		    locked_by = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued'
			ORDER BY priority, sequence
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now, now.Add(lease), workerID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJobToClaim
		}
		return nil, s.wrap("claim job", err)
	}
	return job, nil
}

// Stats returns per-state job counts.
func (s *PgStorage) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, s.wrap("stats", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, s.wrap("stats", err)
		}
		switch State(state) {
		case StateQueued:
			st.Waiting = count
		case StateActive:
			st.Active = count
		case StateDelayed:
			st.Delayed = count
		case StateCompleted:
			st.Completed = count
		case StateFailed:
			st.Failed = count
		}
		st.Total += count
	}
	return st, rows.Err()
}

// CompleteJob records a successful outcome.
func (s *PgStorage) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'completed',
		    progress = 100,
		    result = $2,
		    finished_at = now(),
		    lease_expires_at = NULL,
		    locked_by = NULL
		WHERE id = $1 AND state = 'active' AND result IS NULL`,
		id, result)
	if err != nil {
		return s.wrap("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}

	s.prune(ctx, StateCompleted, s.completedRetention)
	return nil
}

// FailJob records a permanent failure, incrementing the attempt counter.
func (s *PgStorage) FailJob(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'failed',
		    attempts_made = attempts_made + 1,
		    failure_reason = $2,
		    finished_at = now(),
		    lease_expires_at = NULL,
		    locked_by = NULL
		WHERE id = $1 AND state = 'active'`,
		id, reason)
	if err != nil {
		return s.wrap("fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}

	s.prune(ctx, StateFailed, s.failedRetention)
	return nil
}

// DelayJob schedules a retry, incrementing the attempt counter.
func (s *PgStorage) DelayJob(ctx context.Context, id string, reason string, nextEligibleAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'delayed',
		    attempts_made = attempts_made + 1,
		    failure_reason = $2,
		    next_eligible_at = $3,
		    lease_expires_at = NULL,
		    locked_by = NULL
		WHERE id = $1 AND state = 'active'`,
		id, reason, nextEligibleAt)
	if err != nil {
		return s.wrap("delay job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// UpdateProgress applies a monotonic progress update.
func (s *PgStorage) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	// Zero rows means a regression or a finished job; both are no-ops.
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = $2
		WHERE id = $1 AND state = 'active' AND progress < $2`,
		id, progress)
	if err != nil {
		return s.wrap("update progress", err)
	}
	return nil
}

// ExtendLease pushes out the lease expiry of an active job.
func (s *PgStorage) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2
		WHERE id = $1 AND state = 'active'`,
		id, time.Now().Add(d))
	if err != nil {
		return s.wrap("extend lease", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// RequeueStalled returns jobs with expired leases to the queue, keeping
// their attempt counters.
func (s *PgStorage) RequeueStalled(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'queued',
		    processed_at = NULL,
		    lease_expires_at = NULL,
		    locked_by = NULL
		WHERE state = 'active' AND lease_expires_at <= $1`, now)
	if err != nil {
		return 0, s.wrap("requeue stalled", err)
	}
	return int(tag.RowsAffected()), nil
}

// prune removes terminal jobs past the retention thresholds. Best effort.
func (s *PgStorage) prune(ctx context.Context, state State, policy RetentionPolicy) {
	if policy.MaxAge > 0 {
		_, _ = s.pool.Exec(ctx, `
			DELETE FROM jobs
			WHERE state = $1 AND finished_at < $2`,
			string(state), time.Now().Add(-policy.MaxAge))
	}
	if policy.MaxCount > 0 {
		_, _ = s.pool.Exec(ctx, `
			DELETE FROM jobs
			WHERE state = $1 AND id NOT IN (
				SELECT id FROM jobs
				WHERE state = $1
				ORDER BY finished_at DESC
				LIMIT $2
			)`,
			string(state), policy.MaxCount)
	}
}

// transitionConflict distinguishes a missing job from one in the wrong state.
func (s *PgStorage) transitionConflict(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State == StateCompleted && job.Result != nil {
		return fmt.Errorf("%w: %s", ErrResultAlreadySet, id)
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidJobState, id, job.State)
}

func (s *PgStorage) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job      Job
		priority int
		state    string
	)
	err := row.Scan(
		&job.ID, &job.Type, &job.Payload, &priority, &state, &job.Sequence,
		&job.AttemptsMade, &job.MaxAttempts, &job.Progress, &job.UserID,
		&job.Result, &job.FailureReason, &job.CreatedAt,
		&job.ProcessedAt, &job.FinishedAt, &job.NextEligibleAt,
		&job.LeaseExpiresAt, &job.LockedBy,
	)
	if err != nil {
		return nil, err
	}
	job.Priority = Priority(priority)
	job.State = State(state)
	return &job, nil
}
