package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSyncJobNotFound = errors.New("sync job not found")

// SyncJobLeaseTimeout bounds how long a job may sit in "running" before a
// dead worker's claim is reclaimed and the job is handed back to the pool.
const SyncJobLeaseTimeout = 10 * time.Minute

// SyncJobType identifies what a sync job is meant to accomplish.
type SyncJobType string

const (
	// SyncJobTypeExpandWatermarks grows a calendar's synced window outward
	// (backfill or forward-fill) without re-checking already-synced weeks.
	SyncJobTypeExpandWatermarks SyncJobType = "expand_watermarks"
	// SyncJobTypeInitialSync performs the first sync for a newly connected calendar.
	SyncJobTypeInitialSync SyncJobType = "initial_sync"
)

// SyncJobStatus tracks a job's position in the queue lifecycle.
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "pending"
	SyncJobStatusRunning   SyncJobStatus = "running"
	SyncJobStatusCompleted SyncJobStatus = "completed"
	SyncJobStatusFailed    SyncJobStatus = "failed"
)

// SyncJob is one unit of background calendar work: fetch events for
// [TargetMinDate, TargetMaxDate] on CalendarID and expand its water marks.
type SyncJob struct {
	ID            uuid.UUID
	CalendarID    uuid.UUID
	JobType       SyncJobType
	TargetMinDate time.Time
	TargetMaxDate time.Time
	Status        SyncJobStatus
	Priority      int
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  *string
	ClaimedBy     *string
}

// SyncJobStore is the Postgres-backed queue of background sync work.
type SyncJobStore struct {
	pool *pgxpool.Pool
}

func NewSyncJobStore(pool *pgxpool.Pool) *SyncJobStore {
	return &SyncJobStore{pool: pool}
}

// Create inserts a job as-is, with no coalescing against existing pending
// work. Most callers should use Enqueue instead; Create is exposed for
// callers that already know the calendar has no other pending jobs (e.g.
// initial sync right after a calendar connection is created).
func (s *SyncJobStore) Create(ctx context.Context, job *SyncJob) (*SyncJob, error) {
	now := time.Now().UTC()
	job.ID = uuid.New()
	job.Status = SyncJobStatusPending
	job.CreatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO calendar_sync_jobs (
			id, calendar_id, job_type, target_min_date, target_max_date,
			status, priority, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`,
		job.ID, job.CalendarID, job.JobType, job.TargetMinDate, job.TargetMaxDate,
		job.Status, job.Priority, job.CreatedAt,
	).Scan(&job.ID, &job.CreatedAt)

	if err != nil {
		return nil, err
	}

	return job, nil
}

// Enqueue requests a sync over [targetMin, targetMax] for a calendar,
// coalescing it with any pending jobs already queued for that calendar into
// a single job spanning the union of all the ranges. This keeps a calendar
// with repeated incremental requests (e.g. a user paging through several
// weeks) from accumulating one job per request; the worker fetches the
// merged range once instead of once per request.
func (s *SyncJobStore) Enqueue(ctx context.Context, calendarID uuid.UUID, jobType SyncJobType, targetMin, targetMax time.Time) (*SyncJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existingMin, existingMax, existingIDs, err := s.coalescePendingJobsTx(ctx, tx, calendarID)
	if err != nil {
		return nil, err
	}

	min, max := targetMin, targetMax
	if len(existingIDs) > 0 {
		if existingMin.Before(min) {
			min = existingMin
		}
		if existingMax.After(max) {
			max = existingMax
		}
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_sync_jobs WHERE id = ANY($1)`, existingIDs); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	job := &SyncJob{
		ID:            uuid.New(),
		CalendarID:    calendarID,
		JobType:       jobType,
		TargetMinDate: min,
		TargetMaxDate: max,
		Status:        SyncJobStatusPending,
		CreatedAt:     now,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO calendar_sync_jobs (
			id, calendar_id, job_type, target_min_date, target_max_date,
			status, priority, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`,
		job.ID, job.CalendarID, job.JobType, job.TargetMinDate, job.TargetMaxDate,
		job.Status, job.Priority, job.CreatedAt,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return job, nil
}

// GetByID retrieves a sync job by ID.
func (s *SyncJobStore) GetByID(ctx context.Context, jobID uuid.UUID) (*SyncJob, error) {
	job := &SyncJob{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, calendar_id, job_type, target_min_date, target_max_date,
		       status, priority, created_at, claimed_at, completed_at,
		       error_message, claimed_by
		FROM calendar_sync_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
		&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ClaimedBy,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSyncJobNotFound
		}
		return nil, err
	}

	return job, nil
}

// ListPendingByCalendar returns all pending jobs for a calendar, highest
// priority and oldest first.
func (s *SyncJobStore) ListPendingByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, calendar_id, job_type, target_min_date, target_max_date,
		       status, priority, created_at, claimed_at, completed_at,
		       error_message, claimed_by
		FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// ClaimNextJob atomically claims the next pending job for processing,
// across all calendars. FOR UPDATE SKIP LOCKED lets multiple worker
// instances poll the same table without claiming the same job twice.
// Returns (nil, nil) if no pending jobs are available.
func (s *SyncJobStore) ClaimNextJob(ctx context.Context, workerID string) (*SyncJob, error) {
	now := time.Now().UTC()

	job := &SyncJob{}
	err := s.pool.QueryRow(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'running', claimed_at = $1, claimed_by = $2
		WHERE id = (
			SELECT id FROM calendar_sync_jobs
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, calendar_id, job_type, target_min_date, target_max_date,
		          status, priority, created_at, claimed_at, completed_at,
		          error_message, claimed_by
	`, now, workerID).Scan(
		&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
		&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ClaimedBy,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return job, nil
}

// ClaimNextJobForCalendar claims the next pending job scoped to one
// calendar, used when a request needs that calendar's own backlog drained
// rather than whatever job happens to be queue-oldest globally.
func (s *SyncJobStore) ClaimNextJobForCalendar(ctx context.Context, calendarID uuid.UUID, workerID string) (*SyncJob, error) {
	now := time.Now().UTC()

	job := &SyncJob{}
	err := s.pool.QueryRow(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'running', claimed_at = $2, claimed_by = $3
		WHERE id = (
			SELECT id FROM calendar_sync_jobs
			WHERE calendar_id = $1 AND status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, calendar_id, job_type, target_min_date, target_max_date,
		          status, priority, created_at, claimed_at, completed_at,
		          error_message, claimed_by
	`, calendarID, now, workerID).Scan(
		&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
		&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ClaimedBy,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return job, nil
}

// ReclaimExpired resets jobs stuck in "running" past SyncJobLeaseTimeout back
// to "pending" so another worker can pick them up. A job stays running this
// long only if the worker holding it crashed or was killed mid-job; there is
// no heartbeat, so the lease timeout is the only recovery path.
func (s *SyncJobStore) ReclaimExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-SyncJobLeaseTimeout)

	result, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL
		WHERE status = 'running' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// MarkCompleted marks a job as successfully completed.
func (s *SyncJobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'completed', completed_at = $2
		WHERE id = $1
	`, jobID, now)
	return err
}

// MarkFailed marks a job as failed with an error message.
func (s *SyncJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'failed', completed_at = $2, error_message = $3
		WHERE id = $1
	`, jobID, now, errorMessage)
	return err
}

// CoalescePendingJobs reports the union date range and IDs of all pending
// jobs for a calendar without modifying them. Nothing in the repository
// calls it: Enqueue uses coalescePendingJobsTx on its own transaction.
// Kept exported so a caller that wants to inspect the backlog (debug
// endpoints, tests) doesn't need its own query.
func (s *SyncJobStore) CoalescePendingJobs(ctx context.Context, calendarID uuid.UUID) (minDate, maxDate time.Time, jobIDs []uuid.UUID, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_min_date, target_max_date
		FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
		FOR UPDATE
	`, calendarID)
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	defer rows.Close()

	return coalesceRows(rows)
}

// coalescePendingJobsTx is CoalescePendingJobs run against an existing
// transaction, so Enqueue can read-then-delete the pending set atomically.
func (s *SyncJobStore) coalescePendingJobsTx(ctx context.Context, tx pgx.Tx, calendarID uuid.UUID) (minDate, maxDate time.Time, jobIDs []uuid.UUID, err error) {
	rows, err := tx.Query(ctx, `
		SELECT id, target_min_date, target_max_date
		FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
		FOR UPDATE
	`, calendarID)
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	defer rows.Close()

	return coalesceRows(rows)
}

func coalesceRows(rows pgx.Rows) (minDate, maxDate time.Time, jobIDs []uuid.UUID, err error) {
	var initialized bool
	for rows.Next() {
		var id uuid.UUID
		var jobMin, jobMax time.Time
		if err := rows.Scan(&id, &jobMin, &jobMax); err != nil {
			return time.Time{}, time.Time{}, nil, err
		}

		jobIDs = append(jobIDs, id)

		if !initialized {
			minDate = jobMin
			maxDate = jobMax
			initialized = true
		} else {
			if jobMin.Before(minDate) {
				minDate = jobMin
			}
			if jobMax.After(maxDate) {
				maxDate = jobMax
			}
		}
	}

	if err := rows.Err(); err != nil {
		return time.Time{}, time.Time{}, nil, err
	}

	return minDate, maxDate, jobIDs, nil
}

// DeleteJobs deletes multiple jobs by ID.
func (s *SyncJobStore) DeleteJobs(ctx context.Context, jobIDs []uuid.UUID) error {
	if len(jobIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM calendar_sync_jobs
		WHERE id = ANY($1)
	`, jobIDs)
	return err
}

// DeleteOldCompletedJobs removes completed/failed jobs older than the given
// duration, keeping the queue table from growing without bound.
func (s *SyncJobStore) DeleteOldCompletedJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.pool.Exec(ctx, `
		DELETE FROM calendar_sync_jobs
		WHERE status IN ('completed', 'failed')
		  AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// CountPendingByCalendar returns the count of pending jobs for a calendar.
func (s *SyncJobStore) CountPendingByCalendar(ctx context.Context, calendarID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
	`, calendarID).Scan(&count)
	return count, err
}

func scanJobRows(rows pgx.Rows) ([]*SyncJob, error) {
	var jobs []*SyncJob
	for rows.Next() {
		job := &SyncJob{}
		err := rows.Scan(
			&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
			&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
			&job.ErrorMessage, &job.ClaimedBy,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
