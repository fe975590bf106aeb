package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// PendingJobRepo reads and advances outbox rows. Rows are created only by
// the enqueue_processing_job trigger; this repo never inserts.
type PendingJobRepo struct{ Pool PgxPool }

// NewPendingJobRepo constructs a PendingJobRepo with the given pool.
func NewPendingJobRepo(p PgxPool) *PendingJobRepo { return &PendingJobRepo{Pool: p} }

const pendingJobColumns = `id, application_id, task_name, job_args, status, queue_job_id,
	enqueued_at, processed_at, error_message, retry_count, created_at, updated_at`

func scanPendingJob(row rowScanner) (domain.PendingJob, error) {
	var (
		j       domain.PendingJob
		argsRaw []byte
	)
	if err := row.Scan(
		&j.ID, &j.ApplicationID, &j.TaskName, &argsRaw, &j.Status, &j.QueueJobID,
		&j.EnqueuedAt, &j.ProcessedAt, &j.ErrorMessage, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return domain.PendingJob{}, err
	}
	if len(argsRaw) > 0 {
		if err := json.Unmarshal(argsRaw, &j.JobArgs); err != nil {
			return domain.PendingJob{}, fmt.Errorf("job_args: %w", err)
		}
	}
	return j, nil
}

// FetchPending returns up to limit PENDING rows, oldest first.
func (r *PendingJobRepo) FetchPending(ctx domain.Context, limit int) ([]domain.PendingJob, error) {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.FetchPending")
	defer span.End()

	q := `SELECT ` + pendingJobColumns + ` FROM pending_jobs WHERE status=$1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, string(domain.PendingJobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("op=pending_job.fetch: %w", err)
	}
	defer rows.Close()

	var jobs []domain.PendingJob
	for rows.Next() {
		j, err := scanPendingJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=pending_job.fetch: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=pending_job.fetch: %w", err)
	}
	return jobs, nil
}

// MarkEnqueued flips a row PENDING → ENQUEUED and records the queue job id.
// Returns false when the row was already claimed by another consumer tick
// or by the realtime enqueue path.
func (r *PendingJobRepo) MarkEnqueued(ctx domain.Context, id uuid.UUID, queueJobID string) (bool, error) {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.MarkEnqueued")
	defer span.End()

	now := time.Now().UTC()
	q := `UPDATE pending_jobs SET status=$2, queue_job_id=$3, enqueued_at=$4, updated_at=$4
		WHERE id=$1 AND status=$5`
	tag, err := r.Pool.Exec(ctx, q, id, string(domain.PendingJobEnqueued), queueJobID, now, string(domain.PendingJobPending))
	if err != nil {
		return false, fmt.Errorf("op=pending_job.mark_enqueued: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records an enqueue failure and bumps the retry counter so the
// next consumer tick can see how often the row has bounced.
func (r *PendingJobRepo) MarkFailed(ctx domain.Context, id uuid.UUID, errMsg string) error {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.MarkFailed")
	defer span.End()

	q := `UPDATE pending_jobs SET status=$2, error_message=$3, retry_count=retry_count+1, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, string(domain.PendingJobFailed), errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=pending_job.mark_failed: %w", err)
	}
	return nil
}

// MarkCompletedByQueueJobID closes the outbox row after the worker finished
// the task it tracks.
func (r *PendingJobRepo) MarkCompletedByQueueJobID(ctx domain.Context, queueJobID string) error {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.MarkCompletedByQueueJobID")
	defer span.End()

	now := time.Now().UTC()
	q := `UPDATE pending_jobs SET status=$2, processed_at=$3, updated_at=$3
		WHERE queue_job_id=$1 AND status <> $2`
	if _, err := r.Pool.Exec(ctx, q, queueJobID, string(domain.PendingJobCompleted), now); err != nil {
		return fmt.Errorf("op=pending_job.mark_completed: %w", err)
	}
	return nil
}

// MarkFailedByQueueJobID records a terminal task failure on the outbox row.
func (r *PendingJobRepo) MarkFailedByQueueJobID(ctx domain.Context, queueJobID, errMsg string) error {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.MarkFailedByQueueJobID")
	defer span.End()

	q := `UPDATE pending_jobs SET status=$2, error_message=$3, updated_at=$4 WHERE queue_job_id=$1`
	if _, err := r.Pool.Exec(ctx, q, queueJobID, string(domain.PendingJobFailed), errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=pending_job.mark_failed_by_queue_id: %w", err)
	}
	return nil
}

// AttachQueueJobID claims the trigger-created row right after the realtime
// enqueue succeeded. Only an unclaimed PENDING row is touched, so the
// consumer and the realtime path converge on one ENQUEUED row.
func (r *PendingJobRepo) AttachQueueJobID(ctx domain.Context, applicationID uuid.UUID, queueJobID string) error {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.AttachQueueJobID")
	defer span.End()

	now := time.Now().UTC()
	q := `UPDATE pending_jobs SET queue_job_id=$2, status=$3, enqueued_at=$4, updated_at=$4
		WHERE application_id=$1 AND queue_job_id IS NULL AND status=$5`
	if _, err := r.Pool.Exec(ctx, q, applicationID, queueJobID, string(domain.PendingJobEnqueued), now, string(domain.PendingJobPending)); err != nil {
		return fmt.Errorf("op=pending_job.attach_queue_job_id: %w", err)
	}
	return nil
}

// ByApplication returns all outbox rows for an application, newest first.
func (r *PendingJobRepo) ByApplication(ctx domain.Context, applicationID uuid.UUID) ([]domain.PendingJob, error) {
	tracer := otel.Tracer("repo.pending_jobs")
	ctx, span := tracer.Start(ctx, "pending_jobs.ByApplication")
	defer span.End()

	q := `SELECT ` + pendingJobColumns + ` FROM pending_jobs WHERE application_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, applicationID)
	if err != nil {
		return nil, fmt.Errorf("op=pending_job.by_application: %w", err)
	}
	defer rows.Close()

	var jobs []domain.PendingJob
	for rows.Next() {
		j, err := scanPendingJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=pending_job.by_application: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=pending_job.by_application: %w", err)
	}
	return jobs, nil
}
