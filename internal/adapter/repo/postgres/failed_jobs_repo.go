package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// FailedJobRepo is the dead-letter store for tasks that exhausted their
// retries. The retry scheduler drains retryable rows back into the queue.
type FailedJobRepo struct{ Pool PgxPool }

// NewFailedJobRepo constructs a FailedJobRepo with the given pool.
func NewFailedJobRepo(p PgxPool) *FailedJobRepo { return &FailedJobRepo{Pool: p} }

const failedJobColumns = `id, job_id, task_name, job_args, error_type, error_message, traceback,
	retry_count, max_retries, status, is_retryable, reviewed_by, reviewed_at, review_notes,
	reprocessed_at, reprocessed_job_id, job_metadata, created_at`

func scanFailedJob(row rowScanner) (domain.FailedJob, error) {
	var (
		fj      domain.FailedJob
		argsRaw []byte
		metaRaw []byte
	)
	if err := row.Scan(
		&fj.ID, &fj.JobID, &fj.TaskName, &argsRaw, &fj.ErrorType, &fj.ErrorMessage, &fj.Traceback,
		&fj.RetryCount, &fj.MaxRetries, &fj.Status, &fj.IsRetryable, &fj.ReviewedBy, &fj.ReviewedAt, &fj.ReviewNotes,
		&fj.ReprocessedAt, &fj.ReprocessedJobID, &metaRaw, &fj.CreatedAt,
	); err != nil {
		return domain.FailedJob{}, err
	}
	if len(argsRaw) > 0 {
		if err := json.Unmarshal(argsRaw, &fj.JobArgs); err != nil {
			return domain.FailedJob{}, fmt.Errorf("job_args: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &fj.Metadata); err != nil {
			return domain.FailedJob{}, fmt.Errorf("job_metadata: %w", err)
		}
	}
	return fj, nil
}

// Insert stores a dead-lettered job. A job id that already exists updates
// the existing row in place and reopens it for review, so a task that dies
// twice keeps a single DLQ entry with the latest failure.
func (r *FailedJobRepo) Insert(ctx domain.Context, fj domain.FailedJob) (domain.FailedJob, error) {
	tracer := otel.Tracer("repo.failed_jobs")
	ctx, span := tracer.Start(ctx, "failed_jobs.Insert")
	defer span.End()

	if fj.ID == uuid.Nil {
		fj.ID = uuid.New()
	}
	if fj.Status == "" {
		fj.Status = domain.FailedJobPending
	}
	argsRaw, err := jsonArg(fj.JobArgs)
	if err != nil {
		return domain.FailedJob{}, fmt.Errorf("op=failed_job.insert: %w", err)
	}
	metaRaw, err := jsonArg(fj.Metadata)
	if err != nil {
		return domain.FailedJob{}, fmt.Errorf("op=failed_job.insert: %w", err)
	}

	q := `INSERT INTO failed_jobs (
		id, job_id, task_name, job_args, error_type, error_message, traceback,
		retry_count, max_retries, status, is_retryable, job_metadata, created_at
	) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13)
	ON CONFLICT (job_id) DO UPDATE SET
		error_type = EXCLUDED.error_type,
		error_message = EXCLUDED.error_message,
		traceback = EXCLUDED.traceback,
		retry_count = EXCLUDED.retry_count,
		is_retryable = EXCLUDED.is_retryable,
		status = EXCLUDED.status
	RETURNING ` + failedJobColumns
	row := r.Pool.QueryRow(ctx, q,
		fj.ID, fj.JobID, fj.TaskName, argsRaw, fj.ErrorType, fj.ErrorMessage, fj.Traceback,
		fj.RetryCount, fj.MaxRetries, string(fj.Status), fj.IsRetryable, metaRaw, time.Now().UTC(),
	)
	out, err := scanFailedJob(row)
	if err != nil {
		return domain.FailedJob{}, fmt.Errorf("op=failed_job.insert: %w", err)
	}
	return out, nil
}

// FetchRetryable returns up to limit retryable PENDING rows, oldest first.
func (r *FailedJobRepo) FetchRetryable(ctx domain.Context, limit int) ([]domain.FailedJob, error) {
	tracer := otel.Tracer("repo.failed_jobs")
	ctx, span := tracer.Start(ctx, "failed_jobs.FetchRetryable")
	defer span.End()

	q := `SELECT ` + failedJobColumns + ` FROM failed_jobs
		WHERE is_retryable AND status=$1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, string(domain.FailedJobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("op=failed_job.fetch_retryable: %w", err)
	}
	defer rows.Close()

	var jobs []domain.FailedJob
	for rows.Next() {
		fj, err := scanFailedJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=failed_job.fetch_retryable: %w", err)
		}
		jobs = append(jobs, fj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=failed_job.fetch_retryable: %w", err)
	}
	return jobs, nil
}

// MarkRetried links the DLQ row to the job id it was re-enqueued under.
func (r *FailedJobRepo) MarkRetried(ctx domain.Context, id uuid.UUID, reprocessedJobID string) error {
	tracer := otel.Tracer("repo.failed_jobs")
	ctx, span := tracer.Start(ctx, "failed_jobs.MarkRetried")
	defer span.End()

	q := `UPDATE failed_jobs SET status=$2, reprocessed_job_id=$3, reprocessed_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, string(domain.FailedJobRetried), reprocessedJobID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=failed_job.mark_retried: %w", err)
	}
	return nil
}
