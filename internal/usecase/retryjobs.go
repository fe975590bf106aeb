package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// RetryService re-enqueues dead-letter jobs whose failure class is
// retryable (provider unavailable, network timeout, external service). Each
// re-enqueue gets a fresh job id so the queue's dedup never confuses it with
// the original attempt; the circuit breaker decides whether the provider is
// actually back.
type RetryService struct {
	Failed    domain.FailedJobRepository
	Queue     domain.Queue
	BatchSize int
}

// NewRetryService constructs a RetryService with its dependencies.
func NewRetryService(failed domain.FailedJobRepository, q domain.Queue, batchSize int) RetryService {
	return RetryService{Failed: failed, Queue: q, BatchSize: batchSize}
}

// Run re-offers up to BatchSize retryable PENDING dead-letter rows, oldest
// first, marking each RETRIED with the replacement job id. Rows are isolated:
// one bad row never stalls the batch.
func (s RetryService) Run(ctx domain.Context) (int, error) {
	jobs, err := s.Failed.FetchRetryable(ctx, s.BatchSize)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, fj := range jobs {
		appID, ok := applicationIDFromArgs(fj.JobArgs)
		if !ok {
			slog.WarnContext(ctx, "dead-letter job has no application id, skipping",
				slog.String("failed_job_id", fj.ID.String()),
				slog.String("job_id", fj.JobID))
			continue
		}

		newID := fmt.Sprintf("%s_retry_%d", fj.JobID, time.Now().Unix())
		if _, err := s.Queue.EnqueueProcess(ctx, domain.ProcessTaskPayload{ApplicationID: appID}, newID); err != nil {
			slog.WarnContext(ctx, "dead-letter re-enqueue failed",
				slog.String("failed_job_id", fj.ID.String()),
				slog.String("new_job_id", newID), slog.Any("error", err))
			continue
		}
		if err := s.Failed.MarkRetried(ctx, fj.ID, newID); err != nil {
			slog.WarnContext(ctx, "dead-letter row not marked retried",
				slog.String("failed_job_id", fj.ID.String()),
				slog.String("new_job_id", newID), slog.Any("error", err))
			continue
		}
		retried++
	}

	if len(jobs) > 0 {
		slog.InfoContext(ctx, "dead-letter retry pass finished",
			slog.Int("eligible", len(jobs)), slog.Int("retried", retried))
	}
	return retried, nil
}

func applicationIDFromArgs(args map[string]any) (string, bool) {
	v, ok := args["application_id"].(string)
	return v, ok && v != ""
}
