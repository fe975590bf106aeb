package usecase

import (
	"log/slog"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// OutboxService lifts trigger-created pending jobs into the queue. It is the
// durable fallback behind the API's realtime enqueue: both offer the same
// rt_{application_id} task id, so whichever runs second collapses into the
// first.
type OutboxService struct {
	Pending   domain.PendingJobRepository
	Queue     domain.Queue
	BatchSize int
}

// NewOutboxService constructs an OutboxService with its dependencies.
func NewOutboxService(pending domain.PendingJobRepository, q domain.Queue, batchSize int) OutboxService {
	return OutboxService{Pending: pending, Queue: q, BatchSize: batchSize}
}

// Drain offers up to BatchSize PENDING rows to the queue, oldest first.
// Failures are row-scoped: a bad row is marked FAILED with its error and the
// batch moves on. The returned count is rows this pass actually flipped to
// ENQUEUED.
func (s OutboxService) Drain(ctx domain.Context) (int, error) {
	jobs, err := s.Pending.FetchPending(ctx, s.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, pj := range jobs {
		appID := pj.ApplicationID.String()
		queueID, err := s.Queue.EnqueueProcess(ctx, domain.ProcessTaskPayload{
			ApplicationID: appID,
			TraceContext:  injectTrace(ctx),
		}, domain.RealtimeJobID(appID))
		if err != nil {
			slog.WarnContext(ctx, "outbox enqueue failed",
				slog.String("pending_job_id", pj.ID.String()),
				slog.String("application_id", appID), slog.Any("error", err))
			if merr := s.Pending.MarkFailed(ctx, pj.ID, err.Error()); merr != nil {
				slog.ErrorContext(ctx, "pending job not marked failed",
					slog.String("pending_job_id", pj.ID.String()), slog.Any("error", merr))
			}
			continue
		}

		claimed, err := s.Pending.MarkEnqueued(ctx, pj.ID, queueID)
		if err != nil {
			slog.WarnContext(ctx, "pending job not marked enqueued",
				slog.String("pending_job_id", pj.ID.String()), slog.Any("error", err))
			continue
		}
		if !claimed {
			// Lost the claim to the realtime path or a peer tick; the
			// queue's id dedup already collapsed the enqueue.
			continue
		}
		enqueued++
	}

	if len(jobs) > 0 {
		slog.InfoContext(ctx, "outbox drained",
			slog.Int("offered", len(jobs)), slog.Int("enqueued", enqueued))
	}
	return enqueued, nil
}
