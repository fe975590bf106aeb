package usecase

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// CleanupService prunes webhook events past the retention window. Replay
// protection only needs to outlive the providers' redelivery horizon.
type CleanupService struct {
	Events    domain.WebhookEventRepository
	Retention time.Duration
}

// NewCleanupService constructs a CleanupService with the given retention.
func NewCleanupService(events domain.WebhookEventRepository, retention time.Duration) CleanupService {
	return CleanupService{Events: events, Retention: retention}
}

// Run deletes webhook events older than the retention window and reports how
// many rows went away.
func (s CleanupService) Run(ctx domain.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.Retention)
	deleted, err := s.Events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.InfoContext(ctx, "webhook events pruned",
			slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	}
	return deleted, nil
}
