package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
)

// WebhookService applies bank confirmation callbacks. The webhook_events
// row, keyed by the provider's reference, is the sole replay coordinator: a
// PROCESSED row short-circuits every redelivery.
type WebhookService struct {
	Apps   domain.ApplicationRepository
	Events domain.WebhookEventRepository
	Bus    domain.Bus
}

// NewWebhookService constructs a WebhookService with its dependencies.
func NewWebhookService(apps domain.ApplicationRepository, events domain.WebhookEventRepository, bus domain.Bus) WebhookService {
	return WebhookService{Apps: apps, Events: events, Bus: bus}
}

// WebhookResult is the receiver's response payload.
type WebhookResult struct {
	ApplicationID    string     `json:"application_id"`
	Status           string     `json:"status,omitempty"`
	AlreadyProcessed bool       `json:"already_processed"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// HandleConfirmation records and applies one verified bank confirmation. The
// event row is committed before any side effect so a crash mid-apply leaves
// a PROCESSING row a redelivery can resume, never a lost or doubled apply.
func (s WebhookService) HandleConfirmation(ctx domain.Context, conf domain.WebhookConfirmation, payload map[string]any) (WebhookResult, error) {
	if conf.ProviderReference == "" {
		return WebhookResult{}, fmt.Errorf("%w: provider_reference is required", domain.ErrInvalidArgument)
	}
	if conf.ApplicationID == uuid.Nil {
		return WebhookResult{}, fmt.Errorf("%w: application_id is required", domain.ErrInvalidArgument)
	}

	ev, err := s.Events.GetByIdempotencyKey(ctx, conf.ProviderReference)
	switch {
	case err == nil:
		if ev.Status == domain.WebhookProcessed {
			observability.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
			slog.InfoContext(ctx, "webhook already processed, skipping",
				slog.String("provider_reference", conf.ProviderReference),
				slog.String("application_id", ev.ApplicationID.String()))
			return alreadyProcessed(ev), nil
		}
		// PROCESSING or FAILED: an earlier delivery died mid-flight,
		// take the row over and run the apply again.
		if err := s.Events.ResetToProcessing(ctx, ev.ID); err != nil {
			return WebhookResult{}, err
		}
	case errors.Is(err, domain.ErrNotFound):
		if _, err := s.Apps.Get(ctx, conf.ApplicationID); err != nil {
			return WebhookResult{}, err
		}
		ev, err = s.Events.Insert(ctx, domain.WebhookEvent{
			ID:             uuid.New(),
			IdempotencyKey: conf.ProviderReference,
			ApplicationID:  conf.ApplicationID,
			Payload:        payload,
			Status:         domain.WebhookProcessing,
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return s.resolveInsertRace(ctx, conf.ProviderReference)
			}
			return WebhookResult{}, err
		}
	default:
		return WebhookResult{}, err
	}

	app, err := s.Apps.ApplyWebhook(ctx, conf.ApplicationID, confirmationMerge(conf), !conf.DocumentVerified)
	if err != nil {
		s.markFailed(ctx, ev.ID, err)
		observability.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return WebhookResult{}, err
	}

	if err := s.Events.MarkProcessed(ctx, ev.ID); err != nil {
		// The apply landed but the event row still says PROCESSING; the
		// provider's retry resumes it, and re-merging the same values is
		// harmless.
		return WebhookResult{}, err
	}
	observability.WebhookEventsTotal.WithLabelValues("processed").Inc()

	if err := s.Bus.Publish(ctx, domain.NewStatusUpdate(app)); err != nil {
		slog.WarnContext(ctx, "status broadcast failed",
			slog.String("application_id", app.ID.String()), slog.Any("error", err))
	}

	slog.InfoContext(ctx, "bank confirmation processed",
		slog.String("application_id", app.ID.String()),
		slog.String("status", string(app.Status)),
		slog.String("provider_reference", conf.ProviderReference))
	return WebhookResult{
		ApplicationID: app.ID.String(),
		Status:        string(app.Status),
	}, nil
}

// resolveInsertRace handles two first deliveries hitting the unique key at
// once: the loser re-reads the winner's row.
func (s WebhookService) resolveInsertRace(ctx domain.Context, providerReference string) (WebhookResult, error) {
	ev, err := s.Events.GetByIdempotencyKey(ctx, providerReference)
	if err != nil {
		return WebhookResult{}, err
	}
	observability.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
	return alreadyProcessed(ev), nil
}

func (s WebhookService) markFailed(ctx domain.Context, eventID uuid.UUID, cause error) {
	if err := s.Events.MarkFailed(ctx, eventID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "webhook event not marked failed",
			slog.String("event_id", eventID.String()), slog.Any("error", err))
	}
}

func alreadyProcessed(ev domain.WebhookEvent) WebhookResult {
	return WebhookResult{
		ApplicationID:    ev.ApplicationID.String(),
		AlreadyProcessed: true,
		ProcessedAt:      ev.ProcessedAt,
	}
}

// confirmationMerge flattens the confirmation for the banking_data JSONB
// merge. Monetary values become strings at scale 2; absent optionals stay
// present as nulls so readers see the full confirmation shape.
func confirmationMerge(conf domain.WebhookConfirmation) map[string]any {
	merge := map[string]any{
		"document_verified":   conf.DocumentVerified,
		"credit_score":        nil,
		"total_debt":          nil,
		"monthly_obligations": nil,
		"has_defaults":        conf.HasDefaults,
		"provider_reference":  conf.ProviderReference,
		"verified_at":         conf.VerifiedAt.UTC().Format(time.RFC3339),
		"webhook_received":    true,
	}
	if conf.CreditScore != nil {
		merge["credit_score"] = *conf.CreditScore
	}
	if conf.TotalDebt != nil {
		merge["total_debt"] = conf.TotalDebt.StringFixed(2)
	}
	if conf.MonthlyObligations != nil {
		merge["monthly_obligations"] = conf.MonthlyObligations.StringFixed(2)
	}
	return merge
}
