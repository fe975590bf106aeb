package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// WebhookEventRepo stores provider-callback idempotency records keyed by
// the provider reference.
type WebhookEventRepo struct{ Pool PgxPool }

// NewWebhookEventRepo constructs a WebhookEventRepo with the given pool.
func NewWebhookEventRepo(p PgxPool) *WebhookEventRepo { return &WebhookEventRepo{Pool: p} }

const webhookEventColumns = `id, idempotency_key, application_id, payload, status, error_message, processed_at, created_at`

func scanWebhookEvent(row rowScanner) (domain.WebhookEvent, error) {
	var (
		ev         domain.WebhookEvent
		payloadRaw []byte
	)
	if err := row.Scan(&ev.ID, &ev.IdempotencyKey, &ev.ApplicationID, &payloadRaw, &ev.Status, &ev.ErrorMessage, &ev.ProcessedAt, &ev.CreatedAt); err != nil {
		return domain.WebhookEvent{}, err
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &ev.Payload); err != nil {
			return domain.WebhookEvent{}, fmt.Errorf("payload: %w", err)
		}
	}
	return ev, nil
}

// GetByIdempotencyKey loads the event for a provider reference.
func (r *WebhookEventRepo) GetByIdempotencyKey(ctx domain.Context, key string) (domain.WebhookEvent, error) {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.GetByIdempotencyKey")
	defer span.End()

	q := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE idempotency_key=$1`
	ev, err := scanWebhookEvent(r.Pool.QueryRow(ctx, q, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, fmt.Errorf("op=webhook_event.get: %w", domain.ErrNotFound)
		}
		return domain.WebhookEvent{}, fmt.Errorf("op=webhook_event.get: %w", err)
	}
	return ev, nil
}

// Insert stores a new event in PROCESSING state. A concurrent delivery of
// the same provider reference surfaces as domain.ErrConflict; the caller
// re-reads and answers idempotently.
func (r *WebhookEventRepo) Insert(ctx domain.Context, ev domain.WebhookEvent) (domain.WebhookEvent, error) {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.Insert")
	defer span.End()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = domain.WebhookProcessing
	}
	payloadRaw, err := jsonArg(ev.Payload)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("op=webhook_event.insert: %w", err)
	}
	ev.CreatedAt = time.Now().UTC()

	q := `INSERT INTO webhook_events (id, idempotency_key, application_id, payload, status, created_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6)`
	_, err = r.Pool.Exec(ctx, q, ev.ID, ev.IdempotencyKey, ev.ApplicationID, payloadRaw, string(ev.Status), ev.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.WebhookEvent{}, fmt.Errorf("op=webhook_event.insert: duplicate idempotency key: %w", domain.ErrConflict)
		}
		return domain.WebhookEvent{}, fmt.Errorf("op=webhook_event.insert: %w", err)
	}
	return ev, nil
}

// ResetToProcessing reopens a previously failed event for another attempt.
func (r *WebhookEventRepo) ResetToProcessing(ctx domain.Context, id uuid.UUID) error {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.ResetToProcessing")
	defer span.End()

	q := `UPDATE webhook_events SET status=$2, error_message=NULL WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, string(domain.WebhookProcessing)); err != nil {
		return fmt.Errorf("op=webhook_event.reset: %w", err)
	}
	return nil
}

// MarkProcessed closes the event after its side effects are committed.
func (r *WebhookEventRepo) MarkProcessed(ctx domain.Context, id uuid.UUID) error {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.MarkProcessed")
	defer span.End()

	q := `UPDATE webhook_events SET status=$2, processed_at=$3, error_message=NULL WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, string(domain.WebhookProcessed), time.Now().UTC()); err != nil {
		return fmt.Errorf("op=webhook_event.mark_processed: %w", err)
	}
	return nil
}

// MarkFailed records why processing the event did not complete. The row
// stays eligible for a retry delivery.
func (r *WebhookEventRepo) MarkFailed(ctx domain.Context, id uuid.UUID, errMsg string) error {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.MarkFailed")
	defer span.End()

	q := `UPDATE webhook_events SET status=$2, error_message=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, string(domain.WebhookFailed), errMsg); err != nil {
		return fmt.Errorf("op=webhook_event.mark_failed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes events created before the cutoff and reports how
// many rows went away. Retention keeps the table from growing unbounded.
func (r *WebhookEventRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.webhook_events")
	ctx, span := tracer.Start(ctx, "webhook_events.DeleteOlderThan")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `DELETE FROM webhook_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=webhook_event.delete_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
