// Package domain holds the core entities, ports, and error taxonomy of the
// credit platform. Adapters depend on this package, never the other way
// around.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplicationStatus enumerates the lifecycle states of a credit application.
type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "PENDING"
	StatusValidating  ApplicationStatus = "VALIDATING"
	StatusApproved    ApplicationStatus = "APPROVED"
	StatusRejected    ApplicationStatus = "REJECTED"
	StatusUnderReview ApplicationStatus = "UNDER_REVIEW"
	StatusCancelled   ApplicationStatus = "CANCELLED"
	StatusCompleted   ApplicationStatus = "COMPLETED"
)

// ActiveStatuses are the states that block a second application for the same
// (country, document) pair. Matches the partial unique index predicate.
var ActiveStatuses = []ApplicationStatus{
	StatusPending, StatusValidating, StatusApproved, StatusUnderReview,
}

// Supported country codes.
const (
	CountrySpain    = "ES"
	CountryPortugal = "PT"
	CountryItaly    = "IT"
	CountryMexico   = "MX"
	CountryColombia = "CO"
	CountryBrazil   = "BR"
)

// CountryCurrency maps a country code to its mandatory ISO-4217 currency.
var CountryCurrency = map[string]string{
	CountrySpain:    "EUR",
	CountryPortugal: "EUR",
	CountryItaly:    "EUR",
	CountryMexico:   "MXN",
	CountryColombia: "COP",
	CountryBrazil:   "BRL",
}

// Application is the aggregate root. PII fields (FullName,
// IdentityDocument) hold plaintext only in memory; the store encrypts them at
// rest and never returns ciphertext to callers.
type Application struct {
	ID                  uuid.UUID
	Country             string
	FullName            string
	IdentityDocument    string
	RequestedAmount     decimal.Decimal
	MonthlyIncome       decimal.Decimal
	Currency            string
	Status              ApplicationStatus
	RiskScore           *decimal.Decimal
	IdempotencyKey      *string
	CountrySpecificData map[string]any
	BankingData         map[string]any
	ValidationErrors    []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// MaskedDocument renders the identity document for API responses: the last
// four characters stay visible, everything before them becomes asterisks.
func MaskedDocument(doc string) string {
	if doc == "" {
		return ""
	}
	r := []rune(doc)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// AuditLog records one status flip. Rows are written exclusively by the
// audit_status_change database trigger.
type AuditLog struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	OldStatus     ApplicationStatus
	NewStatus     ApplicationStatus
	ChangedBy     string
	ChangeReason  string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// PendingJobStatus enumerates outbox row states.
type PendingJobStatus string

const (
	PendingJobPending    PendingJobStatus = "PENDING"
	PendingJobEnqueued   PendingJobStatus = "ENQUEUED"
	PendingJobProcessing PendingJobStatus = "PROCESSING"
	PendingJobCompleted  PendingJobStatus = "COMPLETED"
	PendingJobFailed     PendingJobStatus = "FAILED"
)

// PendingJob is an outbox row: the durable intent to run background work,
// created by a database trigger in the same transaction as the application.
type PendingJob struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	TaskName      string
	JobArgs       map[string]any
	Status        PendingJobStatus
	QueueJobID    *string
	EnqueuedAt    *time.Time
	ProcessedAt   *time.Time
	ErrorMessage  *string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FailedJobStatus enumerates DLQ row states.
type FailedJobStatus string

const (
	FailedJobPending     FailedJobStatus = "PENDING"
	FailedJobReviewed    FailedJobStatus = "REVIEWED"
	FailedJobRetried     FailedJobStatus = "RETRIED"
	FailedJobReprocessed FailedJobStatus = "REPROCESSED"
	FailedJobIgnored     FailedJobStatus = "IGNORED"
)

// FailedJob is a dead-letter record written after a task exhausts its
// retries. IsRetryable marks rows the retry scheduler may re-enqueue.
type FailedJob struct {
	ID               uuid.UUID
	JobID            string
	TaskName         string
	JobArgs          map[string]any
	ErrorType        string
	ErrorMessage     string
	Traceback        string
	RetryCount       int
	MaxRetries       int
	Status           FailedJobStatus
	IsRetryable      bool
	ReviewedBy       *string
	ReviewedAt       *time.Time
	ReviewNotes      *string
	ReprocessedAt    *time.Time
	ReprocessedJobID *string
	Metadata         map[string]any
	CreatedAt        time.Time
}

// WebhookEventStatus enumerates webhook idempotency-record states.
type WebhookEventStatus string

const (
	WebhookProcessing WebhookEventStatus = "PROCESSING"
	WebhookProcessed  WebhookEventStatus = "PROCESSED"
	WebhookFailed     WebhookEventStatus = "FAILED"
)

// WebhookEvent is the durable idempotency record for a provider callback,
// keyed by the provider's reference.
type WebhookEvent struct {
	ID             uuid.UUID
	IdempotencyKey string
	ApplicationID  uuid.UUID
	Payload        map[string]any
	Status         WebhookEventStatus
	ErrorMessage   *string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// ProcessTask is the queue task name for credit evaluation.
const ProcessTask = "process_credit_application"

// RealtimeJobID returns the canonical queue job id for an application. Both
// the API-side realtime enqueue and the outbox consumer use it so the queue's
// id-based duplicate detection collapses the two paths.
func RealtimeJobID(applicationID string) string { return "rt_" + applicationID }

// ProcessTaskPayload is the queue payload for ProcessTask.
type ProcessTaskPayload struct {
	ApplicationID string            `json:"application_id"`
	TraceContext  map[string]string `json:"trace_context,omitempty"`
}

// StatusUpdate is the bus message fanned out to WebSocket clients.
type StatusUpdate struct {
	Type      string           `json:"type"`
	Data      StatusUpdateData `json:"data"`
	Broadcast bool             `json:"broadcast"`
}

// StatusUpdateData is the payload of a StatusUpdate. RiskScore crosses the
// JSON boundary as a string to preserve fixed-point semantics.
type StatusUpdateData struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	RiskScore *string `json:"risk_score"`
	UpdatedAt string  `json:"updated_at"`
}

// StatusUpdateType is the only message type carried on the bus channel.
const StatusUpdateType = "application_update"

// BusChannel is the single logical pub/sub channel for status updates.
const BusChannel = "websocket:broadcast"

// NewStatusUpdate builds the bus message for an application.
func NewStatusUpdate(app Application) StatusUpdate {
	var rs *string
	if app.RiskScore != nil {
		s := app.RiskScore.StringFixed(2)
		rs = &s
	}
	return StatusUpdate{
		Type: StatusUpdateType,
		Data: StatusUpdateData{
			ID:        app.ID.String(),
			Status:    string(app.Status),
			RiskScore: rs,
			UpdatedAt: app.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
		Broadcast: true,
	}
}

// Context aliases context.Context, matching the convention used across
// repositories and usecases.
type Context = context.Context
