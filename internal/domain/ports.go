package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListFilter narrows and pages application listings.
type ListFilter struct {
	Country  string
	Status   ApplicationStatus
	Page     int
	PageSize int
}

// Offset returns the SQL offset for the filter's page.
func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// ApplicationPatch carries a partial manual update. Nil fields stay
// untouched. ChangedBy/ChangeReason feed the audit trigger's session
// variables.
type ApplicationPatch struct {
	Status              *ApplicationStatus
	RiskScore           *decimal.Decimal
	BankingData         map[string]any
	ValidationErrors    []string
	CountrySpecificData map[string]any
	ChangedBy           string
	ChangeReason        string
}

// EvaluationUpdate is the worker's write-back after rule evaluation.
type EvaluationUpdate struct {
	Status              ApplicationStatus
	RiskScore           decimal.Decimal
	BankingData         map[string]any
	ValidationErrors    []string
	CountrySpecificData map[string]any
}

// CountryStats aggregates non-deleted applications for one country.
// Monetary aggregates stay strings to keep decimal precision on the wire.
type CountryStats struct {
	Country           string `json:"country"`
	TotalApplications int64  `json:"total_applications"`
	TotalAmount       string `json:"total_amount"`
	AverageAmount     string `json:"average_amount"`
	PendingCount      int64  `json:"pending_count"`
	ApprovedCount     int64  `json:"approved_count"`
	RejectedCount     int64  `json:"rejected_count"`
}

// WebhookConfirmation is a parsed bank verification callback.
type WebhookConfirmation struct {
	ApplicationID      uuid.UUID
	DocumentVerified   bool
	CreditScore        *int
	TotalDebt          *decimal.Decimal
	MonthlyObligations *decimal.Decimal
	HasDefaults        bool
	ProviderReference  string
	VerifiedAt         time.Time
}

// Repositories (ports)

type ApplicationRepository interface {
	Create(ctx Context, app Application) (Application, error)
	Get(ctx Context, id uuid.UUID) (Application, error)
	FindByIdempotencyKey(ctx Context, key string) (Application, error)
	// FindActiveByDocument matches on the deterministic document digest
	// among non-deleted rows in an active status.
	FindActiveByDocument(ctx Context, country, identityDocument string) (Application, error)
	Update(ctx Context, id uuid.UUID, patch ApplicationPatch) (Application, error)
	SoftDelete(ctx Context, id uuid.UUID) error
	List(ctx Context, f ListFilter) ([]Application, int64, error)
	AuditLogs(ctx Context, applicationID uuid.UUID, page, pageSize int) ([]AuditLog, int64, error)
	CountryStats(ctx Context, country string) (CountryStats, error)
	// StartValidation transitions PENDING → VALIDATING under a row lock
	// and returns the application with PII decrypted. ErrAlreadyProcessed
	// signals an idempotent exit from a final state.
	StartValidation(ctx Context, id uuid.UUID) (Application, error)
	// ApplyEvaluation writes the rule outcome under a row lock, enforcing
	// the state machine.
	ApplyEvaluation(ctx Context, id uuid.UUID, upd EvaluationUpdate) (Application, error)
	// ApplyWebhook merges a bank confirmation into banking_data; reject
	// forces status REJECTED with the verification-failure reason.
	ApplyWebhook(ctx Context, id uuid.UUID, merge map[string]any, reject bool) (Application, error)
}

type PendingJobRepository interface {
	FetchPending(ctx Context, limit int) ([]PendingJob, error)
	// MarkEnqueued flips PENDING → ENQUEUED; reports false when another
	// consumer already claimed the row.
	MarkEnqueued(ctx Context, id uuid.UUID, queueJobID string) (bool, error)
	MarkFailed(ctx Context, id uuid.UUID, errMsg string) error
	MarkCompletedByQueueJobID(ctx Context, queueJobID string) error
	MarkFailedByQueueJobID(ctx Context, queueJobID, errMsg string) error
	// AttachQueueJobID backfills queue_job_id after the real-time enqueue;
	// only rows still missing one are touched.
	AttachQueueJobID(ctx Context, applicationID uuid.UUID, queueJobID string) error
	ByApplication(ctx Context, applicationID uuid.UUID) ([]PendingJob, error)
}

type FailedJobRepository interface {
	Insert(ctx Context, fj FailedJob) (FailedJob, error)
	FetchRetryable(ctx Context, limit int) ([]FailedJob, error)
	MarkRetried(ctx Context, id uuid.UUID, reprocessedJobID string) error
}

type WebhookEventRepository interface {
	GetByIdempotencyKey(ctx Context, key string) (WebhookEvent, error)
	Insert(ctx Context, ev WebhookEvent) (WebhookEvent, error)
	ResetToProcessing(ctx Context, id uuid.UUID) error
	MarkProcessed(ctx Context, id uuid.UUID) error
	MarkFailed(ctx Context, id uuid.UUID, errMsg string) error
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// Queue (port)

type Queue interface {
	// EnqueueProcess schedules evaluation under the given queue job id.
	// A duplicate id is not an error: the id already in flight wins and
	// is returned.
	EnqueueProcess(ctx Context, payload ProcessTaskPayload, jobID string) (string, error)
}

// Bus (port)

type Bus interface {
	Publish(ctx Context, upd StatusUpdate) error
	// Subscribe blocks, invoking handler per message, until ctx ends.
	Subscribe(ctx Context, handler func(upd StatusUpdate)) error
}

// Locker (port)

type Locker interface {
	// Acquire takes the named lock for at most ttl. ok=false means a
	// peer holds it. release is only safe to call when ok.
	Acquire(ctx Context, key string, ttl time.Duration) (ok bool, release func(ctx Context) error, err error)
}

// Cache (port). Callers treat failures as advisory: a cache fault must
// never fail a write path.

type Cache interface {
	GetStats(ctx Context, country string) (CountryStats, bool, error)
	SetStats(ctx Context, stats CountryStats, ttl time.Duration) error
	InvalidateApplication(ctx Context, applicationID string) error
}

// BankingProvider (port)

type BankingProvider interface {
	Name() string
	FetchBankingData(ctx Context, document, fullName string) (BankingData, error)
}

// CountryStrategy (port)
// Rule application is pure; provider I/O goes through the resilience
// layer with the strategy's bound provider.

type CountryStrategy interface {
	CountryCode() string
	DocumentTypeName() string
	RequiredFields() []string
	Provider() BankingProvider
	ValidateIdentityDocument(document string) ValidationResult
	ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking BankingData, countryData map[string]any) RiskAssessment
}
