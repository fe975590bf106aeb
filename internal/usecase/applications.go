// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/strategy"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

var knownStatuses = map[domain.ApplicationStatus]bool{
	domain.StatusPending:     true,
	domain.StatusValidating:  true,
	domain.StatusApproved:    true,
	domain.StatusRejected:    true,
	domain.StatusUnderReview: true,
	domain.StatusCancelled:   true,
	domain.StatusCompleted:   true,
}

// CreateApplicationInput carries one credit application submission. Amounts
// arrive already parsed as decimals; the HTTP edge rejects anything that is
// not a JSON string or number with at most two fraction digits.
type CreateApplicationInput struct {
	Country             string
	FullName            string
	IdentityDocument    string
	RequestedAmount     decimal.Decimal
	MonthlyIncome       decimal.Decimal
	Currency            string
	IdempotencyKey      *string
	CountrySpecificData map[string]any
}

// UpdateApplicationInput is a partial manual update. Nil fields stay
// untouched.
type UpdateApplicationInput struct {
	Status              *domain.ApplicationStatus
	RiskScore           *decimal.Decimal
	BankingData         map[string]any
	ValidationErrors    []string
	CountrySpecificData map[string]any
}

// SupportedCountry describes one country the intake accepts.
type SupportedCountry struct {
	Code           string   `json:"code"`
	DocumentType   string   `json:"document_type"`
	Currency       string   `json:"currency"`
	RequiredFields []string `json:"required_fields"`
}

// ApplicationService owns the synchronous command/query surface: intake,
// reads, manual updates, soft deletes, and the country aggregates.
type ApplicationService struct {
	Repo     domain.ApplicationRepository
	Pending  domain.PendingJobRepository
	Queue    domain.Queue
	Cache    domain.Cache
	StatsTTL time.Duration
}

// NewApplicationService constructs an ApplicationService with its dependencies.
func NewApplicationService(repo domain.ApplicationRepository, pending domain.PendingJobRepository, q domain.Queue, cache domain.Cache, statsTTL time.Duration) ApplicationService {
	return ApplicationService{Repo: repo, Pending: pending, Queue: q, Cache: cache, StatsTTL: statsTTL}
}

// Create validates and persists a new application in PENDING, then hands it
// to the queue. The returned bool reports an idempotent replay: the
// idempotency key matched an earlier submission and that record is returned
// unchanged.
//
// The enqueue runs after the creation commit and is allowed to fail; the
// trigger-created outbox row guarantees the consumer picks the job up within
// a minute.
func (s ApplicationService) Create(ctx domain.Context, in CreateApplicationInput) (domain.Application, bool, error) {
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	strat, err := strategy.New(country, nil)
	if err != nil {
		return domain.Application{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	fullName := strings.TrimSpace(in.FullName)
	document := strings.TrimSpace(in.IdentityDocument)
	switch {
	case fullName == "":
		return domain.Application{}, false, fmt.Errorf("%w: full_name is required", domain.ErrInvalidArgument)
	case document == "":
		return domain.Application{}, false, fmt.Errorf("%w: identity_document is required", domain.ErrInvalidArgument)
	case !in.RequestedAmount.IsPositive():
		return domain.Application{}, false, fmt.Errorf("%w: requested_amount must be positive", domain.ErrInvalidArgument)
	case in.MonthlyIncome.IsNegative():
		return domain.Application{}, false, fmt.Errorf("%w: monthly_income cannot be negative", domain.ErrInvalidArgument)
	}

	currency, err := normalizeCurrency(country, in.Currency)
	if err != nil {
		return domain.Application{}, false, err
	}

	vr := strat.ValidateIdentityDocument(document)
	if !vr.IsValid {
		return domain.Application{}, false, fmt.Errorf("%w: invalid identity document: %s",
			domain.ErrInvalidArgument, strings.Join(vr.Errors, ", "))
	}

	var idemKey *string
	if in.IdempotencyKey != nil {
		if key := strings.TrimSpace(*in.IdempotencyKey); key != "" {
			existing, err := s.Repo.FindByIdempotencyKey(ctx, key)
			if err == nil {
				slog.InfoContext(ctx, "idempotent replay, returning existing application",
					slog.String("application_id", existing.ID.String()),
					slog.String("status", string(existing.Status)))
				return existing, true, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return domain.Application{}, false, err
			}
			idemKey = &key
		}
	}

	if existing, err := s.Repo.FindActiveByDocument(ctx, country, document); err == nil {
		return domain.Application{}, false, fmt.Errorf(
			"%w: an active application already exists for this document in %s (id %s, status %s)",
			domain.ErrConflict, country, existing.ID, existing.Status)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Application{}, false, err
	}

	countryData := in.CountrySpecificData
	if countryData == nil {
		countryData = map[string]any{}
	}

	app := domain.Application{
		ID:                  uuid.New(),
		Country:             country,
		FullName:            fullName,
		IdentityDocument:    document,
		RequestedAmount:     in.RequestedAmount.Round(2),
		MonthlyIncome:       in.MonthlyIncome.Round(2),
		Currency:            currency,
		Status:              domain.StatusPending,
		IdempotencyKey:      idemKey,
		CountrySpecificData: countryData,
		// Non-fatal document findings (unknown CURP state, structural
		// Codice Fiscale notes) travel with the record from the start.
		ValidationErrors: vr.Warnings,
	}

	created, err := s.Repo.Create(ctx, app)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.resolveCreateRace(ctx, country, document, idemKey, err)
		}
		return domain.Application{}, false, err
	}

	observability.ApplicationsCreatedTotal.WithLabelValues(created.Country).Inc()
	slog.InfoContext(ctx, "application created",
		slog.String("application_id", created.ID.String()),
		slog.String("country", created.Country))

	s.dispatch(ctx, created)
	s.invalidate(ctx, created.ID)
	return created, false, nil
}

// resolveCreateRace re-reads after a store-level unique violation: the
// idempotency key wins if it matches, otherwise the duplicate document is
// reported with the surviving record.
func (s ApplicationService) resolveCreateRace(ctx domain.Context, country, document string, idemKey *string, cause error) (domain.Application, bool, error) {
	if idemKey != nil {
		if existing, err := s.Repo.FindByIdempotencyKey(ctx, *idemKey); err == nil {
			return existing, true, nil
		}
	}
	if existing, err := s.Repo.FindActiveByDocument(ctx, country, document); err == nil {
		return domain.Application{}, false, fmt.Errorf(
			"%w: an active application already exists for this document in %s (id %s, status %s)",
			domain.ErrConflict, country, existing.ID, existing.Status)
	}
	return domain.Application{}, false, cause
}

// dispatch enqueues the evaluation task right after the creation commit and
// backfills the outbox row with the queue job id. Every failure here is
// advisory: the outbox consumer re-offers PENDING rows on its next tick.
func (s ApplicationService) dispatch(ctx domain.Context, app domain.Application) {
	jobID := domain.RealtimeJobID(app.ID.String())
	payload := domain.ProcessTaskPayload{
		ApplicationID: app.ID.String(),
		TraceContext:  injectTrace(ctx),
	}
	queueID, err := s.Queue.EnqueueProcess(ctx, payload, jobID)
	if err != nil {
		slog.WarnContext(ctx, "realtime enqueue failed, outbox consumer will pick the job up",
			slog.String("application_id", app.ID.String()), slog.Any("error", err))
		return
	}
	if err := s.Pending.AttachQueueJobID(ctx, app.ID, queueID); err != nil {
		slog.WarnContext(ctx, "queue job id not recorded on pending job",
			slog.String("application_id", app.ID.String()),
			slog.String("queue_job_id", queueID), slog.Any("error", err))
	}
}

func (s ApplicationService) invalidate(ctx domain.Context, id uuid.UUID) {
	if err := s.Cache.InvalidateApplication(ctx, id.String()); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed",
			slog.String("application_id", id.String()), slog.Any("error", err))
	}
}

// Get returns one application with PII decrypted for masking at the edge.
func (s ApplicationService) Get(ctx domain.Context, id uuid.UUID) (domain.Application, error) {
	return s.Repo.Get(ctx, id)
}

// List pages through applications, newest first. Page size is clamped to
// [1, 100] with a default of 10.
func (s ApplicationService) List(ctx domain.Context, f domain.ListFilter) ([]domain.Application, int64, error) {
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	if f.Country != "" && !strategy.IsSupported(f.Country) {
		return nil, 0, fmt.Errorf("%w: country %q is not supported", domain.ErrInvalidArgument, f.Country)
	}
	if f.Status != "" && !knownStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, f.Status)
	}
	f.Page, f.PageSize = clampPage(f.Page, f.PageSize)
	return s.Repo.List(ctx, f)
}

// Update applies a manual patch. Status changes are validated against the
// state machine by the store, which also records the audit row as a manual
// change.
func (s ApplicationService) Update(ctx domain.Context, id uuid.UUID, in UpdateApplicationInput) (domain.Application, error) {
	if in.Status == nil && in.RiskScore == nil && in.BankingData == nil &&
		in.ValidationErrors == nil && in.CountrySpecificData == nil {
		return domain.Application{}, fmt.Errorf("%w: no fields to update", domain.ErrInvalidArgument)
	}
	if in.Status != nil && !knownStatuses[*in.Status] {
		return domain.Application{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, *in.Status)
	}
	if in.RiskScore != nil {
		if in.RiskScore.IsNegative() || in.RiskScore.GreaterThan(decimal.NewFromInt(100)) {
			return domain.Application{}, fmt.Errorf("%w: risk_score must be between 0 and 100", domain.ErrInvalidArgument)
		}
		rounded := in.RiskScore.Round(2)
		in.RiskScore = &rounded
	}

	app, err := s.Repo.Update(ctx, id, domain.ApplicationPatch{
		Status:              in.Status,
		RiskScore:           in.RiskScore,
		BankingData:         in.BankingData,
		ValidationErrors:    in.ValidationErrors,
		CountrySpecificData: in.CountrySpecificData,
		ChangedBy:           "user",
		ChangeReason:        "Status changed manually",
	})
	if err != nil {
		return domain.Application{}, err
	}
	s.invalidate(ctx, id)
	return app, nil
}

// SoftDelete hides the application from every read path without destroying
// the audit trail.
func (s ApplicationService) SoftDelete(ctx domain.Context, id uuid.UUID) error {
	if err := s.Repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "application deleted", slog.String("application_id", id.String()))
	s.invalidate(ctx, id)
	return nil
}

// AuditLogs returns the status-change trail for one application, newest
// first.
func (s ApplicationService) AuditLogs(ctx domain.Context, id uuid.UUID, page, pageSize int) ([]domain.AuditLog, int64, error) {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	page, pageSize = clampPage(page, pageSize)
	return s.Repo.AuditLogs(ctx, id, page, pageSize)
}

// PendingJobs returns the outbox rows recorded for one application.
func (s ApplicationService) PendingJobs(ctx domain.Context, id uuid.UUID) ([]domain.PendingJob, error) {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Pending.ByApplication(ctx, id)
}

// Stats returns the per-country aggregates, served from the cache when a
// fresh entry exists. Cache faults fall through to the store.
func (s ApplicationService) Stats(ctx domain.Context, country string) (domain.CountryStats, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !strategy.IsSupported(country) {
		return domain.CountryStats{}, fmt.Errorf("%w: country %q is not supported", domain.ErrInvalidArgument, country)
	}

	if stats, ok, err := s.Cache.GetStats(ctx, country); err != nil {
		slog.WarnContext(ctx, "stats cache read failed", slog.String("country", country), slog.Any("error", err))
	} else if ok {
		return stats, nil
	}

	stats, err := s.Repo.CountryStats(ctx, country)
	if err != nil {
		return domain.CountryStats{}, err
	}
	if err := s.Cache.SetStats(ctx, stats, s.StatsTTL); err != nil {
		slog.WarnContext(ctx, "stats cache write failed", slog.String("country", country), slog.Any("error", err))
	}
	return stats, nil
}

// SupportedCountries lists every country the factory can build a strategy
// for, with its document type, currency, and required intake fields.
func (s ApplicationService) SupportedCountries() []SupportedCountry {
	codes := strategy.Supported()
	out := make([]SupportedCountry, 0, len(codes))
	for _, code := range codes {
		strat, err := strategy.New(code, nil)
		if err != nil {
			continue
		}
		out = append(out, SupportedCountry{
			Code:           code,
			DocumentType:   strat.DocumentTypeName(),
			Currency:       domain.CountryCurrency[code],
			RequiredFields: strat.RequiredFields(),
		})
	}
	return out
}

// normalizeCurrency checks a submitted currency against the country's
// mandatory one and infers it when absent.
func normalizeCurrency(country, currency string) (string, error) {
	expected := domain.CountryCurrency[country]
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case currency == "" && expected == "":
		return "", fmt.Errorf("%w: currency is required for country %s", domain.ErrInvalidArgument, country)
	case currency == "":
		return expected, nil
	case expected != "" && currency != expected:
		return "", fmt.Errorf("%w: currency %q does not match country %s (expected %s)",
			domain.ErrInvalidArgument, currency, country, expected)
	default:
		return currency, nil
	}
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return page, pageSize
}

// injectTrace serializes the current trace context for the queue payload so
// the worker's span joins the request's trace.
func injectTrace(ctx domain.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}
