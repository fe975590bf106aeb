package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/strategy"
)

// BankingFetcher runs one provider call through the resilience layer
// (circuit breaker plus timeout). Implemented by provider.Breakers.
type BankingFetcher interface {
	Fetch(ctx domain.Context, country string, p domain.BankingProvider, document, fullName string) (domain.BankingData, error)
}

// ProcessService is the worker-side evaluation pipeline for one queued
// application: lock, PENDING→VALIDATING, provider fetch, business rules,
// write-back, broadcast.
type ProcessService struct {
	Repo    domain.ApplicationRepository
	Locker  domain.Locker
	Bus     domain.Bus
	Fetcher BankingFetcher
	LockTTL time.Duration
}

// NewProcessService constructs a ProcessService with its dependencies.
func NewProcessService(repo domain.ApplicationRepository, locker domain.Locker, bus domain.Bus, fetcher BankingFetcher, lockTTL time.Duration) ProcessService {
	return ProcessService{Repo: repo, Locker: locker, Bus: bus, Fetcher: fetcher, LockTTL: lockTTL}
}

// ProcessApplication evaluates one application. Errors come back classified:
// permanent ones fail the task with no retry, recoverable ones ride the
// queue's backoff. Returning nil on a held lock or an already-final record
// keeps duplicate deliveries harmless.
func (s ProcessService) ProcessApplication(ctx domain.Context, payload domain.ProcessTaskPayload) error {
	id, err := uuid.Parse(payload.ApplicationID)
	if err != nil {
		return domain.Permanentf(domain.ErrTypeInvalidApplicationID,
			"invalid application id %q: %v", payload.ApplicationID, err)
	}

	ok, release, err := s.Locker.Acquire(ctx, processLockKey(id), s.LockTTL)
	if err != nil {
		return domain.Recoverable(domain.ErrTypeExternalService,
			fmt.Errorf("acquire process lock: %w", err))
	}
	if !ok {
		slog.InfoContext(ctx, "application locked by another worker, skipping",
			slog.String("application_id", id.String()))
		return nil
	}
	defer func() {
		if err := release(ctx); err != nil {
			slog.WarnContext(ctx, "process lock release failed",
				slog.String("application_id", id.String()), slog.Any("error", err))
		}
	}()

	app, err := s.Repo.StartValidation(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessed):
			slog.InfoContext(ctx, "application already in a final state, skipping",
				slog.String("application_id", id.String()),
				slog.String("status", string(app.Status)))
			return nil
		case errors.Is(err, domain.ErrNotFound):
			return domain.Permanentf(domain.ErrTypeApplicationNotFound,
				"application %s not found", id)
		default:
			return storeErr(err)
		}
	}
	s.publish(ctx, app)

	strat, err := strategy.New(app.Country, nil)
	if err != nil {
		return domain.Permanent(domain.ErrTypeValidation, err)
	}

	tracer := otel.Tracer("usecase.process")
	fetchCtx, fetchSpan := tracer.Start(ctx, "FetchBankingData")
	banking, err := s.Fetcher.Fetch(fetchCtx, app.Country, strat.Provider(), app.IdentityDocument, app.FullName)
	fetchSpan.End()
	if err != nil {
		return err
	}

	_, rulesSpan := tracer.Start(ctx, "ApplyBusinessRules")
	assessment := strat.ApplyBusinessRules(app.RequestedAmount, app.MonthlyIncome, banking, app.CountrySpecificData)
	rulesSpan.End()

	countryData := make(map[string]any, len(app.CountrySpecificData)+1)
	for k, v := range app.CountrySpecificData {
		countryData[k] = v
	}
	countryData["risk_level"] = assessment.RiskLevel

	final, err := s.Repo.ApplyEvaluation(ctx, id, domain.EvaluationUpdate{
		Status:              domain.StatusForRecommendation(assessment.Recommendation),
		RiskScore:           assessment.RiskScore.Round(2),
		BankingData:         banking.Map(),
		ValidationErrors:    assessment.Reasons,
		CountrySpecificData: countryData,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Permanentf(domain.ErrTypeApplicationNotFound,
				"application %s not found", id)
		}
		return storeErr(err)
	}

	observability.ApplicationsProcessedTotal.
		WithLabelValues(final.Country, string(final.Status)).Inc()
	score, _ := assessment.RiskScore.Float64()
	observability.ObserveRiskScore(score)

	s.publish(ctx, final)
	slog.InfoContext(ctx, "application evaluated",
		slog.String("application_id", final.ID.String()),
		slog.String("status", string(final.Status)),
		slog.String("risk_score", assessment.RiskScore.StringFixed(2)))
	return nil
}

// publish broadcasts a status update. A bus fault never fails the pipeline;
// clients reconcile on their next read.
func (s ProcessService) publish(ctx domain.Context, app domain.Application) {
	if err := s.Bus.Publish(ctx, domain.NewStatusUpdate(app)); err != nil {
		slog.WarnContext(ctx, "status broadcast failed",
			slog.String("application_id", app.ID.String()), slog.Any("error", err))
	}
}

func processLockKey(id uuid.UUID) string { return "process:" + id.String() }

// storeErr classifies a store failure: state machine violations arrive
// already typed, anything else counts as a connection-class fault the queue
// may retry.
func storeErr(err error) error {
	var te *domain.TaskError
	if errors.As(err, &te) {
		return err
	}
	return domain.Recoverable(domain.ErrTypeDatabaseConnection, err)
}
