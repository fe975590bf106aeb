package httpserver_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	httpserver "github.com/fairyhunter13/global-credit-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/global-credit-core/internal/config"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

// Hook stubs for the store ports, same shape as the usecase tests: unset
// hooks default to finders missing and writers echoing input.

type appRepoStub struct {
	createFn     func(domain.Application) (domain.Application, error)
	getFn        func(uuid.UUID) (domain.Application, error)
	findIdemFn   func(string) (domain.Application, error)
	findActiveFn func(country, document string) (domain.Application, error)
	updateFn     func(uuid.UUID, domain.ApplicationPatch) (domain.Application, error)
	softDeleteFn func(uuid.UUID) error
	listFn       func(domain.ListFilter) ([]domain.Application, int64, error)
	applyHookFn  func(id uuid.UUID, merge map[string]any, reject bool) (domain.Application, error)
}

func (r *appRepoStub) Create(_ domain.Context, app domain.Application) (domain.Application, error) {
	if r.createFn != nil {
		return r.createFn(app)
	}
	return app, nil
}

func (r *appRepoStub) Get(_ domain.Context, id uuid.UUID) (domain.Application, error) {
	if r.getFn != nil {
		return r.getFn(id)
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r *appRepoStub) FindByIdempotencyKey(_ domain.Context, key string) (domain.Application, error) {
	if r.findIdemFn != nil {
		return r.findIdemFn(key)
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r *appRepoStub) FindActiveByDocument(_ domain.Context, country, document string) (domain.Application, error) {
	if r.findActiveFn != nil {
		return r.findActiveFn(country, document)
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r *appRepoStub) Update(_ domain.Context, id uuid.UUID, patch domain.ApplicationPatch) (domain.Application, error) {
	if r.updateFn != nil {
		return r.updateFn(id, patch)
	}
	return domain.Application{ID: id}, nil
}

func (r *appRepoStub) SoftDelete(_ domain.Context, id uuid.UUID) error {
	if r.softDeleteFn != nil {
		return r.softDeleteFn(id)
	}
	return nil
}

func (r *appRepoStub) List(_ domain.Context, f domain.ListFilter) ([]domain.Application, int64, error) {
	if r.listFn != nil {
		return r.listFn(f)
	}
	return nil, 0, nil
}

func (r *appRepoStub) AuditLogs(_ domain.Context, _ uuid.UUID, _, _ int) ([]domain.AuditLog, int64, error) {
	return nil, 0, nil
}

func (r *appRepoStub) CountryStats(_ domain.Context, country string) (domain.CountryStats, error) {
	return domain.CountryStats{Country: country}, nil
}

func (r *appRepoStub) StartValidation(_ domain.Context, _ uuid.UUID) (domain.Application, error) {
	return domain.Application{}, domain.ErrNotFound
}

func (r *appRepoStub) ApplyEvaluation(_ domain.Context, id uuid.UUID, upd domain.EvaluationUpdate) (domain.Application, error) {
	return domain.Application{ID: id, Status: upd.Status}, nil
}

func (r *appRepoStub) ApplyWebhook(_ domain.Context, id uuid.UUID, merge map[string]any, reject bool) (domain.Application, error) {
	if r.applyHookFn != nil {
		return r.applyHookFn(id, merge, reject)
	}
	return domain.Application{ID: id, Status: domain.StatusUnderReview}, nil
}

type pendingRepoStub struct {
	byAppFn func(appID uuid.UUID) ([]domain.PendingJob, error)
}

func (r *pendingRepoStub) FetchPending(_ domain.Context, _ int) ([]domain.PendingJob, error) {
	return nil, nil
}

func (r *pendingRepoStub) MarkEnqueued(_ domain.Context, _ uuid.UUID, _ string) (bool, error) {
	return true, nil
}

func (r *pendingRepoStub) MarkFailed(_ domain.Context, _ uuid.UUID, _ string) error { return nil }

func (r *pendingRepoStub) MarkCompletedByQueueJobID(_ domain.Context, _ string) error { return nil }

func (r *pendingRepoStub) MarkFailedByQueueJobID(_ domain.Context, _, _ string) error { return nil }

func (r *pendingRepoStub) AttachQueueJobID(_ domain.Context, _ uuid.UUID, _ string) error { return nil }

func (r *pendingRepoStub) ByApplication(_ domain.Context, appID uuid.UUID) ([]domain.PendingJob, error) {
	if r.byAppFn != nil {
		return r.byAppFn(appID)
	}
	return nil, nil
}

type eventRepoStub struct {
	getFn    func(key string) (domain.WebhookEvent, error)
	insertFn func(domain.WebhookEvent) (domain.WebhookEvent, error)
}

func (r *eventRepoStub) GetByIdempotencyKey(_ domain.Context, key string) (domain.WebhookEvent, error) {
	if r.getFn != nil {
		return r.getFn(key)
	}
	return domain.WebhookEvent{}, domain.ErrNotFound
}

func (r *eventRepoStub) Insert(_ domain.Context, ev domain.WebhookEvent) (domain.WebhookEvent, error) {
	if r.insertFn != nil {
		return r.insertFn(ev)
	}
	return ev, nil
}

func (r *eventRepoStub) ResetToProcessing(_ domain.Context, _ uuid.UUID) error { return nil }

func (r *eventRepoStub) MarkProcessed(_ domain.Context, _ uuid.UUID) error { return nil }

func (r *eventRepoStub) MarkFailed(_ domain.Context, _ uuid.UUID, _ string) error { return nil }

func (r *eventRepoStub) DeleteOlderThan(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type queueStub struct {
	enqueueFn func(payload domain.ProcessTaskPayload, jobID string) (string, error)
}

func (q *queueStub) EnqueueProcess(_ domain.Context, payload domain.ProcessTaskPayload, jobID string) (string, error) {
	if q.enqueueFn != nil {
		return q.enqueueFn(payload, jobID)
	}
	return jobID, nil
}

type busStub struct {
	updates []domain.StatusUpdate
}

func (b *busStub) Publish(_ domain.Context, upd domain.StatusUpdate) error {
	b.updates = append(b.updates, upd)
	return nil
}

func (b *busStub) Subscribe(ctx domain.Context, _ func(domain.StatusUpdate)) error {
	<-ctx.Done()
	return ctx.Err()
}

type cacheStub struct{}

func (cacheStub) GetStats(_ domain.Context, _ string) (domain.CountryStats, bool, error) {
	return domain.CountryStats{}, false, nil
}

func (cacheStub) SetStats(_ domain.Context, _ domain.CountryStats, _ time.Duration) error {
	return nil
}

func (cacheStub) InvalidateApplication(_ domain.Context, _ string) error { return nil }

func testConfig() config.Config {
	return config.Config{
		Environment:             "test",
		JWTSecret:               "test-secret",
		JWTAlgorithm:            "HS256",
		JWTExpirationMinutes:    60,
		WebhookSecret:           "webhook-secret",
		MaxPayloadSizeMB:        2,
		WebhookMaxPayloadSizeMB: 1,
	}
}

func newTestServer(repo *appRepoStub, events *eventRepoStub) *httpserver.Server {
	if repo == nil {
		repo = &appRepoStub{}
	}
	if events == nil {
		events = &eventRepoStub{}
	}
	apps := usecase.NewApplicationService(repo, &pendingRepoStub{}, &queueStub{}, cacheStub{}, time.Minute)
	webhooks := usecase.NewWebhookService(repo, events, &busStub{})
	return httpserver.NewServer(testConfig(), apps, webhooks)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
