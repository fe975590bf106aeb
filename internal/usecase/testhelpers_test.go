package usecase_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Per-method hook stubs for the ports the services consume. Unset hooks fall
// back to the behavior most tests want: finders miss, writers echo their
// input, side effects succeed. Shared here so the per-service test files can
// reuse them without redefinitions.

type appRepoStub struct {
	createFn     func(domain.Application) (domain.Application, error)
	getFn        func(uuid.UUID) (domain.Application, error)
	findIdemFn   func(string) (domain.Application, error)
	findActiveFn func(country, document string) (domain.Application, error)
	updateFn     func(uuid.UUID, domain.ApplicationPatch) (domain.Application, error)
	softDeleteFn func(uuid.UUID) error
	listFn       func(domain.ListFilter) ([]domain.Application, int64, error)
	auditFn      func(id uuid.UUID, page, pageSize int) ([]domain.AuditLog, int64, error)
	statsFn      func(string) (domain.CountryStats, error)
	startFn      func(uuid.UUID) (domain.Application, error)
	applyEvalFn  func(uuid.UUID, domain.EvaluationUpdate) (domain.Application, error)
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

func (r *appRepoStub) AuditLogs(_ domain.Context, id uuid.UUID, page, pageSize int) ([]domain.AuditLog, int64, error) {
	if r.auditFn != nil {
		return r.auditFn(id, page, pageSize)
	}
	return nil, 0, nil
}

func (r *appRepoStub) CountryStats(_ domain.Context, country string) (domain.CountryStats, error) {
	if r.statsFn != nil {
		return r.statsFn(country)
	}
	return domain.CountryStats{Country: country}, nil
}

func (r *appRepoStub) StartValidation(_ domain.Context, id uuid.UUID) (domain.Application, error) {
	if r.startFn != nil {
		return r.startFn(id)
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r *appRepoStub) ApplyEvaluation(_ domain.Context, id uuid.UUID, upd domain.EvaluationUpdate) (domain.Application, error) {
	if r.applyEvalFn != nil {
		return r.applyEvalFn(id, upd)
	}
	return domain.Application{ID: id, Status: upd.Status}, nil
}

func (r *appRepoStub) ApplyWebhook(_ domain.Context, id uuid.UUID, merge map[string]any, reject bool) (domain.Application, error) {
	if r.applyHookFn != nil {
		return r.applyHookFn(id, merge, reject)
	}
	return domain.Application{ID: id}, nil
}

type pendingRepoStub struct {
	fetchFn      func(limit int) ([]domain.PendingJob, error)
	markEnqFn    func(id uuid.UUID, queueJobID string) (bool, error)
	markFailFn   func(id uuid.UUID, errMsg string) error
	attachFn     func(appID uuid.UUID, queueJobID string) error
	byAppFn      func(appID uuid.UUID) ([]domain.PendingJob, error)
	completeByQF func(queueJobID string) error
	failByQFn    func(queueJobID, errMsg string) error
}

func (r *pendingRepoStub) FetchPending(_ domain.Context, limit int) ([]domain.PendingJob, error) {
	if r.fetchFn != nil {
		return r.fetchFn(limit)
	}
	return nil, nil
}

func (r *pendingRepoStub) MarkEnqueued(_ domain.Context, id uuid.UUID, queueJobID string) (bool, error) {
	if r.markEnqFn != nil {
		return r.markEnqFn(id, queueJobID)
	}
	return true, nil
}

func (r *pendingRepoStub) MarkFailed(_ domain.Context, id uuid.UUID, errMsg string) error {
	if r.markFailFn != nil {
		return r.markFailFn(id, errMsg)
	}
	return nil
}

func (r *pendingRepoStub) MarkCompletedByQueueJobID(_ domain.Context, queueJobID string) error {
	if r.completeByQF != nil {
		return r.completeByQF(queueJobID)
	}
	return nil
}

func (r *pendingRepoStub) MarkFailedByQueueJobID(_ domain.Context, queueJobID, errMsg string) error {
	if r.failByQFn != nil {
		return r.failByQFn(queueJobID, errMsg)
	}
	return nil
}

func (r *pendingRepoStub) AttachQueueJobID(_ domain.Context, appID uuid.UUID, queueJobID string) error {
	if r.attachFn != nil {
		return r.attachFn(appID, queueJobID)
	}
	return nil
}

func (r *pendingRepoStub) ByApplication(_ domain.Context, appID uuid.UUID) ([]domain.PendingJob, error) {
	if r.byAppFn != nil {
		return r.byAppFn(appID)
	}
	return nil, nil
}

type failedRepoStub struct {
	insertFn  func(domain.FailedJob) (domain.FailedJob, error)
	fetchFn   func(limit int) ([]domain.FailedJob, error)
	retriedFn func(id uuid.UUID, reprocessedJobID string) error
}

func (r *failedRepoStub) Insert(_ domain.Context, fj domain.FailedJob) (domain.FailedJob, error) {
	if r.insertFn != nil {
		return r.insertFn(fj)
	}
	return fj, nil
}

func (r *failedRepoStub) FetchRetryable(_ domain.Context, limit int) ([]domain.FailedJob, error) {
	if r.fetchFn != nil {
		return r.fetchFn(limit)
	}
	return nil, nil
}

func (r *failedRepoStub) MarkRetried(_ domain.Context, id uuid.UUID, reprocessedJobID string) error {
	if r.retriedFn != nil {
		return r.retriedFn(id, reprocessedJobID)
	}
	return nil
}

type eventRepoStub struct {
	getFn       func(key string) (domain.WebhookEvent, error)
	insertFn    func(domain.WebhookEvent) (domain.WebhookEvent, error)
	resetFn     func(uuid.UUID) error
	processedFn func(uuid.UUID) error
	failedFn    func(id uuid.UUID, errMsg string) error
	deleteFn    func(cutoff time.Time) (int64, error)
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

func (r *eventRepoStub) ResetToProcessing(_ domain.Context, id uuid.UUID) error {
	if r.resetFn != nil {
		return r.resetFn(id)
	}
	return nil
}

func (r *eventRepoStub) MarkProcessed(_ domain.Context, id uuid.UUID) error {
	if r.processedFn != nil {
		return r.processedFn(id)
	}
	return nil
}

func (r *eventRepoStub) MarkFailed(_ domain.Context, id uuid.UUID, errMsg string) error {
	if r.failedFn != nil {
		return r.failedFn(id, errMsg)
	}
	return nil
}

func (r *eventRepoStub) DeleteOlderThan(_ domain.Context, cutoff time.Time) (int64, error) {
	if r.deleteFn != nil {
		return r.deleteFn(cutoff)
	}
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
	publishErr error
	updates    []domain.StatusUpdate
}

func (b *busStub) Publish(_ domain.Context, upd domain.StatusUpdate) error {
	b.updates = append(b.updates, upd)
	return b.publishErr
}

func (b *busStub) Subscribe(ctx domain.Context, _ func(domain.StatusUpdate)) error {
	<-ctx.Done()
	return ctx.Err()
}

type lockerStub struct {
	acquireFn func(key string, ttl time.Duration) (bool, func(domain.Context) error, error)
	keys      []string
	released  int
}

func (l *lockerStub) Acquire(_ domain.Context, key string, ttl time.Duration) (bool, func(domain.Context) error, error) {
	l.keys = append(l.keys, key)
	if l.acquireFn != nil {
		return l.acquireFn(key, ttl)
	}
	return true, func(domain.Context) error { l.released++; return nil }, nil
}

type cacheStub struct {
	stats       map[string]domain.CountryStats
	getErr      error
	setErr      error
	setTTL      time.Duration
	invalidated []string
}

func (c *cacheStub) GetStats(_ domain.Context, country string) (domain.CountryStats, bool, error) {
	if c.getErr != nil {
		return domain.CountryStats{}, false, c.getErr
	}
	s, ok := c.stats[country]
	return s, ok, nil
}

func (c *cacheStub) SetStats(_ domain.Context, stats domain.CountryStats, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	if c.stats == nil {
		c.stats = map[string]domain.CountryStats{}
	}
	c.stats[stats.Country] = stats
	c.setTTL = ttl
	return nil
}

func (c *cacheStub) InvalidateApplication(_ domain.Context, applicationID string) error {
	c.invalidated = append(c.invalidated, applicationID)
	return nil
}

type fetcherStub struct {
	fetchFn func(country string, p domain.BankingProvider, document, fullName string) (domain.BankingData, error)
}

func (f *fetcherStub) Fetch(_ domain.Context, country string, p domain.BankingProvider, document, fullName string) (domain.BankingData, error) {
	if f.fetchFn != nil {
		return f.fetchFn(country, p, document, fullName)
	}
	return domain.BankingData{ProviderName: "stub"}, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }
