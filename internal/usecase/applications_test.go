package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

func validCreateInput() usecase.CreateApplicationInput {
	return usecase.CreateApplicationInput{
		Country:          "ES",
		FullName:         "María García López",
		IdentityDocument: "12345678Z",
		RequestedAmount:  d("5000"),
		MonthlyIncome:    d("2500"),
		Currency:         "EUR",
	}
}

func newAppService(repo *appRepoStub, pending *pendingRepoStub, q *queueStub, cache *cacheStub) usecase.ApplicationService {
	return usecase.NewApplicationService(repo, pending, q, cache, time.Minute)
}

func TestApplicationService_Create_PersistsAndDispatches(t *testing.T) {
	t.Parallel()

	var stored domain.Application
	repo := &appRepoStub{createFn: func(app domain.Application) (domain.Application, error) {
		stored = app
		return app, nil
	}}
	var enqueuedID string
	var enqueuedPayload domain.ProcessTaskPayload
	q := &queueStub{enqueueFn: func(p domain.ProcessTaskPayload, jobID string) (string, error) {
		enqueuedPayload, enqueuedID = p, jobID
		return jobID, nil
	}}
	var attachedApp uuid.UUID
	var attachedQueueID string
	pending := &pendingRepoStub{attachFn: func(appID uuid.UUID, queueJobID string) error {
		attachedApp, attachedQueueID = appID, queueJobID
		return nil
	}}
	cache := &cacheStub{}

	svc := newAppService(repo, pending, q, cache)
	created, replayed, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "ES", created.Country)
	assert.Equal(t, "EUR", created.Currency)
	assert.Equal(t, "5000.00", created.RequestedAmount.StringFixed(2))
	assert.Equal(t, "2500.00", created.MonthlyIncome.StringFixed(2))
	assert.NotNil(t, created.CountrySpecificData)
	assert.Equal(t, stored.ID, created.ID)

	assert.Equal(t, domain.RealtimeJobID(created.ID.String()), enqueuedID)
	assert.Equal(t, created.ID.String(), enqueuedPayload.ApplicationID)
	assert.Equal(t, created.ID, attachedApp)
	assert.Equal(t, enqueuedID, attachedQueueID)
	assert.Equal(t, []string{created.ID.String()}, cache.invalidated)
}

func TestApplicationService_Create_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*usecase.CreateApplicationInput)
		wantMsg string
	}{
		{"unsupported country", func(in *usecase.CreateApplicationInput) { in.Country = "AR" }, "is not supported"},
		{"missing full name", func(in *usecase.CreateApplicationInput) { in.FullName = "  " }, "full_name is required"},
		{"missing document", func(in *usecase.CreateApplicationInput) { in.IdentityDocument = "" }, "identity_document is required"},
		{"zero amount", func(in *usecase.CreateApplicationInput) { in.RequestedAmount = d("0") }, "requested_amount must be positive"},
		{"negative income", func(in *usecase.CreateApplicationInput) { in.MonthlyIncome = d("-1") }, "monthly_income cannot be negative"},
		{"currency mismatch", func(in *usecase.CreateApplicationInput) { in.Currency = "USD" }, `currency "USD" does not match country ES (expected EUR)`},
		{"bad document checksum", func(in *usecase.CreateApplicationInput) { in.IdentityDocument = "12345678A" }, "invalid identity document"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			created := false
			repo := &appRepoStub{createFn: func(app domain.Application) (domain.Application, error) {
				created = true
				return app, nil
			}}
			svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

			in := validCreateInput()
			tc.mutate(&in)
			_, _, err := svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.False(t, created)
		})
	}
}

func TestApplicationService_Create_InfersCurrencyAndKeepsWarnings(t *testing.T) {
	t.Parallel()

	repo := &appRepoStub{}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	// Lowercase country, no currency, and a CURP whose state code is not in
	// the RENAPO catalog.
	created, replayed, err := svc.Create(context.Background(), usecase.CreateApplicationInput{
		Country:          "mx",
		FullName:         "Juan Hernández",
		IdentityDocument: "HERM850101HZZRRR01",
		RequestedAmount:  d("20000"),
		MonthlyIncome:    d("9000"),
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "MX", created.Country)
	assert.Equal(t, "MXN", created.Currency)
	require.Len(t, created.ValidationErrors, 1)
	assert.Contains(t, created.ValidationErrors[0], "not recognized in standard catalog")
}

func TestApplicationService_Create_IdempotentReplay(t *testing.T) {
	t.Parallel()

	existing := domain.Application{ID: uuid.New(), Country: "ES", Status: domain.StatusApproved}
	created := false
	repo := &appRepoStub{
		findIdemFn: func(key string) (domain.Application, error) {
			assert.Equal(t, "req-1", key)
			return existing, nil
		},
		createFn: func(app domain.Application) (domain.Application, error) {
			created = true
			return app, nil
		},
	}
	enqueued := false
	q := &queueStub{enqueueFn: func(domain.ProcessTaskPayload, string) (string, error) {
		enqueued = true
		return "", nil
	}}
	svc := newAppService(repo, &pendingRepoStub{}, q, &cacheStub{})

	in := validCreateInput()
	in.IdempotencyKey = strPtr("  req-1  ")
	got, replayed, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, existing.ID, got.ID)
	assert.False(t, created, "replay must not insert a second row")
	assert.False(t, enqueued, "replay must not enqueue again")
}

func TestApplicationService_Create_IdempotencyLookupError(t *testing.T) {
	t.Parallel()

	repo := &appRepoStub{findIdemFn: func(string) (domain.Application, error) {
		return domain.Application{}, errors.New("connection refused")
	}}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	in := validCreateInput()
	in.IdempotencyKey = strPtr("req-1")
	_, _, err := svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestApplicationService_Create_DuplicateActiveDocument(t *testing.T) {
	t.Parallel()

	existing := domain.Application{ID: uuid.New(), Status: domain.StatusUnderReview}
	repo := &appRepoStub{findActiveFn: func(country, document string) (domain.Application, error) {
		assert.Equal(t, "ES", country)
		assert.Equal(t, "12345678Z", document)
		return existing, nil
	}}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	_, _, err := svc.Create(context.Background(), validCreateInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), existing.ID.String())
	assert.Contains(t, err.Error(), "UNDER_REVIEW")
}

func TestApplicationService_Create_RaceResolvedByIdempotencyKey(t *testing.T) {
	t.Parallel()

	winner := domain.Application{ID: uuid.New(), Status: domain.StatusPending}
	idemCalls := 0
	repo := &appRepoStub{
		findIdemFn: func(string) (domain.Application, error) {
			idemCalls++
			if idemCalls == 1 {
				return domain.Application{}, domain.ErrNotFound
			}
			return winner, nil
		},
		createFn: func(domain.Application) (domain.Application, error) {
			return domain.Application{}, fmt.Errorf("op=repo.create: %w", domain.ErrConflict)
		},
	}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	in := validCreateInput()
	in.IdempotencyKey = strPtr("req-1")
	got, replayed, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, 2, idemCalls)
}

func TestApplicationService_Create_RaceOnDocument(t *testing.T) {
	t.Parallel()

	winner := domain.Application{ID: uuid.New(), Status: domain.StatusPending}
	activeCalls := 0
	repo := &appRepoStub{
		findActiveFn: func(string, string) (domain.Application, error) {
			activeCalls++
			if activeCalls == 1 {
				return domain.Application{}, domain.ErrNotFound
			}
			return winner, nil
		},
		createFn: func(domain.Application) (domain.Application, error) {
			return domain.Application{}, fmt.Errorf("op=repo.create: %w", domain.ErrConflict)
		},
	}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	_, _, err := svc.Create(context.Background(), validCreateInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), winner.ID.String())
}

func TestApplicationService_Create_EnqueueFailureIsAdvisory(t *testing.T) {
	t.Parallel()

	q := &queueStub{enqueueFn: func(domain.ProcessTaskPayload, string) (string, error) {
		return "", errors.New("queue down")
	}}
	attached := false
	pending := &pendingRepoStub{attachFn: func(uuid.UUID, string) error {
		attached = true
		return nil
	}}
	svc := newAppService(&appRepoStub{}, pending, q, &cacheStub{})

	created, _, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err, "the outbox consumer covers a failed realtime enqueue")
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.False(t, attached, "no queue job id to attach after a failed enqueue")
}

func TestApplicationService_Get(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repo := &appRepoStub{getFn: func(got uuid.UUID) (domain.Application, error) {
		assert.Equal(t, id, got)
		return domain.Application{ID: id, Country: "PT"}, nil
	}}
	svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

	app, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "PT", app.Country)
}

func TestApplicationService_List(t *testing.T) {
	t.Parallel()

	t.Run("clamps paging and uppercases country", func(t *testing.T) {
		t.Parallel()
		var got domain.ListFilter
		repo := &appRepoStub{listFn: func(f domain.ListFilter) ([]domain.Application, int64, error) {
			got = f
			return []domain.Application{{ID: uuid.New()}}, 1, nil
		}}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

		apps, total, err := svc.List(context.Background(), domain.ListFilter{Country: " es ", Page: 0, PageSize: 0})
		require.NoError(t, err)
		assert.Len(t, apps, 1)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, "ES", got.Country)
		assert.Equal(t, 1, got.Page)
		assert.Equal(t, 10, got.PageSize)
	})

	t.Run("caps oversized pages", func(t *testing.T) {
		t.Parallel()
		var got domain.ListFilter
		repo := &appRepoStub{listFn: func(f domain.ListFilter) ([]domain.Application, int64, error) {
			got = f
			return nil, 0, nil
		}}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

		_, _, err := svc.List(context.Background(), domain.ListFilter{Page: 3, PageSize: 1000})
		require.NoError(t, err)
		assert.Equal(t, 3, got.Page)
		assert.Equal(t, 100, got.PageSize)
	})

	t.Run("rejects unsupported country", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, _, err := svc.List(context.Background(), domain.ListFilter{Country: "US"})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, _, err := svc.List(context.Background(), domain.ListFilter{Status: "SHIPPED"})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestApplicationService_Update(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty patch", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, err := svc.Update(context.Background(), uuid.New(), usecase.UpdateApplicationInput{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "no fields to update")
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		bad := domain.ApplicationStatus("SHIPPED")
		_, err := svc.Update(context.Background(), uuid.New(), usecase.UpdateApplicationInput{Status: &bad})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("rejects out-of-range risk score", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		for _, score := range []string{"-1", "100.01"} {
			_, err := svc.Update(context.Background(), uuid.New(), usecase.UpdateApplicationInput{RiskScore: decPtr(score)})
			assert.ErrorIs(t, err, domain.ErrInvalidArgument, "score %s", score)
		}
	})

	t.Run("records a manual change", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		var gotPatch domain.ApplicationPatch
		repo := &appRepoStub{updateFn: func(gotID uuid.UUID, patch domain.ApplicationPatch) (domain.Application, error) {
			assert.Equal(t, id, gotID)
			gotPatch = patch
			return domain.Application{ID: gotID, Status: *patch.Status}, nil
		}}
		cache := &cacheStub{}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		status := domain.StatusApproved
		app, err := svc.Update(context.Background(), id, usecase.UpdateApplicationInput{
			Status:    &status,
			RiskScore: decPtr("72.456"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, app.Status)
		assert.Equal(t, "user", gotPatch.ChangedBy)
		assert.Equal(t, "Status changed manually", gotPatch.ChangeReason)
		require.NotNil(t, gotPatch.RiskScore)
		assert.Equal(t, "72.46", gotPatch.RiskScore.String())
		assert.Equal(t, []string{id.String()}, cache.invalidated)
	})

	t.Run("store errors pass through without invalidation", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{updateFn: func(uuid.UUID, domain.ApplicationPatch) (domain.Application, error) {
			return domain.Application{}, domain.ErrNotFound
		}}
		cache := &cacheStub{}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		status := domain.StatusCancelled
		_, err := svc.Update(context.Background(), uuid.New(), usecase.UpdateApplicationInput{Status: &status})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, cache.invalidated)
	})
}

func TestApplicationService_SoftDelete(t *testing.T) {
	t.Parallel()

	t.Run("invalidates after delete", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		cache := &cacheStub{}
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, cache)
		require.NoError(t, svc.SoftDelete(context.Background(), id))
		assert.Equal(t, []string{id.String()}, cache.invalidated)
	})

	t.Run("store error passes through", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{softDeleteFn: func(uuid.UUID) error { return domain.ErrNotFound }}
		cache := &cacheStub{}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)
		err := svc.SoftDelete(context.Background(), uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, cache.invalidated)
	})
}

func TestApplicationService_AuditLogs(t *testing.T) {
	t.Parallel()

	t.Run("unknown application", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, _, err := svc.AuditLogs(context.Background(), uuid.New(), 1, 10)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("clamps paging", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		var gotPage, gotSize int
		repo := &appRepoStub{
			getFn: func(uuid.UUID) (domain.Application, error) { return domain.Application{ID: id}, nil },
			auditFn: func(_ uuid.UUID, page, pageSize int) ([]domain.AuditLog, int64, error) {
				gotPage, gotSize = page, pageSize
				return []domain.AuditLog{{ApplicationID: id}}, 1, nil
			},
		}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})

		logs, total, err := svc.AuditLogs(context.Background(), id, 0, 500)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, 1, gotPage)
		assert.Equal(t, 100, gotSize)
	})
}

func TestApplicationService_PendingJobs(t *testing.T) {
	t.Parallel()

	t.Run("unknown application", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, err := svc.PendingJobs(context.Background(), uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("returns outbox rows", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		repo := &appRepoStub{getFn: func(uuid.UUID) (domain.Application, error) {
			return domain.Application{ID: id}, nil
		}}
		pending := &pendingRepoStub{byAppFn: func(appID uuid.UUID) ([]domain.PendingJob, error) {
			assert.Equal(t, id, appID)
			return []domain.PendingJob{{ApplicationID: appID, Status: domain.PendingJobCompleted}}, nil
		}}
		svc := newAppService(repo, pending, &queueStub{}, &cacheStub{})

		jobs, err := svc.PendingJobs(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, domain.PendingJobCompleted, jobs[0].Status)
	})
}

func TestApplicationService_Stats(t *testing.T) {
	t.Parallel()

	fresh := domain.CountryStats{Country: "ES", TotalApplications: 3, TotalAmount: "15000.00", AverageAmount: "5000.00"}

	t.Run("rejects unsupported country", func(t *testing.T) {
		t.Parallel()
		svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, err := svc.Stats(context.Background(), "US")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("serves from cache", func(t *testing.T) {
		t.Parallel()
		repoCalled := false
		repo := &appRepoStub{statsFn: func(string) (domain.CountryStats, error) {
			repoCalled = true
			return domain.CountryStats{}, nil
		}}
		cache := &cacheStub{stats: map[string]domain.CountryStats{"ES": fresh}}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		got, err := svc.Stats(context.Background(), "es")
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
		assert.False(t, repoCalled)
	})

	t.Run("fills cache on miss", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{statsFn: func(country string) (domain.CountryStats, error) {
			assert.Equal(t, "ES", country)
			return fresh, nil
		}}
		cache := &cacheStub{}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		got, err := svc.Stats(context.Background(), "ES")
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
		assert.Equal(t, fresh, cache.stats["ES"])
		assert.Equal(t, time.Minute, cache.setTTL)
	})

	t.Run("cache read fault falls through to the store", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{statsFn: func(string) (domain.CountryStats, error) { return fresh, nil }}
		cache := &cacheStub{getErr: errors.New("redis down")}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		got, err := svc.Stats(context.Background(), "ES")
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
	})

	t.Run("cache write fault is advisory", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{statsFn: func(string) (domain.CountryStats, error) { return fresh, nil }}
		cache := &cacheStub{setErr: errors.New("redis down")}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, cache)

		got, err := svc.Stats(context.Background(), "ES")
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
	})

	t.Run("store error passes through", func(t *testing.T) {
		t.Parallel()
		repo := &appRepoStub{statsFn: func(string) (domain.CountryStats, error) {
			return domain.CountryStats{}, errors.New("query failed")
		}}
		svc := newAppService(repo, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
		_, err := svc.Stats(context.Background(), "ES")
		assert.ErrorContains(t, err, "query failed")
	})
}

func TestApplicationService_SupportedCountries(t *testing.T) {
	t.Parallel()

	svc := newAppService(&appRepoStub{}, &pendingRepoStub{}, &queueStub{}, &cacheStub{})
	countries := svc.SupportedCountries()
	require.Len(t, countries, 6)

	byCode := map[string]usecase.SupportedCountry{}
	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		byCode[c.Code] = c
		codes = append(codes, c.Code)
	}
	assert.Equal(t, []string{"BR", "CO", "ES", "IT", "MX", "PT"}, codes)

	es := byCode["ES"]
	assert.Equal(t, "DNI", es.DocumentType)
	assert.Equal(t, "EUR", es.Currency)
	assert.Contains(t, es.RequiredFields, "identity_document")

	mx := byCode["MX"]
	assert.Equal(t, "CURP", mx.DocumentType)
	assert.Equal(t, "MXN", mx.Currency)
	assert.Contains(t, mx.RequiredFields, "state")
}
