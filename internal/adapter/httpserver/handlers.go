package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

type createApplicationRequest struct {
	Country             string         `json:"country" validate:"required,len=2,alpha"`
	FullName            string         `json:"full_name" validate:"required,max=200"`
	IdentityDocument    string         `json:"identity_document" validate:"required,max=64"`
	RequestedAmount     json.Number    `json:"requested_amount" validate:"required"`
	MonthlyIncome       json.Number    `json:"monthly_income" validate:"required"`
	Currency            string         `json:"currency" validate:"omitempty,len=3,alpha"`
	IdempotencyKey      *string        `json:"idempotency_key" validate:"omitempty,max=128"`
	CountrySpecificData map[string]any `json:"country_specific_data"`
}

type updateApplicationRequest struct {
	Status              *string        `json:"status" validate:"omitempty,max=20"`
	RiskScore           *json.Number   `json:"risk_score"`
	BankingData         map[string]any `json:"banking_data"`
	ValidationErrors    []string       `json:"validation_errors"`
	CountrySpecificData map[string]any `json:"country_specific_data"`
}

// applicationResponse is the masked wire form of an application. Monetary
// fields travel as strings at scale 2; the identity document keeps only its
// last four characters.
type applicationResponse struct {
	ID                  string         `json:"id"`
	Country             string         `json:"country"`
	FullName            string         `json:"full_name"`
	IdentityDocument    string         `json:"identity_document"`
	RequestedAmount     string         `json:"requested_amount"`
	MonthlyIncome       string         `json:"monthly_income"`
	Currency            string         `json:"currency"`
	Status              string         `json:"status"`
	RiskScore           *string        `json:"risk_score"`
	CountrySpecificData map[string]any `json:"country_specific_data,omitempty"`
	BankingData         map[string]any `json:"banking_data,omitempty"`
	ValidationErrors    []string       `json:"validation_errors"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func toApplicationResponse(app domain.Application) applicationResponse {
	var rs *string
	if app.RiskScore != nil {
		s := app.RiskScore.StringFixed(2)
		rs = &s
	}
	ve := app.ValidationErrors
	if ve == nil {
		ve = []string{}
	}
	return applicationResponse{
		ID:                  app.ID.String(),
		Country:             app.Country,
		FullName:            app.FullName,
		IdentityDocument:    domain.MaskedDocument(app.IdentityDocument),
		RequestedAmount:     app.RequestedAmount.StringFixed(2),
		MonthlyIncome:       app.MonthlyIncome.StringFixed(2),
		Currency:            app.Currency,
		Status:              string(app.Status),
		RiskScore:           rs,
		CountrySpecificData: app.CountrySpecificData,
		BankingData:         app.BankingData,
		ValidationErrors:    ve,
		CreatedAt:           app.CreatedAt,
		UpdatedAt:           app.UpdatedAt,
	}
}

type listResponse struct {
	Total        int64                 `json:"total"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
	Applications []applicationResponse `json:"applications"`
}

// CreateApplicationHandler handles POST /v1/applications. An idempotency-key
// replay returns the original record with 201, same as the first submission.
func (s *Server) CreateApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createApplicationRequest
		if err := decodeJSON(w, r, s.Cfg.MaxPayloadBytes(), &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		amount, err := parseAmount("requested_amount", req.RequestedAmount)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		income, err := parseAmount("monthly_income", req.MonthlyIncome)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		app, replayed, err := s.Apps.Create(r.Context(), usecase.CreateApplicationInput{
			Country:             req.Country,
			FullName:            req.FullName,
			IdentityDocument:    req.IdentityDocument,
			RequestedAmount:     amount,
			MonthlyIncome:       income,
			Currency:            req.Currency,
			IdempotencyKey:      req.IdempotencyKey,
			CountrySpecificData: req.CountrySpecificData,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if replayed {
			w.Header().Set("X-Idempotent-Replay", "true")
		}
		writeJSON(w, http.StatusCreated, toApplicationResponse(app))
	}
}

// ListApplicationsHandler handles GET /v1/applications.
func (s *Server) ListApplicationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, pageSize := pageParams(r)
		apps, total, err := s.Apps.List(r.Context(), domain.ListFilter{
			Country:  q.Get("country"),
			Status:   domain.ApplicationStatus(q.Get("status")),
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]applicationResponse, 0, len(apps))
		for _, app := range apps {
			out = append(out, toApplicationResponse(app))
		}
		writeJSON(w, http.StatusOK, listResponse{Total: total, Page: page, PageSize: pageSize, Applications: out})
	}
}

// GetApplicationHandler handles GET /v1/applications/{id}.
func (s *Server) GetApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		app, err := s.Apps.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toApplicationResponse(app))
	}
}

// UpdateApplicationHandler handles PATCH /v1/applications/{id} (admin only).
// Status changes run through the state machine; an illegal jump is a 400.
func (s *Server) UpdateApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req updateApplicationRequest
		if err := decodeJSON(w, r, s.Cfg.MaxPayloadBytes(), &req); err != nil {
			writeError(w, r, err, nil)
			return
		}

		in := usecase.UpdateApplicationInput{
			BankingData:         req.BankingData,
			ValidationErrors:    req.ValidationErrors,
			CountrySpecificData: req.CountrySpecificData,
		}
		if req.Status != nil {
			st := domain.ApplicationStatus(*req.Status)
			in.Status = &st
		}
		if req.RiskScore != nil {
			score, err := parseAmount("risk_score", *req.RiskScore)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			in.RiskScore = &score
		}

		app, err := s.Apps.Update(r.Context(), id, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toApplicationResponse(app))
	}
}

// DeleteApplicationHandler handles DELETE /v1/applications/{id} (admin only,
// soft delete).
func (s *Server) DeleteApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Apps.SoftDelete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "deleted": true})
	}
}

type auditLogResponse struct {
	ID           string         `json:"id"`
	OldStatus    string         `json:"old_status"`
	NewStatus    string         `json:"new_status"`
	ChangedBy    string         `json:"changed_by"`
	ChangeReason string         `json:"change_reason"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditLogsHandler handles GET /v1/applications/{id}/audit, newest first.
func (s *Server) AuditLogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		page, pageSize := pageParams(r)
		logs, total, err := s.Apps.AuditLogs(r.Context(), id, page, pageSize)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]auditLogResponse, 0, len(logs))
		for _, l := range logs {
			out = append(out, auditLogResponse{
				ID:           l.ID.String(),
				OldStatus:    string(l.OldStatus),
				NewStatus:    string(l.NewStatus),
				ChangedBy:    l.ChangedBy,
				ChangeReason: l.ChangeReason,
				Metadata:     l.Metadata,
				CreatedAt:    l.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total": total, "page": page, "page_size": pageSize, "audit_logs": out,
		})
	}
}

type pendingJobResponse struct {
	ID           string     `json:"id"`
	TaskName     string     `json:"task_name"`
	Status       string     `json:"status"`
	QueueJobID   *string    `json:"queue_job_id"`
	EnqueuedAt   *time.Time `json:"enqueued_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	ErrorMessage *string    `json:"error_message"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PendingJobsHandler handles GET /v1/applications/{id}/pending-jobs.
func (s *Server) PendingJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		jobs, err := s.Apps.PendingJobs(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]pendingJobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, pendingJobResponse{
				ID:           j.ID.String(),
				TaskName:     j.TaskName,
				Status:       string(j.Status),
				QueueJobID:   j.QueueJobID,
				EnqueuedAt:   j.EnqueuedAt,
				ProcessedAt:  j.ProcessedAt,
				ErrorMessage: j.ErrorMessage,
				RetryCount:   j.RetryCount,
				CreatedAt:    j.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"pending_jobs": out})
	}
}

// CountryStatsHandler handles GET /v1/applications/stats/country/{code}.
func (s *Server) CountryStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Apps.Stats(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// SupportedCountriesHandler handles GET /v1/applications/meta/supported-countries.
func (s *Server) SupportedCountriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"countries": s.Apps.SupportedCountries()})
	}
}

// ReadyzHandler reports whether the process can serve traffic: the store and
// Redis must both answer a ping.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		name string
		fn   func(ctx context.Context) error
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		statuses := map[string]string{}
		healthy := true
		for _, c := range []check{{"database", s.DBReady}, {"redis", s.RedisReady}} {
			if c.fn == nil {
				statuses[c.name] = "not configured"
				healthy = false
				continue
			}
			if err := c.fn(ctx); err != nil {
				statuses[c.name] = err.Error()
				healthy = false
				continue
			}
			statuses[c.name] = "ok"
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"ready": healthy, "checks": statuses})
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid application id", domain.ErrInvalidArgument)
	}
	return id, nil
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return page, pageSize
}
