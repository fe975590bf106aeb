package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/global-credit-core/internal/adapter/pii"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// ApplicationRepo persists credit applications using a minimal pgx pool.
// full_name and identity_document are sealed with the injected cipher on
// the way in and opened on the way out; the deterministic document digest
// backs the per-country uniqueness index.
type ApplicationRepo struct {
	Pool   PgxPool
	Cipher *pii.Cipher
}

// NewApplicationRepo constructs an ApplicationRepo with the given pool and cipher.
func NewApplicationRepo(p PgxPool, c *pii.Cipher) *ApplicationRepo {
	return &ApplicationRepo{Pool: p, Cipher: c}
}

const appColumns = `id, country, full_name, identity_document, requested_amount::text, monthly_income::text,
	currency, status, risk_score::text, idempotency_key, country_specific_data, banking_data,
	validation_errors, created_at, updated_at, deleted_at`

type rowScanner interface{ Scan(dest ...any) error }

func (r *ApplicationRepo) scanApplication(row rowScanner) (domain.Application, error) {
	var (
		app        domain.Application
		nameCT     []byte
		docCT      []byte
		amountStr  string
		incomeStr  string
		riskStr    *string
		countryRaw []byte
		bankingRaw []byte
		errorsRaw  []byte
	)
	if err := row.Scan(
		&app.ID, &app.Country, &nameCT, &docCT, &amountStr, &incomeStr,
		&app.Currency, &app.Status, &riskStr, &app.IdempotencyKey, &countryRaw, &bankingRaw,
		&errorsRaw, &app.CreatedAt, &app.UpdatedAt, &app.DeletedAt,
	); err != nil {
		return domain.Application{}, err
	}

	name, err := r.Cipher.Decrypt(nameCT)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.decode: %w", err)
	}
	doc, err := r.Cipher.Decrypt(docCT)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.decode: %w", err)
	}
	app.FullName = name
	app.IdentityDocument = doc

	if app.RequestedAmount, err = decimal.NewFromString(amountStr); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.decode: requested_amount: %w", err)
	}
	if app.MonthlyIncome, err = decimal.NewFromString(incomeStr); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.decode: monthly_income: %w", err)
	}
	if riskStr != nil {
		rs, err := decimal.NewFromString(*riskStr)
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.decode: risk_score: %w", err)
		}
		app.RiskScore = &rs
	}

	if len(countryRaw) > 0 {
		if err := json.Unmarshal(countryRaw, &app.CountrySpecificData); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.decode: country_specific_data: %w", err)
		}
	}
	if len(bankingRaw) > 0 {
		if err := json.Unmarshal(bankingRaw, &app.BankingData); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.decode: banking_data: %w", err)
		}
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &app.ValidationErrors); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.decode: validation_errors: %w", err)
		}
	}
	return app, nil
}

// Create inserts a new application in PENDING status. The insert fires the
// outbox trigger, so the pending_jobs row exists as soon as this returns.
// Unique violations surface as domain.ErrConflict; callers holding an
// idempotency key re-read by that key to converge on the winning row.
func (r *ApplicationRepo) Create(ctx domain.Context, app domain.Application) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "applications"),
	)

	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	nameCT, err := r.Cipher.Encrypt(app.FullName)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}
	docCT, err := r.Cipher.Encrypt(app.IdentityDocument)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}
	digest := r.Cipher.Digest(app.IdentityDocument)

	countryData, err := jsonArg(app.CountrySpecificData)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}
	bankingData, err := jsonArg(app.BankingData)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}
	validationErrs, err := jsonArg(app.ValidationErrors)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}

	now := time.Now().UTC()
	app.Status = domain.StatusPending
	app.CreatedAt = now
	app.UpdatedAt = now

	q := `INSERT INTO applications (
		id, country, full_name, identity_document, identity_document_digest,
		requested_amount, monthly_income, currency, status, idempotency_key,
		country_specific_data, banking_data, validation_errors, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10,$11::jsonb,$12::jsonb,$13::jsonb,$14,$15)`
	_, err = r.Pool.Exec(ctx, q,
		app.ID, app.Country, nameCT, docCT, digest,
		app.RequestedAmount.StringFixed(2), app.MonthlyIncome.StringFixed(2),
		app.Currency, string(app.Status), app.IdempotencyKey,
		countryData, bankingData, validationErrs, now, now,
	)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			if name == "unique_idempotency_key" {
				return domain.Application{}, fmt.Errorf("op=application.create: idempotency key already used: %w", domain.ErrConflict)
			}
			return domain.Application{}, fmt.Errorf("op=application.create: active application already exists for this document: %w", domain.ErrConflict)
		}
		return domain.Application{}, fmt.Errorf("op=application.create: %w", err)
	}
	return app, nil
}

// Get loads a non-deleted application by id.
func (r *ApplicationRepo) Get(ctx domain.Context, id uuid.UUID) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "applications"),
	)

	q := `SELECT ` + appColumns + ` FROM applications WHERE id=$1 AND deleted_at IS NULL`
	app, err := r.scanApplication(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.get: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.get: %w", err)
	}
	return app, nil
}

// FindByIdempotencyKey loads an application by its client idempotency key.
func (r *ApplicationRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.FindByIdempotencyKey")
	defer span.End()

	q := `SELECT ` + appColumns + ` FROM applications WHERE idempotency_key=$1 AND deleted_at IS NULL LIMIT 1`
	app, err := r.scanApplication(r.Pool.QueryRow(ctx, q, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.find_idem: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.find_idem: %w", err)
	}
	return app, nil
}

// FindActiveByDocument matches the deterministic digest of the document
// among non-deleted rows still in an active status.
func (r *ApplicationRepo) FindActiveByDocument(ctx domain.Context, country, identityDocument string) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.FindActiveByDocument")
	defer span.End()

	statuses := make([]string, 0, len(domain.ActiveStatuses))
	for _, s := range domain.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	q := `SELECT ` + appColumns + ` FROM applications
		WHERE country=$1 AND identity_document_digest=$2 AND status = ANY($3) AND deleted_at IS NULL
		LIMIT 1`
	app, err := r.scanApplication(r.Pool.QueryRow(ctx, q, country, r.Cipher.Digest(identityDocument), statuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.find_active: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.find_active: %w", err)
	}
	return app, nil
}

// Update applies a manual patch under a row lock, enforcing the status
// state machine. ChangedBy/ChangeReason are exported to the audit trigger
// through transaction-local settings.
func (r *ApplicationRepo) Update(ctx domain.Context, id uuid.UUID, patch domain.ApplicationPatch) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Update")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if patch.ChangedBy != "" {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.changed_by', $1, true)`, patch.ChangedBy); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: set changed_by: %w", err)
		}
	}
	if patch.ChangeReason != "" {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.change_reason', $1, true)`, patch.ChangeReason); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: set change_reason: %w", err)
		}
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM applications WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.update: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.update: %w", err)
	}

	sets := []string{"updated_at=$2"}
	args := []any{id, time.Now().UTC()}

	if patch.Status != nil {
		if err := domain.ValidateTransition(domain.ApplicationStatus(current), *patch.Status); err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: %s: %w", err.Error(), domain.ErrInvalidArgument)
		}
		args = append(args, string(*patch.Status))
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if patch.RiskScore != nil {
		args = append(args, patch.RiskScore.StringFixed(2))
		sets = append(sets, fmt.Sprintf("risk_score=$%d::numeric", len(args)))
	}
	if patch.BankingData != nil {
		b, err := jsonArg(patch.BankingData)
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: %w", err)
		}
		args = append(args, b)
		sets = append(sets, fmt.Sprintf("banking_data = banking_data || $%d::jsonb", len(args)))
	}
	if patch.CountrySpecificData != nil {
		b, err := jsonArg(patch.CountrySpecificData)
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: %w", err)
		}
		args = append(args, b)
		sets = append(sets, fmt.Sprintf("country_specific_data = country_specific_data || $%d::jsonb", len(args)))
	}
	if patch.ValidationErrors != nil {
		b, err := jsonArg(patch.ValidationErrors)
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.update: %w", err)
		}
		args = append(args, b)
		sets = append(sets, fmt.Sprintf("validation_errors=$%d::jsonb", len(args)))
	}

	q := `UPDATE applications SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 RETURNING ` + appColumns
	app, err := r.scanApplication(tx.QueryRow(ctx, q, args...))
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.update: commit: %w", err)
	}
	return app, nil
}

// SoftDelete marks an application deleted without erasing the row.
func (r *ApplicationRepo) SoftDelete(ctx domain.Context, id uuid.UUID) error {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.SoftDelete")
	defer span.End()

	q := `UPDATE applications SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=application.soft_delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=application.soft_delete: %w", domain.ErrNotFound)
	}
	return nil
}

// List returns a page of non-deleted applications, newest first, with the
// total row count for the filter.
func (r *ApplicationRepo) List(ctx domain.Context, f domain.ListFilter) ([]domain.Application, int64, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.List")
	defer span.End()

	where := []string{"deleted_at IS NULL"}
	args := []any{}
	if f.Country != "" {
		args = append(args, f.Country)
		where = append(where, fmt.Sprintf("country=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=application.list: count: %w", err)
	}

	args = append(args, f.PageSize, f.Offset())
	q := fmt.Sprintf(`SELECT %s FROM applications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		appColumns, cond, len(args)-1, len(args))
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=application.list: %w", err)
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		app, err := r.scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=application.list: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=application.list: %w", err)
	}
	return apps, total, nil
}

// AuditLogs returns the trigger-written status history, newest first.
func (r *ApplicationRepo) AuditLogs(ctx domain.Context, applicationID uuid.UUID, page, pageSize int) ([]domain.AuditLog, int64, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.AuditLogs")
	defer span.End()

	var total int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE application_id=$1`, applicationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=application.audit_logs: count: %w", err)
	}

	offset := 0
	if page > 1 {
		offset = (page - 1) * pageSize
	}
	q := `SELECT id, application_id, old_status, new_status, changed_by, change_reason, metadata, created_at
		FROM audit_logs WHERE application_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.Pool.Query(ctx, q, applicationID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("op=application.audit_logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var (
			l       domain.AuditLog
			metaRaw []byte
		)
		if err := rows.Scan(&l.ID, &l.ApplicationID, &l.OldStatus, &l.NewStatus, &l.ChangedBy, &l.ChangeReason, &metaRaw, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("op=application.audit_logs: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &l.Metadata); err != nil {
				return nil, 0, fmt.Errorf("op=application.audit_logs: metadata: %w", err)
			}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=application.audit_logs: %w", err)
	}
	return logs, total, nil
}

// CountryStats aggregates non-deleted applications for one country.
func (r *ApplicationRepo) CountryStats(ctx domain.Context, country string) (domain.CountryStats, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.CountryStats")
	defer span.End()

	q := `SELECT COUNT(*),
		ROUND(COALESCE(SUM(requested_amount),0),2)::text,
		ROUND(COALESCE(AVG(requested_amount),0),2)::text,
		COUNT(*) FILTER (WHERE status='PENDING'),
		COUNT(*) FILTER (WHERE status='APPROVED'),
		COUNT(*) FILTER (WHERE status='REJECTED')
	FROM applications WHERE country=$1 AND deleted_at IS NULL`
	st := domain.CountryStats{Country: country}
	err := r.Pool.QueryRow(ctx, q, country).Scan(
		&st.TotalApplications, &st.TotalAmount, &st.AverageAmount,
		&st.PendingCount, &st.ApprovedCount, &st.RejectedCount,
	)
	if err != nil {
		return domain.CountryStats{}, fmt.Errorf("op=application.country_stats: %w", err)
	}
	return st, nil
}

// StartValidation moves PENDING → VALIDATING under a row lock and returns
// the decrypted application. A final status yields ErrAlreadyProcessed so
// redelivered jobs exit idempotently; any other disallowed source state
// surfaces as a permanent state-transition failure.
func (r *ApplicationRepo) StartValidation(ctx domain.Context, id uuid.UUID) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.StartValidation")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.start_validation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + appColumns + ` FROM applications WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`
	app, err := r.scanApplication(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.start_validation: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.start_validation: %w", err)
	}

	if domain.IsFinalStatus(app.Status) {
		return app, fmt.Errorf("op=application.start_validation: status %s: %w", app.Status, domain.ErrAlreadyProcessed)
	}
	if err := domain.ValidateTransition(app.Status, domain.StatusValidating); err != nil {
		return domain.Application{}, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE applications SET status=$2, updated_at=$3 WHERE id=$1`, id, string(domain.StatusValidating), now); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.start_validation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.start_validation: commit: %w", err)
	}
	app.Status = domain.StatusValidating
	app.UpdatedAt = now
	return app, nil
}

// ApplyEvaluation writes the worker's rule outcome under a row lock.
func (r *ApplicationRepo) ApplyEvaluation(ctx domain.Context, id uuid.UUID, upd domain.EvaluationUpdate) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.ApplyEvaluation")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM applications WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", err)
	}
	if err := domain.ValidateTransition(domain.ApplicationStatus(current), upd.Status); err != nil {
		return domain.Application{}, err
	}

	bankingData, err := jsonArg(upd.BankingData)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", err)
	}
	countryData, err := jsonArg(upd.CountrySpecificData)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", err)
	}
	validationErrs, err := jsonArg(upd.ValidationErrors)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", err)
	}

	q := `UPDATE applications SET status=$2, risk_score=$3::numeric, banking_data=$4::jsonb,
		country_specific_data=$5::jsonb, validation_errors=$6::jsonb, updated_at=$7
		WHERE id=$1 RETURNING ` + appColumns
	app, err := r.scanApplication(tx.QueryRow(ctx, q,
		id, string(upd.Status), upd.RiskScore.StringFixed(2),
		bankingData, countryData, validationErrs, time.Now().UTC(),
	))
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_evaluation: commit: %w", err)
	}
	return app, nil
}

// ApplyWebhook merges a bank confirmation into banking_data. When the
// provider failed the document check the application is rejected outright;
// bank verification overrides the state machine here.
func (r *ApplicationRepo) ApplyWebhook(ctx domain.Context, id uuid.UUID, merge map[string]any, reject bool) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.ApplyWebhook")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_webhook: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM applications WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", err)
	}

	mergeRaw, err := jsonArg(merge)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", err)
	}

	var app domain.Application
	now := time.Now().UTC()
	if reject {
		rejection, err := jsonArg([]string{"Document verification failed by banking provider"})
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", err)
		}
		q := `UPDATE applications SET banking_data = banking_data || $2::jsonb, status=$3,
			validation_errors=$4::jsonb, updated_at=$5 WHERE id=$1 RETURNING ` + appColumns
		app, err = r.scanApplication(tx.QueryRow(ctx, q, id, mergeRaw, string(domain.StatusRejected), rejection, now))
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", err)
		}
	} else {
		q := `UPDATE applications SET banking_data = banking_data || $2::jsonb, updated_at=$3 WHERE id=$1 RETURNING ` + appColumns
		app, err = r.scanApplication(tx.QueryRow(ctx, q, id, mergeRaw, now))
		if err != nil {
			return domain.Application{}, fmt.Errorf("op=application.apply_webhook: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.apply_webhook: commit: %w", err)
	}
	return app, nil
}
