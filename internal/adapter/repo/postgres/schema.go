package postgres

import (
	"context"
	"fmt"
)

// schemaStatements is executed in order by EnsureSchema. Statements are
// idempotent so the bootstrap can run on every boot.
//
// Two triggers carry core semantics and must exist before the API takes
// traffic: audit_status_change writes the audit trail for every status
// flip, and enqueue_processing_job writes the outbox row that the queue
// consumer lifts into the worker. Both run inside the same transaction
// as the statement that fired them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id UUID PRIMARY KEY,
		country TEXT NOT NULL CHECK (country IN ('ES','PT','IT','MX','CO','BR')),
		full_name BYTEA NOT NULL,
		identity_document BYTEA NOT NULL,
		identity_document_digest TEXT NOT NULL,
		requested_amount NUMERIC(12,2) NOT NULL,
		monthly_income NUMERIC(12,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		risk_score NUMERIC(5,2),
		idempotency_key TEXT,
		country_specific_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		banking_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		validation_errors JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,

	// One live application per document and country. CANCELLED, REJECTED
	// and COMPLETED rows do not block a new submission; soft-deleted rows
	// never do.
	`CREATE UNIQUE INDEX IF NOT EXISTS unique_document_per_country
		ON applications (country, identity_document_digest)
		WHERE status NOT IN ('CANCELLED','REJECTED','COMPLETED') AND deleted_at IS NULL`,

	`CREATE UNIQUE INDEX IF NOT EXISTS unique_idempotency_key
		ON applications (idempotency_key)
		WHERE idempotency_key IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_applications_country_status ON applications (country, status)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_created_at ON applications (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		changed_by TEXT NOT NULL DEFAULT 'system',
		change_reason TEXT NOT NULL DEFAULT 'Status changed automatically',
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_logs_application ON audit_logs (application_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS pending_jobs (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		task_name TEXT NOT NULL,
		job_args JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'PENDING',
		queue_job_id TEXT,
		enqueued_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ,
		error_message TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_pending_jobs_status_created ON pending_jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_jobs_queue_job_id ON pending_jobs (queue_job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_jobs_application ON pending_jobs (application_id)`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		id UUID PRIMARY KEY,
		idempotency_key TEXT NOT NULL,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'PROCESSING',
		error_message TEXT,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_webhook_idempotency_key UNIQUE (idempotency_key)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_webhook_events_created_at ON webhook_events (created_at)`,

	`CREATE TABLE IF NOT EXISTS failed_jobs (
		id UUID PRIMARY KEY,
		job_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		job_args JSONB NOT NULL DEFAULT '{}'::jsonb,
		error_type TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		traceback TEXT NOT NULL DEFAULT '',
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'PENDING',
		is_retryable BOOLEAN NOT NULL DEFAULT FALSE,
		reviewed_by TEXT,
		reviewed_at TIMESTAMPTZ,
		review_notes TEXT,
		reprocessed_at TIMESTAMPTZ,
		reprocessed_job_id TEXT,
		job_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_failed_job_id UNIQUE (job_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_failed_jobs_retryable ON failed_jobs (status, is_retryable, created_at)`,

	// changed_by/change_reason come from transaction-local settings set
	// by manual updates; trigger falls back to the automatic defaults.
	`CREATE OR REPLACE FUNCTION audit_status_change() RETURNS trigger AS $fn$
	BEGIN
		IF OLD.status IS DISTINCT FROM NEW.status THEN
			INSERT INTO audit_logs (id, application_id, old_status, new_status, changed_by, change_reason, metadata, created_at)
			VALUES (
				gen_random_uuid(),
				NEW.id,
				OLD.status,
				NEW.status,
				COALESCE(NULLIF(current_setting('app.changed_by', true), ''), 'system'),
				COALESCE(NULLIF(current_setting('app.change_reason', true), ''), 'Status changed automatically'),
				jsonb_build_object(
					'previous_risk_score', OLD.risk_score::text,
					'current_risk_score', NEW.risk_score::text,
					'changed_at', to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
					'manual_change', COALESCE(NULLIF(current_setting('app.changed_by', true), ''), '') <> ''
				),
				now()
			);
		END IF;
		RETURN NEW;
	END;
	$fn$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS trg_applications_audit_status ON applications`,
	`CREATE TRIGGER trg_applications_audit_status
		AFTER UPDATE ON applications
		FOR EACH ROW EXECUTE FUNCTION audit_status_change()`,

	`CREATE OR REPLACE FUNCTION enqueue_processing_job() RETURNS trigger AS $fn$
	BEGIN
		INSERT INTO pending_jobs (id, application_id, task_name, job_args, status, retry_count, created_at, updated_at)
		VALUES (
			gen_random_uuid(),
			NEW.id,
			'process_credit_application',
			jsonb_build_object('application_id', NEW.id::text),
			'PENDING',
			0,
			now(),
			now()
		);
		RETURN NEW;
	END;
	$fn$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS trg_applications_enqueue_job ON applications`,
	`CREATE TRIGGER trg_applications_enqueue_job
		AFTER INSERT ON applications
		FOR EACH ROW EXECUTE FUNCTION enqueue_processing_job()`,
}

// EnsureSchema creates tables, indexes, and triggers if they do not exist.
// Runs at boot; requires PostgreSQL 13+ for gen_random_uuid.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
