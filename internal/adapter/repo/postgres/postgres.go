// Package postgres provides PostgreSQL database adapters.
//
// It implements the domain repository ports for data persistence.
// All application PII is encrypted before it reaches a statement and
// decrypted on the way out; ciphertext never crosses the package
// boundary. Repositories run against a minimal pgx pool interface so
// tests can stub them without a live database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// uniqueViolation reports the violated constraint name when err is a
// PostgreSQL unique-violation (SQLSTATE 23505).
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// jsonArg marshals v for a JSONB placeholder. nil maps and slices become
// empty JSON containers so NOT NULL columns stay satisfied.
func jsonArg(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return []byte("{}"), nil
		}
	case []string:
		if t == nil {
			return []byte("[]"), nil
		}
	case nil:
		return []byte("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb arg: %w", err)
	}
	return b, nil
}
