package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed set of scan funcs, one per row.
type rowsStub struct {
	rows []func(dest ...any) error
	idx  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error { return r.rows[r.idx-1](dest...) }
func (r *rowsStub) Values() ([]any, error) { return nil, errors.New("not implemented") }
func (r *rowsStub) RawValues() [][]byte    { return nil }
func (r *rowsStub) Conn() *pgx.Conn        { return nil }

// txStub implements pgx.Tx with configurable Exec/QueryRow behavior.
type txStub struct {
	exec      func(sql string, args ...any) (pgconn.CommandTag, error)
	queryRow  func(sql string, args ...any) pgx.Row
	commitErr error
	committed bool
	rolledBck bool
}

func (t *txStub) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("not implemented") }
func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}
func (t *txStub) Rollback(context.Context) error {
	t.rolledBck = true
	return nil
}
func (t *txStub) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *txStub) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.exec == nil {
		return pgconn.CommandTag{}, nil
	}
	return t.exec(sql, args...)
}
func (t *txStub) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.queryRow == nil {
		return rowStub{scan: func(...any) error { return errors.New("no row configured") }}
	}
	return t.queryRow(sql, args...)
}
func (t *txStub) Conn() *pgx.Conn { return nil }

// poolStub implements postgres.PgxPool for tests. Function fields override
// the default no-op behavior per call site; exec also captures arguments.
type poolStub struct {
	execFn     func(sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(sql string, args ...any) pgx.Row
	queryFn    func(sql string, args ...any) (pgx.Rows, error)
	beginTx    pgx.Tx
	beginErr   error

	execSQL  []string
	execArgs [][]any
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	if p.execFn == nil {
		return pgconn.CommandTag{}, nil
	}
	return p.execFn(sql, args...)
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRowFn == nil {
		return rowStub{scan: func(...any) error { return errors.New("no row configured") }}
	}
	return p.queryRowFn(sql, args...)
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.queryFn == nil {
		return nil, errors.New("no rows configured")
	}
	return p.queryFn(sql, args...)
}

func (p *poolStub) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.beginTx == nil {
		return nil, errors.New("no tx configured")
	}
	return p.beginTx, nil
}

// scanInto assigns src values to scan destinations in order. Destinations
// are pointers; a nil src zeroes the destination so *T targets stay nil.
func scanInto(dest []any, src ...any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("scan arity mismatch: %d dest, %d src", len(dest), len(src))
	}
	for i, s := range src {
		dv := reflect.ValueOf(dest[i]).Elem()
		if s == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(s)
		switch {
		case sv.Type().AssignableTo(dv.Type()):
			dv.Set(sv)
		case sv.Type().ConvertibleTo(dv.Type()) && dv.Kind() != reflect.Ptr:
			dv.Set(sv.Convert(dv.Type()))
		case dv.Kind() == reflect.Ptr && sv.Type().AssignableTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(sv)
			dv.Set(p)
		case dv.Kind() == reflect.Ptr && sv.Type().ConvertibleTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(sv.Convert(dv.Type().Elem()))
			dv.Set(p)
		default:
			return fmt.Errorf("cannot scan %T into %T", s, dest[i])
		}
	}
	return nil
}
