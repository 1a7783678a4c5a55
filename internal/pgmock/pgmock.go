// Package pgmock provides in-memory stand-ins for the pgx interfaces so
// transactional paths can be exercised without a live database. Hooks left
// nil reject the call, so a test only answers the statements it expects.
package pgmock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnexpected is returned by every hook left unset.
var ErrUnexpected = errors.New("unexpected database call")

// Row scans a fixed value list into the caller's destinations.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.Values))
	}
	for i, v := range r.Values {
		if err := assign(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("scan: %T into *string", v)
		}
		*d = s
	case *int:
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("scan: %T into *int", v)
		}
		*d = n
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("scan: %T into *bool", v)
		}
		*d = b
	default:
		return fmt.Errorf("scan: unsupported destination %T", dest)
	}
	return nil
}

// Rows iterates fixed per-row value lists.
type Rows struct {
	Data [][]any
	idx  int
}

func (r *Rows) Next() bool {
	r.idx++
	return r.idx <= len(r.Data)
}

func (r *Rows) Scan(dest ...any) error {
	return Row{Values: r.Data[r.idx-1]}.Scan(dest...)
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return nil }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) Values() ([]any, error)                       { return nil, ErrUnexpected }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

// Tx scripts the pgx.Tx surface through per-call hooks.
type Tx struct {
	QueryFunc    func(sql string, args []any) (pgx.Rows, error)
	QueryRowFunc func(sql string, args []any) pgx.Row
	ExecFunc     func(sql string, args []any) (pgconn.CommandTag, error)
	CopyFromFunc func(table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	CommitFunc   func() error
	RollbackFunc func() error
}

func (t *Tx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.QueryFunc == nil {
		return nil, fmt.Errorf("%w: query %s", ErrUnexpected, sql)
	}
	return t.QueryFunc(sql, args)
}

func (t *Tx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.QueryRowFunc == nil {
		return Row{Err: fmt.Errorf("%w: query row %s", ErrUnexpected, sql)}
	}
	return t.QueryRowFunc(sql, args)
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.ExecFunc == nil {
		return pgconn.CommandTag{}, fmt.Errorf("%w: exec %s", ErrUnexpected, sql)
	}
	return t.ExecFunc(sql, args)
}

func (t *Tx) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if t.CopyFromFunc == nil {
		return 0, fmt.Errorf("%w: copy into %v", ErrUnexpected, table)
	}
	return t.CopyFromFunc(table, columns, src)
}

func (t *Tx) Commit(context.Context) error {
	if t.CommitFunc == nil {
		return nil
	}
	return t.CommitFunc()
}

func (t *Tx) Rollback(context.Context) error {
	if t.RollbackFunc == nil {
		return nil
	}
	return t.RollbackFunc()
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error)                  { return t, nil }
func (t *Tx) Conn() *pgx.Conn                                        { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, ErrUnexpected
}

// DB scripts the pool surface the services depend on.
type DB struct {
	BeginFunc    func() (pgx.Tx, error)
	QueryFunc    func(sql string, args []any) (pgx.Rows, error)
	QueryRowFunc func(sql string, args []any) pgx.Row
	ExecFunc     func(sql string, args []any) (pgconn.CommandTag, error)
}

func (d *DB) Begin(context.Context) (pgx.Tx, error) {
	if d.BeginFunc == nil {
		return nil, fmt.Errorf("%w: begin", ErrUnexpected)
	}
	return d.BeginFunc()
}

func (d *DB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return d.Begin(ctx)
}

func (d *DB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if d.QueryFunc == nil {
		return nil, fmt.Errorf("%w: query %s", ErrUnexpected, sql)
	}
	return d.QueryFunc(sql, args)
}

func (d *DB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if d.QueryRowFunc == nil {
		return Row{Err: fmt.Errorf("%w: query row %s", ErrUnexpected, sql)}
	}
	return d.QueryRowFunc(sql, args)
}

func (d *DB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if d.ExecFunc == nil {
		return pgconn.CommandTag{}, fmt.Errorf("%w: exec %s", ErrUnexpected, sql)
	}
	return d.ExecFunc(sql, args)
}
