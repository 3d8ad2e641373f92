// Package dbtest provides in-memory pgx row fakes for repository tests.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is a canned pgx.Rows result.
type Rows struct {
	values [][]any
	idx    int
	err    error
	closed bool
}

// NewRows builds a result set from row values.
func NewRows(values ...[]any) *Rows {
	return &Rows{values: values, idx: -1}
}

// WithErr makes Err report err after iteration.
func (r *Rows) WithErr(err error) *Rows {
	r.err = err
	return r
}

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	if r.idx >= len(r.values) {
		r.closed = true
		return false
	}
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.values) {
		return fmt.Errorf("dbtest: scan outside result set")
	}
	return assign(r.values[r.idx], dest)
}

func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.values) {
		return nil, fmt.Errorf("dbtest: values outside result set")
	}
	return r.values[r.idx], nil
}

// Row is a canned pgx.Row result. A nil value list scans as pgx.ErrNoRows.
type Row struct {
	values []any
	err    error
}

// NewRow returns a row yielding values.
func NewRow(values ...any) Row { return Row{values: values} }

// NoRow returns a row that reports pgx.ErrNoRows.
func NoRow() Row { return Row{err: pgx.ErrNoRows} }

// ErrRow returns a row that fails with err.
func ErrRow(err error) Row { return Row{err: err} }

func (r Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("dbtest: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("dbtest: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if v == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		src := reflect.ValueOf(v)
		switch {
		case src.Type().AssignableTo(elem.Type()):
			elem.Set(src)
		case elem.Kind() == reflect.Pointer && src.Type().AssignableTo(elem.Type().Elem()):
			ptr := reflect.New(elem.Type().Elem())
			ptr.Elem().Set(src)
			elem.Set(ptr)
		case src.Type().ConvertibleTo(elem.Type()):
			elem.Set(src.Convert(elem.Type()))
		default:
			return fmt.Errorf("dbtest: cannot assign %T to %s", v, elem.Type())
		}
	}
	return nil
}

// Call records one statement sent to DB.
type Call struct {
	SQL  string
	Args []any
}

// DB is a scripted stand-in for pgxpool.Pool. Handlers are matched by the
// first registered substring found in the statement.
type DB struct {
	mu    sync.Mutex
	calls []Call

	queries []match[func(args []any) (pgx.Rows, error)]
	rows    []match[func(args []any) pgx.Row]
	execs   []match[func(args []any) (pgconn.CommandTag, error)]
}

type match[T any] struct {
	fragment string
	fn       T
}

// OnQuery registers a Query handler.
func (d *DB) OnQuery(fragment string, fn func(args []any) (pgx.Rows, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, match[func(args []any) (pgx.Rows, error)]{fragment, fn})
}

// OnQueryRow registers a QueryRow handler.
func (d *DB) OnQueryRow(fragment string, fn func(args []any) pgx.Row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, match[func(args []any) pgx.Row]{fragment, fn})
}

// OnExec registers an Exec handler.
func (d *DB) OnExec(fragment string, fn func(args []any) (pgconn.CommandTag, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, match[func(args []any) (pgconn.CommandTag, error)]{fragment, fn})
}

// Calls returns every statement received so far.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *DB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.record(sql, args)
	for _, m := range d.snapshotQueries() {
		if strings.Contains(sql, m.fragment) {
			return m.fn(args)
		}
	}
	return nil, fmt.Errorf("dbtest: unexpected query %q", sql)
}

func (d *DB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.record(sql, args)
	d.mu.Lock()
	handlers := append([]match[func(args []any) pgx.Row](nil), d.rows...)
	d.mu.Unlock()
	for _, m := range handlers {
		if strings.Contains(sql, m.fragment) {
			return m.fn(args)
		}
	}
	return ErrRow(fmt.Errorf("dbtest: unexpected query row %q", sql))
}

func (d *DB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.record(sql, args)
	d.mu.Lock()
	handlers := append([]match[func(args []any) (pgconn.CommandTag, error)](nil), d.execs...)
	d.mu.Unlock()
	for _, m := range handlers {
		if strings.Contains(sql, m.fragment) {
			return m.fn(args)
		}
	}
	return pgconn.CommandTag{}, fmt.Errorf("dbtest: unexpected exec %q", sql)
}

func (d *DB) snapshotQueries() []match[func(args []any) (pgx.Rows, error)] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]match[func(args []any) (pgx.Rows, error)](nil), d.queries...)
}

func (d *DB) record(sql string, args []any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{SQL: sql, Args: args})
}
