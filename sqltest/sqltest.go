// Package sqltest registers an in-memory database/sql driver with
// controllable column metadata and row data, so pipeline tests can run
// without a live data source.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
)

// Column describes one column of a canned result set.
type Column struct {
	Name       string
	DBType     string
	Nullable   bool
	HasNull    bool
	Precision  int64
	Scale      int64
	HasDecimal bool
	Length     int64
	HasLength  bool
}

// Dataset is one canned statement outcome. With no columns the statement
// behaves like a non-SELECT: it executes but produces no result set.
type Dataset struct {
	Columns  []Column
	Rows     [][]driver.Value
	QueryErr error
	BeginErr error
	OpenErr  error
}

var registerOnce sync.Once

var registry = struct {
	sync.Mutex
	datasets map[string]*Dataset
	next     int
}{datasets: make(map[string]*Dataset)}

// Register makes ds available under a fresh DSN and returns an open handle.
func Register(ds *Dataset) (*sql.DB, string) {
	registerOnce.Do(func() {
		sql.Register("sqltest", fakeDriver{})
	})

	registry.Lock()
	registry.next++
	dsn := fmt.Sprintf("dataset-%d", registry.next)
	registry.datasets[dsn] = ds
	registry.Unlock()

	db, err := sql.Open("sqltest", dsn)
	if err != nil {
		panic(err) // sql.Open on a registered driver cannot fail
	}
	return db, dsn
}

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	registry.Lock()
	ds, ok := registry.datasets[name]
	registry.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", name)
	}
	if ds.OpenErr != nil {
		return nil, ds.OpenErr
	}
	return &fakeConn{ds: ds}, nil
}

type fakeConn struct {
	ds *Dataset
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{ds: c.ds}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

func (c *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.ds.BeginErr != nil {
		return nil, c.ds.BeginErr
	}
	return fakeTx{}, nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	ds *Dataset
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	if s.ds.QueryErr != nil {
		return nil, s.ds.QueryErr
	}
	return &fakeRows{ds: s.ds}, nil
}

type fakeRows struct {
	ds  *Dataset
	pos int
}

func (r *fakeRows) Columns() []string {
	names := make([]string, len(r.ds.Columns))
	for i, col := range r.ds.Columns {
		names[i] = col.Name
	}
	return names
}

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.ds.Rows) {
		return io.EOF
	}
	copy(dest, r.ds.Rows[r.pos])
	r.pos++
	return nil
}

// Column metadata interfaces consumed by sql.ColumnType.

func (r *fakeRows) ColumnTypeDatabaseTypeName(index int) string {
	return r.ds.Columns[index].DBType
}

func (r *fakeRows) ColumnTypeNullable(index int) (nullable, ok bool) {
	col := r.ds.Columns[index]
	if !col.HasNull {
		return false, false
	}
	return col.Nullable, true
}

func (r *fakeRows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	col := r.ds.Columns[index]
	if !col.HasDecimal {
		return 0, 0, false
	}
	return col.Precision, col.Scale, true
}

func (r *fakeRows) ColumnTypeLength(index int) (length int64, ok bool) {
	col := r.ds.Columns[index]
	if !col.HasLength {
		return 0, false
	}
	return col.Length, true
}
