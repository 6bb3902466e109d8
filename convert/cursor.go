package convert

import (
	"database/sql"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// CursorState tracks where a cursor is in its lifecycle.
type CursorState int

const (
	// NoResultSet means the statement executed but produced no result set
	// at all. This is a valid terminal state, not an error.
	NoResultSet CursorState = iota
	// Open means the result set has a schema and rows may remain.
	Open
	// Exhausted means all rows have been fetched.
	Exhausted
)

// RowSource is the subset of *sql.Rows the cursor needs. Declared as an
// interface so tests can drive the cursor without a registered driver.
type RowSource interface {
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Cursor is a thin synchronous iterator over row batches from an executed
// statement. It advances the driver-side fetch position: one batch in
// flight at a time, and never safe for concurrent use against the same
// underlying connection.
type Cursor struct {
	src    RowSource
	cols   []Column
	schema *arrow.Schema
	state  CursorState
}

// NewCursor wraps an executed statement's rows. A statement with zero
// columns (non-SELECT, or a driver quirk) yields a cursor in the
// NoResultSet state with a nil schema.
func NewCursor(src RowSource) (*Cursor, error) {
	names, err := src.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading column names: %w", err)
	}
	if len(names) == 0 {
		return &Cursor{src: src, state: NoResultSet}, nil
	}

	types, err := src.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}
	cols, err := ColumnsFromTypes(types)
	if err != nil {
		return nil, err
	}
	schema, err := Schema(cols)
	if err != nil {
		return nil, err
	}

	return &Cursor{src: src, cols: cols, schema: schema, state: Open}, nil
}

// State reports the cursor's current lifecycle state.
func (c *Cursor) State() CursorState { return c.state }

// HasResultSet reports whether the statement produced a result set,
// independently of whether that result set contains any rows.
func (c *Cursor) HasResultSet() bool { return c.state != NoResultSet }

// Columns returns the classified column descriptors, nil for NoResultSet.
func (c *Cursor) Columns() []Column { return c.cols }

// Schema returns the mapped Arrow schema, nil for NoResultSet.
func (c *Cursor) Schema() *arrow.Schema { return c.schema }

// NextBatch fetches up to maxRows rows in source order. A nil slice with a
// nil error signals exhaustion. Each row is a []any of driver values in
// column order.
func (c *Cursor) NextBatch(maxRows int) ([][]any, error) {
	if c.state != Open {
		return nil, nil
	}
	if maxRows <= 0 {
		return nil, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}

	n := len(c.cols)
	rows := make([][]any, 0, maxRows)
	for len(rows) < maxRows && c.src.Next() {
		values := make([]any, n)
		dest := make([]any, n)
		for i := range values {
			dest[i] = &values[i]
		}
		if err := c.src.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rows = append(rows, values)
	}

	if len(rows) < maxRows {
		if err := c.src.Err(); err != nil {
			return nil, fmt.Errorf("fetching rows: %w", err)
		}
		c.state = Exhausted
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows, nil
}

// Close releases the underlying rows. Safe to call more than once through
// database/sql semantics.
func (c *Cursor) Close() error {
	if c.state == Open {
		c.state = Exhausted
	}
	return c.src.Close()
}
