package ibarrow

import (
	"bytes"
	"context"
	"database/sql"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/thomazyujibaba/ibarrow/convert"
	"github.com/thomazyujibaba/ibarrow/stream"
)

// ErrFieldTooLarge reports a text or binary value over the configured cap.
// Re-exported so callers can errors.Is against the library root.
var ErrFieldTooLarge = convert.ErrFieldTooLarge

// Connection pairs a database handle with a validated QueryConfig. The
// config is immutable after construction. A Connection is safe for
// concurrent use; each query runs its own independent pipeline.
type Connection struct {
	db  *sql.DB
	cfg QueryConfig
	mem memory.Allocator
}

// NewConnection wraps an existing database handle. The config is validated
// here, not at query time. A nil allocator selects the default.
func NewConnection(db *sql.DB, cfg QueryConfig, mem memory.Allocator) (*Connection, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, ConnectionError("invalid query config", err)
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Connection{db: db, cfg: cfg, mem: mem}, nil
}

// Open opens a database through the named driver and verifies connectivity
// within the configured connection timeout. A nil config selects defaults.
func Open(ctx context.Context, driverName, dsn string, cfg *QueryConfig) (*Connection, error) {
	effective := DefaultConfig()
	if cfg != nil {
		effective = cfg.withDefaults()
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, ConnectionError("opening data source", err)
	}

	conn, err := NewConnection(db, effective, nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	pingCtx := ctx
	if effective.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, effective.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ConnectionError("reaching data source", err)
	}
	return conn, nil
}

// Config returns the connection's effective query configuration.
func (c *Connection) Config() QueryConfig { return c.cfg }

// DB exposes the underlying handle for callers that manage their own
// statements.
func (c *Connection) DB() *sql.DB { return c.db }

// Close closes the underlying database handle.
func (c *Connection) Close() error { return c.db.Close() }

// Query executes the statement and returns a pull-based Result streaming
// record batches of at most BatchSize rows. The caller must Close the
// Result; abandoning it between batches discards any partial batch cleanly.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	queryCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.QueryTimeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
	}

	level, err := c.cfg.Isolation.sqlLevel()
	if err != nil {
		// Validate catches this at construction; kept as a guard.
		if cancel != nil {
			cancel()
		}
		return nil, QueryError("resolving isolation level", err)
	}

	tx, err := c.db.BeginTx(queryCtx, &sql.TxOptions{
		Isolation: level,
		ReadOnly:  c.cfg.ReadOnly,
	})
	if err != nil {
		if cancel != nil {
			cancel()
		}
		// Begin failures are almost always the connection going away, not
		// the statement.
		return nil, connectionFailure("beginning transaction", err)
	}

	rows, err := tx.QueryContext(queryCtx, query, args...)
	if err != nil {
		tx.Rollback()
		if cancel != nil {
			cancel()
		}
		return nil, queryFailure("executing statement", err)
	}

	cursor, err := convert.NewCursor(rows)
	if err != nil {
		rows.Close()
		tx.Rollback()
		if cancel != nil {
			cancel()
		}
		return nil, conversionFailure("deriving schema", err)
	}

	res := &Result{
		cursor: cursor,
		cfg:    c.cfg,
		mem:    c.mem,
		tx:     tx,
		cancel: cancel,
	}
	if cursor.HasResultSet() {
		res.builder = convert.NewBatchBuilder(c.mem, cursor.Schema(), cursor.Columns(), convert.Limits{
			MaxTextSize:   c.cfg.MaxTextSize,
			MaxBinarySize: c.cfg.MaxBinarySize,
		})
	}
	return res, nil
}

// QueryIPC executes the statement and serializes the whole result as one
// Arrow IPC stream, batch by batch so memory stays bounded by BatchSize.
// A result set with zero rows, or a statement with no result set at all,
// yields a structurally valid schema-only stream. On error no stream is
// returned at all, never a truncated one.
func (c *Connection) QueryIPC(ctx context.Context, query string, args ...any) ([]byte, error) {
	res, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	schema := res.Schema()
	if schema == nil {
		// Statement produced no result set: emit a field-less schema so the
		// stream stays self-describing and re-readable.
		schema = arrow.NewSchema([]arrow.Field{}, nil)
	}

	var buf bytes.Buffer
	w := stream.NewWriter(&buf, schema, c.mem)
	for res.Next() {
		rec := res.Record()
		if err := w.WriteBatch(rec); err != nil {
			return nil, ConversionError("", "serializing batch", err)
		}
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if err := w.Finish(); err != nil {
		return nil, ConversionError("", "finishing stream", err)
	}
	return buf.Bytes(), nil
}

// QueryRecords executes the statement and materializes every batch. The
// caller owns the returned records and must release them. Prefer Query or
// QueryIPC when the result may be large.
func (c *Connection) QueryRecords(ctx context.Context, query string, args ...any) (*arrow.Schema, []arrow.Record, error) {
	res, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer res.Close()

	var records []arrow.Record
	for res.Next() {
		rec := res.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := res.Err(); err != nil {
		for _, rec := range records {
			rec.Release()
		}
		return nil, nil, err
	}
	return res.Schema(), records, nil
}

// queryFailure wraps a statement execution error, attaching the driver's
// SQLSTATE code when the driver exposes one.
func queryFailure(msg string, err error) *Error {
	e := QueryError(msg, err)
	e.Code = sqlStateOf(err)
	return e
}

// connectionFailure wraps an error from establishing or preparing the
// session itself, as opposed to running a statement over it.
func connectionFailure(msg string, err error) *Error {
	e := ConnectionError(msg, err)
	e.Code = sqlStateOf(err)
	return e
}

func sqlStateOf(err error) string {
	var coder interface{ SQLState() string }
	if errors.As(err, &coder) {
		return coder.SQLState()
	}
	return ""
}

// conversionFailure wraps a mapping or conversion error, surfacing the
// offending column name when one is known.
func conversionFailure(msg string, err error) *Error {
	e := ConversionError("", msg, err)
	var colErr *convert.ColumnError
	if errors.As(err, &colErr) {
		e.Column = colErr.Column
	}
	return e
}
