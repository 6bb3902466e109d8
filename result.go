package ibarrow

import (
	"context"
	"database/sql"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/thomazyujibaba/ibarrow/convert"
)

// Result is a single-consumer, pull-based stream of record batches from one
// executed statement. Batches arrive in strict row-fetch order; each is
// valid until the next call to Next or Close. A Result is not safe for
// concurrent use.
type Result struct {
	cursor  *convert.Cursor
	builder *convert.BatchBuilder
	cfg     QueryConfig
	mem     memory.Allocator
	tx      *sql.Tx
	cancel  context.CancelFunc

	rec    arrow.Record
	err    error
	closed bool
}

// HasResultSet reports whether the statement produced a result set. False
// means a valid terminal state (non-SELECT or driver quirk), not an error;
// Next will simply return false and Schema will be nil.
func (r *Result) HasResultSet() bool { return r.cursor.HasResultSet() }

// Schema returns the mapped Arrow schema, or nil when the statement
// produced no result set.
func (r *Result) Schema() *arrow.Schema { return r.cursor.Schema() }

// Next fetches and converts the next batch of at most BatchSize rows. It
// returns false at exhaustion or on error; check Err afterward.
func (r *Result) Next() bool {
	if r.closed || r.err != nil || !r.cursor.HasResultSet() {
		return false
	}
	r.releaseCurrent()

	rows, err := r.cursor.NextBatch(r.cfg.BatchSize)
	if err != nil {
		r.err = queryFailure("fetching rows", err)
		return false
	}
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if err := r.builder.Append(row); err != nil {
			r.err = conversionFailure("converting row", err)
			return false
		}
	}
	r.rec = r.builder.Flush()
	return true
}

// Record returns the batch produced by the last successful Next.
func (r *Result) Record() arrow.Record { return r.rec }

// Err returns the first error encountered while streaming, if any.
func (r *Result) Err() error { return r.err }

// Close releases the current batch, discards any partially built one, and
// ends the query's transaction. Safe to call more than once.
func (r *Result) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.releaseCurrent()
	if r.builder != nil {
		r.builder.Release()
	}
	err := r.cursor.Close()
	if r.tx != nil {
		// Queries run read-only; rollback is the unconditional way out.
		if rbErr := r.tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone && err == nil {
			err = rbErr
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (r *Result) releaseCurrent() {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
}
