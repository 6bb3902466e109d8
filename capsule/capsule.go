//go:build cgo

// Package capsule hands finalized columnar data to foreign consumers
// through the Arrow C Data Interface: two linked descriptor structs, one
// for the schema and one for the data buffers, each with a release
// callback. Ownership of the backing memory is shared between exporter and
// consumer through Arrow reference counts, so either side may release its
// handle first without invalidating the other's view.
package capsule

// #include <stdlib.h>
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/thomazyujibaba/ibarrow"
)

// ErrNoSchema is returned when exporting without a schema to describe.
var ErrNoSchema = errors.New("cannot export without a schema")

// Handle owns one exported schema/array descriptor pair. The C structs are
// heap-allocated so their addresses stay stable for the consumer. Release
// is idempotent: the descriptors' release callbacks guard themselves, and
// the struct memory is freed exactly once.
type Handle struct {
	schema   *cdata.CArrowSchema
	array    *cdata.CArrowArray
	released atomic.Bool
}

// Export exposes a single record batch through the C Data Interface as a
// struct-typed array. The exported descriptors retain the record's
// buffers, so the caller may release its own reference immediately after.
func Export(rec arrow.Record) (*Handle, error) {
	if rec == nil || rec.Schema() == nil {
		return nil, ErrNoSchema
	}
	h := &Handle{
		schema: (*cdata.CArrowSchema)(C.calloc(1, C.size_t(unsafe.Sizeof(cdata.CArrowSchema{})))),
		array:  (*cdata.CArrowArray)(C.calloc(1, C.size_t(unsafe.Sizeof(cdata.CArrowArray{})))),
	}
	cdata.ExportArrowRecordBatch(rec, h.array, h.schema)
	return h, nil
}

// ExportRecords concatenates a batch sequence into one contiguous record
// and exports it. The concatenation step belongs here, not to callers: the
// interface describes exactly one array. An empty sequence exports a valid
// zero-row array.
func ExportRecords(mem memory.Allocator, schema *arrow.Schema, recs []arrow.Record) (*Handle, error) {
	combined, err := Combine(mem, schema, recs)
	if err != nil {
		return nil, err
	}
	defer combined.Release()
	return Export(combined)
}

// ExportQuery executes the statement and exports the whole result set as a
// single struct-typed array. A result set with zero rows exports a valid
// zero-row array; a statement without a result set exports a zero-field,
// zero-row array, matching the field-less stream Connection.QueryIPC emits.
func ExportQuery(ctx context.Context, conn *ibarrow.Connection, query string, args ...any) (*Handle, error) {
	schema, recs, err := conn.QueryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	if schema == nil {
		schema = arrow.NewSchema([]arrow.Field{}, nil)
	}
	return ExportRecords(nil, schema, recs)
}

// Combine concatenates record batches column-wise into a single record.
// The batches must share the schema and arrive in order. The caller owns
// the returned record.
func Combine(mem memory.Allocator, schema *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	if schema == nil {
		return nil, ErrNoSchema
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	switch len(recs) {
	case 0:
		bldr := array.NewRecordBuilder(mem, schema)
		defer bldr.Release()
		return bldr.NewRecord(), nil
	case 1:
		if !recs[0].Schema().Equal(schema) {
			return nil, fmt.Errorf("batch schema %s does not match %s", recs[0].Schema(), schema)
		}
		recs[0].Retain()
		return recs[0], nil
	}

	var rows int64
	for i, rec := range recs {
		if !rec.Schema().Equal(schema) {
			return nil, fmt.Errorf("batch %d schema %s does not match %s", i, rec.Schema(), schema)
		}
		rows += rec.NumRows()
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i := range cols {
		parts := make([]arrow.Array, len(recs))
		for j, rec := range recs {
			parts[j] = rec.Column(i)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, fmt.Errorf("concatenating column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

// SchemaPtr returns the address of the exported ArrowSchema struct, for
// handing to a foreign runtime.
func (h *Handle) SchemaPtr() unsafe.Pointer { return unsafe.Pointer(h.schema) }

// ArrayPtr returns the address of the exported ArrowArray struct.
func (h *Handle) ArrayPtr() unsafe.Pointer { return unsafe.Pointer(h.array) }

// Release drops the exporter's reference and frees the descriptor structs.
// If the consumer already moved the descriptors' contents, only the struct
// memory is freed; the buffers live until the consumer releases them.
// Calling Release more than once is a no-op.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	cdata.ReleaseCArrowArray(h.array)
	cdata.ReleaseCArrowSchema(h.schema)
	C.free(unsafe.Pointer(h.array))
	C.free(unsafe.Pointer(h.schema))
	h.array = nil
	h.schema = nil
}
