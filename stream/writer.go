// Package stream serializes record batch sequences into the Arrow IPC
// streaming format and reads them back.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Common errors for stream writing.
var (
	ErrFinished       = errors.New("stream already finished")
	ErrSchemaMismatch = errors.New("record schema does not match stream schema")
)

// Writer produces exactly one Arrow IPC stream: one schema message first,
// zero or more batch messages, then the end-of-stream trailer. A Writer is
// never reused or recreated mid-stream; Finish must be called exactly once,
// after the last batch. A stream with zero batches is still structurally
// valid and re-readable.
type Writer struct {
	schema   *arrow.Schema
	ipcw     *ipc.Writer
	batches  int
	finished bool
}

// NewWriter creates a stream writer over w for the given schema.
func NewWriter(w io.Writer, schema *arrow.Schema, mem memory.Allocator) *Writer {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Writer{
		schema: schema,
		ipcw:   ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem)),
	}
}

// Schema returns the schema this stream was created with.
func (w *Writer) Schema() *arrow.Schema { return w.schema }

// Batches reports how many batch messages have been written.
func (w *Writer) Batches() int { return w.batches }

// WriteBatch appends one batch message. Batches must arrive in row-fetch
// order; the writer never reorders or buffers them.
func (w *Writer) WriteBatch(rec arrow.Record) error {
	if w.finished {
		return ErrFinished
	}
	if !rec.Schema().Equal(w.schema) {
		return fmt.Errorf("%w: got %s", ErrSchemaMismatch, rec.Schema())
	}
	if err := w.ipcw.Write(rec); err != nil {
		return fmt.Errorf("writing batch %d: %w", w.batches, err)
	}
	w.batches++
	return nil
}

// Finish writes the end-of-stream trailer. If no batch was written the
// schema message is still emitted first, producing a valid empty stream.
// Calling Finish twice is an error.
func (w *Writer) Finish() error {
	if w.finished {
		return ErrFinished
	}
	w.finished = true
	if err := w.ipcw.Close(); err != nil {
		return fmt.Errorf("finishing stream: %w", err)
	}
	return nil
}

// ReadAll reads an IPC stream back into its schema and records. Callers
// own the returned records and must release them.
func ReadAll(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("opening stream: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		for _, rec := range records {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("reading stream: %w", err)
	}
	return reader.Schema(), records, nil
}
