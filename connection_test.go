package ibarrow

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/thomazyujibaba/ibarrow/convert"
	"github.com/thomazyujibaba/ibarrow/sqltest"
	"github.com/thomazyujibaba/ibarrow/stream"
)

func testConn(t *testing.T, ds *sqltest.Dataset, cfg QueryConfig, mem memory.Allocator) *Connection {
	t.Helper()
	db, _ := sqltest.Register(ds)
	t.Cleanup(func() { db.Close() })

	conn, err := NewConnection(db, cfg, mem)
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return conn
}

func twoColumnDataset() *sqltest.Dataset {
	return &sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "id", DBType: "BIGINT"},
			{Name: "label", DBType: "VARCHAR"},
		},
		Rows: [][]driver.Value{
			{int64(1), "a"},
			{int64(2), nil},
			{int64(3), "c"},
		},
	}
}

func TestQueryBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conn := testConn(t, twoColumnDataset(), QueryConfig{BatchSize: 2}, mem)

	res, err := conn.Query(context.Background(), "SELECT id, label FROM items")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer res.Close()

	if !res.HasResultSet() {
		t.Fatal("Expected a result set")
	}

	var sizes []int64
	for res.Next() {
		sizes = append(sizes, res.Record().NumRows())
	}
	if err := res.Err(); err != nil {
		t.Fatalf("Streaming failed: %v", err)
	}

	// Three rows at batch size two: one full batch, one remainder.
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("Expected batch sizes [2 1], got %v", sizes)
	}
}

func TestQueryValuesAndNulls(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conn := testConn(t, twoColumnDataset(), QueryConfig{BatchSize: 100}, mem)

	schema, records, err := conn.QueryRecords(context.Background(), "SELECT id, label FROM items")
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	if !arrow.TypeEqual(schema.Field(0).Type, arrow.PrimitiveTypes.Int64) {
		t.Errorf("Expected int64 id column, got %s", schema.Field(0).Type)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	ids := records[0].Column(0).(*array.Int64)
	labels := records[0].Column(1).(*array.String)
	if ids.Value(0) != 1 || ids.Value(1) != 2 || ids.Value(2) != 3 {
		t.Errorf("Unexpected ids: %v", ids)
	}
	if labels.Value(0) != "a" || labels.Value(2) != "c" {
		t.Errorf("Unexpected labels: %v", labels)
	}
	if !labels.IsNull(1) {
		t.Error("Expected label[1] to be null")
	}
}

func TestQueryIPCRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conn := testConn(t, twoColumnDataset(), QueryConfig{BatchSize: 2}, mem)

	payload, err := conn.QueryIPC(context.Background(), "SELECT id, label FROM items")
	if err != nil {
		t.Fatalf("QueryIPC failed: %v", err)
	}

	schema, records, err := stream.ReadAll(payload, mem)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	if schema.NumFields() != 2 {
		t.Fatalf("Expected 2 fields, got %d", schema.NumFields())
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(records))
	}
	if records[0].NumRows() != 2 || records[1].NumRows() != 1 {
		t.Errorf("Expected rows [2 1], got [%d %d]", records[0].NumRows(), records[1].NumRows())
	}
	last := records[1].Column(1).(*array.String)
	if last.Value(0) != "c" {
		t.Errorf("Expected label %q, got %q", "c", last.Value(0))
	}
}

func TestQueryIPCBatchSizeInvariance(t *testing.T) {
	// The logical content of the stream must not depend on batch size.
	for _, batchSize := range []int{1, 2, 3, 7, 1000} {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		conn := testConn(t, twoColumnDataset(), QueryConfig{BatchSize: batchSize}, mem)

		payload, err := conn.QueryIPC(context.Background(), "SELECT id, label FROM items")
		if err != nil {
			t.Fatalf("batch size %d: QueryIPC failed: %v", batchSize, err)
		}

		_, records, err := stream.ReadAll(payload, mem)
		if err != nil {
			t.Fatalf("batch size %d: ReadAll failed: %v", batchSize, err)
		}

		var ids []int64
		var rows int64
		for _, rec := range records {
			rows += rec.NumRows()
			col := rec.Column(0).(*array.Int64)
			for i := 0; i < col.Len(); i++ {
				ids = append(ids, col.Value(i))
			}
			rec.Release()
		}
		if rows != 3 {
			t.Errorf("batch size %d: expected 3 rows, got %d", batchSize, rows)
		}
		for i, want := range []int64{1, 2, 3} {
			if ids[i] != want {
				t.Errorf("batch size %d: id %d: expected %d, got %d", batchSize, i, want, ids[i])
			}
		}
		mem.AssertSize(t, 0)
	}
}

func TestQueryIPCEmptyResultSet(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "id", DBType: "BIGINT"},
			{Name: "label", DBType: "VARCHAR"},
		},
	}
	conn := testConn(t, ds, QueryConfig{}, mem)

	payload, err := conn.QueryIPC(context.Background(), "SELECT id, label FROM items WHERE 1=0")
	if err != nil {
		t.Fatalf("QueryIPC failed: %v", err)
	}

	// Zero rows still yields a valid stream carrying the real schema.
	schema, records, err := stream.ReadAll(payload, mem)
	if err != nil {
		t.Fatalf("Empty stream should be re-readable: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected 0 batches, got %d", len(records))
	}
	if schema.NumFields() != 2 {
		t.Errorf("Expected 2 fields, got %d", schema.NumFields())
	}
	if schema.Field(0).Name != "id" || schema.Field(1).Name != "label" {
		t.Errorf("Schema lost column names: %s", schema)
	}
}

func TestQueryIPCNoResultSet(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conn := testConn(t, &sqltest.Dataset{}, QueryConfig{}, mem)

	res, err := conn.Query(context.Background(), "UPDATE items SET label = NULL")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.HasResultSet() {
		t.Error("Expected no result set")
	}
	if res.Schema() != nil {
		t.Error("Expected nil schema")
	}
	if res.Next() {
		t.Error("Next should report exhaustion immediately")
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The IPC form degrades to a valid field-less stream.
	payload, err := conn.QueryIPC(context.Background(), "UPDATE items SET label = NULL")
	if err != nil {
		t.Fatalf("QueryIPC failed: %v", err)
	}
	schema, records, err := stream.ReadAll(payload, mem)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if schema.NumFields() != 0 {
		t.Errorf("Expected field-less schema, got %d fields", schema.NumFields())
	}
	if len(records) != 0 {
		t.Errorf("Expected 0 batches, got %d", len(records))
	}
}

func TestQueryIntegerFidelity(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{{Name: "n", DBType: "INTEGER", HasNull: true, Nullable: true}},
		Rows: [][]driver.Value{
			{int64(-1)},
			{int64(0)},
			{int64(2147483647)},
			{nil},
		},
	}
	conn := testConn(t, ds, QueryConfig{}, mem)

	_, records, err := conn.QueryRecords(context.Background(), "SELECT n FROM t")
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	col := records[0].Column(0).(*array.Int64)
	expected := []int64{-1, 0, 2147483647}
	for i, want := range expected {
		if col.Value(i) != want {
			t.Errorf("value %d: expected %d, got %d", i, want, col.Value(i))
		}
	}
	if !col.IsNull(3) {
		t.Error("Expected n[3] to be null")
	}
}

func TestQueryDecimalExactness(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "amount", DBType: "NUMERIC", HasDecimal: true, Precision: 18, Scale: 4},
		},
		Rows: [][]driver.Value{
			{"12345678901234.5678"},
			{"-0.0001"},
			{"0"},
		},
	}
	conn := testConn(t, ds, QueryConfig{}, mem)

	schema, records, err := conn.QueryRecords(context.Background(), "SELECT amount FROM t")
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	dt, ok := schema.Field(0).Type.(*arrow.Decimal128Type)
	if !ok {
		t.Fatalf("Expected decimal128 column, got %s", schema.Field(0).Type)
	}
	if dt.Precision != 18 || dt.Scale != 4 {
		t.Errorf("Expected decimal(18,4), got (%d,%d)", dt.Precision, dt.Scale)
	}

	col := records[0].Column(0).(*array.Decimal128)
	expected := []string{"12345678901234.5678", "-0.0001", "0.0000"}
	for i, want := range expected {
		if got := col.Value(i).ToString(4); got != want {
			t.Errorf("value %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestQueryDecimalWithoutPrecision(t *testing.T) {
	old := convert.Logger
	convert.Logger = log.New(io.Discard, "", 0)
	defer func() { convert.Logger = old }()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	// An unconstrained NUMERIC (Postgres reports no precision for bare
	// numeric, including every sum()) must still produce a usable stream,
	// carrying the driver's exact text instead of failing the mapping.
	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "amount", DBType: "NUMERIC"},
		},
		Rows: [][]driver.Value{
			{"12345678901234567890.123456789"},
			{"-0.5"},
		},
	}
	conn := testConn(t, ds, QueryConfig{}, mem)

	payload, err := conn.QueryIPC(context.Background(), "SELECT sum(x) AS amount FROM t")
	if err != nil {
		t.Fatalf("QueryIPC failed: %v", err)
	}

	schema, records, err := stream.ReadAll(payload, mem)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	if !arrow.TypeEqual(schema.Field(0).Type, arrow.BinaryTypes.String) {
		t.Fatalf("Expected string fallback column, got %s", schema.Field(0).Type)
	}
	col := records[0].Column(0).(*array.String)
	if col.Value(0) != "12345678901234567890.123456789" || col.Value(1) != "-0.5" {
		t.Errorf("Text fallback lost exactness: %v", col)
	}
}

func TestQueryDecimalPrecisionOutOfRange(t *testing.T) {
	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "amount", DBType: "NUMERIC", HasDecimal: true, Precision: 40, Scale: 2},
		},
	}
	conn := testConn(t, ds, QueryConfig{}, nil)

	_, err := conn.Query(context.Background(), "SELECT amount FROM t")
	if err == nil {
		t.Fatal("Expected mapping error for precision 40")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConversion {
		t.Errorf("Expected ConversionError, got %v", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Column != "amount" {
		t.Errorf("Expected column %q, got %q", "amount", e.Column)
	}
}

func TestQueryOversizedField(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ds := &sqltest.Dataset{
		Columns: []sqltest.Column{{Name: "label", DBType: "VARCHAR"}},
		Rows: [][]driver.Value{
			{strings.Repeat("x", 16)},
			{strings.Repeat("x", 17)}, // one byte over
		},
	}
	conn := testConn(t, ds, QueryConfig{MaxTextSize: 16}, mem)

	_, err := conn.QueryIPC(context.Background(), "SELECT label FROM t")
	if err == nil {
		t.Fatal("Expected oversized-field error")
	}
	if !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("Expected ErrFieldTooLarge, got %v", err)
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConversion {
		t.Errorf("Expected ConversionError, got %v", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Column != "label" {
		t.Errorf("Expected column %q, got %q", "label", e.Column)
	}
}

func TestQueryStatementFailure(t *testing.T) {
	ds := &sqltest.Dataset{QueryErr: errors.New("syntax error at or near FORM")}
	conn := testConn(t, ds, QueryConfig{}, nil)

	_, err := conn.Query(context.Background(), "SELECT * FORM t")
	if err == nil {
		t.Fatal("Expected query error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindQuery {
		t.Errorf("Expected QueryError, got %v", err)
	}
}

func TestQueryBeginFailure(t *testing.T) {
	// A failure opening the transaction means the session is gone, not
	// that the statement was bad.
	ds := &sqltest.Dataset{BeginErr: errors.New("connection reset by peer")}
	conn := testConn(t, ds, QueryConfig{}, nil)

	_, err := conn.Query(context.Background(), "SELECT 1")
	if err == nil {
		t.Fatal("Expected begin failure")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConnection {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestNewConnectionRejectsInvalidConfig(t *testing.T) {
	db, _ := sqltest.Register(&sqltest.Dataset{})
	defer db.Close()

	_, err := NewConnection(db, QueryConfig{BatchSize: -1}, nil)
	if err == nil {
		t.Fatal("Expected config validation error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConnection {
		t.Errorf("Expected ConnectionError, got %v", err)
	}

	_, err = NewConnection(db, QueryConfig{Isolation: "chaotic"}, nil)
	if err == nil {
		t.Error("Expected error for unknown isolation level")
	}
}

func TestOpenConnectFailure(t *testing.T) {
	sqltest.Register(&sqltest.Dataset{}) // ensure the driver is registered

	_, err := Open(context.Background(), "sqltest", "no-such-dataset", nil)
	if err == nil {
		t.Fatal("Expected connect failure")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConnection {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestOpenAndQuery(t *testing.T) {
	db, dsn := sqltest.Register(twoColumnDataset())
	db.Close()

	conn, err := Open(context.Background(), "sqltest", dsn, &QueryConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if conn.Config().BatchSize != 2 {
		t.Errorf("Expected batch size 2, got %d", conn.Config().BatchSize)
	}
	if conn.Config().MaxTextSize != DefaultMaxTextSize {
		t.Errorf("Expected default max text size, got %d", conn.Config().MaxTextSize)
	}

	payload, err := conn.QueryIPC(context.Background(), "SELECT id, label FROM items")
	if err != nil {
		t.Fatalf("QueryIPC failed: %v", err)
	}
	_, records, err := stream.ReadAll(payload, nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	for _, rec := range records {
		rec.Release()
	}
}

func TestResultCloseTwice(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conn := testConn(t, twoColumnDataset(), QueryConfig{BatchSize: 2}, mem)
	res, err := conn.Query(context.Background(), "SELECT id, label FROM items")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// Abandon mid-stream: one batch consumed, rest discarded.
	if !res.Next() {
		t.Fatal("Expected a first batch")
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if res.Next() {
		t.Error("Next after Close should return false")
	}
}

func BenchmarkQueryIPC(b *testing.B) {
	rows := make([][]driver.Value, 1000)
	for i := range rows {
		rows[i] = []driver.Value{int64(i), "benchmark-row"}
	}
	db, _ := sqltest.Register(&sqltest.Dataset{
		Columns: []sqltest.Column{
			{Name: "id", DBType: "BIGINT"},
			{Name: "label", DBType: "VARCHAR"},
		},
		Rows: rows,
	})
	defer db.Close()

	conn, err := NewConnection(db, QueryConfig{BatchSize: 100}, nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.QueryIPC(context.Background(), "SELECT id, label FROM t"); err != nil {
			b.Fatal(err)
		}
	}
}
