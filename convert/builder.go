package convert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Limits caps individual variable-length values during conversion.
type Limits struct {
	MaxTextSize   int
	MaxBinarySize int
}

// BatchBuilder appends row-oriented driver values into per-column typed
// builders and finalizes them into immutable record batches. Numeric and
// decimal values are converted from the driver's native representation,
// never round-tripped through a lossy form. A partially built batch is
// discarded cleanly by Release.
type BatchBuilder struct {
	schema *arrow.Schema
	cols   []Column
	limits Limits
	bldr   *array.RecordBuilder
	rows   int
}

// NewBatchBuilder creates a builder for the given mapped schema. The
// schema and column slice must come from the same Cursor.
func NewBatchBuilder(mem memory.Allocator, schema *arrow.Schema, cols []Column, limits Limits) *BatchBuilder {
	return &BatchBuilder{
		schema: schema,
		cols:   cols,
		limits: limits,
		bldr:   array.NewRecordBuilder(mem, schema),
	}
}

// Len reports the number of rows accumulated since the last Flush.
func (b *BatchBuilder) Len() int { return b.rows }

// Append adds one fetched row. A source NULL sets the column's validity
// bit false; the slot value is never read.
func (b *BatchBuilder) Append(row []any) error {
	if len(row) != len(b.cols) {
		return fmt.Errorf("row has %d values, schema has %d columns", len(row), len(b.cols))
	}
	for i, value := range row {
		if value == nil {
			b.bldr.Field(i).AppendNull()
			continue
		}
		if err := b.appendValue(i, value); err != nil {
			return &ColumnError{Column: b.cols[i].Name, Err: err}
		}
	}
	b.rows++
	return nil
}

// Flush finalizes the accumulated rows into a record batch and resets the
// builders. The caller owns the returned record. Flushing an empty builder
// returns a zero-row record.
func (b *BatchBuilder) Flush() arrow.Record {
	b.rows = 0
	return b.bldr.NewRecord()
}

// Release discards builder state, including any partially built batch.
func (b *BatchBuilder) Release() {
	b.bldr.Release()
}

func (b *BatchBuilder) appendValue(i int, value any) error {
	switch b.cols[i].Family {
	case FamilyInteger:
		return appendInt(b.bldr.Field(i).(*array.Int64Builder), value)
	case FamilyDecimal:
		return appendDecimal(b.bldr.Field(i).(*array.Decimal128Builder), b.schema.Field(i).Type.(*arrow.Decimal128Type), value)
	case FamilyFloat:
		return appendFloat(b.bldr.Field(i).(*array.Float64Builder), value)
	case FamilyText, FamilyOther:
		return appendText(b.bldr.Field(i).(*array.StringBuilder), value, b.limits.MaxTextSize)
	case FamilyBinary:
		return appendBinary(b.bldr.Field(i).(*array.BinaryBuilder), value, b.limits.MaxBinarySize)
	default:
		return fmt.Errorf("unhandled type family %d", b.cols[i].Family)
	}
}

func appendInt(bldr *array.Int64Builder, value any) error {
	switch v := value.(type) {
	case int64:
		bldr.Append(v)
	case int32:
		bldr.Append(int64(v))
	case int16:
		bldr.Append(int64(v))
	case int8:
		bldr.Append(int64(v))
	case int:
		bldr.Append(int64(v))
	case uint64:
		if v > 1<<63-1 {
			return fmt.Errorf("unsigned value %d overflows int64", v)
		}
		bldr.Append(int64(v))
	case uint32:
		bldr.Append(int64(v))
	case []byte:
		return appendIntString(bldr, string(v))
	case string:
		return appendIntString(bldr, v)
	default:
		return fmt.Errorf("cannot convert %T to int64", value)
	}
	return nil
}

func appendIntString(bldr *array.Int64Builder, s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing integer %q: %w", s, err)
	}
	bldr.Append(n)
	return nil
}

func appendDecimal(bldr *array.Decimal128Builder, dt *arrow.Decimal128Type, value any) error {
	// Drivers deliver exact numerics in their textual form; parse that form
	// exactly at the declared scale rather than going through float64.
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Errorf("cannot convert %T to decimal", value)
	}
	num, err := decimal128.FromString(s, dt.Precision, dt.Scale)
	if err != nil {
		return fmt.Errorf("parsing decimal %q: %w", s, err)
	}
	bldr.Append(num)
	return nil
}

func appendFloat(bldr *array.Float64Builder, value any) error {
	switch v := value.(type) {
	case float64:
		bldr.Append(v)
	case float32:
		bldr.Append(float64(v))
	case int64:
		bldr.Append(float64(v))
	case []byte:
		return appendFloatString(bldr, string(v))
	case string:
		return appendFloatString(bldr, v)
	default:
		return fmt.Errorf("cannot convert %T to float64", value)
	}
	return nil
}

func appendFloatString(bldr *array.Float64Builder, s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing float %q: %w", s, err)
	}
	bldr.Append(f)
	return nil
}

func appendText(bldr *array.StringBuilder, value any, limit int) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		s = v.Format(time.RFC3339Nano)
	case bool:
		s = strconv.FormatBool(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = fmt.Sprintf("%v", v)
	}
	if limit > 0 && len(s) > limit {
		return fmt.Errorf("%w: %d bytes over limit %d", ErrFieldTooLarge, len(s), limit)
	}
	bldr.Append(s)
	return nil
}

func appendBinary(bldr *array.BinaryBuilder, value any, limit int) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot convert %T to binary", value)
	}
	if limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d bytes over limit %d", ErrFieldTooLarge, len(data), limit)
	}
	bldr.Append(data)
	return nil
}
