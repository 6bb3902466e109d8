package convert

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// MaxDecimalPrecision is the largest precision representable by the
// 128-bit decimal target type.
const MaxDecimalPrecision = 38

// Schema maps classified columns to an Arrow schema with one field per
// column, preserving fetch order and nullability. Types never widen to
// string except through the explicit FamilyOther fallback.
func Schema(cols []Column) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(cols))
	for _, col := range cols {
		dt, err := fieldType(col)
		if err != nil {
			return nil, &ColumnError{Column: col.Name, Err: err}
		}
		fields = append(fields, arrow.Field{
			Name:     col.Name,
			Type:     dt,
			Nullable: col.Nullable,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

// fieldType resolves one column's target Arrow type. Decimal bounds are a
// hard mapping error, never a silent clip.
func fieldType(col Column) (arrow.DataType, error) {
	switch col.Family {
	case FamilyInteger:
		return arrow.PrimitiveTypes.Int64, nil
	case FamilyDecimal:
		if col.Precision <= 0 || col.Precision > MaxDecimalPrecision {
			return nil, fmt.Errorf("decimal precision %d outside 1..%d", col.Precision, MaxDecimalPrecision)
		}
		if col.Scale < 0 || col.Scale > col.Precision {
			return nil, fmt.Errorf("decimal scale %d outside 0..precision %d", col.Scale, col.Precision)
		}
		return &arrow.Decimal128Type{
			Precision: int32(col.Precision),
			Scale:     int32(col.Scale),
		}, nil
	case FamilyFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case FamilyText, FamilyOther:
		return arrow.BinaryTypes.String, nil
	case FamilyBinary:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unhandled type family %d", col.Family)
	}
}
