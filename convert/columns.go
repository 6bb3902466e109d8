package convert

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// Common errors for column mapping.
var (
	ErrEmptyColumnName = errors.New("column has an empty name")
	ErrFieldTooLarge   = errors.New("field exceeds configured maximum size")
)

// Logger receives notices about columns mapped through the text fallback.
// Replaceable by the embedding application.
var Logger = log.New(os.Stderr, "ibarrow/convert: ", log.LstdFlags)

// TypeFamily is the closed set of source type families the mapper handles.
type TypeFamily int

const (
	// FamilyInteger covers all integer widths; mapped to int64.
	FamilyInteger TypeFamily = iota
	// FamilyDecimal covers exact numerics carrying precision and scale.
	FamilyDecimal
	// FamilyFloat covers approximate numerics; mapped to float64.
	FamilyFloat
	// FamilyText covers character data of any length.
	FamilyText
	// FamilyBinary covers raw byte data.
	FamilyBinary
	// FamilyOther is the deliberate fallback for unrecognized source types;
	// mapped to text, never dropped.
	FamilyOther
)

// typeFamilies classifies driver type names (upper-cased DatabaseTypeName)
// into families. Adding support for a new source type is a one-line edit.
var typeFamilies = map[string]TypeFamily{
	// integer families
	"TINYINT":   FamilyInteger,
	"SMALLINT":  FamilyInteger,
	"MEDIUMINT": FamilyInteger,
	"INT":       FamilyInteger,
	"INTEGER":   FamilyInteger,
	"BIGINT":    FamilyInteger,
	"INT2":      FamilyInteger,
	"INT4":      FamilyInteger,
	"INT8":      FamilyInteger,
	"SERIAL":    FamilyInteger,
	"BIGSERIAL": FamilyInteger,
	"SERIAL8":   FamilyInteger,

	// exact decimal families
	"DECIMAL": FamilyDecimal,
	"NUMERIC": FamilyDecimal,
	"NUMBER":  FamilyDecimal,
	"MONEY":   FamilyDecimal,

	// floating-point families
	"FLOAT":            FamilyFloat,
	"FLOAT4":           FamilyFloat,
	"FLOAT8":           FamilyFloat,
	"REAL":             FamilyFloat,
	"DOUBLE":           FamilyFloat,
	"DOUBLE PRECISION": FamilyFloat,
	"SMALLFLOAT":       FamilyFloat,

	// character families
	"CHAR":              FamilyText,
	"NCHAR":             FamilyText,
	"BPCHAR":            FamilyText,
	"VARCHAR":           FamilyText,
	"NVARCHAR":          FamilyText,
	"LVARCHAR":          FamilyText,
	"CHARACTER":         FamilyText,
	"CHARACTER VARYING": FamilyText,
	"TEXT":              FamilyText,
	"CLOB":              FamilyText,
	"NAME":              FamilyText,
	"STRING":            FamilyText,

	// binary families
	"BYTE":       FamilyBinary,
	"BYTEA":      FamilyBinary,
	"BINARY":     FamilyBinary,
	"VARBINARY":  FamilyBinary,
	"BLOB":       FamilyBinary,
	"TINYBLOB":   FamilyBinary,
	"MEDIUMBLOB": FamilyBinary,
	"LONGBLOB":   FamilyBinary,
}

// Column describes one source column after classification. Columns are
// produced once per query from driver metadata and immutable afterward.
// HasDecimal records whether the driver actually reported precision and
// scale; zero values alone cannot distinguish "unconstrained" from
// "unsupported".
type Column struct {
	Name       string
	SourceType string
	Family     TypeFamily
	Precision  int64
	Scale      int64
	HasDecimal bool
	Length     int64
	Nullable   bool
}

// ColumnError names the column an operation failed on.
type ColumnError struct {
	Column string
	Err    error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q: %v", e.Column, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }

// classify resolves a driver type name to its family, logging fallback hits.
func classify(name, dbType string) TypeFamily {
	family, ok := typeFamilies[strings.ToUpper(dbType)]
	if !ok {
		Logger.Printf("column %q: unrecognized source type %q, mapping to text", name, dbType)
		return FamilyOther
	}
	return family
}

// ColumnsFromTypes builds column descriptors from database/sql column
// metadata. A descriptor with an empty name aborts the whole derivation.
func ColumnsFromTypes(types []*sql.ColumnType) ([]Column, error) {
	cols := make([]Column, 0, len(types))
	for i, ct := range types {
		name := ct.Name()
		if name == "" {
			return nil, &ColumnError{
				Column: fmt.Sprintf("#%d", i),
				Err:    ErrEmptyColumnName,
			}
		}

		col := Column{
			Name:       name,
			SourceType: ct.DatabaseTypeName(),
			Family:     classify(name, ct.DatabaseTypeName()),
			Nullable:   true,
		}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		if precision, scale, ok := ct.DecimalSize(); ok {
			col.Precision = precision
			col.Scale = scale
			col.HasDecimal = true
		}
		if length, ok := ct.Length(); ok {
			col.Length = length
		}
		if col.Family == FamilyDecimal && !col.HasDecimal {
			// Unconstrained exact numerics (pgx reports no precision for a
			// bare NUMERIC) carry the driver's exact textual form through the
			// text fallback rather than guessing a scale.
			Logger.Printf("column %q: exact numeric without reported precision, mapping to text", name)
			col.Family = FamilyOther
		}
		cols = append(cols, col)
	}
	return cols, nil
}
