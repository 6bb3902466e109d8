package convert

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestSchemaMapping(t *testing.T) {
	cols := []Column{
		{Name: "id", SourceType: "BIGINT", Family: FamilyInteger, Nullable: false},
		{Name: "amount", SourceType: "NUMERIC", Family: FamilyDecimal, Precision: 10, Scale: 2, Nullable: true},
		{Name: "ratio", SourceType: "FLOAT8", Family: FamilyFloat, Nullable: true},
		{Name: "label", SourceType: "VARCHAR", Family: FamilyText, Length: 64, Nullable: true},
		{Name: "payload", SourceType: "BYTEA", Family: FamilyBinary, Nullable: true},
		{Name: "created", SourceType: "TIMESTAMP", Family: FamilyOther, Nullable: true},
	}

	schema, err := Schema(cols)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if schema.NumFields() != len(cols) {
		t.Fatalf("Expected %d fields, got %d", len(cols), schema.NumFields())
	}

	expected := []arrow.DataType{
		arrow.PrimitiveTypes.Int64,
		&arrow.Decimal128Type{Precision: 10, Scale: 2},
		arrow.PrimitiveTypes.Float64,
		arrow.BinaryTypes.String,
		arrow.BinaryTypes.Binary,
		arrow.BinaryTypes.String,
	}
	for i, want := range expected {
		field := schema.Field(i)
		if field.Name != cols[i].Name {
			t.Errorf("field %d: expected name %q, got %q", i, cols[i].Name, field.Name)
		}
		if !arrow.TypeEqual(field.Type, want) {
			t.Errorf("field %d: expected type %s, got %s", i, want, field.Type)
		}
		if field.Nullable != cols[i].Nullable {
			t.Errorf("field %d: expected nullable %v, got %v", i, cols[i].Nullable, field.Nullable)
		}
	}
}

func TestSchemaPreservesOrder(t *testing.T) {
	cols := []Column{
		{Name: "z", Family: FamilyText},
		{Name: "a", Family: FamilyInteger},
		{Name: "m", Family: FamilyFloat},
	}
	schema, err := Schema(cols)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	for i, col := range cols {
		if schema.Field(i).Name != col.Name {
			t.Errorf("field %d: expected %q, got %q", i, col.Name, schema.Field(i).Name)
		}
	}
}

func TestSchemaDecimalBounds(t *testing.T) {
	cases := []struct {
		name      string
		precision int64
		scale     int64
	}{
		{"zero precision", 0, 0},
		{"negative precision", -5, 0},
		{"precision over max", MaxDecimalPrecision + 1, 0},
		{"negative scale", 10, -1},
		{"scale over precision", 10, 11},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cols := []Column{{
				Name:      "amount",
				Family:    FamilyDecimal,
				Precision: tc.precision,
				Scale:     tc.scale,
			}}
			_, err := Schema(cols)
			if err == nil {
				t.Fatalf("Expected error for precision=%d scale=%d", tc.precision, tc.scale)
			}
			var colErr *ColumnError
			if !errors.As(err, &colErr) {
				t.Fatalf("Expected ColumnError, got %T", err)
			}
			if colErr.Column != "amount" {
				t.Errorf("Expected column %q, got %q", "amount", colErr.Column)
			}
		})
	}
}

func TestSchemaDecimalLimits(t *testing.T) {
	// The extremes of the valid range must map cleanly.
	cols := []Column{
		{Name: "lo", Family: FamilyDecimal, Precision: 1, Scale: 0},
		{Name: "hi", Family: FamilyDecimal, Precision: MaxDecimalPrecision, Scale: MaxDecimalPrecision},
	}
	schema, err := Schema(cols)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	hi := schema.Field(1).Type.(*arrow.Decimal128Type)
	if hi.Precision != MaxDecimalPrecision || hi.Scale != MaxDecimalPrecision {
		t.Errorf("Expected decimal(%d,%d), got (%d,%d)",
			MaxDecimalPrecision, MaxDecimalPrecision, hi.Precision, hi.Scale)
	}
}

func TestSchemaEmpty(t *testing.T) {
	schema, err := Schema(nil)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if schema.NumFields() != 0 {
		t.Errorf("Expected 0 fields, got %d", schema.NumFields())
	}
}
