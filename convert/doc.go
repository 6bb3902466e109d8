// Package convert turns row-oriented database/sql results into Apache Arrow
// columnar batches.
//
// This package implements:
//   - Column: driver column descriptors classified into a closed type set
//   - Schema: mapping of descriptors to Arrow fields
//   - Cursor: a synchronous iterator over row batches with result-set state
//   - BatchBuilder: typed per-column builders emitting bounded record batches
package convert
