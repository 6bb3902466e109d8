// Package ibarrow streams SQL query results from any database/sql driver
// into Apache Arrow, preserving native column types instead of coercing
// values to strings, with memory bounded by the configured batch size.
//
// A query runs as a single-threaded, pull-based pipeline: the cursor
// fetches rows, the batch builder assembles them into typed columnar
// batches, and a sink consumes each batch exactly once. Sinks are the IPC
// stream writer (package stream), the C Data Interface exporter (package
// capsule), and the network services (packages api and network).
package ibarrow
