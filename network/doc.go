// Package network streams serialized query results over ZeroMQ.
// This package implements:
// - Streamer: PUB socket publishing Arrow IPC payloads per topic
// - Subscriber: SUB socket receiving published payloads
package network
