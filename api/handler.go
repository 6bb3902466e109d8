package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thomazyujibaba/ibarrow"
	"github.com/thomazyujibaba/ibarrow/engine"
)

// QueryRequest is the JSON request body of the TCP protocol.
type QueryRequest struct {
	ID       string `json:"id,omitempty"`
	SQL      string `json:"sql"`
	Args     []any  `json:"args,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Token    string `json:"token,omitempty"`
}

// QueryResponse is the JSON status header preceding the Arrow IPC payload.
// When OK is false no payload follows.
type QueryResponse struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// QueryHandler turns framed query requests into Arrow IPC payloads by
// dispatching them through the query pool.
type QueryHandler struct {
	pool    *engine.QueryPool
	auth    *Authenticator
	metrics *Metrics
	seq     uint64
}

// NewQueryHandler creates a handler over the given pool. auth and metrics
// may be nil to disable them.
func NewQueryHandler(pool *engine.QueryPool, auth *Authenticator, metrics *Metrics) *QueryHandler {
	return &QueryHandler{pool: pool, auth: auth, metrics: metrics}
}

// Handle parses one request message and returns the status header plus the
// IPC payload (nil when the header reports an error). The returned error
// is reserved for conditions where no response can be produced at all.
func (h *QueryHandler) Handle(ctx context.Context, data []byte) (*QueryResponse, []byte, error) {
	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &QueryResponse{OK: false, Kind: "QueryError", Error: fmt.Sprintf("malformed request: %v", err)}, nil, nil
	}
	if req.SQL == "" {
		return &QueryResponse{ID: req.ID, OK: false, Kind: "QueryError", Error: "missing sql"}, nil, nil
	}
	if h.auth != nil {
		if err := h.auth.ValidateToken(req.Token); err != nil {
			return &QueryResponse{ID: req.ID, OK: false, Kind: "ConnectionError", Error: err.Error()}, nil, nil
		}
	}

	job := engine.NewQueryJob(h.jobID(req.ID), req.SQL, req.Args...)
	job.Priority = req.Priority

	start := time.Now()
	result, err := h.pool.Do(ctx, job)
	if err != nil {
		return &QueryResponse{ID: req.ID, OK: false, Kind: "QueryError", Error: err.Error()}, nil, nil
	}
	if h.metrics != nil {
		h.metrics.RecordQuery(result.Err == nil, time.Since(start))
	}
	if result.Err != nil {
		resp := &QueryResponse{ID: req.ID, OK: false, Error: result.Err.Error()}
		if kind, ok := ibarrow.KindOf(result.Err); ok {
			resp.Kind = kind.String()
		}
		return resp, nil, nil
	}
	if h.metrics != nil {
		h.metrics.RecordPayload(len(result.Payload))
	}
	return &QueryResponse{ID: req.ID, OK: true}, result.Payload, nil
}

// jobID derives a unique pool job ID, keeping the client's request ID
// visible for tracing.
func (h *QueryHandler) jobID(requestID string) string {
	n := atomic.AddUint64(&h.seq, 1)
	if requestID == "" {
		return fmt.Sprintf("job-%d", n)
	}
	return fmt.Sprintf("%s-%d", requestID, n)
}
