package ibarrow

import (
	"database/sql"
	"fmt"
	"time"
)

// Default limits applied when a QueryConfig field is left zero.
const (
	DefaultBatchSize     = 1000
	DefaultMaxTextSize   = 65536
	DefaultMaxBinarySize = 65536
)

// IsolationLevel names a transaction isolation level requested for queries.
// The empty string leaves the driver default in place.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "read_uncommitted"
	IsolationReadCommitted   IsolationLevel = "read_committed"
	IsolationRepeatableRead  IsolationLevel = "repeatable_read"
	IsolationSerializable    IsolationLevel = "serializable"
	IsolationSnapshot        IsolationLevel = "snapshot"
)

// sqlLevel maps an IsolationLevel to the database/sql constant.
func (l IsolationLevel) sqlLevel() (sql.IsolationLevel, error) {
	switch l {
	case IsolationDefault:
		return sql.LevelDefault, nil
	case IsolationReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case IsolationSerializable:
		return sql.LevelSerializable, nil
	case IsolationSnapshot:
		return sql.LevelSnapshot, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", string(l))
	}
}

// QueryConfig holds per-connection query settings. The zero value is valid
// and picks the documented defaults. Configs are validated once when the
// connection is opened and are read-only afterward.
type QueryConfig struct {
	// BatchSize is the maximum number of rows per emitted record batch.
	BatchSize int

	// ReadOnly requests read-only transactions for queries.
	ReadOnly bool

	// ConnectionTimeout bounds the initial connectivity check.
	ConnectionTimeout time.Duration

	// QueryTimeout bounds each query's execution and fetch, enforced by the
	// driver through the context deadline.
	QueryTimeout time.Duration

	// MaxTextSize and MaxBinarySize cap individual text and binary values in
	// bytes. A value over the cap fails the query; it is never truncated.
	MaxTextSize   int
	MaxBinarySize int

	// Isolation selects the transaction isolation level for queries.
	Isolation IsolationLevel
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() QueryConfig {
	return QueryConfig{
		BatchSize:     DefaultBatchSize,
		ReadOnly:      true,
		MaxTextSize:   DefaultMaxTextSize,
		MaxBinarySize: DefaultMaxBinarySize,
	}
}

// withDefaults fills zero fields with their defaults.
func (c QueryConfig) withDefaults() QueryConfig {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxTextSize == 0 {
		c.MaxTextSize = DefaultMaxTextSize
	}
	if c.MaxBinarySize == 0 {
		c.MaxBinarySize = DefaultMaxBinarySize
	}
	return c
}

// Validate rejects configurations with non-positive sizes, negative
// timeouts, or an unknown isolation level. Defaults are applied first, so
// zero fields never fail.
func (c QueryConfig) Validate() error {
	c = c.withDefaults()
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxTextSize <= 0 {
		return fmt.Errorf("max text size must be positive, got %d", c.MaxTextSize)
	}
	if c.MaxBinarySize <= 0 {
		return fmt.Errorf("max binary size must be positive, got %d", c.MaxBinarySize)
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must not be negative, got %s", c.ConnectionTimeout)
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative, got %s", c.QueryTimeout)
	}
	if _, err := c.Isolation.sqlLevel(); err != nil {
		return err
	}
	return nil
}
