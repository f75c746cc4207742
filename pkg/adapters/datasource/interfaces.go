// Package datasource defines how the SQL firewall reaches the sales database.
package datasource

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueryTimeout is returned when the statement timeout or the caller's deadline fires.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrConnectionFailed is returned when no connection to the database could be obtained.
	ErrConnectionFailed = errors.New("database connection failed")
	// ErrReadOnlyViolation is returned when the database rejects a write inside the read-only transaction.
	ErrReadOnlyViolation = errors.New("statement attempted to write in a read-only transaction")
)

// ReadOnlyOptions bounds a single read-only execution.
type ReadOnlyOptions struct {
	// MaxRows caps the rows returned. One extra row is read to detect truncation.
	MaxRows int
	// StatementTimeout is applied with SET LOCAL statement_timeout.
	StatementTimeout time.Duration
}

// ReadOnlyExecutor runs SQL inside a transaction the database itself enforces as read-only.
// Every call uses its own transaction, which is always rolled back.
type ReadOnlyExecutor interface {
	// QueryReadOnly runs sqlQuery with positional parameters ($1, $2, ...).
	QueryReadOnly(ctx context.Context, sqlQuery string, params []any, opts ReadOnlyOptions) (*QueryExecutionResult, error)

	// Ping runs SELECT 1 in a read-only transaction.
	Ping(ctx context.Context) error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "NUMERIC")
}

// QueryExecutionResult holds rows in column order with driver values normalized
// to JSON-friendly Go types.
type QueryExecutionResult struct {
	Columns   []ColumnInfo `json:"columns"`
	Rows      [][]any      `json:"rows"`
	RowCount  int          `json:"row_count"`
	Truncated bool         `json:"truncated"`
}

// ColumnNames returns the column names in result order.
func (r *QueryExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
