package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/adapters/datasource"
)

// PostgreSQL error codes the executor maps to datasource sentinels.
const (
	codeQueryCanceled          = "57014"
	codeReadOnlySQLTransaction = "25006"
)

const pingTimeout = 5 * time.Second

// QueryExecutor runs read-only queries against the sales database.
// Each call acquires a pooled connection, opens a READ ONLY transaction,
// applies a local statement timeout and rolls back when done.
type QueryExecutor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewQueryExecutor creates a read-only executor over an existing pool.
func NewQueryExecutor(pool *pgxpool.Pool, logger *zap.Logger) *QueryExecutor {
	return &QueryExecutor{
		pool:   pool,
		logger: logger.Named("pg_executor"),
	}
}

// QueryReadOnly runs sqlQuery with positional parameters inside a read-only
// transaction. At most opts.MaxRows rows are returned; Truncated is set when
// the database had more.
func (e *QueryExecutor) QueryReadOnly(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error) {
	start := time.Now()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, mapError(fmt.Errorf("%w: %w", datasource.ErrConnectionFailed, err))
	}
	defer func() {
		// The firewall never commits; rollback must run even if ctx is done.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
	}()

	if opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, mapError(fmt.Errorf("failed to set statement timeout: %w", err))
		}
	}

	rows, err := tx.Query(ctx, sqlQuery, params...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	oids := make([]uint32, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
		oids[i] = fd.DataTypeOID
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if opts.MaxRows > 0 && len(resultRows) >= opts.MaxRows {
			truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, mapError(fmt.Errorf("failed to read row values: %w", err))
		}
		for i := range values {
			values[i] = normalizeValue(values[i], oids[i])
		}
		resultRows = append(resultRows, values)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("error iterating rows: %w", err))
	}

	e.logger.Debug("Read-only query executed",
		zap.Int("rows", len(resultRows)),
		zap.Bool("truncated", truncated),
		zap.Duration("elapsed", time.Since(start)))

	return &datasource.QueryExecutionResult{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

// Ping runs SELECT 1 in a read-only transaction.
func (e *QueryExecutor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	_, err := e.QueryReadOnly(ctx, "SELECT 1", nil, datasource.ReadOnlyOptions{
		MaxRows:          1,
		StatementTimeout: pingTimeout,
	})
	return err
}

// mapError attaches datasource sentinels for timeouts and read-only violations
// while keeping the driver error in the chain.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeQueryCanceled:
			return fmt.Errorf("%w: %w", datasource.ErrQueryTimeout, err)
		case codeReadOnlySQLTransaction:
			return fmt.Errorf("%w: %w", datasource.ErrReadOnlyViolation, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", datasource.ErrQueryTimeout, err)
	}
	return err
}

// Ensure QueryExecutor implements datasource.ReadOnlyExecutor at compile time.
var _ datasource.ReadOnlyExecutor = (*QueryExecutor)(nil)
