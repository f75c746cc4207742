package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/adapters/datasource"
	"github.com/sweetline/sales-assistant/pkg/audit"
	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/models"
	sqlfw "github.com/sweetline/sales-assistant/pkg/sql"
)

// ErrInjectionDetected is the cause of a SecurityViolationError raised for a
// bind parameter that libinjection flagged.
var ErrInjectionDetected = errors.New("bind parameter looks like SQL injection")

// SecurityViolationError means a statement was refused before reaching the
// database, or the database refused a write inside the read-only transaction.
// Match it with errors.As to tell it apart from ExecutionError.
type SecurityViolationError struct {
	Err   error // *sqlfw.ValidationError, ErrInjectionDetected or datasource.ErrReadOnlyViolation
	Query string
}

func (e *SecurityViolationError) Error() string {
	return fmt.Sprintf("security violation: %v", e.Err)
}

func (e *SecurityViolationError) Unwrap() error {
	return e.Err
}

// Rule returns a stable short name for the violated rule, used in audit events.
func (e *SecurityViolationError) Rule() string {
	switch {
	case errors.Is(e.Err, sqlfw.ErrEmptyQuery):
		return "empty_query"
	case errors.Is(e.Err, sqlfw.ErrQueryTooLong):
		return "query_too_long"
	case errors.Is(e.Err, sqlfw.ErrNotAReadOperation):
		return "not_a_read_operation"
	case errors.Is(e.Err, sqlfw.ErrBlockedKeyword):
		return "blocked_keyword"
	case errors.Is(e.Err, sqlfw.ErrMultipleStatements):
		return "multiple_statements"
	case errors.Is(e.Err, sqlfw.ErrSystemCatalogAccess):
		return "system_catalog_access"
	case errors.Is(e.Err, sqlfw.ErrProcedureCallNotAllowed):
		return "procedure_call"
	case errors.Is(e.Err, ErrInjectionDetected):
		return "sql_injection"
	case errors.Is(e.Err, datasource.ErrReadOnlyViolation):
		return "read_only_violation"
	default:
		return "unknown"
	}
}

// ExecutionError means a validated statement could not be run: the database
// was unreachable, the statement timed out, or it failed at runtime.
type ExecutionError struct {
	Err     error
	Timeout bool
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("query timed out: %v", e.Err)
	}
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// UserMessage is safe to show to end users.
func (e *ExecutionError) UserMessage() string {
	if e.Timeout {
		return "Запрос к базе данных выполнялся слишком долго и был прерван. Попробуйте сузить период или условия."
	}
	if errors.Is(e.Err, datasource.ErrConnectionFailed) {
		return "База данных сейчас недоступна. Попробуйте позже."
	}
	return "Не удалось выполнить запрос к базе данных."
}

// Query origins recorded in audit events.
const (
	OriginDirect    = "direct"
	OriginGenerated = "generated"
)

type queryOriginKey struct{}

// WithQueryOrigin marks where the SQL executed under ctx came from.
func WithQueryOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, queryOriginKey{}, origin)
}

func queryOrigin(ctx context.Context) string {
	if origin, ok := ctx.Value(queryOriginKey{}).(string); ok {
		return origin
	}
	return OriginDirect
}

// SecureQueryService is the SQL firewall: every statement it runs has passed
// validation and runs in a rolled-back read-only transaction.
type SecureQueryService interface {
	// Validate checks a statement without touching the database.
	Validate(query string) error

	// Execute validates and runs a statement with positional bind values.
	// Refusals are *SecurityViolationError; database failures are *ExecutionError.
	Execute(ctx context.Context, query string, params ...any) (*models.QueryResult, error)

	// IsAvailable probes the database with SELECT 1. Errors are logged, not returned.
	IsAvailable(ctx context.Context) bool
}

type secureQueryService struct {
	executor datasource.ReadOnlyExecutor
	auditor  *audit.SecurityAuditor
	cfg      config.FirewallConfig
	logger   *zap.Logger
}

// NewSecureQueryService creates the firewall over a read-only executor.
func NewSecureQueryService(
	executor datasource.ReadOnlyExecutor,
	auditor *audit.SecurityAuditor,
	cfg config.FirewallConfig,
	logger *zap.Logger,
) SecureQueryService {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	if cfg.StatementTimeoutSeconds <= 0 {
		cfg.StatementTimeoutSeconds = 30
	}
	return &secureQueryService{
		executor: executor,
		auditor:  auditor,
		cfg:      cfg,
		logger:   logger.Named("firewall"),
	}
}

var _ SecureQueryService = (*secureQueryService)(nil)

func (s *secureQueryService) Validate(query string) error {
	if err := sqlfw.Validate(query); err != nil {
		return err
	}
	// A stricter configured cap still reports the same sentinel
	if s.cfg.MaxQueryLength > 0 && s.cfg.MaxQueryLength < sqlfw.MaxQueryLength &&
		len([]rune(query)) > s.cfg.MaxQueryLength {
		return &sqlfw.ValidationError{Err: sqlfw.ErrQueryTooLong}
	}
	return nil
}

func (s *secureQueryService) Execute(ctx context.Context, query string, params ...any) (*models.QueryResult, error) {
	if err := s.Validate(query); err != nil {
		return nil, s.violation(ctx, err, query)
	}

	if hits := sqlfw.CheckAllParameters(params); len(hits) > 0 {
		for _, hit := range hits {
			s.auditor.LogInjectionAttempt(ctx, audit.SQLInjectionDetails{
				Placeholder: hit.Placeholder(),
				ParamValue:  hit.Value,
				Fingerprint: hit.Fingerprint,
			})
		}
		return nil, &SecurityViolationError{Err: ErrInjectionDetected, Query: query}
	}

	// Run exactly the text that was inspected: comments gone, trailing semicolon dropped
	cleaned := sqlfw.ValidateAndNormalize(sqlfw.StripComments(query)).NormalizedSQL

	start := time.Now()
	execResult, err := s.executor.QueryReadOnly(ctx, cleaned, params, datasource.ReadOnlyOptions{
		MaxRows:          s.cfg.MaxRows,
		StatementTimeout: s.cfg.StatementTimeout(),
	})
	if err != nil {
		if errors.Is(err, datasource.ErrReadOnlyViolation) {
			return nil, s.violation(ctx, datasource.ErrReadOnlyViolation, query)
		}
		timeout := errors.Is(err, datasource.ErrQueryTimeout)
		s.logger.Error("Query execution failed",
			zap.String("query", logging.SanitizeQuery(query)),
			zap.Bool("timeout", timeout),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &ExecutionError{Err: err, Timeout: timeout}
	}

	result := toQueryResult(execResult)
	s.auditor.LogQueryExecution(ctx, query, result.RowCount, result.Truncated)
	s.logger.Debug("Query executed",
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (s *secureQueryService) IsAvailable(ctx context.Context) bool {
	if err := s.executor.Ping(ctx); err != nil {
		s.logger.Warn("Database availability probe failed",
			zap.String("error", logging.SanitizeError(err)))
		return false
	}
	return true
}

func (s *secureQueryService) violation(ctx context.Context, cause error, query string) *SecurityViolationError {
	v := &SecurityViolationError{Err: cause, Query: query}
	s.auditor.LogFirewallViolation(ctx, v.Rule(), query, queryOrigin(ctx))
	return v
}

// toQueryResult converts executor rows into ordered result rows.
func toQueryResult(r *datasource.QueryExecutionResult) *models.QueryResult {
	columns := r.ColumnNames()
	rows := make([]models.Row, 0, len(r.Rows))
	for _, values := range r.Rows {
		rows = append(rows, models.NewRow(columns, values))
	}
	return &models.QueryResult{
		Success:   true,
		Rows:      rows,
		RowCount:  len(rows),
		Columns:   columns,
		Truncated: r.Truncated,
	}
}
