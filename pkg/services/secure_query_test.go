package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweetline/sales-assistant/pkg/adapters/datasource"
	"github.com/sweetline/sales-assistant/pkg/audit"
	"github.com/sweetline/sales-assistant/pkg/config"
	sqlfw "github.com/sweetline/sales-assistant/pkg/sql"
)

// mockExecutor is a function-field fake of datasource.ReadOnlyExecutor.
type mockExecutor struct {
	QueryFunc func(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error)
	PingFunc  func(ctx context.Context) error

	mu      sync.Mutex
	queries []string
	opts    []datasource.ReadOnlyOptions
}

func (m *mockExecutor) QueryReadOnly(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, sqlQuery)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sqlQuery, params, opts)
	}
	return &datasource.QueryExecutionResult{}, nil
}

func (m *mockExecutor) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *mockExecutor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

var _ datasource.ReadOnlyExecutor = (*mockExecutor)(nil)

// singleColumnRows builds an executor result with one integer column.
func singleColumnRows(column string, n int) *datasource.QueryExecutionResult {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1)}
	}
	return &datasource.QueryExecutionResult{
		Columns:  []datasource.ColumnInfo{{Name: column, Type: "INT8"}},
		Rows:     rows,
		RowCount: n,
	}
}

func newTestFirewall(executor datasource.ReadOnlyExecutor, cfg config.FirewallConfig) (SecureQueryService, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return NewSecureQueryService(executor, audit.NewSecurityAuditor(logger), cfg, logger), logs
}

func TestSecureQuery_DropIsRejectedWithoutDatabaseCall(t *testing.T) {
	executor := &mockExecutor{}
	fw, logs := newTestFirewall(executor, config.FirewallConfig{})

	result, err := fw.Execute(context.Background(), "DROP TABLE sales;")

	require.Error(t, err)
	assert.Nil(t, result)

	var violation *SecurityViolationError
	require.True(t, errors.As(err, &violation), "expected SecurityViolationError, got %T", err)
	assert.Equal(t, "not_a_read_operation", violation.Rule())
	assert.Equal(t, 0, executor.calls())

	entries := logs.FilterMessage("Firewall rejected query").All()
	require.Len(t, entries, 1)
	assert.Equal(t, OriginDirect, entries[0].ContextMap()["origin"])
}

func TestSecureQuery_ViolationRules(t *testing.T) {
	tests := []struct {
		query string
		rule  string
	}{
		{"", "empty_query"},
		{"SELECT * FROM sales; DELETE FROM sales", "blocked_keyword"},
		{"SELECT 1; SELECT 2", "multiple_statements"},
		{"SELECT * FROM pg_catalog.pg_tables", "system_catalog_access"},
		{"UPDATE sales SET total_amount = 0", "not_a_read_operation"},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			executor := &mockExecutor{}
			fw, _ := newTestFirewall(executor, config.FirewallConfig{})

			_, err := fw.Execute(context.Background(), tt.query)

			var violation *SecurityViolationError
			require.True(t, errors.As(err, &violation))
			assert.Equal(t, tt.rule, violation.Rule())
			assert.Equal(t, 0, executor.calls())
		})
	}
}

func TestSecureQuery_SelectOne(t *testing.T) {
	executor := &mockExecutor{
		QueryFunc: func(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error) {
			return singleColumnRows("?column?", 1), nil
		},
	}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{})

	result, err := fw.Execute(context.Background(), "SELECT 1;")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, []string{"?column?"}, result.Columns)
	v, ok := result.Rows[0].Get("?column?")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	// The trailing semicolon is dropped before the statement reaches the database
	assert.Equal(t, []string{"SELECT 1"}, executor.queries)
}

func TestSecureQuery_PassesLimitsToExecutor(t *testing.T) {
	executor := &mockExecutor{}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{MaxRows: 500, StatementTimeoutSeconds: 5})

	_, err := fw.Execute(context.Background(), "SELECT id FROM customers")
	require.NoError(t, err)

	require.Len(t, executor.opts, 1)
	assert.Equal(t, 500, executor.opts[0].MaxRows)
	assert.Equal(t, "5s", executor.opts[0].StatementTimeout.String())
}

func TestSecureQuery_DefaultsLimits(t *testing.T) {
	executor := &mockExecutor{}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{})

	_, err := fw.Execute(context.Background(), "SELECT id FROM customers")
	require.NoError(t, err)

	assert.Equal(t, 10000, executor.opts[0].MaxRows)
	assert.Equal(t, "30s", executor.opts[0].StatementTimeout.String())
}

func TestSecureQuery_TrailingCommentIsStripped(t *testing.T) {
	executor := &mockExecutor{}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{})

	_, err := fw.Execute(context.Background(), "SELECT id FROM agents; -- list agents")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT id FROM agents"}, executor.queries)
}

func TestSecureQuery_InjectionInParameter(t *testing.T) {
	executor := &mockExecutor{}
	fw, logs := newTestFirewall(executor, config.FirewallConfig{})

	_, err := fw.Execute(context.Background(),
		"SELECT * FROM customers WHERE name = $1",
		"' OR '1'='1' --")

	var violation *SecurityViolationError
	require.True(t, errors.As(err, &violation))
	assert.ErrorIs(t, err, ErrInjectionDetected)
	assert.Equal(t, "sql_injection", violation.Rule())
	assert.Equal(t, 0, executor.calls())

	entries := logs.FilterMessage("SQL injection attempt detected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "$1", entries[0].ContextMap()["placeholder"])
}

func TestSecureQuery_CleanParametersPass(t *testing.T) {
	executor := &mockExecutor{}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{})

	_, err := fw.Execute(context.Background(),
		"SELECT * FROM customers WHERE name = $1 AND id > $2",
		"ООО Сладость", 10)

	require.NoError(t, err)
	assert.Equal(t, 1, executor.calls())
}

func TestSecureQuery_ExecutionErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantTimeout bool
		wantMessage string
	}{
		{"timeout", fmt.Errorf("wrapped: %w", datasource.ErrQueryTimeout), true, "слишком долго"},
		{"connection", fmt.Errorf("wrapped: %w", datasource.ErrConnectionFailed), false, "недоступна"},
		{"runtime", errors.New("column \"foo\" does not exist"), false, "Не удалось выполнить"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &mockExecutor{
				QueryFunc: func(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error) {
					return nil, tt.err
				},
			}
			fw, _ := newTestFirewall(executor, config.FirewallConfig{})

			_, err := fw.Execute(context.Background(), "SELECT * FROM sales")

			var execErr *ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.Equal(t, tt.wantTimeout, execErr.Timeout)
			assert.Contains(t, execErr.UserMessage(), tt.wantMessage)

			var violation *SecurityViolationError
			assert.False(t, errors.As(err, &violation))
		})
	}
}

func TestSecureQuery_ReadOnlyViolationFromDatabase(t *testing.T) {
	executor := &mockExecutor{
		QueryFunc: func(ctx context.Context, sqlQuery string, params []any, opts datasource.ReadOnlyOptions) (*datasource.QueryExecutionResult, error) {
			return nil, datasource.ErrReadOnlyViolation
		},
	}
	fw, _ := newTestFirewall(executor, config.FirewallConfig{})

	_, err := fw.Execute(WithQueryOrigin(context.Background(), OriginGenerated), "SELECT nextval('sales_id_seq')")

	var violation *SecurityViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "read_only_violation", violation.Rule())
}

func TestSecureQuery_ConfiguredLengthCap(t *testing.T) {
	fw, _ := newTestFirewall(&mockExecutor{}, config.FirewallConfig{MaxQueryLength: 20})

	assert.NoError(t, fw.Validate("SELECT 1"))
	err := fw.Validate("SELECT id, name FROM customers")
	assert.ErrorIs(t, err, sqlfw.ErrQueryTooLong)
}

func TestSecureQuery_IsAvailable(t *testing.T) {
	fw, _ := newTestFirewall(&mockExecutor{}, config.FirewallConfig{})
	assert.True(t, fw.IsAvailable(context.Background()))

	fw, logs := newTestFirewall(&mockExecutor{
		PingFunc: func(ctx context.Context) error { return datasource.ErrConnectionFailed },
	}, config.FirewallConfig{})
	assert.False(t, fw.IsAvailable(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("Database availability probe failed").Len())
}

func TestSecureQuery_AuditCarriesRequestInfo(t *testing.T) {
	fw, logs := newTestFirewall(&mockExecutor{}, config.FirewallConfig{})
	ctx := audit.WithRequestInfo(context.Background(), audit.RequestInfo{SessionID: "s-1", ClientIP: "10.0.0.7"})

	_, _ = fw.Execute(ctx, "TRUNCATE sales")

	entries := logs.FilterMessage("Firewall rejected query").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s-1", fields["session_id"])
	assert.Equal(t, "10.0.0.7", fields["client_ip"])
}
