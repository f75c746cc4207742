package handlers

import (
	"context"
	"net/http"

	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/services"
)

// mockIntelligenceService is a function-field mock for assistant handler tests.
type mockIntelligenceService struct {
	ProcessMessageFunc func(ctx context.Context, sessionID, message string) (*models.AssistantResponse, error)
	HistoryFunc        func(ctx context.Context, sessionID string) ([]models.ConversationTurn, error)
	ClearSessionFunc   func(ctx context.Context, sessionID string) error
}

func (m *mockIntelligenceService) ProcessMessage(ctx context.Context, sessionID, message string) (*models.AssistantResponse, error) {
	return m.ProcessMessageFunc(ctx, sessionID, message)
}

func (m *mockIntelligenceService) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	return m.HistoryFunc(ctx, sessionID)
}

func (m *mockIntelligenceService) ClearSession(ctx context.Context, sessionID string) error {
	return m.ClearSessionFunc(ctx, sessionID)
}

// mockFirewall is a function-field mock of services.SecureQueryService.
type mockFirewall struct {
	ValidateFunc func(query string) error
	available    bool
}

func (m *mockFirewall) Validate(query string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(query)
	}
	return nil
}

func (m *mockFirewall) Execute(ctx context.Context, query string, params ...any) (*models.QueryResult, error) {
	return &models.QueryResult{Success: true}, nil
}

func (m *mockFirewall) IsAvailable(ctx context.Context) bool {
	return m.available
}

// mockSQLQueryService is a function-field mock of services.SQLQueryService.
type mockSQLQueryService struct {
	QueryFromQuestionFunc func(ctx context.Context, question string) *models.QuestionQueryResult
}

func (m *mockSQLQueryService) GenerateSQL(ctx context.Context, question string) (*models.GeneratedSQLQuery, error) {
	return nil, nil
}

func (m *mockSQLQueryService) ExecuteQuery(ctx context.Context, sqlQuery string) (*models.QueryResult, error) {
	return nil, nil
}

func (m *mockSQLQueryService) QueryFromQuestion(ctx context.Context, question string) *models.QuestionQueryResult {
	return m.QueryFromQuestionFunc(ctx, question)
}

func passThrough(next http.Handler) http.Handler { return next }

var (
	_ services.IntelligenceService = (*mockIntelligenceService)(nil)
	_ services.SecureQueryService  = (*mockFirewall)(nil)
	_ services.SQLQueryService     = (*mockSQLQueryService)(nil)
)
