package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/apperrors"
	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/prompts"
	"github.com/sweetline/sales-assistant/pkg/repositories"
	"github.com/sweetline/sales-assistant/pkg/websearch"
)

type mockSQLQueryService struct {
	QueryFromQuestionFunc func(ctx context.Context, question string) *models.QuestionQueryResult
	calls                 atomic.Int32
}

func (m *mockSQLQueryService) GenerateSQL(ctx context.Context, question string) (*models.GeneratedSQLQuery, error) {
	return nil, errors.New("not used")
}

func (m *mockSQLQueryService) ExecuteQuery(ctx context.Context, sqlQuery string) (*models.QueryResult, error) {
	return nil, errors.New("not used")
}

func (m *mockSQLQueryService) QueryFromQuestion(ctx context.Context, question string) *models.QuestionQueryResult {
	m.calls.Add(1)
	if m.QueryFromQuestionFunc != nil {
		return m.QueryFromQuestionFunc(ctx, question)
	}
	return &models.QuestionQueryResult{Question: question, Error: "not configured", ErrorKind: models.QueryErrorGeneration}
}

type mockSearcher struct {
	SearchFunc  func(ctx context.Context, req websearch.Request) (*websearch.Response, error)
	Unavailable bool
	calls       atomic.Int32
}

func (m *mockSearcher) Search(ctx context.Context, req websearch.Request) (*websearch.Response, error) {
	m.calls.Add(1)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, req)
	}
	return &websearch.Response{Success: true}, nil
}

func (m *mockSearcher) IsAvailable() bool {
	return !m.Unavailable
}

var (
	_ SQLQueryService    = (*mockSQLQueryService)(nil)
	_ websearch.Searcher = (*mockSearcher)(nil)
)

// routerLLM answers the classification call with classification and the
// synthesis call with synthesis (or synthesisErr).
func routerLLM(classification, synthesis string, synthesisErr error) *llm.MockLLMClient {
	client := llm.NewMockLLMClient()
	client.CompleteFunc = func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
		if req.SystemPrompt == prompts.ClassificationSystemMessage() {
			return &llm.CompletionResult{Content: classification}, nil
		}
		if synthesisErr != nil {
			return nil, synthesisErr
		}
		return &llm.CompletionResult{Content: synthesis}, nil
	}
	return client
}

type routerFixture struct {
	svc      IntelligenceService
	llm      *llm.MockLLMClient
	sql      *mockSQLQueryService
	searcher *mockSearcher
	repo     repositories.ConversationRepository
}

func newRouterFixture(client *llm.MockLLMClient, sqlSvc *mockSQLQueryService, searcher *mockSearcher) *routerFixture {
	repo := repositories.NewMemoryConversationRepository(10, 0)
	cfg := config.AssistantConfig{ConfidenceThreshold: 0.8, HistoryLimit: 10, ClassifierTurns: 3, Language: "Russian"}
	svc := NewIntelligenceService(client, sqlSvc, searcher, repo, nil, cfg,
		config.WebSearchConfig{SearchDepth: websearch.DepthBasic, MaxResults: 5}, zap.NewNop())
	return &routerFixture{svc: svc, llm: client, sql: sqlSvc, searcher: searcher, repo: repo}
}

func mayResult() *models.QuestionQueryResult {
	return &models.QuestionQueryResult{
		Success:     true,
		SQL:         "SELECT SUM(total_amount) AS total_sales FROM sales WHERE sale_date >= '2025-05-01' AND sale_date < '2025-06-01'",
		Explanation: "Сумма продаж за май 2025",
		Result: &models.QueryResult{
			Success:  true,
			Columns:  []string{"total_sales"},
			Rows:     []models.Row{models.NewRow([]string{"total_sales"}, []any{1250000.0})},
			RowCount: 1,
		},
	}
}

func TestProcessMessage_ChatRunsNoTools(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "CHAT", "confidence": 0.98, "reasoning": "greeting"}`, "Здравствуйте! Чем могу помочь?", nil),
		&mockSQLQueryService{}, &mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "", "привет")

	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, models.IntentChat, resp.Classification.Type)
	assert.Equal(t, "Здравствуйте! Чем могу помочь?", resp.Response)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, int32(0), f.sql.calls.Load())
	assert.Equal(t, int32(0), f.searcher.calls.Load())
	assert.Equal(t, 2, f.llm.CallCount())

	history, err := f.repo.History(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "привет", history[0].Content)
}

func TestProcessMessage_LowConfidenceAsksForClarification(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "INTERNAL_DB", "confidence": 0.6, "reasoning": "period unclear",
			"clarifying_question": "За какой период показать продажи?"}`, "unused", nil),
		&mockSQLQueryService{QueryFromQuestionFunc: func(ctx context.Context, q string) *models.QuestionQueryResult { return mayResult() }},
		&mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "s-1", "Покажи продажи")

	require.NoError(t, err)
	assert.True(t, resp.NeedsClarification)
	assert.Equal(t, "За какой период показать продажи?", resp.Response)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, int32(0), f.sql.calls.Load())
	assert.Equal(t, int32(0), f.searcher.calls.Load())
	assert.Equal(t, 1, f.llm.CallCount(), "no synthesis call for clarification")

	history, err := f.repo.History(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProcessMessage_ClarificationBoundary(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		clarify bool
	}{
		{"clarify type", `{"type": "CLARIFY", "confidence": 0.95}`, true},
		{"just below threshold", `{"type": "EXTERNAL_WEB", "confidence": 0.79}`, true},
		{"at threshold", `{"type": "INTERNAL_DB", "confidence": 0.8}`, false},
		{"low confidence chat", `{"type": "CHAT", "confidence": 0.2}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(routerLLM(tt.payload, "ответ", nil), &mockSQLQueryService{}, &mockSearcher{})

			resp, err := f.svc.ProcessMessage(context.Background(), "s", "вопрос")

			require.NoError(t, err)
			assert.Equal(t, tt.clarify, resp.NeedsClarification)
			if tt.clarify {
				assert.Equal(t, int32(0), f.sql.calls.Load()+f.searcher.calls.Load())
				assert.NotEmpty(t, resp.Response)
			}
		})
	}
}

func TestProcessMessage_InternalRoute(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "INTERNAL_DB", "confidence": 0.95, "sql_needed": true}`,
			"По данным базы, в мае 2025 продано на 1 250 000 ₽.", nil),
		&mockSQLQueryService{QueryFromQuestionFunc: func(ctx context.Context, q string) *models.QuestionQueryResult { return mayResult() }},
		&mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "Сколько мы продали в мае 2025?")

	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	src := resp.Sources[0]
	assert.Equal(t, models.SourceInternal, src.Type)
	assert.Equal(t, models.SourceStatusSuccess, src.Status)
	assert.Contains(t, src.SQL, "FROM sales")
	require.NotNil(t, src.RowCount)
	assert.Equal(t, 1, *src.RowCount)
	assert.Equal(t, int32(0), f.searcher.calls.Load())
	// 5 base + 3 rows + 2 confidence + 1 citation
	assert.Equal(t, 10, resp.QualityScore)

	synthesis := f.llm.Requests()[1]
	assert.Contains(t, synthesis.UserPrompt, "1250000")
	assert.Contains(t, synthesis.UserPrompt, "Answer in Russian.")
}

func TestProcessMessage_HybridRunsBothTools(t *testing.T) {
	searcher := &mockSearcher{SearchFunc: func(ctx context.Context, req websearch.Request) (*websearch.Response, error) {
		assert.Equal(t, "рынок конфет 2025", req.Query)
		assert.Equal(t, websearch.DepthBasic, req.Depth)
		return &websearch.Response{Success: true, Results: []websearch.Result{
			{Title: "Рынок", URL: "https://example.ru/a"},
			{Title: "Тренды", URL: "https://example.ru/b"},
		}}, nil
	}}
	f := newRouterFixture(
		routerLLM(`{"type": "HYBRID", "confidence": 0.9, "search_queries": ["рынок конфет 2025"]}`,
			"По данным базы и по данным из интернета мы растём быстрее рынка.", nil),
		&mockSQLQueryService{QueryFromQuestionFunc: func(ctx context.Context, q string) *models.QuestionQueryResult { return mayResult() }},
		searcher)

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "Как наши продажи относительно рынка?")

	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, models.SourceInternal, resp.Sources[0].Type)
	assert.Equal(t, models.SourceExternal, resp.Sources[1].Type)
	assert.Equal(t, []string{"https://example.ru/a", "https://example.ru/b"}, resp.Sources[1].URLs)
	assert.Equal(t, int32(1), f.sql.calls.Load())
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestProcessMessage_ToolFailuresDegrade(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "HYBRID", "confidence": 0.9}`, "К сожалению, данных нет.", nil),
		&mockSQLQueryService{QueryFromQuestionFunc: func(ctx context.Context, q string) *models.QuestionQueryResult {
			return &models.QuestionQueryResult{Question: q, Error: "timeout", ErrorKind: models.QueryErrorExecution}
		}},
		&mockSearcher{SearchFunc: func(ctx context.Context, req websearch.Request) (*websearch.Response, error) {
			assert.Equal(t, "Как дела у конкурентов?", req.Query, "falls back to the raw message")
			return nil, errors.New("tavily down")
		}})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "Как дела у конкурентов?")

	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	for _, src := range resp.Sources {
		assert.Equal(t, models.SourceStatusError, src.Status)
	}
	// 5 base - 3 no evidence + 2 confidence - 1 apology
	assert.Equal(t, 3, resp.QualityScore)
	assert.True(t, strings.HasSuffix(resp.Response, LowQualityDisclaimer))

	history, err := f.repo.History(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(history[1].Content, LowQualityDisclaimer))
}

func TestProcessMessage_SearchNotConfigured(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "EXTERNAL_WEB", "confidence": 0.9}`, "ответ", nil),
		&mockSQLQueryService{}, &mockSearcher{Unavailable: true})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "Цены на какао")

	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, models.SourceStatusError, resp.Sources[0].Status)
	assert.Equal(t, int32(0), f.searcher.calls.Load())
}

func TestProcessMessage_SynthesisFailureDumpsEvidence(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "INTERNAL_DB", "confidence": 0.95}`, "", errors.New("503 service unavailable")),
		&mockSQLQueryService{QueryFromQuestionFunc: func(ctx context.Context, q string) *models.QuestionQueryResult { return mayResult() }},
		&mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "Сколько мы продали в мае 2025?")

	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Данные из базы:")
	assert.Contains(t, resp.Response, "total_sales: 1.25e+06")
}

func TestProcessMessage_SynthesisFailureWithoutEvidenceApologizes(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "CHAT", "confidence": 0.95}`, "", errors.New("boom")),
		&mockSQLQueryService{}, &mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "привет")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Response, synthesisApology))
}

func TestProcessMessage_ClassifierSeesLastThreeTurns(t *testing.T) {
	f := newRouterFixture(
		routerLLM(`{"type": "CHAT", "confidence": 0.95}`, "ок", nil),
		&mockSQLQueryService{}, &mockSearcher{})
	ctx := context.Background()
	for _, content := range []string{"turn-1", "turn-2", "turn-3", "turn-4"} {
		require.NoError(t, f.repo.Append(ctx, "s", models.RoleUser, content))
	}

	_, err := f.svc.ProcessMessage(ctx, "s", "дальше")
	require.NoError(t, err)

	classifierPrompt := f.llm.Requests()[0].UserPrompt
	assert.NotContains(t, classifierPrompt, "turn-1")
	assert.Contains(t, classifierPrompt, "turn-2")
	assert.Contains(t, classifierPrompt, "turn-4")
}

func TestProcessMessage_LLMUnavailable(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.Unavailable = true
	f := newRouterFixture(client, &mockSQLQueryService{}, &mockSearcher{})

	resp, err := f.svc.ProcessMessage(context.Background(), "s", "привет")

	require.NoError(t, err)
	assert.True(t, resp.AssistantUnavailable)
	assert.Equal(t, assistantUnavailableMessage, resp.Response)
	_, err = f.repo.History(context.Background(), "s")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestProcessMessage_EmptyMessage(t *testing.T) {
	f := newRouterFixture(llm.NewMockLLMClient(), &mockSQLQueryService{}, &mockSearcher{})

	_, err := f.svc.ProcessMessage(context.Background(), "s", "   ")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestProcessMessage_RespectsCancellation(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.CompleteFunc = func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &llm.CompletionResult{Content: `{"type": "CHAT", "confidence": 1}`}, nil
		}
	}
	f := newRouterFixture(client, &mockSQLQueryService{}, &mockSearcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := f.svc.ProcessMessage(ctx, "s", "привет")

	require.NoError(t, err)
	assert.Equal(t, ClassificationFailedReasoning, resp.Classification.Reasoning)
}

func TestClearSession(t *testing.T) {
	f := newRouterFixture(routerLLM(`{"type": "CHAT", "confidence": 1}`, "ок", nil), &mockSQLQueryService{}, &mockSearcher{})
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ClearSession(ctx, "nope"), apperrors.ErrSessionNotFound)

	_, err := f.svc.ProcessMessage(ctx, "s", "привет")
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearSession(ctx, "s"))
	_, err = f.svc.History(ctx, "s")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
