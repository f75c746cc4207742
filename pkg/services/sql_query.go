package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/prompts"
	sqlfw "github.com/sweetline/sales-assistant/pkg/sql"
)

const (
	// SummaryRowThreshold is the row count above which results are sampled.
	SummaryRowThreshold = 50
	// SampleRowCount is how many leading rows a sampled result keeps.
	SampleRowCount = 5

	sqlGenerationTemperature = 0.1
	sqlGenerationMaxTokens   = 1024

	emptyResultMessage = "По вашему запросу данных не найдено."
)

// ErrGenerationUnavailable is returned when no LLM is available to write SQL.
var ErrGenerationUnavailable = errors.New("sql generation unavailable: no LLM configured")

// GenerationErrorKind classifies why generated SQL was not accepted.
type GenerationErrorKind string

const (
	GenerationLLMError            GenerationErrorKind = "llm_error"
	GenerationParseError          GenerationErrorKind = "parse"
	GenerationInvalidSQL          GenerationErrorKind = "invalid_sql"
	GenerationTableNotWhitelisted GenerationErrorKind = "table_not_whitelisted"
)

// GenerationError reports a failed or rejected SQL generation. SQL holds the
// model's output when there was one, for diagnostics only; it is never run.
type GenerationError struct {
	Kind        GenerationErrorKind
	SQL         string
	Explanation string
	Err         error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("sql generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// SQLQueryService turns business questions into firewall-checked SQL and runs it.
type SQLQueryService interface {
	// GenerateSQL asks the LLM for a single SELECT over the sales tables and
	// re-validates it. Nothing is executed.
	GenerateSQL(ctx context.Context, question string) (*models.GeneratedSQLQuery, error)

	// ExecuteQuery runs SQL through the firewall and samples large results.
	ExecuteQuery(ctx context.Context, sqlQuery string) (*models.QueryResult, error)

	// QueryFromQuestion generates and executes. Failures are reported in the
	// result rather than returned.
	QueryFromQuestion(ctx context.Context, question string) *models.QuestionQueryResult
}

type sqlQueryService struct {
	llmClient llm.LLMClient
	firewall  SecureQueryService
	allowed   map[string]bool
	now       func() time.Time
	logger    *zap.Logger
}

// NewSQLQueryService creates the SQL generator over an LLM client and the firewall.
func NewSQLQueryService(llmClient llm.LLMClient, firewall SecureQueryService, logger *zap.Logger) SQLQueryService {
	return &sqlQueryService{
		llmClient: llmClient,
		firewall:  firewall,
		allowed:   prompts.AllowedTables(),
		now:       time.Now,
		logger:    logger.Named("sql_generator"),
	}
}

var _ SQLQueryService = (*sqlQueryService)(nil)

func (s *sqlQueryService) GenerateSQL(ctx context.Context, question string) (*models.GeneratedSQLQuery, error) {
	if s.llmClient == nil || !s.llmClient.IsAvailable() {
		return nil, ErrGenerationUnavailable
	}

	result, err := s.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompts.SQLGenerationSystemMessage(),
		UserPrompt:   prompts.BuildSQLGenerationPrompt(question, s.now()),
		Temperature:  sqlGenerationTemperature,
		MaxTokens:    sqlGenerationMaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		if llm.IsUnavailable(err) {
			return nil, ErrGenerationUnavailable
		}
		return nil, &GenerationError{Kind: GenerationLLMError, Err: err}
	}

	generated, err := llm.ParseJSONResponse[models.GeneratedSQLQuery](result.Content)
	if err != nil {
		return nil, &GenerationError{Kind: GenerationParseError, Err: err}
	}
	generated.SQL = strings.TrimSpace(generated.SQL)

	if err := s.checkGenerated(generated.SQL); err != nil {
		s.logger.Warn("Rejected generated SQL",
			zap.String("question", logging.TruncateString(question, 100)),
			zap.String("sql", logging.SanitizeQuery(generated.SQL)),
			zap.Error(err))
		var tableErr *sqlfw.TableNotWhitelistedError
		kind := GenerationInvalidSQL
		if errors.As(err, &tableErr) {
			kind = GenerationTableNotWhitelisted
		}
		return nil, &GenerationError{Kind: kind, SQL: generated.SQL, Explanation: generated.Explanation, Err: err}
	}

	s.logger.Debug("Generated SQL",
		zap.String("sql", logging.SanitizeQuery(generated.SQL)),
		zap.Int("total_tokens", result.TotalTokens))

	return &generated, nil
}

// checkGenerated applies the generator's own rules, which are stricter than
// the firewall: SELECT only, and only whitelisted tables.
func (s *sqlQueryService) checkGenerated(sqlQuery string) error {
	if sqlQuery == "" {
		return sqlfw.ErrEmptyQuery
	}
	cleaned := strings.TrimSpace(sqlfw.StripComments(sqlQuery))
	if !strings.HasPrefix(strings.ToUpper(cleaned), "SELECT") {
		return sqlfw.ErrNotAReadOperation
	}
	if normalized := sqlfw.ValidateAndNormalize(cleaned); normalized.Error != nil {
		return normalized.Error
	}
	if kw := sqlfw.FindBlockedKeyword(cleaned); kw != "" {
		return &sqlfw.ValidationError{Err: sqlfw.ErrBlockedKeyword, Keyword: kw}
	}
	return sqlfw.CheckTableWhitelist(cleaned, s.allowed)
}

func (s *sqlQueryService) ExecuteQuery(ctx context.Context, sqlQuery string) (*models.QueryResult, error) {
	result, err := s.firewall.Execute(WithQueryOrigin(ctx, OriginGenerated), sqlQuery)
	if err != nil {
		return nil, err
	}

	if result.RowCount == 0 {
		result.Message = emptyResultMessage
		return result, nil
	}

	if result.RowCount > SummaryRowThreshold {
		SampleResult(result)
	}
	return result, nil
}

func (s *sqlQueryService) QueryFromQuestion(ctx context.Context, question string) *models.QuestionQueryResult {
	out := &models.QuestionQueryResult{Question: question}

	generated, err := s.GenerateSQL(ctx, question)
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = models.QueryErrorGeneration
		if errors.Is(err, ErrGenerationUnavailable) {
			out.ErrorKind = models.QueryErrorUnavailable
		}
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			out.SQL = genErr.SQL
		}
		return out
	}
	out.SQL = generated.SQL
	out.Explanation = generated.Explanation

	result, err := s.ExecuteQuery(ctx, generated.SQL)
	if err != nil {
		var violation *SecurityViolationError
		var execErr *ExecutionError
		switch {
		case errors.As(err, &violation):
			out.ErrorKind = models.QueryErrorSecurity
			out.Error = err.Error()
		case errors.As(err, &execErr):
			out.ErrorKind = models.QueryErrorExecution
			out.Error = execErr.UserMessage()
		default:
			out.ErrorKind = models.QueryErrorExecution
			out.Error = err.Error()
		}
		return out
	}

	out.Success = true
	out.Result = result
	return out
}

// SampleResult replaces a large result's rows with its first few and attaches
// aggregates computed over every row. Summary.TotalRows equals RowCount.
func SampleResult(result *models.QueryResult) {
	result.Summary = Summarize(result.Columns, result.Rows)
	result.Summary.TotalRows = result.RowCount
	if len(result.Rows) > SampleRowCount {
		result.Rows = result.Rows[:SampleRowCount]
	}
	result.Truncated = true
}

// Summarize computes min/max/avg/sum/count for every column whose non-null
// values are all numeric.
func Summarize(columns []string, rows []models.Row) *models.ResultSummary {
	summary := &models.ResultSummary{
		TotalRows: len(rows),
		Columns:   make(map[string]*models.ColumnStats),
	}

	for i, column := range columns {
		stats := &models.ColumnStats{Min: math.Inf(1), Max: math.Inf(-1)}
		numeric := true
		for _, row := range rows {
			if i >= len(row.Values) || row.Values[i] == nil {
				continue
			}
			f, ok := toFloat(row.Values[i])
			if !ok {
				numeric = false
				break
			}
			stats.Count++
			stats.Sum += f
			stats.Min = math.Min(stats.Min, f)
			stats.Max = math.Max(stats.Max, f)
		}
		if !numeric || stats.Count == 0 {
			continue
		}
		stats.Avg = stats.Sum / float64(stats.Count)
		summary.Columns[column] = stats
	}

	return summary
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
