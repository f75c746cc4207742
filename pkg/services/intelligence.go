package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweetline/sales-assistant/pkg/apperrors"
	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/prompts"
	"github.com/sweetline/sales-assistant/pkg/repositories"
	"github.com/sweetline/sales-assistant/pkg/websearch"
)

const (
	synthesisTemperature = 0.3

	assistantUnavailableMessage = "Ассистент временно недоступен: сервис языковой модели не отвечает. Попробуйте позже."
	clarificationFallback       = "Уточните, пожалуйста, вопрос: какой период и какой показатель вас интересует?"
	evidenceDumpPreamble        = "Не удалось сформулировать развёрнутый ответ. Вот что удалось найти:\n\n"
	synthesisApology            = "Извините, сейчас не получается ответить на вопрос. Попробуйте переформулировать его или повторить позже."
	webSearchNotConfigured      = "веб-поиск не настроен"
)

// IntelligenceService answers assistant messages: it classifies the message,
// gathers evidence from the sales database and the web, and synthesizes a
// grounded answer.
type IntelligenceService interface {
	// ProcessMessage handles one user message. An empty sessionID starts a new
	// session. The only errors returned are for invalid input; every other
	// failure degrades into the response.
	ProcessMessage(ctx context.Context, sessionID, message string) (*models.AssistantResponse, error)

	// History returns the stored turns of a session.
	History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error)

	// ClearSession forgets a session.
	ClearSession(ctx context.Context, sessionID string) error
}

type intelligenceService struct {
	llmClient       llm.LLMClient
	classifier      IntentClassifier
	sqlService      SQLQueryService
	searcher        websearch.Searcher
	repo            repositories.ConversationRepository
	businessContext string
	cfg             config.AssistantConfig
	searchCfg       config.WebSearchConfig
	weights         QualityWeights
	logger          *zap.Logger
}

// NewIntelligenceService wires the intent router. searcher may be nil when web
// search is not configured; businessContext may be nil.
func NewIntelligenceService(
	llmClient llm.LLMClient,
	sqlService SQLQueryService,
	searcher websearch.Searcher,
	repo repositories.ConversationRepository,
	businessContext *prompts.BusinessContext,
	cfg config.AssistantConfig,
	searchCfg config.WebSearchConfig,
	logger *zap.Logger,
) IntelligenceService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = repositories.DefaultHistoryLimit
	}
	if cfg.ClassifierTurns <= 0 {
		cfg.ClassifierTurns = 3
	}
	if cfg.Language == "" {
		cfg.Language = "Russian"
	}
	if cfg.SynthesisMaxTokens <= 0 {
		cfg.SynthesisMaxTokens = 1500
	}
	return &intelligenceService{
		llmClient:       llmClient,
		classifier:      NewIntentClassifier(llmClient, logger),
		sqlService:      sqlService,
		searcher:        searcher,
		repo:            repo,
		businessContext: businessContext.Format(),
		cfg:             cfg,
		searchCfg:       searchCfg,
		weights:         DefaultQualityWeights(),
		logger:          logger.Named("intelligence"),
	}
}

var _ IntelligenceService = (*intelligenceService)(nil)

func (s *intelligenceService) ProcessMessage(ctx context.Context, sessionID, message string) (*models.AssistantResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", apperrors.ErrInvalidInput)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if !s.llmClient.IsAvailable() {
		s.logger.Warn("LLM unavailable, refusing message", zap.String("session_id", sessionID))
		return &models.AssistantResponse{
			Response:             assistantUnavailableMessage,
			SessionID:            sessionID,
			Sources:              []models.Source{},
			QualityScore:         MinQualityScore,
			AssistantUnavailable: true,
		}, nil
	}

	start := time.Now()

	history, err := s.repo.Recent(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("Failed to load history, continuing without it",
			zap.String("session_id", sessionID),
			zap.Error(err))
		history = nil
	}

	classification := s.classifier.Classify(ctx, message, lastTurns(history, s.cfg.ClassifierTurns))

	if s.needsClarification(classification) {
		response := classification.ClarifyingQuestion
		if response == "" {
			response = clarificationFallback
		}
		s.persist(ctx, sessionID, message, response)
		return &models.AssistantResponse{
			Response:       response,
			SessionID:      sessionID,
			Sources:        []models.Source{},
			Classification: classification,
			QualityScore: ScoreResponse(ScoreInput{
				Response:   response,
				Confidence: classification.Confidence,
			}, s.weights),
			NeedsClarification: true,
		}, nil
	}

	evidence, sources := s.gatherEvidence(ctx, message, classification)

	response := s.synthesize(ctx, message, history, evidence)

	score := ScoreResponse(ScoreInput{
		Response:        response,
		Confidence:      classification.Confidence,
		DataRoute:       classification.Type.IsDataRoute(),
		InternalRows:    internalRowCount(evidence),
		ExternalResults: externalResultCount(evidence),
	}, s.weights)
	if s.weights.NeedsDisclaimer(score) {
		response += LowQualityDisclaimer
	}

	s.persist(ctx, sessionID, message, response)

	s.logger.Info("Processed message",
		zap.String("session_id", sessionID),
		zap.String("intent", string(classification.Type)),
		zap.Float64("confidence", classification.Confidence),
		zap.Int("sources", len(sources)),
		zap.Int("quality_score", score),
		zap.Duration("elapsed", time.Since(start)))

	return &models.AssistantResponse{
		Response:       response,
		SessionID:      sessionID,
		Sources:        sources,
		Classification: classification,
		QualityScore:   score,
	}, nil
}

func (s *intelligenceService) needsClarification(c *models.IntentClassification) bool {
	if c.Type == models.IntentClarify {
		return true
	}
	return c.Type != models.IntentChat && c.Confidence < s.cfg.ConfidenceThreshold
}

// gatherEvidence runs the tools the route calls for. HYBRID runs both at once.
// Tool failures become error sources and are never returned.
func (s *intelligenceService) gatherEvidence(ctx context.Context, message string, c *models.IntentClassification) (*prompts.Evidence, []models.Source) {
	evidence := &prompts.Evidence{BusinessContext: s.businessContext}

	var internalSource, externalSource *models.Source
	var g errgroup.Group

	if c.Type.NeedsInternalData() {
		g.Go(func() error {
			internalSource = s.runInternal(ctx, message, evidence)
			return nil
		})
	}
	if c.Type.NeedsWebSearch() {
		query := message
		if len(c.SearchQueries) > 0 {
			query = c.SearchQueries[0]
		}
		g.Go(func() error {
			externalSource = s.runExternal(ctx, query, evidence)
			return nil
		})
	}
	_ = g.Wait()

	sources := []models.Source{}
	if internalSource != nil {
		sources = append(sources, *internalSource)
	}
	if externalSource != nil {
		sources = append(sources, *externalSource)
	}
	return evidence, sources
}

// runInternal writes only evidence.Internal, so it can run beside runExternal.
func (s *intelligenceService) runInternal(ctx context.Context, question string, evidence *prompts.Evidence) *models.Source {
	out := s.sqlService.QueryFromQuestion(ctx, question)
	source := &models.Source{Type: models.SourceInternal, SQL: out.SQL}

	if !out.Success {
		s.logger.Warn("Internal data lookup failed",
			zap.String("error_kind", string(out.ErrorKind)),
			zap.String("sql", logging.SanitizeQuery(out.SQL)),
			zap.String("error", logging.SanitizeMessage(out.Error)))
		source.Status = models.SourceStatusError
		source.Details = out.Error
		return source
	}

	rowCount := out.Result.RowCount
	source.Status = models.SourceStatusSuccess
	source.RowCount = &rowCount
	source.Details = out.Explanation
	if source.Details == "" {
		source.Details = fmt.Sprintf("строк: %d", rowCount)
	}

	evidence.Internal = &prompts.InternalEvidence{
		SQL:         out.SQL,
		Explanation: out.Explanation,
		Result:      out.Result,
	}
	return source
}

// runExternal writes only evidence.External.
func (s *intelligenceService) runExternal(ctx context.Context, query string, evidence *prompts.Evidence) *models.Source {
	source := &models.Source{Type: models.SourceExternal}

	if s.searcher == nil || !s.searcher.IsAvailable() {
		source.Status = models.SourceStatusError
		source.Details = webSearchNotConfigured
		return source
	}

	resp, err := s.searcher.Search(ctx, websearch.Request{
		Query:          query,
		Depth:          s.searchCfg.SearchDepth,
		IncludeDomains: s.searchCfg.IncludeDomains,
		ExcludeDomains: s.searchCfg.ExcludeDomains,
		MaxResults:     s.searchCfg.MaxResults,
	})
	if err != nil {
		s.logger.Warn("Web search failed",
			zap.String("query", logging.TruncateString(query, 100)),
			zap.String("error", logging.SanitizeError(err)))
		source.Status = models.SourceStatusError
		source.Details = "ошибка веб-поиска"
		return source
	}

	source.Status = models.SourceStatusSuccess
	source.Details = fmt.Sprintf("найдено результатов: %d", len(resp.Results))
	source.URLs = resp.URLs()

	evidence.External = &prompts.ExternalEvidence{Query: query, Response: resp}
	return source
}

// synthesize makes the final LLM call. On failure the user gets the raw
// evidence, or an apology when there is none.
func (s *intelligenceService) synthesize(ctx context.Context, message string, history []models.ConversationTurn, evidence *prompts.Evidence) string {
	result, err := s.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompts.SynthesisSystemMessage(s.cfg.Language),
		UserPrompt:   prompts.BuildSynthesisPrompt(message, history, evidence, s.cfg.Language, s.logger),
		Temperature:  synthesisTemperature,
		MaxTokens:    s.cfg.SynthesisMaxTokens,
	})
	if err == nil && strings.TrimSpace(result.Content) != "" {
		return strings.TrimSpace(result.Content)
	}

	if err != nil {
		s.logger.Error("Synthesis failed, returning raw evidence",
			zap.String("error", logging.SanitizeError(err)))
	} else {
		s.logger.Warn("Synthesis returned an empty answer, returning raw evidence")
	}

	if dump := prompts.FormatEvidenceDump(evidence); dump != "" {
		return evidenceDumpPreamble + dump
	}
	return synthesisApology
}

// persist stores both turns. A store failure loses history but not the answer.
func (s *intelligenceService) persist(ctx context.Context, sessionID, message, response string) {
	if err := s.repo.Append(ctx, sessionID, models.RoleUser, message); err != nil {
		s.logger.Error("Failed to store user turn", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := s.repo.Append(ctx, sessionID, models.RoleAssistant, response); err != nil {
		s.logger.Error("Failed to store assistant turn", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *intelligenceService) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	return s.repo.History(ctx, sessionID)
}

func (s *intelligenceService) ClearSession(ctx context.Context, sessionID string) error {
	return s.repo.Clear(ctx, sessionID)
}

func lastTurns(history []models.ConversationTurn, n int) []models.ConversationTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func internalRowCount(e *prompts.Evidence) int {
	if e.Internal == nil || e.Internal.Result == nil {
		return 0
	}
	return e.Internal.Result.RowCount
}

func externalResultCount(e *prompts.Evidence) int {
	if e.External == nil || e.External.Response == nil {
		return 0
	}
	return len(e.External.Response.Results)
}
