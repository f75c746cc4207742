package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/prompts"
)

const (
	classificationTemperature = 0.0
	classificationMaxTokens   = 512

	// ClassificationFailedReasoning marks a classification that fell back to CHAT.
	ClassificationFailedReasoning = "Error in classification"
	classificationFallbackScore   = 0.5
)

// IntentClassifier decides which route a message takes.
type IntentClassifier interface {
	// Classify never fails: any error yields a CHAT classification with
	// ClassificationFailedReasoning.
	Classify(ctx context.Context, message string, history []models.ConversationTurn) *models.IntentClassification
}

type intentClassifier struct {
	llmClient llm.LLMClient
	logger    *zap.Logger
}

// NewIntentClassifier creates an LLM-backed classifier.
func NewIntentClassifier(llmClient llm.LLMClient, logger *zap.Logger) IntentClassifier {
	return &intentClassifier{
		llmClient: llmClient,
		logger:    logger.Named("intent_classifier"),
	}
}

var _ IntentClassifier = (*intentClassifier)(nil)

func (c *intentClassifier) Classify(ctx context.Context, message string, history []models.ConversationTurn) *models.IntentClassification {
	result, err := c.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompts.ClassificationSystemMessage(),
		UserPrompt:   prompts.BuildClassificationPrompt(message, history),
		Temperature:  classificationTemperature,
		MaxTokens:    classificationMaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		c.logger.Warn("Classification call failed, falling back to CHAT",
			zap.String("error", logging.SanitizeError(err)))
		return fallbackClassification()
	}

	classification, err := ParseClassification(result.Content)
	if err != nil {
		c.logger.Warn("Classification response rejected, falling back to CHAT",
			zap.String("response", logging.TruncateString(result.Content, 200)),
			zap.Error(err))
		return fallbackClassification()
	}

	c.logger.Debug("Classified message",
		zap.String("type", string(classification.Type)),
		zap.Float64("confidence", classification.Confidence))
	return classification
}

// classificationPayload mirrors the JSON the classifier is asked for. Pointers
// tell a missing field apart from a zero value.
type classificationPayload struct {
	Type               *string  `json:"type"`
	Confidence         *float64 `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	ClarifyingQuestion string   `json:"clarifying_question"`
	SearchQueries      []string `json:"search_queries"`
	SQLNeeded          bool     `json:"sql_needed"`
}

// ParseClassification decodes and validates a classifier response. type and
// confidence are required; type must be a known route and confidence must lie
// in [0, 1].
func ParseClassification(content string) (*models.IntentClassification, error) {
	payload, err := llm.ParseJSONResponse[classificationPayload](content)
	if err != nil {
		return nil, err
	}
	if payload.Type == nil {
		return nil, errors.New("classification is missing type")
	}
	if payload.Confidence == nil {
		return nil, errors.New("classification is missing confidence")
	}

	intent := models.IntentType(strings.ToUpper(strings.TrimSpace(*payload.Type)))
	if !intent.IsValid() {
		return nil, fmt.Errorf("unknown intent type %q", *payload.Type)
	}
	confidence := *payload.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", confidence)
	}

	var queries []string
	for _, q := range payload.SearchQueries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}

	return &models.IntentClassification{
		Type:               intent,
		Confidence:         confidence,
		Reasoning:          payload.Reasoning,
		ClarifyingQuestion: strings.TrimSpace(payload.ClarifyingQuestion),
		SearchQueries:      queries,
		SQLNeeded:          payload.SQLNeeded,
	}, nil
}

func fallbackClassification() *models.IntentClassification {
	return &models.IntentClassification{
		Type:       models.IntentChat,
		Confidence: classificationFallbackScore,
		Reasoning:  ClassificationFailedReasoning,
	}
}
