package llm

import (
	"context"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const (
	defaultAnthropicMaxTokens = 2048
	anthropicJSONInstruction  = "\n\nRespond with a single JSON object and nothing else."
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client   *anthropic.Client
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAnthropicClient creates a Messages API client. Endpoint may be empty to
// use the SDK default.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) *AnthropicClient {
	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(cfg.APIKey, opts...),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		logger:   logger.Named("llm_anthropic"),
	}
}

// Complete runs one Messages API call. The API has no JSON response format,
// so JSONMode is expressed as an extra system instruction and callers still
// extract the object with ExtractJSON.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if !c.IsAvailable() {
		return nil, ErrNotConfigured
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	system := req.SystemPrompt
	if req.JSONMode {
		system += anthropicJSONInstruction
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := float32(req.Temperature)
	prompt := req.UserPrompt

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		return nil, llmErr
	}

	text := extractTextFromResponse(resp)
	if text == "" {
		return nil, NewErrorWithContext(ErrorTypeUnknown, "no text content in response", true, nil, c.model, c.endpoint, 0)
	}

	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &CompletionResult{
		Content:          text,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// IsAvailable returns true when an API key is configured.
func (c *AnthropicClient) IsAvailable() bool {
	return c.apiKey != ""
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint, or the SDK default marker.
func (c *AnthropicClient) GetEndpoint() string {
	if c.endpoint == "" {
		return "https://api.anthropic.com/v1"
	}
	return c.endpoint
}

func extractTextFromResponse(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
