package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/config"
)

// providerDefaults are used when llm.base_url or llm.model is left empty.
var providerDefaults = map[string]struct {
	endpoint string
	model    string
}{
	"openai":    {endpoint: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	"groq":      {endpoint: "https://api.groq.com/openai/v1", model: "llama-3.3-70b-versatile"},
	"gemini":    {endpoint: "https://generativelanguage.googleapis.com/v1beta/openai", model: "gemini-2.0-flash"},
	"anthropic": {endpoint: "", model: "claude-sonnet-4-5-20250929"},
}

// NewFromConfig builds the configured provider's client wrapped in a circuit
// breaker. A missing API key still yields a client; it reports
// IsAvailable() == false so the assistant can answer with a clear message.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	defaults, ok := providerDefaults[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	clientCfg := &Config{
		Endpoint: cfg.BaseURL,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout(),
	}
	if clientCfg.Endpoint == "" {
		clientCfg.Endpoint = defaults.endpoint
	}
	if clientCfg.Model == "" {
		clientCfg.Model = defaults.model
	}

	var inner LLMClient
	if cfg.Provider == "anthropic" {
		inner = NewAnthropicClient(clientCfg, logger)
	} else {
		client, err := NewClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
		}
		inner = client
	}

	breakerCfg := DefaultCircuitBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		breakerCfg.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSeconds > 0 {
		breakerCfg.ResetAfter = cfg.BreakerReset()
	}

	logger.Info("LLM client configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", clientCfg.Model),
		zap.Bool("available", inner.IsAvailable()))

	return NewBreakerClient(inner, breakerCfg, logger), nil
}
