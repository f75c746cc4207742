// Package llm provides chat-completion clients for the assistant's classifier,
// SQL generator and answer synthesis.
package llm

import (
	"context"
)

// CompletionRequest is a single system+user prompt exchange.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	// MaxTokens caps the completion length. Zero leaves it to the provider.
	MaxTokens int
	// JSONMode asks the provider for a single JSON object as the reply.
	JSONMode bool
}

// CompletionResult holds the reply text and token usage.
type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the interface for LLM operations.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// Complete runs one chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// IsAvailable reports whether a call can be attempted at all. It is false
	// when no credential is configured or the circuit breaker is open, which
	// callers must tell apart from a failed call.
	IsAvailable() bool

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure clients implement LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*BreakerClient)(nil)
)
