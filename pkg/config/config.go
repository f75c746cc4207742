package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the sales assistant.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For and X-Real-IP. Empty means the connection address is used.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`

	Database   DatabaseConfig   `yaml:"database"`
	Firewall   FirewallConfig   `yaml:"firewall"`
	LLM        LLMConfig        `yaml:"llm"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Redis      RedisConfig      `yaml:"redis"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the sales database.
// When URL is set it wins over the individual fields.
type DatabaseConfig struct {
	URL                    string `yaml:"-" env:"DATABASE_URL"` // Secret - may embed a password
	Host                   string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port                   int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User                   string `yaml:"user" env:"PGUSER" env-default:"sales_reader"`
	Password               string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database               string `yaml:"database" env:"PGDATABASE" env-default:"sales"`
	SSLMode                string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections         int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MinConnections         int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"1"`
	MaxConnLifetimeMinutes int    `yaml:"max_conn_lifetime_minutes" env:"PGMAX_CONN_LIFETIME_MINUTES" env-default:"60"`
	ConnectAttempts        int    `yaml:"connect_attempts" env:"PGCONNECT_ATTEMPTS" env-default:"3"`
}

// FirewallConfig bounds what a single read-only query may cost.
type FirewallConfig struct {
	StatementTimeoutSeconds int `yaml:"statement_timeout_seconds" env:"FIREWALL_STATEMENT_TIMEOUT_SECONDS" env-default:"30"`
	MaxRows                 int `yaml:"max_rows" env:"FIREWALL_MAX_ROWS" env-default:"10000"`
	MaxQueryLength          int `yaml:"max_query_length" env:"FIREWALL_MAX_QUERY_LENGTH" env-default:"10000"`
}

// StatementTimeout returns the per-statement database timeout.
func (c *FirewallConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutSeconds) * time.Second
}

// LLMConfig selects the chat-completion provider.
// Provider is one of openai, groq, gemini or anthropic. Empty BaseURL and
// Model fall back to the provider's defaults.
type LLMConfig struct {
	Provider            string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL             string `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model               string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey              string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	TimeoutSeconds      int    `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`
	BreakerThreshold    int    `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetSeconds int    `yaml:"breaker_reset_seconds" env:"LLM_BREAKER_RESET_SECONDS" env-default:"30"`
}

// IsAvailable returns true if an LLM credential is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.APIKey != ""
}

// Timeout returns the client-side deadline for one LLM call.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BreakerReset returns how long the circuit stays open before a probe is allowed.
func (c *LLMConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSeconds) * time.Second
}

// WebSearchConfig holds the Tavily search settings.
type WebSearchConfig struct {
	Endpoint       string   `yaml:"endpoint" env:"WEB_SEARCH_ENDPOINT" env-default:"https://api.tavily.com/search"`
	APIKey         string   `yaml:"-" env:"TAVILY_API_KEY"` // Secret - not in YAML
	SearchDepth    string   `yaml:"search_depth" env:"WEB_SEARCH_DEPTH" env-default:"basic"`
	MaxResults     int      `yaml:"max_results" env:"WEB_SEARCH_MAX_RESULTS" env-default:"5"`
	IncludeDomains []string `yaml:"include_domains" env:"WEB_SEARCH_INCLUDE_DOMAINS" env-separator:","`
	ExcludeDomains []string `yaml:"exclude_domains" env:"WEB_SEARCH_EXCLUDE_DOMAINS" env-separator:","`
	TimeoutSeconds int      `yaml:"timeout_seconds" env:"WEB_SEARCH_TIMEOUT_SECONDS" env-default:"30"`
}

// IsAvailable returns true if a search credential is configured.
func (c *WebSearchConfig) IsAvailable() bool {
	return c.APIKey != ""
}

// AssistantConfig tunes the intent router.
type AssistantConfig struct {
	// ConfidenceThreshold below which a non-chat route asks for clarification.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"ASSISTANT_CONFIDENCE_THRESHOLD" env-default:"0.8"`

	// HistoryLimit is the hard cap on turns kept per session.
	HistoryLimit int `yaml:"history_limit" env:"ASSISTANT_HISTORY_LIMIT" env-default:"10"`

	// ClassifierTurns is how many recent turns the classifier sees.
	ClassifierTurns int `yaml:"classifier_turns" env:"ASSISTANT_CLASSIFIER_TURNS" env-default:"3"`

	// Language the final answer is written in.
	Language string `yaml:"language" env:"ASSISTANT_LANGUAGE" env-default:"Russian"`

	// BusinessContextPath points at an optional YAML file with company facts for synthesis.
	BusinessContextPath string `yaml:"business_context_path" env:"ASSISTANT_BUSINESS_CONTEXT_PATH" env-default:""`

	// SessionTTLMinutes expires idle sessions; 0 keeps them for the process lifetime.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" env:"ASSISTANT_SESSION_TTL_MINUTES" env-default:"0"`

	// SessionStore is memory (process-local) or redis (shared across replicas).
	SessionStore string `yaml:"session_store" env:"ASSISTANT_SESSION_STORE" env-default:"memory"`

	SynthesisMaxTokens int `yaml:"synthesis_max_tokens" env:"ASSISTANT_SYNTHESIS_MAX_TOKENS" env-default:"1500"`
}

// SessionTTL returns the idle session expiry, or 0 for none.
func (c *AssistantConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// RateLimitConfig throttles the chat endpoint per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS" env-default:"2"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"5"`
}

// RedisConfig locates the Redis server used by the redis session store.
type RedisConfig struct {
	URL       string `yaml:"-" env:"REDIS_URL" env-default:"redis://localhost:6379/0"` // Secret - may embed a password
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"sales-assistant:"`
}

// MigrationsConfig controls schema migrations for the sales tables.
type MigrationsConfig struct {
	AutoRun bool   `yaml:"auto_run" env:"MIGRATIONS_AUTO_RUN" env-default:"false"`
	Path    string `yaml:"path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. A missing file is not an error: configuration then comes
// from environment variables and defaults alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validate() error {
	for _, proxy := range c.TrustedProxies {
		if !validProxy(strings.TrimSpace(proxy)) {
			return fmt.Errorf("trusted_proxies: %q is not an IP address or CIDR range", proxy)
		}
	}

	switch c.LLM.Provider {
	case "openai", "groq", "gemini", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.WebSearch.SearchDepth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("web_search.search_depth must be basic or advanced, got %q", c.WebSearch.SearchDepth)
	}

	if c.Assistant.ConfidenceThreshold < 0 || c.Assistant.ConfidenceThreshold > 1 {
		return fmt.Errorf("assistant.confidence_threshold must be within [0,1], got %v", c.Assistant.ConfidenceThreshold)
	}
	switch c.Assistant.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("assistant.session_store must be memory or redis, got %q", c.Assistant.SessionStore)
	}
	if c.Assistant.HistoryLimit <= 0 {
		return fmt.Errorf("assistant.history_limit must be positive")
	}
	if c.Firewall.MaxRows <= 0 || c.Firewall.StatementTimeoutSeconds <= 0 {
		return fmt.Errorf("firewall.max_rows and firewall.statement_timeout_seconds must be positive")
	}

	return nil
}

func validProxy(entry string) bool {
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// ConnectionString returns a PostgreSQL URL. All user-provided fields are
// URL-escaped so passwords with @, / or # survive parsing. When running in
// Docker, localhost resolves to host.docker.internal.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}
