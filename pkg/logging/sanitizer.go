package logging

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum number of characters of a query to log
	MaxQueryLogLength = 100
	// MaxMessageLogLength is the maximum number of characters of a user message to log
	MaxMessageLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens in Authorization headers echoed into errors
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.]+`)

	// key=value style API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{20,}`)

	// Provider keys: OpenAI/Groq (sk-, gsk_), Anthropic (sk-ant-), Tavily (tvly-), Gemini (AIza)
	providerKeyPattern = regexp.MustCompile(`\b(sk-ant-|sk-|gsk_|tvly-|AIza)[A-Za-z0-9\-_]{16,}`)

	// user:pass@host format
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain credentials.
// Use this before logging any error from database, LLM or search calls.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeSecrets(err.Error())
}

// SanitizeQuery truncates and sanitizes a SQL query for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return sanitizeSecrets(TruncateString(query, MaxQueryLogLength))
}

// SanitizeMessage collapses whitespace in a user message and truncates it for logging.
func SanitizeMessage(message string) string {
	collapsed := strings.Join(strings.Fields(message), " ")
	return sanitizeSecrets(TruncateString(collapsed, MaxMessageLogLength))
}

// TruncateString truncates a string to maxLen characters and adds an
// ellipsis if needed. Multi-byte characters are never split.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

func sanitizeSecrets(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = providerKeyPattern.ReplaceAllString(s, RedactedText)
	s = connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
	return s
}
