// Package audit provides security audit logging for SIEM consumption.
// Firewall rejections and injection detections are logged as structured
// JSON events under the "security_audit" logger namespace.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a bind value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventFirewallViolation is logged when a statement fails firewall validation.
	EventFirewallViolation SecurityEventType = "firewall_violation"
	// EventQueryExecution is logged for successful query execution (high volume, DEBUG).
	EventQueryExecution SecurityEventType = "query_execution"
)

type requestInfoKey struct{}

// RequestInfo identifies who sent the request that led to a query.
type RequestInfo struct {
	SessionID string
	ClientIP  string
}

// WithRequestInfo attaches request identity to ctx for later audit events.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request identity, or the zero value.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// SecurityEvent represents an auditable security event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	SessionID string            `json:"session_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected injection attempt.
type SQLInjectionDetails struct {
	Placeholder string `json:"placeholder"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// FirewallViolationDetails describes a rejected statement. QueryPreview is
// truncated and stripped of secrets.
type FirewallViolationDetails struct {
	Rule         string `json:"rule"`
	QueryPreview string `json:"query_preview"`
	Origin       string `json:"origin"` // generated or direct
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) newEvent(ctx context.Context, eventType SecurityEventType, severity string, details any) (SecurityEvent, string) {
	info := RequestInfoFromContext(ctx)
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SessionID: info.SessionID,
		ClientIP:  info.ClientIP,
		Details:   details,
		Severity:  severity,
	}
	// Marshaling known types cannot fail
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a bind value libinjection flagged.
// Logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails) {
	details.ParamValue = logging.SanitizeQuery(details.ParamValue)
	event, eventJSON := a.newEvent(ctx, EventSQLInjectionAttempt, "critical", details)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("placeholder", details.Placeholder),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("session_id", event.SessionID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogFirewallViolation records a statement the firewall refused to run.
// Logged at WARN level: most violations are model mistakes, not attacks.
func (a *SecurityAuditor) LogFirewallViolation(ctx context.Context, rule, query, origin string) {
	details := FirewallViolationDetails{
		Rule:         rule,
		QueryPreview: logging.SanitizeQuery(query),
		Origin:       origin,
	}
	event, eventJSON := a.newEvent(ctx, EventFirewallViolation, "warning", details)

	a.logger.Warn("Firewall rejected query",
		zap.String("event_json", eventJSON),
		zap.String("rule", rule),
		zap.String("query_preview", details.QueryPreview),
		zap.String("origin", origin),
		zap.String("session_id", event.SessionID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records a successful read-only execution at DEBUG level.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, query string, rowCount int, truncated bool) {
	if !a.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	details := map[string]any{
		"query_preview": logging.SanitizeQuery(query),
		"row_count":     rowCount,
		"truncated":     truncated,
	}
	event, eventJSON := a.newEvent(ctx, EventQueryExecution, "info", details)

	a.logger.Debug("Query executed",
		zap.String("event_json", eventJSON),
		zap.Int("row_count", rowCount),
		zap.String("session_id", event.SessionID),
		zap.String("severity", event.Severity),
	)
}
