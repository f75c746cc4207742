package models

import (
	"time"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message in a session's history.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IntentType is the route chosen for a user message.
type IntentType string

const (
	IntentInternalDB  IntentType = "INTERNAL_DB"
	IntentExternalWeb IntentType = "EXTERNAL_WEB"
	IntentHybrid      IntentType = "HYBRID"
	IntentChat        IntentType = "CHAT"
	IntentClarify     IntentType = "CLARIFY"
)

// ValidIntentTypes lists every route the classifier may return.
var ValidIntentTypes = []IntentType{
	IntentInternalDB, IntentExternalWeb, IntentHybrid, IntentChat, IntentClarify,
}

// IsValid reports whether t is a known route.
func (t IntentType) IsValid() bool {
	for _, v := range ValidIntentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// NeedsInternalData reports whether the route queries the sales database.
func (t IntentType) NeedsInternalData() bool {
	return t == IntentInternalDB || t == IntentHybrid
}

// NeedsWebSearch reports whether the route runs a web search.
func (t IntentType) NeedsWebSearch() bool {
	return t == IntentExternalWeb || t == IntentHybrid
}

// IsDataRoute reports whether the route is expected to produce evidence.
func (t IntentType) IsDataRoute() bool {
	return t.NeedsInternalData() || t.NeedsWebSearch()
}

// IntentClassification is the classifier's decision for one message.
type IntentClassification struct {
	Type               IntentType `json:"type"`
	Confidence         float64    `json:"confidence"`
	Reasoning          string     `json:"reasoning"`
	ClarifyingQuestion string     `json:"clarifying_question,omitempty"`
	SearchQueries      []string   `json:"search_queries,omitempty"`
	SQLNeeded          bool       `json:"sql_needed"`
}

// Source types and statuses.
const (
	SourceInternal = "internal"
	SourceExternal = "external"

	SourceStatusSuccess = "success"
	SourceStatusError   = "error"
)

// Source records one tool invocation that contributed to an answer.
type Source struct {
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Details  string   `json:"details"`
	SQL      string   `json:"sql,omitempty"`
	RowCount *int     `json:"row_count,omitempty"`
	URLs     []string `json:"urls,omitempty"`
}

// AssistantResponse is returned for every processed message.
type AssistantResponse struct {
	Response             string                `json:"response"`
	SessionID            string                `json:"session_id"`
	Sources              []Source              `json:"sources"`
	Classification       *IntentClassification `json:"classification,omitempty"`
	QualityScore         int                   `json:"quality_score"`
	NeedsClarification   bool                  `json:"needs_clarification,omitempty"`
	AssistantUnavailable bool                  `json:"assistant_unavailable,omitempty"`
}
