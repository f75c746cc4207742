package prompts

import (
	"fmt"
	"strings"

	"github.com/sweetline/sales-assistant/pkg/models"
)

// ClassificationSystemMessage returns the system prompt for intent classification.
func ClassificationSystemMessage() string {
	return "You route questions for the AI assistant of a confectionery distributor. " +
		"You decide where the answer must come from and respond with JSON only."
}

// BuildClassificationPrompt creates the routing prompt for one message. history
// holds the most recent turns, oldest first.
func BuildClassificationPrompt(message string, history []models.ConversationTurn) string {
	var prompt strings.Builder

	prompt.WriteString("# Routes\n\n")
	prompt.WriteString("- INTERNAL_DB: the answer is in our sales database (sales, revenue, customers, products, agents, salaries).\n")
	prompt.WriteString("- EXTERNAL_WEB: the answer needs public information (market trends, competitors, ingredient prices, regulations).\n")
	prompt.WriteString("- HYBRID: the answer needs our data compared with public information.\n")
	prompt.WriteString("- CHAT: greetings, thanks, questions about the assistant itself, general talk.\n")
	prompt.WriteString("- CLARIFY: the question is too ambiguous to route (missing period, unclear metric, unclear subject).\n\n")

	if len(history) > 0 {
		prompt.WriteString("# Recent conversation\n\n")
		for _, turn := range history {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("# Message\n\n")
	prompt.WriteString(message)
	prompt.WriteString("\n\n# Response format\n\n")
	prompt.WriteString("Respond with a JSON object:\n")
	prompt.WriteString(`{
  "type": "INTERNAL_DB | EXTERNAL_WEB | HYBRID | CHAT | CLARIFY",
  "confidence": 0.0-1.0,
  "reasoning": "one sentence",
  "clarifying_question": "question to ask the user, only for CLARIFY or low confidence",
  "search_queries": ["web search query", "only for EXTERNAL_WEB or HYBRID"],
  "sql_needed": true | false
}`)
	prompt.WriteString("\n\nUse the conversation to resolve follow-ups such as \"а в июне?\". ")
	prompt.WriteString("Write clarifying_question in the user's language.\n")

	return prompt.String()
}
