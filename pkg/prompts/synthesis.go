package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/websearch"
)

const maxWebContentLen = 600

// InternalEvidence is what the SQL path produced for a question.
type InternalEvidence struct {
	SQL         string
	Explanation string
	Result      *models.QueryResult
}

// ExternalEvidence is what the web search produced.
type ExternalEvidence struct {
	Query    string
	Response *websearch.Response
}

// Evidence is everything gathered for one answer. Nil parts were not
// requested or did not succeed.
type Evidence struct {
	Internal        *InternalEvidence
	External        *ExternalEvidence
	BusinessContext string
}

// HasData reports whether any tool produced usable evidence.
func (e *Evidence) HasData() bool {
	return e.Internal != nil || (e.External != nil && e.External.Response != nil && len(e.External.Response.Results) > 0)
}

// SynthesisSystemMessage returns the system prompt for the final answer.
func SynthesisSystemMessage(language string) string {
	return fmt.Sprintf("You are the AI assistant of a confectionery distributor. "+
		"You answer in %s, briefly and to the point. "+
		"You never invent figures that are not in the evidence.", language)
}

// BuildSynthesisPrompt creates the prompt for the final answer from the
// gathered evidence. With no evidence it becomes a plain conversational prompt.
// Result data that cannot be encoded as JSON is written as plain text instead.
func BuildSynthesisPrompt(message string, history []models.ConversationTurn, evidence *Evidence, language string, logger *zap.Logger) string {
	var prompt strings.Builder

	if len(history) > 0 {
		prompt.WriteString("# Recent conversation\n\n")
		for _, turn := range history {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		prompt.WriteString("\n")
	}

	if evidence != nil {
		if evidence.BusinessContext != "" {
			prompt.WriteString("# Business context\n\n")
			prompt.WriteString(evidence.BusinessContext)
			prompt.WriteString("\n")
		}
		if evidence.Internal != nil {
			prompt.WriteString("# Internal data (sales database)\n\n")
			writeInternalEvidence(&prompt, evidence.Internal, logger)
			prompt.WriteString("\n")
		}
		if evidence.External != nil && evidence.External.Response != nil {
			prompt.WriteString("# Web search results\n\n")
			writeExternalEvidence(&prompt, evidence.External)
			prompt.WriteString("\n")
		}
	}

	prompt.WriteString("# Question\n\n")
	prompt.WriteString(message)
	prompt.WriteString("\n\n# Instructions\n\n")
	prompt.WriteString(fmt.Sprintf("- Answer in %s.\n", language))
	if evidence != nil && evidence.HasData() {
		prompt.WriteString("- Say which source each claim comes from: \"по данным базы\" for internal data, \"по данным из интернета\" for web results.\n")
		prompt.WriteString("- Use only figures present in the evidence. If something is missing, say so instead of guessing.\n")
		prompt.WriteString("- Prefer internal data over general knowledge when they disagree.\n")
		prompt.WriteString("- If the rows are a sample, use the summary for totals and averages.\n")
	} else {
		prompt.WriteString("- This is a conversational message; do not quote sales figures.\n")
	}

	return prompt.String()
}

func writeInternalEvidence(b *strings.Builder, ev *InternalEvidence, logger *zap.Logger) {
	if ev.Explanation != "" {
		b.WriteString(fmt.Sprintf("Query purpose: %s\n", ev.Explanation))
	}
	b.WriteString(fmt.Sprintf("SQL: %s\n", ev.SQL))

	res := ev.Result
	if res == nil {
		return
	}
	if res.RowCount == 0 {
		b.WriteString(fmt.Sprintf("Result: %s\n", res.Message))
		return
	}

	b.WriteString(fmt.Sprintf("Rows returned: %d\n", res.RowCount))
	if res.Truncated {
		b.WriteString(fmt.Sprintf("Showing a sample of %d rows.\n", len(res.Rows)))
	}
	b.WriteString("Rows: ")
	if rows, err := json.Marshal(res.Rows); err == nil {
		b.Write(rows)
		b.WriteString("\n")
	} else {
		logger.Warn("Result rows are not JSON-encodable, writing them as text", zap.Error(err))
		b.WriteString("\n")
		for _, row := range res.Rows {
			b.WriteString("- " + formatRow(row) + "\n")
		}
	}
	if res.Summary != nil {
		b.WriteString("Summary over all rows: ")
		if summary, err := json.Marshal(res.Summary); err == nil {
			b.Write(summary)
		} else {
			logger.Warn("Result summary is not JSON-encodable, writing it as text", zap.Error(err))
			b.WriteString(formatSummary(res.Summary))
		}
		b.WriteString("\n")
	}
}

func writeExternalEvidence(b *strings.Builder, ev *ExternalEvidence) {
	b.WriteString(fmt.Sprintf("Search query: %s\n", ev.Query))
	if ev.Response.Summary != "" {
		b.WriteString(fmt.Sprintf("Summary: %s\n", ev.Response.Summary))
	}
	for i, r := range ev.Response.Results {
		b.WriteString(fmt.Sprintf("%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL,
			logging.TruncateString(strings.Join(strings.Fields(r.Content), " "), maxWebContentLen)))
	}
}

// FormatEvidenceDump renders the raw evidence for the user when synthesis
// fails. It returns "" when there is nothing to show.
func FormatEvidenceDump(evidence *Evidence) string {
	if evidence == nil || !evidence.HasData() {
		return ""
	}

	var b strings.Builder
	if ev := evidence.Internal; ev != nil && ev.Result != nil {
		b.WriteString("Данные из базы:\n")
		if ev.Result.RowCount == 0 {
			b.WriteString(ev.Result.Message + "\n")
		} else {
			for _, row := range ev.Result.Rows {
				b.WriteString("- " + formatRow(row) + "\n")
			}
			if ev.Result.Truncated {
				b.WriteString(fmt.Sprintf("(показаны %d из %d строк)\n", len(ev.Result.Rows), ev.Result.RowCount))
			}
		}
	}
	if ev := evidence.External; ev != nil && ev.Response != nil && len(ev.Response.Results) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Результаты поиска:\n")
		if ev.Response.Summary != "" {
			b.WriteString(ev.Response.Summary + "\n")
		}
		for _, r := range ev.Response.Results {
			b.WriteString(fmt.Sprintf("- %s: %s\n", r.Title, r.URL))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRow(row models.Row) string {
	parts := make([]string, 0, len(row.Columns))
	for i, c := range row.Columns {
		var v any
		if i < len(row.Values) {
			v = row.Values[i]
		}
		parts = append(parts, fmt.Sprintf("%s: %v", c, v))
	}
	return strings.Join(parts, ", ")
}

func formatSummary(summary *models.ResultSummary) string {
	columns := make([]string, 0, len(summary.Columns))
	for c := range summary.Columns {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	parts := []string{fmt.Sprintf("total_rows: %d", summary.TotalRows)}
	for _, c := range columns {
		st := summary.Columns[c]
		parts = append(parts, fmt.Sprintf("%s: min=%v max=%v avg=%v sum=%v count=%d", c, st.Min, st.Max, st.Avg, st.Sum, st.Count))
	}
	return strings.Join(parts, "; ")
}
