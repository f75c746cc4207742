// Package prompts builds the LLM prompts for SQL generation, intent
// classification and answer synthesis.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// MaxResultRows is the LIMIT the generator is told never to exceed. It is an
// instruction to the model; the firewall's own row cap is what is enforced.
const MaxResultRows = 1000

// TableContext describes one whitelisted table for the SQL prompt.
type TableContext struct {
	Name        string
	Description string
	Columns     []ColumnContext
}

// ColumnContext provides column details for the SQL prompt.
type ColumnContext struct {
	Name             string
	DataType         string
	Description      string
	IsPrimaryKey     bool
	ForeignKeyTarget string // "table.column" if a foreign key
}

// SalesSchema is the fixed set of tables the generator may query. It mirrors
// migrations/000001_create_sales_schema.up.sql.
var SalesSchema = []TableContext{
	{
		Name:        "sales",
		Description: "Один документ продажи (накладная)",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "sale_date", DataType: "date", Description: "дата продажи"},
			{Name: "customer_id", DataType: "integer", ForeignKeyTarget: "customers.id"},
			{Name: "agent_id", DataType: "integer", ForeignKeyTarget: "agents.id"},
			{Name: "total_amount", DataType: "numeric", Description: "сумма документа в рублях"},
			{Name: "payment_status", DataType: "text", Description: "pending | paid | overdue"},
			{Name: "created_at", DataType: "timestamptz"},
		},
	},
	{
		Name:        "sale_items",
		Description: "Строки накладной",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "sale_id", DataType: "integer", ForeignKeyTarget: "sales.id"},
			{Name: "product_id", DataType: "integer", ForeignKeyTarget: "products.id"},
			{Name: "quantity", DataType: "numeric"},
			{Name: "unit_price", DataType: "numeric"},
			{Name: "line_total", DataType: "numeric", Description: "quantity * unit_price"},
		},
	},
	{
		Name:        "customers",
		Description: "Клиенты: магазины, сети, оптовики",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "name", DataType: "text"},
			{Name: "inn", DataType: "varchar(12)", Description: "ИНН"},
			{Name: "city", DataType: "text"},
			{Name: "region", DataType: "text"},
			{Name: "segment", DataType: "text", Description: "retail | chain | wholesale"},
			{Name: "created_at", DataType: "timestamptz"},
		},
	},
	{
		Name:        "products",
		Description: "Кондитерские изделия",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "sku", DataType: "text"},
			{Name: "name", DataType: "text"},
			{Name: "category", DataType: "text", Description: "конфеты, печенье, вафли, шоколад..."},
			{Name: "unit", DataType: "text", Description: "шт | кг | уп"},
			{Name: "price", DataType: "numeric", Description: "текущая отпускная цена"},
			{Name: "cost", DataType: "numeric", Description: "себестоимость"},
		},
	},
	{
		Name:        "agents",
		Description: "Торговые представители",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "full_name", DataType: "text"},
			{Name: "region", DataType: "text"},
			{Name: "hire_date", DataType: "date"},
			{Name: "base_salary", DataType: "numeric"},
			{Name: "commission_rate", DataType: "numeric", Description: "доля от продаж, 0.03 = 3%"},
			{Name: "is_active", DataType: "boolean"},
		},
	},
	{
		Name:        "salary_calculations",
		Description: "Рассчитанные зарплаты агентов за период",
		Columns: []ColumnContext{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "agent_id", DataType: "integer", ForeignKeyTarget: "agents.id"},
			{Name: "period_start", DataType: "date"},
			{Name: "period_end", DataType: "date"},
			{Name: "sales_total", DataType: "numeric"},
			{Name: "base_salary", DataType: "numeric"},
			{Name: "commission", DataType: "numeric"},
			{Name: "bonus", DataType: "numeric"},
			{Name: "total_salary", DataType: "numeric"},
			{Name: "calculated_at", DataType: "timestamptz"},
		},
	},
}

// AllowedTables returns the whitelist of table names derived from SalesSchema.
func AllowedTables() map[string]bool {
	allowed := make(map[string]bool, len(SalesSchema))
	for _, t := range SalesSchema {
		allowed[t.Name] = true
	}
	return allowed
}

// SQLExample is one worked question → SQL pair shown to the model.
type SQLExample struct {
	Question string
	SQL      string
}

// SQLExamples are the few-shot examples. Every one must pass the firewall.
var SQLExamples = []SQLExample{
	{
		Question: "Сколько мы продали в мае 2025?",
		SQL:      "SELECT SUM(total_amount) AS total_sales, COUNT(*) AS sales_count FROM sales WHERE sale_date >= '2025-05-01' AND sale_date < '2025-06-01'",
	},
	{
		Question: "Топ-5 клиентов по выручке за 2025 год",
		SQL: "SELECT c.name, SUM(s.total_amount) AS revenue FROM sales s JOIN customers c ON c.id = s.customer_id " +
			"WHERE s.sale_date >= '2025-01-01' AND s.sale_date < '2026-01-01' GROUP BY c.name ORDER BY revenue DESC LIMIT 5",
	},
	{
		Question: "Какие товары продаются лучше всего по количеству?",
		SQL: "SELECT p.name, p.category, SUM(si.quantity) AS units_sold FROM sale_items si JOIN products p ON p.id = si.product_id " +
			"GROUP BY p.name, p.category ORDER BY units_sold DESC LIMIT 10",
	},
	{
		Question: "Продажи по агентам за последний месяц",
		SQL: "SELECT a.full_name, SUM(s.total_amount) AS revenue FROM sales s JOIN agents a ON a.id = s.agent_id " +
			"WHERE s.sale_date >= date_trunc('month', CURRENT_DATE) - INTERVAL '1 month' AND s.sale_date < date_trunc('month', CURRENT_DATE) " +
			"GROUP BY a.full_name ORDER BY revenue DESC",
	},
	{
		Question: "Какая зарплата была у агентов в апреле 2025?",
		SQL: "SELECT a.full_name, sc.total_salary, sc.commission, sc.bonus FROM salary_calculations sc JOIN agents a ON a.id = sc.agent_id " +
			"WHERE sc.period_start = '2025-04-01' ORDER BY sc.total_salary DESC",
	},
}

// SQLGenerationSystemMessage returns the system prompt for SQL generation.
func SQLGenerationSystemMessage() string {
	return "You are a PostgreSQL analyst for a confectionery distributor. " +
		"You translate business questions into exactly one read-only SELECT statement. " +
		"You respond with JSON only."
}

// BuildSQLGenerationPrompt creates the prompt that turns a question into SQL.
// today anchors relative dates such as "last month".
func BuildSQLGenerationPrompt(question string, today time.Time) string {
	var prompt strings.Builder

	prompt.WriteString("# Sales database\n\n")
	prompt.WriteString("Only these tables exist. Do not reference any other table or schema.\n\n")
	for _, table := range SalesSchema {
		prompt.WriteString(fmt.Sprintf("### %s: %s\n", table.Name, table.Description))
		for _, col := range table.Columns {
			line := fmt.Sprintf("- %s (%s)", col.Name, col.DataType)
			if col.IsPrimaryKey {
				line += " [PK]"
			}
			if col.ForeignKeyTarget != "" {
				line += fmt.Sprintf(" [FK→%s]", col.ForeignKeyTarget)
			}
			if col.Description != "" {
				line += " " + col.Description
			}
			prompt.WriteString(line + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("# Rules\n\n")
	prompt.WriteString("1. Return a single SELECT statement. No semicolon-separated statements, no CTEs, no data changes.\n")
	prompt.WriteString(fmt.Sprintf("2. Never return more than %d rows; add LIMIT when listing rows.\n", MaxResultRows))
	prompt.WriteString("3. Filter dates with half-open ranges: sale_date >= 'YYYY-MM-01' AND sale_date < next month.\n")
	prompt.WriteString("4. Prefer aggregates (SUM, COUNT, AVG) over raw rows when the question asks for totals.\n")
	prompt.WriteString("5. Name computed columns with short English snake_case aliases.\n")
	prompt.WriteString(fmt.Sprintf("6. Today is %s.\n\n", today.Format("2006-01-02")))

	prompt.WriteString("# Examples\n\n")
	for _, ex := range SQLExamples {
		prompt.WriteString(fmt.Sprintf("Question: %s\nSQL: %s\n\n", ex.Question, ex.SQL))
	}

	prompt.WriteString("# Question\n\n")
	prompt.WriteString(question)
	prompt.WriteString("\n\n# Response format\n\n")
	prompt.WriteString("Respond with a JSON object:\n")
	prompt.WriteString("{\"sql\": \"<the SELECT statement>\", \"explanation\": \"<one sentence in the user's language>\"}\n")

	return prompt.String()
}
