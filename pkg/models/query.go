package models

import (
	"bytes"
	"encoding/json"
)

// Row is one result row. Values are aligned with Columns, and the row
// serializes as a JSON object whose keys keep the column order.
type Row struct {
	Columns []string
	Values  []any
}

// NewRow pairs column names with values. Extra values are dropped.
func NewRow(columns []string, values []any) Row {
	if len(values) > len(columns) {
		values = values[:len(columns)]
	}
	return Row{Columns: columns, Values: values}
}

// Get returns the value for a column and whether that column exists.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Values) {
			m[c] = r.Values[i]
		}
	}
	return m
}

// MarshalJSON writes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		if i < len(r.Values) {
			v = r.Values[i]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ColumnStats holds aggregates for one numeric column.
type ColumnStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// ResultSummary describes a result set whose rows were sampled.
type ResultSummary struct {
	TotalRows int                     `json:"total_rows"`
	Columns   map[string]*ColumnStats `json:"columns"`
}

// QueryResult is the outcome of a firewall execution. When Truncated is set,
// Rows is a sample and Summary (if present) holds the aggregates.
type QueryResult struct {
	Success   bool           `json:"success"`
	Rows      []Row          `json:"data"`
	RowCount  int            `json:"row_count"`
	Columns   []string       `json:"columns"`
	Truncated bool           `json:"truncated"`
	Summary   *ResultSummary `json:"summary,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// GeneratedSQLQuery is the SQL produced by the generator for a question.
type GeneratedSQLQuery struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// QueryErrorKind tells apart the stage at which a question-to-rows run failed.
type QueryErrorKind string

const (
	QueryErrorGeneration QueryErrorKind = "generation"
	QueryErrorSecurity   QueryErrorKind = "security"
	QueryErrorExecution  QueryErrorKind = "execution"

	// QueryErrorUnavailable means no LLM could be reached to write the SQL.
	QueryErrorUnavailable QueryErrorKind = "unavailable"
)

// QuestionQueryResult combines SQL generation and execution for one question.
type QuestionQueryResult struct {
	Success     bool           `json:"success"`
	Question    string         `json:"question"`
	SQL         string         `json:"sql,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Result      *QueryResult   `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   QueryErrorKind `json:"error_kind,omitempty"`
}
