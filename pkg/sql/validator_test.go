package sql

import (
	"errors"
	"testing"
)

func TestValidateAndNormalize_ValidQueries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple select without semicolon",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
		{
			name:     "trailing semicolon and whitespace",
			input:    "SELECT 1;  ",
			expected: "SELECT 1",
		},
		{
			name:     "semicolon inside single quoted string",
			input:    "SELECT * FROM customers WHERE name = 'ООО Сладость; филиал'",
			expected: "SELECT * FROM customers WHERE name = 'ООО Сладость; филиал'",
		},
		{
			name:     "semicolon inside double quoted identifier",
			input:    `SELECT * FROM "sales;archive"`,
			expected: `SELECT * FROM "sales;archive"`,
		},
		{
			name:     "SQL standard escaped single quote",
			input:    "SELECT * FROM customers WHERE name = 'O''Brien';",
			expected: "SELECT * FROM customers WHERE name = 'O''Brien'",
		},
		{
			name:     "multi-line query",
			input:    "SELECT SUM(total_amount)\nFROM sales\nWHERE sale_date >= '2025-05-01';\n",
			expected: "SELECT SUM(total_amount)\nFROM sales\nWHERE sale_date >= '2025-05-01'",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if result.Error != nil {
				t.Errorf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.expected {
				t.Errorf("got %q, want %q", result.NormalizedSQL, tt.expected)
			}
		})
	}
}

func TestValidateAndNormalize_MultipleStatements(t *testing.T) {
	inputs := []string{
		"SELECT 1; SELECT 2",
		"SELECT 1; SELECT 2;",
		"SELECT * FROM sales; DELETE FROM sales",
		"SELECT 'a;b'; SELECT 2",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			result := ValidateAndNormalize(input)
			if !errors.Is(result.Error, ErrMultipleStatements) {
				t.Errorf("expected ErrMultipleStatements, got %v", result.Error)
			}
		})
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "line comment at end",
			input:    "SELECT 1 -- total",
			expected: "SELECT 1  ",
		},
		{
			name:     "line comment keeps following line",
			input:    "SELECT 1 -- DROP TABLE sales\nFROM sales",
			expected: "SELECT 1  \nFROM sales",
		},
		{
			name:     "block comment",
			input:    "SELECT /* DELETE */ 1",
			expected: "SELECT   1",
		},
		{
			name:     "unterminated block comment",
			input:    "SELECT 1 /* never closed",
			expected: "SELECT 1  ",
		},
		{
			name:     "comment markers inside literal are kept",
			input:    "SELECT '--not a comment', '/* nor this */'",
			expected: "SELECT '--not a comment', '/* nor this */'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripComments(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
