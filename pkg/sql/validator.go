// Package sql provides the read-only SQL firewall rules used before any
// statement reaches the sales database.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// scanState tracks whether a scanner is inside a quoted region.
type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
)

// next advances the quote state for a single character.
// Handles both backslash escape (\') and SQL standard doubled quotes (''), the
// latter by exiting and immediately re-entering the literal.
func (s scanState) next(char, prevChar rune) scanState {
	switch s {
	case stateNormal:
		switch char {
		case '\'':
			return stateSingleQuote
		case '"':
			return stateDoubleQuote
		}
	case stateSingleQuote:
		if char == '\'' && prevChar != '\\' {
			return stateNormal
		}
	case stateDoubleQuote:
		if char == '"' && prevChar != '\\' {
			return stateNormal
		}
	}
	return s
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		if state == stateNormal && char == ';' {
			return true
		}
		state = state.next(char, prevChar)
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return sqlQuery
}

// StripComments removes `--` line comments and `/* */` block comments.
// Comment markers inside string literals or quoted identifiers are left alone.
// A removed comment is replaced by a single space so tokens on either side
// stay separated.
func StripComments(sqlQuery string) string {
	var out strings.Builder
	out.Grow(len(sqlQuery))

	runes := []rune(sqlQuery)
	state := stateNormal
	prevChar := rune(0)

	for i := 0; i < len(runes); i++ {
		char := runes[i]

		if state == stateNormal && char == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			// Skip to end of line, keeping the newline
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			out.WriteRune(' ')
			if i < len(runes) {
				out.WriteRune('\n')
			}
			prevChar = '\n'
			continue
		}

		if state == stateNormal && char == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			// Unterminated block comments swallow the rest of the text
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++ // land on '/'
			out.WriteRune(' ')
			prevChar = ' '
			continue
		}

		state = state.next(char, prevChar)
		out.WriteRune(char)
		prevChar = char
	}

	return out.String()
}
