package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength is the longest query text the firewall will inspect.
const MaxQueryLength = 10000

var (
	ErrEmptyQuery              = errors.New("query is empty")
	ErrQueryTooLong            = fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	ErrNotAReadOperation       = errors.New("only SELECT and EXPLAIN statements are allowed")
	ErrBlockedKeyword          = errors.New("query contains a blocked keyword")
	ErrSystemCatalogAccess     = errors.New("access to system catalogs is not allowed")
	ErrProcedureCallNotAllowed = errors.New("procedure calls and stacked queries are not allowed")
)

// BlockedKeywords are rejected anywhere in a comment-stripped query when they
// appear as whole words.
var BlockedKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "INSERT", "UPDATE", "ALTER", "GRANT", "REVOKE",
	"CREATE", "REPLACE", "EXEC", "EXECUTE", "MERGE", "CALL", "DO", "LOCK",
	"UNLOCK", "COPY", "VACUUM", "CLUSTER", "REINDEX", "REFRESH", "COMMENT",
}

// systemCatalogs are database-internal relations that queries may not reference.
var systemCatalogs = []string{
	"pg_catalog", "information_schema", "pg_proc", "pg_roles", "pg_shadow", "pg_authid",
}

var (
	blockedKeywordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(BlockedKeywords, "|") + `)\b`)
	systemCatalogPattern  = regexp.MustCompile(`(?i)\b(` + strings.Join(systemCatalogs, "|") + `)\b`)
	callPattern           = regexp.MustCompile(`(?i)\bCALL\s+\w+`)
	stackedSelectPattern  = regexp.MustCompile(`(?i);\s*SELECT\b`)
)

// ValidationError is returned by Validate. Err is one of the package
// sentinels; Keyword is set for ErrBlockedKeyword and ErrSystemCatalogAccess.
type ValidationError struct {
	Err     error
	Keyword string
}

func (e *ValidationError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Keyword)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate decides whether a query may be executed against the read-only
// sales database. It returns nil for a single SELECT or EXPLAIN statement that
// uses no blocked keyword and touches no system catalog.
//
// Checks run on the comment-stripped text, so a keyword hidden inside a
// comment never reaches execution, and neither does anything after it.
// String literals are scanned too: `WHERE name = 'Drop Shop'` is rejected.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &ValidationError{Err: ErrEmptyQuery}
	}
	if len([]rune(trimmed)) > MaxQueryLength {
		return &ValidationError{Err: ErrQueryTooLong}
	}

	cleaned := strings.TrimSpace(StripComments(trimmed))
	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "EXPLAIN") {
		return &ValidationError{Err: ErrNotAReadOperation}
	}

	if kw := FindBlockedKeyword(cleaned); kw != "" {
		return &ValidationError{Err: ErrBlockedKeyword, Keyword: kw}
	}

	if result := ValidateAndNormalize(cleaned); result.Error != nil {
		return &ValidationError{Err: result.Error}
	}

	if m := systemCatalogPattern.FindString(cleaned); m != "" {
		return &ValidationError{Err: ErrSystemCatalogAccess, Keyword: strings.ToLower(m)}
	}

	if err := checkStackedQueries(cleaned); err != nil {
		return err
	}

	return nil
}

// FindBlockedKeyword returns the first blocked keyword (upper-cased) found in
// the text as a whole word, or "" if there is none.
func FindBlockedKeyword(text string) string {
	m := blockedKeywordPattern.FindString(text)
	return strings.ToUpper(m)
}

// checkStackedQueries catches procedure invocations and a second SELECT
// chained after a semicolon.
func checkStackedQueries(cleaned string) error {
	if callPattern.MatchString(cleaned) || stackedSelectPattern.MatchString(cleaned) {
		return &ValidationError{Err: ErrProcedureCallNotAllowed}
	}
	return nil
}
