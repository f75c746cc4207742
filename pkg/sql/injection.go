package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a bind value.
type InjectionCheckResult struct {
	Position    int    // 1-based placeholder position ($1, $2, ...)
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string
}

// Placeholder returns the positional placeholder the value was bound to.
func (r *InjectionCheckResult) Placeholder() string {
	return fmt.Sprintf("$%d", r.Position)
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a bind value. Only strings are checked; numbers, booleans and dates
// cannot carry an injection and return nil.
//
//	CheckParameterForInjection(1, "Москва")                  // nil
//	CheckParameterForInjection(2, "'; DROP TABLE sales--")   // fingerprint "s&1c" or similar
func CheckParameterForInjection(position int, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			Position:    position,
			Fingerprint: string(fingerprint),
			Value:       strValue,
		}
	}

	return nil
}

// CheckAllParameters screens every positional bind value and returns the
// ones that look like injection attempts. The slice is empty when all are clean.
func CheckAllParameters(params []any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, value := range params {
		if result := CheckParameterForInjection(i+1, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
