package sql

import (
	"fmt"
	"strings"
	"unicode"
)

// TableNotWhitelistedError reports a table reference outside the allowed set.
type TableNotWhitelistedError struct {
	Table string
}

func (e *TableNotWhitelistedError) Error() string {
	return fmt.Sprintf("table %q is not whitelisted", e.Table)
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenLiteral
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) upper() string {
	if t.kind != tokenWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

// clauseKeywords can follow a table reference in place of an alias.
var clauseKeywords = map[string]bool{
	"WHERE": true, "JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true,
	"OUTER": true, "FULL": true, "CROSS": true, "NATURAL": true, "ON": true,
	"USING": true, "GROUP": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"HAVING": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"WINDOW": true, "FETCH": true, "FOR": true, "TABLESAMPLE": true, "LATERAL": true,
}

type scopeKind int

const (
	scopeOther scopeKind = iota // function args, IN lists, USING columns
	scopeQuery                  // top level or a subquery
	scopeJoin                   // parenthesized join tree in place of a table
)

// scope tracks one paren level while scanning for table references.
type scope struct {
	kind        scopeKind
	inFrom      bool
	expectTable bool
}

// fromListEnd closes a FROM list at the current paren level.
var fromListEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "WINDOW": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "FETCH": true, "FOR": true, "UNION": true,
	"EXCEPT": true, "INTERSECT": true, "SELECT": true,
}

// ExtractTableNames returns the distinct relations referenced in FROM and
// JOIN clauses, in order of appearance, including those inside subqueries and
// parenthesized joins. Unquoted names are lower-cased and stripped of a schema
// prefix. FROM inside function arguments, such as EXTRACT(MONTH FROM sale_date)
// or IS DISTINCT FROM, is not a table reference. A set-returning function in
// FROM is reported under its function name.
func ExtractTableNames(sqlQuery string) []string {
	tokens := tokenize(StripComments(sqlQuery))

	seen := make(map[string]bool)
	var tables []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	scopes := []*scope{{kind: scopeQuery}}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		cur := scopes[len(scopes)-1]

		if tok.kind == tokenPunct {
			switch tok.text {
			case "(":
				next := ""
				if i+1 < len(tokens) {
					next = tokens[i+1].upper()
				}
				switch {
				case next == "SELECT" || next == "WITH":
					scopes = append(scopes, &scope{kind: scopeQuery})
				case cur.expectTable:
					scopes = append(scopes, &scope{kind: scopeJoin, inFrom: true, expectTable: true})
				default:
					scopes = append(scopes, &scope{kind: scopeOther})
				}
				cur.expectTable = false
			case ")":
				if len(scopes) > 1 {
					scopes = scopes[:len(scopes)-1]
				}
			case ",":
				if cur.kind != scopeOther && cur.inFrom {
					cur.expectTable = true
				}
			default:
				cur.expectTable = false
			}
			continue
		}

		if cur.kind == scopeOther {
			continue
		}

		kw := tok.upper()
		switch {
		case cur.expectTable && (kw == "ONLY" || kw == "LATERAL"):
		case cur.expectTable && tok.kind == tokenLiteral:
			cur.expectTable = false
		case cur.expectTable:
			name, next := readTableRef(tokens, i)
			add(name)
			cur.expectTable = false
			i = next - 1
		case kw == "FROM":
			if i > 0 && tokens[i-1].upper() == "DISTINCT" {
				continue
			}
			cur.inFrom = true
			cur.expectTable = true
		case kw == "JOIN":
			cur.expectTable = true
		case fromListEnd[kw]:
			cur.inFrom = false
		}
	}

	return tables
}

// CheckTableWhitelist returns a *TableNotWhitelistedError for the first
// referenced table not present in allowed.
func CheckTableWhitelist(sqlQuery string, allowed map[string]bool) error {
	for _, table := range ExtractTableNames(sqlQuery) {
		if !allowed[table] {
			return &TableNotWhitelistedError{Table: table}
		}
	}
	return nil
}

// readTableRef reads one table reference starting at the identifier
// tokens[i]. It returns the normalized name and the index just past the
// reference and its optional alias. A qualified name resolves to its last
// part, with or without whitespace around the dots.
func readTableRef(tokens []token, i int) (string, int) {
	name := identName(tokens[i])
	i++
	for i+1 < len(tokens) && tokens[i].kind == tokenPunct && tokens[i].text == "." &&
		(tokens[i+1].kind == tokenWord || tokens[i+1].kind == tokenQuotedIdent) {
		name = identName(tokens[i+1])
		i += 2
	}

	// Skip a function argument list
	if i < len(tokens) && tokens[i].text == "(" {
		depth := 0
		for ; i < len(tokens); i++ {
			if tokens[i].text == "(" {
				depth++
			} else if tokens[i].text == ")" {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
	}

	// Optional alias
	if i < len(tokens) && tokens[i].upper() == "AS" {
		i += 2
	} else if i < len(tokens) && (tokens[i].kind == tokenQuotedIdent ||
		(tokens[i].kind == tokenWord && !clauseKeywords[tokens[i].upper()])) {
		i++
	}

	return name, i
}

func identName(tok token) string {
	if tok.kind == tokenQuotedIdent {
		return tok.text
	}
	return strings.ToLower(tok.text)
}

// tokenize splits SQL into words, quoted identifiers, string literals and
// single-character punctuation, including the dots of qualified names.
func tokenize(sqlQuery string) []token {
	runes := []rune(sqlQuery)
	var tokens []token

	isWord := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var b strings.Builder
			for j < len(runes) {
				if runes[j] == quote {
					if j+1 < len(runes) && runes[j+1] == quote {
						b.WriteRune(quote)
						j += 2
						continue
					}
					break
				}
				b.WriteRune(runes[j])
				j++
			}
			kind := tokenLiteral
			if quote == '"' {
				kind = tokenQuotedIdent
			}
			tokens = append(tokens, token{kind: kind, text: b.String()})
			i = j + 1
		case isWord(r):
			j := i
			for j < len(runes) && isWord(runes[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[i:j])})
			i = j
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}

	return tokens
}
