// Package sqlguard validates model-generated SQL before it reaches the store.
//
// The checks are textual: a keyword denylist, a table allowlist matched on
// every FROM/JOIN source, a single-statement SELECT/WITH requirement and a
// default row limit. They are coarse (a column named
// "updated_at" trips the UPDATE check) and are backed by a read-only session
// in the store.
package sqlguard

import (
	"regexp"
	"strconv"
	"strings"
)

// Rejection reasons. They are fed back to the planner verbatim.
const (
	ReasonDestructive       = "FORBIDDEN: Destructive SQL."
	ReasonUnauthorizedTable = "FORBIDDEN: Unauthorized table access."
	ReasonMultiStatement    = "FORBIDDEN: Multiple statements."
	ReasonNotSelect         = "FORBIDDEN: Only SELECT queries are allowed."
	ReasonEmpty             = "FORBIDDEN: Empty query."
)

// DefaultLimit is appended to accepted queries that carry no LIMIT.
const DefaultLimit = 50

var deniedKeywords = []string{"DELETE", "DROP", "TRUNCATE", "ALTER", "UPDATE", "INSERT"}

var (
	// tableKeyword marks the start of a FROM or JOIN source list.
	tableKeyword = regexp.MustCompile(`(?i)(?:from|join)\s+`)
	// sourceEnd ends a source list: the next clause keyword or a parenthesis.
	sourceEnd = regexp.MustCompile(`(?i)\b(?:where|group|order|limit|offset|having|union|intersect|except|on|using|join|inner|left|right|full|cross|natural|window|returning)\b|[()]`)
	// tableName is the leading identifier of one source, optionally quoted
	// or bracketed.
	tableName = regexp.MustCompile("^[\"`'\\[]?([a-zA-Z_][a-zA-Z0-9_]*)")
)

// Verdict is the outcome of validating one query.
type Verdict struct {
	Accepted bool
	SQL      string // sanitized query; set when Accepted
	Reason   string // rejection reason; set when not Accepted
}

// Guard checks queries against a fixed table allowlist.
type Guard struct {
	allowed map[string]bool
}

// New returns a Guard that allows only the given tables.
func New(tables ...string) *Guard {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = true
	}
	return &Guard{allowed: allowed}
}

// Validate sanitizes raw and either accepts it, possibly with a LIMIT
// appended, or rejects it with a reason. It never returns an error so the
// reason can be handed to the next planning attempt.
func (g *Guard) Validate(raw string) Verdict {
	q := Sanitize(raw)
	if q == "" {
		return reject(ReasonEmpty)
	}

	upper := strings.ToUpper(q)
	for _, kw := range deniedKeywords {
		if strings.Contains(upper, kw) {
			return reject(ReasonDestructive)
		}
	}

	if !g.tablesAllowed(q) {
		return reject(ReasonUnauthorizedTable)
	}

	if strings.Contains(q, ";") {
		return reject(ReasonMultiStatement)
	}
	if !startsWithKeyword(upper, "SELECT") && !startsWithKeyword(upper, "WITH") {
		return reject(ReasonNotSelect)
	}

	if !strings.Contains(upper, "LIMIT") {
		q += " LIMIT " + strconv.Itoa(DefaultLimit)
	}
	return Verdict{Accepted: true, SQL: q}
}

// tablesAllowed reports whether every source named after FROM or JOIN is on
// the allowlist. Comma-separated sources are each checked, quoting is
// ignored, and a qualified name is judged by its first part. Parenthesized
// subqueries are skipped here because their own FROM is checked.
func (g *Guard) tablesAllowed(q string) bool {
	for _, loc := range tableKeyword.FindAllStringIndex(q, -1) {
		list := q[loc[1]:]
		if end := sourceEnd.FindStringIndex(list); end != nil {
			list = list[:end[0]]
		}
		for _, source := range strings.Split(list, ",") {
			source = strings.TrimSpace(source)
			if source == "" {
				continue
			}
			m := tableName.FindStringSubmatch(source)
			if m == nil || !g.allowed[strings.ToLower(m[1])] {
				return false
			}
		}
	}
	return true
}

// Sanitize strips markdown code fences, surrounding whitespace and trailing
// statement terminators.
func Sanitize(raw string) string {
	q := strings.ReplaceAll(raw, "```sql", "")
	q = strings.ReplaceAll(q, "```SQL", "")
	q = strings.ReplaceAll(q, "```", "")
	q = strings.TrimSpace(q)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

func startsWithKeyword(upper, kw string) bool {
	if !strings.HasPrefix(upper, kw) {
		return false
	}
	if len(upper) == len(kw) {
		return true
	}
	c := upper[len(kw)]
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '('
}

func reject(reason string) Verdict {
	return Verdict{Reason: reason}
}
