package retrieval

import (
	"sort"
	"strings"
)

// EmptyContext is what Render returns when nothing fits or nothing was found.
const EmptyContext = "(no relevant memories)"

// Render formats c for a prompt, one section per table in sorted order with
// items nearest first. Items that would push the text past maxTokens are
// skipped; maxTokens <= 0 disables the budget.
func (c Context) Render(maxTokens int) string {
	tables := make([]string, 0, len(c))
	for t := range c {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var sb strings.Builder
	remaining := maxTokens
	for _, table := range tables {
		header := "[" + table + "]\n"
		headerTokens := EstimateTokens(header)

		var entries []string
		budget := remaining - headerTokens
		for _, item := range c[table] {
			entry := "- " + strings.TrimSpace(item) + "\n"
			tokens := EstimateTokens(entry)
			if maxTokens > 0 && tokens > budget {
				continue
			}
			entries = append(entries, entry)
			budget -= tokens
		}
		if len(entries) == 0 {
			continue
		}

		sb.WriteString(header)
		for _, e := range entries {
			sb.WriteString(e)
		}
		remaining = budget
	}

	if sb.Len() == 0 {
		return EmptyContext
	}
	return strings.TrimRight(sb.String(), "\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
