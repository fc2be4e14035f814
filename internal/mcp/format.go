package mcp

import (
	"fmt"
	"strings"

	"github.com/meridian-search/meridian/internal/search"
)

// FormatSearchResults formats a search.Response as markdown for display
// in a chat transcript.
func FormatSearchResults(query string, resp search.Response) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for %q\n\n", query)
	fmt.Fprintf(&sb, "Found %d result%s", len(resp.Results), plural(len(resp.Results)))
	if resp.Degraded {
		sb.WriteString(" (degraded: one retrieval arm failed, results from the other only)")
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult formats a single result as a markdown section.
func formatResult(sb *strings.Builder, num int, r search.Result) {
	fmt.Fprintf(sb, "### %d. %s (score: %.3f)\n", num, r.RelPath, r.Score)
	if r.RepositoryName != "" {
		fmt.Fprintf(sb, "**Source:** %s\n", r.RepositoryName)
	}
	if len(r.MatchedTerms) > 0 {
		fmt.Fprintf(sb, "**Matched:** %s\n", strings.Join(r.MatchedTerms, ", "))
	}
	if r.Snippet != "" {
		fmt.Fprintf(sb, "\n```\n%s\n```\n", r.Snippet)
	}
	sb.WriteString("\n")
}

// generateMatchReason builds a human-readable explanation of why r
// matched, for surfacing in tool output that accompanies raw results.
func generateMatchReason(r search.Result) string {
	var parts []string

	if r.KeywordRank > 0 && r.SemanticRank > 0 {
		parts = append(parts, "found by both keyword and semantic search")
	} else if r.KeywordRank > 0 {
		parts = append(parts, fmt.Sprintf("keyword rank %d", r.KeywordRank))
	} else if r.SemanticRank > 0 {
		parts = append(parts, fmt.Sprintf("semantic rank %d", r.SemanticRank))
	}

	if len(r.MatchedTerms) > 0 {
		terms := r.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		parts = append(parts, fmt.Sprintf("matched: %s", strings.Join(terms, ", ")))
	}

	if len(parts) == 0 {
		return "matched content"
	}
	return strings.Join(parts, "; ")
}

// clampLimit ensures limit is within [min, max], substituting defaultVal
// when the caller didn't supply one.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
