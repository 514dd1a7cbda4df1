package mcp

import (
	"fmt"
	"strings"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/search"
)

// FormatSearchResults formats search results as markdown.
func FormatSearchResults(query string, results []*search.Result) string {
	valid := filterValidResults(results)

	if len(valid) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(valid)))
	if len(valid) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range valid {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// filterValidResults removes nil entries.
func filterValidResults(results []*search.Result) []*search.Result {
	valid := make([]*search.Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

// formatResult formats a single result with its source location.
func formatResult(sb *strings.Builder, num int, r *search.Result) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n\n", num, r.Path, r.Score)

	if loc := formatLocation(r); loc != "" {
		fmt.Fprintf(sb, "**Where:** %s\n\n", loc)
	}

	sb.WriteString(strings.TrimSpace(r.Text))
	sb.WriteString("\n\n---\n\n")
}

// formatLocation renders the title, page, and section of a result.
func formatLocation(r *search.Result) string {
	var parts []string
	if r.Title != "" {
		parts = append(parts, r.Title)
	}
	if r.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", r.Page))
	}
	if r.Section != "" {
		parts = append(parts, fmt.Sprintf("\"%s\"", r.Section))
	}
	return strings.Join(parts, ", ")
}

// indexingInProgressMessage tells a client that search is racing a
// background indexing run.
func indexingInProgressMessage(snap async.Snapshot) string {
	return fmt.Sprintf("## Indexing in Progress\n\n"+
		"**Progress:** %.1f%% (%d/%d files)\n"+
		"**Stage:** %s\n\n"+
		"Search results may be incomplete or unavailable. Please try again in a moment.",
		snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.Stage)
}

// clampLimit ensures limit is within bounds.
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

// ToSearchResultOutput converts a search result to the tool output form.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	if r == nil {
		return SearchResultOutput{}
	}
	return SearchResultOutput{
		Path:    r.Path,
		Title:   r.Title,
		Page:    r.Page,
		Section: r.Section,
		Content: r.Text,
		Score:   r.Score,
	}
}
