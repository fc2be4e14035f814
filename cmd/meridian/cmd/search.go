package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/logging"
	"github.com/meridian-search/meridian/internal/output"
	"github.com/meridian-search/meridian/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	filter     string // "all", "code", "docs"
	language   string
	format     string   // "text", "json"
	scopes     []string // path prefixes for filtering
	keywordOnly bool    // skip semantic search, use keyword search only
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines keyword (lexical) and semantic (embedding) search
with reciprocal rank fusion for optimal results.

Examples:
  meridian search "authentication middleware"
  meridian search "handleRequest" --type code --limit 5
  meridian search "setup instructions" --type docs
  meridian search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().BoolVar(&opts.keywordOnly, "bm25-only", false, "Use keyword search only (skip semantic search)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".meridian")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'meridian index' first")
	}

	stack, err := openAppStack(ctx, root, false)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer stack.Close()

	mode := search.ModeHybrid
	if opts.keywordOnly {
		mode = search.ModeKeyword
	}

	q := search.Query{
		Text:  query,
		Mode:  mode,
		Limit: opts.limit,
		Filters: search.Filters{
			FolderPrefix: strings.Join(opts.scopes, ","),
			Extensions:   extensionsForFilter(opts.filter, opts.language),
		},
	}

	resp, err := stack.engine.Search(ctx, q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.Int("results", len(resp.Results)), slog.Bool("degraded", resp.Degraded))

	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, resp.Results)
	default:
		return formatText(out, query, resp.Results, resp.Degraded)
	}
}

// extensionsForFilter translates the --type/--language flags into the
// file-extension filter HybridEngine understands. "all" and an empty
// language impose no extension restriction.
func extensionsForFilter(filterType, language string) []string {
	if language != "" {
		return []string{"." + strings.TrimPrefix(language, ".")}
	}
	switch filterType {
	case "code":
		return []string{".go", ".py", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cpp", ".h"}
	case "docs":
		return []string{".md", ".mdx", ".txt", ".rst"}
	default:
		return nil
	}
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, results []search.Result, degraded bool) error {
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	if degraded {
		out.Status("", "(one retrieval arm failed; results may be incomplete)")
	}
	out.Newline()

	for i, r := range results {
		location := r.RelPath
		out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
		if r.RepositoryName != "" {
			out.Status("", "   repo: "+r.RepositoryName)
		}

		snippet := getSnippet(r.Snippet, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatJSON outputs results in JSON format.
func formatJSON(cmd *cobra.Command, results []search.Result) error {
	type jsonResult struct {
		RelPath        string   `json:"rel_path"`
		RepositoryName string   `json:"repository,omitempty"`
		Score          float64  `json:"score"`
		Snippet        string   `json:"snippet"`
		MatchedTerms   []string `json:"matched_terms,omitempty"`
	}

	output := make([]jsonResult, 0, len(results))
	for _, r := range results {
		output = append(output, jsonResult{
			RelPath:        r.RelPath,
			RepositoryName: r.RepositoryName,
			Score:          r.Score,
			Snippet:        r.Snippet,
			MatchedTerms:   r.MatchedTerms,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
