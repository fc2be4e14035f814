package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/store"
)

// DebugInfo is the data shown by `meridian debug`, a denser dump of the
// index than `meridian status` aimed at diagnosing why a query or a
// reindex misbehaved.
type DebugInfo struct {
	IndexPath   string `json:"index_path"`
	ProjectRoot string `json:"project_root"`

	FileCount   int                `json:"file_count"`
	ChunkCount  int                `json:"chunk_count"`
	Languages   map[string]float64 `json:"languages"`
	LastIndexed time.Time          `json:"last_indexed"`

	EmbedderProvider   string `json:"embedder_provider"`
	EmbedderModel      string `json:"embedder_model"`
	EmbedderDimensions int    `json:"embedder_dimensions"`

	LexicalBackend string `json:"lexical_backend"`
	LexicalCount   int    `json:"lexical_count"`

	VectorCount   int `json:"vector_count"`
	VectorOrphans int `json:"vector_orphans"`

	MetadataSizeBytes int64 `json:"metadata_size_bytes"`
	LexicalSizeBytes  int64 `json:"lexical_size_bytes"`
	VectorSizeBytes   int64 `json:"vector_size_bytes"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Dump detailed internal index state for troubleshooting",
		Long: `Print a denser view of the index than 'meridian status', including
per-language file breakdown, lexical and vector backend details, and
on-disk sizes. Intended for diagnosing a misbehaving query or reindex,
not for routine use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		cwd, _ := os.Getwd()
		root = cwd
	}

	dataDir := filepath.Join(root, ".meridian")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'meridian index' to create one", root)
	}

	info, err := collectDebugInfo(ctx, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect debug info: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	return renderDebugInfo(cmd, info)
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		IndexPath:   dataDir,
		ProjectRoot: root,
		Languages:   make(map[string]float64),
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteMetadataStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	sources, err := metadata.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		return info, fmt.Errorf("failed to list sources: %w", err)
	}

	langCounts := make(map[string]int)
	for _, src := range sources {
		files, err := metadata.ListFilesBySource(ctx, src.ID)
		if err != nil {
			continue
		}
		info.FileCount += len(files)
		for _, f := range files {
			langCounts[normalizeExtension(strings.TrimPrefix(filepath.Ext(f.RelPath), "."))]++
		}
		if src.LastIndexed != nil && src.LastIndexed.After(info.LastIndexed) {
			info.LastIndexed = *src.LastIndexed
		}
	}
	delete(langCounts, "")
	if info.FileCount > 0 {
		for lang, count := range langCounts {
			info.Languages[lang] = float64(count) / float64(info.FileCount)
		}
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if stats, err := readVectorStats(vectorPath); err == nil {
		info.ChunkCount = stats.GraphNodes
		info.VectorCount = stats.GraphNodes
		info.VectorOrphans = stats.Orphans
	}

	info.LexicalBackend = "sqlite"
	lexicalSQLitePath := filepath.Join(dataDir, "lexical.db")
	lexicalBlevePath := filepath.Join(dataDir, "lexical.bleve")
	backend := store.LexicalBackendSQLite
	lexicalBasePath := lexicalSQLitePath
	if !fileExists(lexicalSQLitePath) && dirExists(lexicalBlevePath) {
		backend = store.LexicalBackendBleve
		lexicalBasePath = lexicalBlevePath
		info.LexicalBackend = "bleve"
	}
	if lexical, err := store.NewLexicalStore(backend, lexicalBasePath, store.DefaultCodeStopWords); err == nil {
		info.LexicalCount = lexical.Count()
		_ = lexical.Close()
	}

	info.MetadataSizeBytes = fileSize(metadataPath)
	info.LexicalSizeBytes = fileSize(lexicalSQLitePath) + dirSize(lexicalBlevePath)
	info.VectorSizeBytes = fileSize(vectorPath)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	if embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model); err == nil {
		embedInfo := embed.GetInfo(ctx, embedder)
		info.EmbedderProvider = string(embedInfo.Provider)
		info.EmbedderModel = embedInfo.Model
		info.EmbedderDimensions = embedInfo.Dimensions
		_ = embedder.Close()
	} else {
		info.EmbedderProvider = string(provider)
		info.EmbedderModel = cfg.Embeddings.Model
	}

	return info, nil
}

func renderDebugInfo(cmd *cobra.Command, info DebugInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Meridian Debug Info")
	fmt.Fprintln(out, "===================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Project root: %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index path:   %s\n", info.IndexPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "FILES & CHUNKS")
	fmt.Fprintf(out, "  Files:        %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:       %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Languages:    %s\n", formatLanguages(info.Languages))
	fmt.Fprintf(out, "  Last indexed: %s\n", formatAge(info.LastIndexed))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "EMBEDDER")
	fmt.Fprintf(out, "  Provider:     %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:        %s\n", info.EmbedderModel)
	fmt.Fprintf(out, "  Dimensions:   %d\n", info.EmbedderDimensions)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "BM25 INDEX")
	fmt.Fprintf(out, "  Backend:      %s\n", info.LexicalBackend)
	fmt.Fprintf(out, "  Documents:    %s\n", formatNumber(info.LexicalCount))
	fmt.Fprintf(out, "  Size:         %s\n", formatBytes(info.LexicalSizeBytes))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VECTOR STORE")
	fmt.Fprintf(out, "  Nodes:        %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(out, "  Orphans:      %s\n", formatNumber(info.VectorOrphans))
	fmt.Fprintf(out, "  Size:         %s\n", formatBytes(info.VectorSizeBytes))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "STORAGE")
	fmt.Fprintf(out, "  Metadata:     %s\n", formatBytes(info.MetadataSizeBytes))
	fmt.Fprintf(out, "  Lexical:      %s\n", formatBytes(info.LexicalSizeBytes))
	fmt.Fprintf(out, "  Vectors:      %s\n", formatBytes(info.VectorSizeBytes))

	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// formatAge renders a timestamp as a relative age string, matching the
// granularity buckets used in the plain-text debug output.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d / time.Minute)
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	result := strings.Join(parts, ",")
	if neg {
		result = "-" + result
	}
	return result
}

// formatLanguages renders a language-share map sorted by descending
// share, as "lang (pct%), lang (pct%), ...".
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}

	type langShare struct {
		name  string
		share float64
	}
	shares := make([]langShare, 0, len(langs))
	for name, share := range langs {
		shares = append(shares, langShare{name, share})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].share != shares[j].share {
			return shares[i].share > shares[j].share
		}
		return shares[i].name < shares[j].name
	})

	parts := make([]string, 0, len(shares))
	for _, s := range shares {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", s.name, s.share*100))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension folds file extension variants that represent the
// same language into one canonical name for the language breakdown.
func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}
