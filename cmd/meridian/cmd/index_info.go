package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/store"
)

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display detailed information about the search index including embedding
model, dimensions, source counts, and on-disk sizes.

This command helps you:
- Check which model the current index uses
- Debug dimension mismatch errors
- Verify index was built correctly after reindex
- Compare index configurations across projects`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runIndexInfo(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// indexInfo is the data shown by `meridian index info`, assembled from
// the metadata store, the current config's embedder, and the sizes of
// the on-disk index files.
type indexInfo struct {
	Location    string
	ProjectRoot string

	Sources    []*store.Source
	TotalFiles int
	TotalBytes int64

	MetadataSizeBytes int64
	LexicalSizeBytes  int64
	VectorSizeBytes   int64

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	dataDir := filepath.Join(root, ".meridian")
	metadataPath := filepath.Join(dataDir, "metadata.db")

	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s\nRun 'meridian index %s' to create one", dataDir, path)
	}

	metadata, err := store.NewSQLiteMetadataStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer metadata.Close()

	sources, err := metadata.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	info := &indexInfo{
		Location:    dataDir,
		ProjectRoot: root,
		Sources:     sources,
	}
	for _, src := range sources {
		// source_stats' total_files/total_bytes columns are accounting
		// fields RecordIndexEvent does not populate; count the tracked
		// file records directly instead.
		files, err := metadata.ListFilesBySource(ctx, src.ID)
		if err != nil {
			continue
		}
		info.TotalFiles += len(files)
		for _, f := range files {
			info.TotalBytes += f.Size
		}
	}

	info.MetadataSizeBytes = fileSize(metadataPath)
	info.LexicalSizeBytes = fileSize(filepath.Join(dataDir, "lexical.db")) + dirSize(filepath.Join(dataDir, "lexical.bleve"))
	info.VectorSizeBytes = fileSize(filepath.Join(dataDir, "vectors.hnsw"))

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
		info.CurrentModel = embedInfo.Model
		info.CurrentBackend = string(embedInfo.Provider)
		info.CurrentDimensions = embedInfo.Dimensions
		_ = embedder.Close()
	}

	if jsonOutput {
		return outputIndexInfoJSON(cmd, info)
	}
	return outputIndexInfoHuman(cmd, info)
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil || fi == nil || fi.IsDir() {
			return nil
		}
		total += fi.Size()
		return nil
	})
	return total
}

func outputIndexInfoJSON(cmd *cobra.Command, info *indexInfo) error {
	sourceNames := make([]string, 0, len(info.Sources))
	for _, src := range info.Sources {
		sourceNames = append(sourceNames, src.Name)
	}

	output := map[string]interface{}{
		"location": info.Location,
		"project":  info.ProjectRoot,
		"sources":  sourceNames,
		"statistics": map[string]interface{}{
			"total_files":         info.TotalFiles,
			"total_bytes":         info.TotalBytes,
			"metadata_size_bytes": info.MetadataSizeBytes,
			"lexical_size_bytes":  info.LexicalSizeBytes,
			"vector_size_bytes":   info.VectorSizeBytes,
		},
		"current_embedder": map[string]interface{}{
			"model":      info.CurrentModel,
			"backend":    info.CurrentBackend,
			"dimensions": info.CurrentDimensions,
		},
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func outputIndexInfoHuman(cmd *cobra.Command, info *indexInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Location:    %s\n", info.Location)
	fmt.Fprintf(out, "Project:     %s\n", info.ProjectRoot)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Sources:")
	if len(info.Sources) == 0 {
		fmt.Fprintln(out, "  (none registered)")
	}
	for _, src := range info.Sources {
		status := "enabled"
		if !src.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(out, "  %s (%s, %s)\n", src.Name, src.Type, status)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Index Statistics:")
	fmt.Fprintf(out, "  Files:          %d\n", info.TotalFiles)
	fmt.Fprintf(out, "  Bytes indexed:  %d\n", info.TotalBytes)
	fmt.Fprintf(out, "  Metadata size:  %s\n", formatBytes(info.MetadataSizeBytes))
	fmt.Fprintf(out, "  Lexical size:   %s\n", formatBytes(info.LexicalSizeBytes))
	fmt.Fprintf(out, "  Vector size:    %s\n", formatBytes(info.VectorSizeBytes))
	fmt.Fprintln(out)

	if info.CurrentModel != "" {
		fmt.Fprintln(out, "Current Embedder:")
		fmt.Fprintf(out, "  Model:       %s\n", info.CurrentModel)
		fmt.Fprintf(out, "  Backend:     %s\n", info.CurrentBackend)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.CurrentDimensions)
	}

	return nil
}

// formatBytes renders a byte count as a human-readable size, matching
// the scale names used elsewhere in the CLI's plain-text output.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
