package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/store"
)

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact [path]",
		Short: "Compact the vector index by removing orphaned nodes",
		Long: `Rebuilds the HNSW vector index from scratch, reclaiming memory from
orphaned nodes left behind by lazy deletion during file updates.

There is no stored-embedding cache in this index, so compaction re-embeds
every indexed file rather than replaying cached vectors: it clears
.meridian and runs a full reindex. For a project with many files this
costs the same as 'meridian index --force'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runCompact(cmd.Context(), cmd, path)
		},
	}

	return cmd
}

func runCompact(ctx context.Context, cmd *cobra.Command, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	dataDir := filepath.Join(root, ".meridian")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found at %s - run 'meridian index' first", dataDir)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if !fileExists(vectorPath) {
		return fmt.Errorf("no vector index found at %s - run 'meridian index' first", vectorPath)
	}

	out := cmd.OutOrStdout()

	oldStats, err := readVectorStats(vectorPath)
	if err != nil {
		fmt.Fprintf(out, "Warning: could not read existing vector stats: %v\n", err)
	} else if oldStats.Orphans > 0 {
		fmt.Fprintf(out, "Orphaned nodes to reclaim: %d of %d\n", oldStats.Orphans, oldStats.GraphNodes)
	}

	fmt.Fprintln(out, "Compacting index (full reindex, no stored embeddings to replay)...")
	start := time.Now()

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("failed to clear index data: %w", err)
	}

	stack, err := openAppStack(ctx, root, false)
	if err != nil {
		return fmt.Errorf("initializing index: %w", err)
	}
	defer stack.Close()

	if _, err := stack.ensureSourceRegistered(ctx); err != nil {
		return fmt.Errorf("registering source: %w", err)
	}

	if _, err := stack.runner.RunAll(ctx); err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(out, "Compaction complete in %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Vector count: %d\n", stack.rawVector.Count())

	return nil
}

// readVectorStats opens the persisted HNSW index read-only to report its
// orphan count before compaction clears it.
func readVectorStats(path string) (store.HNSWStats, error) {
	s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(1))
	if err != nil {
		return store.HNSWStats{}, err
	}
	defer func() { _ = s.Close() }()

	if err := s.Load(path); err != nil {
		return store.HNSWStats{}, err
	}
	return s.Stats(), nil
}
