package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/async"
	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/logging"
	"github.com/meridian-search/meridian/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI      bool
		force      bool
		backend    string
		background bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

This scans files, chunks code and documents, generates embeddings, and
builds both the lexical (keyword) and vector indices for fast retrieval.

Backend Selection:
  (default)          Auto-detect: MLX on Apple Silicon, Ollama otherwise
  --backend=mlx      Use MLX (Apple Silicon, ~1.7x faster)
  --backend=ollama   Use Ollama (cross-platform)
  --backend=static   Use static embeddings (no network calls)

Use --force to clear existing index data and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Set up signal handling for Ctrl+C so context cancellation
			// propagates and long-running embedding calls stop promptly.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if backend != "" {
				os.Setenv("MERIDIAN_EMBEDDER", backend)
			}

			if background {
				return runIndexBackground(ctx, cmd, path, force)
			}

			return runIndex(ctx, cmd, path, false, noTUI, force)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: auto-detect (default), mlx, ollama, or static")
	cmd.Flags().BoolVar(&background, "background", false, "Start indexing in the background and return immediately")

	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, offline, noTUI, force bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

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
	if force {
		if err := os.RemoveAll(dataDir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...")
		slog.Info("index_force_clear", slog.String("data_dir", dataDir))
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)

	stack, err := openAppStackWithRenderer(ctx, root, offline, renderer)
	if err != nil {
		return fmt.Errorf("initializing index: %w", err)
	}
	defer stack.Close()

	if _, err := stack.ensureSourceRegistered(ctx); err != nil {
		return fmt.Errorf("registering source: %w", err)
	}

	_, err = stack.runner.RunAll(ctx)
	return err
}

// runIndexBackground runs indexing through async.BackgroundIndexer instead
// of blocking inline. It still waits for completion (a one-shot CLI process
// has no way to outlive its own exit), but the indexing.lock file it leaves
// behind lets a concurrently-running `meridian status`/`debug`/daemon
// process detect an in-progress index via async.HasIncompleteLock, and a
// Ctrl+C during the run stops the indexer cleanly instead of leaving a
// half-written index.
func runIndexBackground(ctx context.Context, cmd *cobra.Command, path string, force bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".meridian")

	if async.HasIncompleteLock(dataDir) {
		return fmt.Errorf("an indexing run already appears to be in progress in %s", dataDir)
	}

	if force {
		if err := os.RemoveAll(dataDir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...")
	}

	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		stack, err := openAppStackWithRenderer(ctx, root, false, ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true), ui.WithProjectDir(root))))
		if err != nil {
			return fmt.Errorf("initializing index: %w", err)
		}
		defer stack.Close()

		progress.SetStage(async.StageScanning, 0)
		if _, err := stack.ensureSourceRegistered(ctx); err != nil {
			return fmt.Errorf("registering source: %w", err)
		}

		progress.SetStage(async.StageIndexing, 0)
		_, err = stack.runner.RunAll(ctx)
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Indexing started in background (lock: %s)\n", filepath.Join(dataDir, "indexing.lock"))
	// indexer.Start spawns its own ctx-derived goroutine, so Stop here is
	// only needed to unblock Wait promptly if ctx is cancelled first.
	go func() {
		<-ctx.Done()
		indexer.Stop()
	}()
	indexer.Start(ctx)

	err = indexer.Wait()
	if err != nil {
		return fmt.Errorf("background indexing failed: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Indexing complete")
	return nil
}
