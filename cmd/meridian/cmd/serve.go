package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/logging"
	"github.com/meridian-search/meridian/internal/mcp"
	"github.com/meridian-search/meridian/internal/watcher"
)

// defaultWatcherStartupTimeout bounds how long serve waits for the file
// watcher to finish its initial scan before handing control back to the
// MCP handshake. MERIDIAN_WATCHER_STARTUP_TIMEOUT overrides it for tests
// that simulate a slow filesystem.
const defaultWatcherStartupTimeout = 2 * time.Second

func newServeCmd() *cobra.Command {
	var debug bool
	var transport string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Meridian MCP server over stdio (or, with a running daemon,
reattach to an already-indexed project). Intended to be launched by an
MCP client (Claude Code, Cursor), not run interactively.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				if logger, cleanup, err := logging.Setup(logging.DebugConfig()); err == nil {
					slog.SetDefault(logger)
					defer cleanup()
				}
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to ~/.meridian/logs/")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|sse)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for SSE transport")

	return cmd
}

// runServe starts the MCP server rooted at the current working
// directory. The MCP protocol requires stdout to be used exclusively for
// JSON-RPC messages, so every diagnostic here goes through slog (which,
// outside --debug, writes to a file, never to stdout or stderr).
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return serveProject(ctx, root, transport, port)
}

// serveProject builds the app stack for root and serves it until ctx is
// canceled. The file watcher starts in the background so a slow initial
// scan never delays the MCP handshake (BUG-035: clients expect a
// response within a couple hundred milliseconds).
func serveProject(ctx context.Context, root, transport string, port int) error {
	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin check failed", slog.String("error", err.Error()))
		}
	}

	stack, err := openAppStack(ctx, root, false)
	if err != nil {
		return fmt.Errorf("initializing project: %w", err)
	}
	defer stack.Close()

	src, err := stack.ensureSourceRegistered(ctx)
	if err != nil {
		return fmt.Errorf("registering source: %w", err)
	}

	srv, err := mcp.NewServer(stack.skills, stack.workflow, stack.metadata, stack.embedder)
	if err != nil {
		return fmt.Errorf("constructing MCP server: %w", err)
	}
	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("registering resources", slog.String("error", err.Error()))
	}

	go startWatcher(ctx, stack, src.ID, root)

	return srv.Serve(ctx, transport)
}

// startWatcher begins watching root for changes and feeding them through
// a debounced reindex of src. It runs detached from serveProject's
// caller; MERIDIAN_WATCHER_STARTUP_TIMEOUT (test-only) simulates a slow
// initial scan to verify it never blocks the MCP handshake above.
func startWatcher(ctx context.Context, stack *appStack, sourceID int64, root string) {
	timeout := defaultWatcherStartupTimeout
	if v := os.Getenv("MERIDIAN_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}
	time.Sleep(timeout)

	select {
	case <-ctx.Done():
		return
	default:
	}

	hw, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		slog.Warn("starting file watcher", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = hw.Stop() }()

	if err := hw.Start(ctx, root); err != nil {
		slog.Warn("file watcher failed to start", slog.String("error", err.Error()))
		return
	}

	debouncer := watcher.NewSourceDebouncer(sourceID, func(reindexCtx context.Context, id int64, paths []string) error {
		_, err := stack.runner.RunOne(reindexCtx, id)
		return err
	}, slog.Default())

	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-hw.Events():
			if !ok {
				return
			}
			for _, ev := range events {
				debouncer.Notify(ev.Path)
			}
			debouncer.Flush(ctx)
		}
	}
}

// verifyStdinForMCP returns a descriptive error when stdin is an
// interactive terminal rather than the pipe an MCP client connects
// through (BUG-035): it's a common support case when someone runs
// `meridian serve` by hand.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("checking stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return errors.New("stdin is a terminal, not a pipe: the MCP server expects a client (Claude Code, Cursor) to connect over stdin/stdout, not to be run interactively")
	}
	return nil
}
