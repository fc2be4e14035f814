package index

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-search/meridian/internal/store"
	"github.com/meridian-search/meridian/internal/ui"
)

// Runner drives a full reindex pass over every enabled source, reporting
// progress through a ui.Renderer the way the CLI's interactive indexing
// command does.
type Runner struct {
	coordinator *Coordinator
	metadata    store.MetadataStore
	renderer    ui.Renderer
}

// NewRunner constructs a Runner. renderer may be a no-op implementation
// for non-interactive callers.
func NewRunner(coordinator *Coordinator, metadata store.MetadataStore, renderer ui.Renderer) *Runner {
	return &Runner{coordinator: coordinator, metadata: metadata, renderer: renderer}
}

// RunAll indexes every enabled source and returns the aggregate stats.
func (r *Runner) RunAll(ctx context.Context) (ui.CompletionStats, error) {
	if err := r.renderer.Start(ctx); err != nil {
		return ui.CompletionStats{}, fmt.Errorf("starting renderer: %w", err)
	}
	defer r.renderer.Stop()

	start := time.Now()
	sources, err := r.metadata.ListSources(ctx, store.SourceFilter{EnabledOnly: true})
	if err != nil {
		return ui.CompletionStats{}, fmt.Errorf("listing sources: %w", err)
	}

	var stats ui.CompletionStats
	for i, src := range sources {
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageScanning,
			Current:     i,
			Total:       len(sources),
			CurrentFile: src.Path,
			Message:     fmt.Sprintf("indexing %s", src.Name),
		})

		outcome, err := r.coordinator.IndexSource(ctx, src)
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{File: src.Path, Err: err})
			stats.Errors++
			continue
		}

		stats.Files += outcome.Added + outcome.Modified
		stats.Warnings += outcome.Warnings
	}

	stats.Duration = time.Since(start)
	r.renderer.Complete(stats)
	return stats, nil
}

// RunOne indexes a single source by ID, used by on-demand reindex
// requests (CLI `reindex` command, MCP surface) outside the watcher's
// debounce loop.
func (r *Runner) RunOne(ctx context.Context, sourceID int64) (PassOutcome, error) {
	src, err := r.metadata.GetSource(ctx, sourceID)
	if err != nil {
		return PassOutcome{}, fmt.Errorf("loading source %d: %w", sourceID, err)
	}
	return r.coordinator.IndexSource(ctx, src)
}
