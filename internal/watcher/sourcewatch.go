package watcher

import (
	"context"
	"log/slog"
	"sync"
)

// SourceState is a position in the per-source debounce state machine
// described in spec §4.6: Idle → Pending (events accumulating) →
// Running (pass in progress) → Idle | Pending (if events arrived during
// Running). A failed pass returns to Idle; it does not disable the
// watcher.
type SourceState int

const (
	StateIdle SourceState = iota
	StatePending
	StateRunning
)

func (s SourceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ReindexFunc performs one reindex pass for a source, given the set of
// paths that changed since the last pass. It is invoked with at most one
// concurrent call per SourceDebouncer.
type ReindexFunc func(ctx context.Context, sourceID int64, paths []string) error

// SourceDebouncer owns the Idle/Pending/Running state for one registered
// source and the pending path set accumulated while in Pending or
// Running. Events that arrive mid-pass are held, not dropped, and kick
// off exactly one more pass once the current one finishes — "coalesce
// events while a pass runs" from spec Design Notes §9.
type SourceDebouncer struct {
	sourceID int64
	reindex  ReindexFunc
	logger   *slog.Logger

	mu      sync.Mutex
	state   SourceState
	pending map[string]struct{}
}

// NewSourceDebouncer constructs a debouncer for one source. The caller
// drives it by calling Notify per incoming FileEvent path and Flush
// after the underlying Debouncer's quiescence window elapses.
func NewSourceDebouncer(sourceID int64, reindex ReindexFunc, logger *slog.Logger) *SourceDebouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceDebouncer{
		sourceID: sourceID,
		reindex:  reindex,
		logger:   logger,
		state:    StateIdle,
		pending:  make(map[string]struct{}),
	}
}

// Notify records that path changed. It never triggers a pass by itself
// — callers flush after the debounce window, matching §4.6's "the
// pending set is cleared atomically when the pass starts" rule.
func (d *SourceDebouncer) Notify(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[path] = struct{}{}
	if d.state == StateIdle {
		d.state = StatePending
	}
}

// State reports the debouncer's current state, for status/UI display.
func (d *SourceDebouncer) State() SourceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Flush starts a reindex pass if one isn't already running. If a pass is
// already Running, Flush is a no-op: the events already recorded in
// pending will be picked up by the next pass once the running one
// completes and re-triggers itself, per the state machine's Running →
// Pending transition.
func (d *SourceDebouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	if d.state == StateRunning || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]struct{})
	d.state = StateRunning
	d.mu.Unlock()

	go d.runPass(ctx, paths)
}

func (d *SourceDebouncer) runPass(ctx context.Context, paths []string) {
	err := d.reindex(ctx, d.sourceID, paths)
	if err != nil {
		d.logger.Warn("source reindex pass failed",
			slog.Int64("source_id", d.sourceID),
			slog.String("error", err.Error()))
	}

	d.mu.Lock()
	hasMore := len(d.pending) > 0
	if hasMore {
		d.state = StatePending
	} else {
		d.state = StateIdle
	}
	d.mu.Unlock()

	if hasMore {
		d.Flush(ctx)
	}
}
