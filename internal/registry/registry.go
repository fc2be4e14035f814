// Package registry manages the set of registered sources (repositories
// and ad-hoc directories) that meridian indexes, and offers a bounded
// directory-discovery helper for UI tree pickers.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meridian-search/meridian/internal/identity"
	"github.com/meridian-search/meridian/internal/store"
)

// Registry is the single entry point for source CRUD, backed by the
// metadata store (the authoritative record per spec). It adds path
// canonicalization and repository-type detection on top of the store's
// plain persistence.
type Registry struct {
	meta store.MetadataStore
}

// New wraps a metadata store with registration semantics.
func New(meta store.MetadataStore) *Registry {
	return &Registry{meta: meta}
}

// DetectSourceType inspects path for a .git entry and reports whether it
// is a repository or a plain directory. A worktree's .git is a file
// containing "gitdir: <path>" rather than a directory, so presence alone
// (regardless of type) is the repository signal.
func DetectSourceType(path string) store.SourceType {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return store.SourceTypeDirectory
	}
	return store.SourceTypeRepository
}

// RegisterOptions configures a new source registration.
type RegisterOptions struct {
	Name        string // defaults to the directory's base name
	Enabled     bool
	AutoReindex bool
	Priority    int
	Notes       string
}

// Register canonicalizes path, detects its source type, and adds it to
// the metadata store. Returns store.ErrAlreadyExists if the
// canonicalized path is already registered.
func (r *Registry) Register(ctx context.Context, path string, opts RegisterOptions) (*store.Source, error) {
	abs, err := identity.Canonicalize(path)
	if err != nil {
		return nil, fmt.Errorf("canonicalize source path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path is not a directory: %s", abs)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(abs)
	}

	src := &store.Source{
		Type:        DetectSourceType(abs),
		Path:        abs,
		Name:        name,
		Enabled:     opts.Enabled,
		AutoReindex: opts.AutoReindex,
		Priority:    opts.Priority,
		Notes:       opts.Notes,
	}
	return r.meta.AddSource(ctx, src)
}

// Update applies a partial change set to an existing source.
func (r *Registry) Update(ctx context.Context, id int64, changes store.SourceChanges) (*store.Source, error) {
	return r.meta.UpdateSource(ctx, id, changes)
}

// Remove deletes a source's registration. Per spec, this deliberately
// does not delete already-indexed documents.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	return r.meta.DeleteSource(ctx, id)
}

// Get fetches a source by id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Source, error) {
	return r.meta.GetSource(ctx, id)
}

// GetByPath fetches a source by its canonicalized path.
func (r *Registry) GetByPath(ctx context.Context, path string) (*store.Source, error) {
	abs, err := identity.Canonicalize(path)
	if err != nil {
		return nil, fmt.Errorf("canonicalize source path: %w", err)
	}
	return r.meta.GetSourceByPath(ctx, abs)
}

// List returns registered sources, ordered priority DESC, name ASC.
func (r *Registry) List(ctx context.Context, filter store.SourceFilter) ([]*store.Source, error) {
	return r.meta.ListSources(ctx, filter)
}

// DiscoveredEntry is one directory found during bounded discovery.
type DiscoveredEntry struct {
	Path         string
	Name         string
	Depth        int
	IsGitRepo    bool
	AlreadyAdded bool
}

// defaultSkipDirs mirrors the scanner's default exclusions for the
// directories that are never useful discovery candidates.
var defaultSkipDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, "vendor": {}, "__pycache__": {},
	"dist": {}, "build": {}, ".cache": {},
}

// Discover enumerates subdirectories of root to maxDepth, for UI tree
// pickers (spec §4.2). already is the set of canonicalized paths already
// registered, so the UI can gray them out instead of re-offering them.
func Discover(root string, maxDepth int, already map[string]struct{}) ([]DiscoveredEntry, error) {
	abs, err := identity.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("canonicalize discovery root: %w", err)
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	var out []DiscoveredEntry
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil // unreadable dirs are silently skipped, not fatal
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") && name != ".git" {
				continue
			}
			if _, skip := defaultSkipDirs[name]; skip {
				continue
			}

			path := filepath.Join(dir, name)
			_, isAlready := already[path]
			isRepo := DetectSourceType(path) == store.SourceTypeRepository

			out = append(out, DiscoveredEntry{
				Path: path, Name: name, Depth: depth,
				IsGitRepo: isRepo, AlreadyAdded: isAlready,
			})

			if depth < maxDepth {
				if err := walk(path, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(abs, 1); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
