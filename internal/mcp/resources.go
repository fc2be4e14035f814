package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meridian-search/meridian/internal/store"
)

// MaxResourceSize is the maximum file size served through a resource read.
const MaxResourceSize = 1024 * 1024

// resourceIndex tracks which indexed files have been exposed as MCP
// resources, so reads can be validated against the metadata store's own
// view of what exists rather than trusting the requested URI.
type resourceIndex struct {
	mu    sync.RWMutex
	files map[string]*store.FileRecord // keyed by AbsPath
}

func newResourceIndex() *resourceIndex {
	return &resourceIndex{files: make(map[string]*store.FileRecord)}
}

func (r *resourceIndex) put(f *store.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.AbsPath] = f
}

func (r *resourceIndex) get(absPath string) (*store.FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[absPath]
	return f, ok
}

// RegisterResources loads every indexed file from every registered
// source and exposes it as an MCP resource. Call after NewServer and
// before serving; large sources make this expensive, so it is opt-in
// rather than run from NewServer itself.
func (s *Server) RegisterResources(ctx context.Context) error {
	sources, err := s.metadata.ListSources(ctx, store.SourceFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}

	index := newResourceIndex()
	total := 0
	for _, src := range sources {
		files, err := s.metadata.ListFilesBySource(ctx, src.ID)
		if err != nil {
			return fmt.Errorf("listing files for source %q: %w", src.Name, err)
		}
		for _, f := range files {
			index.put(f)
			s.registerFileResource(src, f)
			total++
		}
	}

	s.resources = index
	s.logger.Info("registered resources", "count", total, "sources", len(sources))
	return nil
}

// registerFileResource registers a single indexed file as an MCP resource.
func (s *Server) registerFileResource(src *store.Source, f *store.FileRecord) {
	uri := fmt.Sprintf("file://%s", f.AbsPath)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        filepath.Base(f.RelPath),
			URI:         uri,
			Description: fmt.Sprintf("%s: %s (%s)", src.Name, f.RelPath, humanSize(f.Size)),
			MIMEType:    MimeTypeForPath(f.RelPath),
		},
		s.makeFileHandler(f.AbsPath),
	)
}

// makeFileHandler creates a read handler bound to one indexed file's
// absolute path.
func (s *Server) makeFileHandler(absPath string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.handleReadResource(absPath)
	}
}

// handleReadResource reads an indexed file's content, refusing to serve
// anything the resource index did not itself register.
func (s *Server) handleReadResource(absPath string) (*mcp.ReadResourceResult, error) {
	if s.resources == nil {
		return nil, NewInvalidParamsError("resources have not been registered")
	}
	f, ok := s.resources.get(absPath)
	if !ok {
		return nil, NewInvalidParamsError(fmt.Sprintf("file not indexed: %s", absPath))
	}

	info, err := os.Stat(f.AbsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MCPError{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("file not found: %s", f.RelPath)}
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
		}
	}

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      fmt.Sprintf("file://%s", f.AbsPath),
				MIMEType: MimeTypeForPath(f.RelPath),
				Text:     string(content),
			},
		},
	}, nil
}

// humanSize formats bytes as a human-readable string.
func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
