package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/store"
)

// Daemon is the long-running process behind `meridian daemon start`. It
// keeps one embedder loaded across every project it serves and lazily
// opens a project's metadata/lexical/vector stores on first search,
// evicting the least-recently-used project once MaxProjects is reached.
type Daemon struct {
	cfg      Config
	embedder embed.Embedder

	mu       sync.RWMutex
	projects map[string]*projectState
	started  time.Time
}

// DaemonOption configures a Daemon at construction time.
type DaemonOption func(*Daemon)

// WithEmbedder overrides the embedder the daemon loads once and shares
// across every project. Tests use this to avoid a real Ollama/MLX
// dependency; production code leaves it unset and Start lazily picks
// one via the usual mlx -> ollama -> static fallback.
func WithEmbedder(e embed.Embedder) DaemonOption {
	return func(d *Daemon) { d.embedder = e }
}

// NewDaemon validates cfg and constructs a Daemon. It does not bind a
// socket or load an embedder yet; Start does that.
func NewDaemon(cfg Config, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		projects: make(map[string]*projectState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

var _ RequestHandler = (*Daemon)(nil)

// Start writes the PID file, binds the RPC socket, and serves requests
// until ctx is cancelled. It returns ctx.Err() (context.Canceled in the
// normal shutdown path) once every in-flight connection has drained.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return fmt.Errorf("preparing daemon directories: %w", err)
	}

	if d.embedder == nil {
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		e, err := embed.NewEmbedder(embedCtx, embed.ParseProvider(""), "")
		cancel()
		if err != nil {
			slog.Warn("daemon: embedder unavailable, falling back to static", slog.String("error", err.Error()))
			e = embed.NewStaticEmbedder768()
		}
		d.embedder = e
	}

	// PIDFile.Write always overwrites unconditionally, so a stale PID
	// file left by a crashed daemon is replaced with no special casing.
	pidFile := NewPIDFile(d.cfg.PIDPath)
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	server, err := NewServer(d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	server.SetHandler(d)

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	defer d.cleanup()

	slog.Info("daemon starting",
		slog.String("socket", d.cfg.SocketPath),
		slog.String("pid_file", d.cfg.PIDPath))

	return server.ListenAndServe(ctx)
}

// cleanup closes every loaded project and drops the embedder, run once
// the serve loop returns so a restarted daemon starts from a clean
// state.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for root, ps := range d.projects {
		if err := ps.Close(); err != nil {
			slog.Warn("closing project", slog.String("project", root), slog.String("error", err.Error()))
		}
	}
	d.projects = make(map[string]*projectState)
	d.embedder = nil
}

// evictLRU closes and removes the single least-recently-used project.
// It is a no-op on an empty project set.
func (d *Daemon) evictLRU() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.projects) == 0 {
		return
	}

	var oldestRoot string
	var oldestTime time.Time
	first := true
	for root, ps := range d.projects {
		if first || ps.lastUsed.Before(oldestTime) {
			oldestRoot, oldestTime, first = root, ps.lastUsed, false
		}
	}

	if ps, ok := d.projects[oldestRoot]; ok {
		if err := ps.Close(); err != nil {
			slog.Warn("closing evicted project", slog.String("project", oldestRoot), slog.String("error", err.Error()))
		}
		delete(d.projects, oldestRoot)
	}
}

// acquireProject returns the cached project state for rootPath, opening
// it (and evicting the LRU project if the cache is full) on first use.
func (d *Daemon) acquireProject(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.Lock()
	if ps, ok := d.projects[rootPath]; ok {
		ps.lastUsed = time.Now()
		d.mu.Unlock()
		return ps, nil
	}
	needsEviction := len(d.projects) >= d.cfg.MaxProjects
	d.mu.Unlock()

	if needsEviction {
		d.evictLRU()
	}

	ps, err := d.openProject(ctx, rootPath)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.projects[rootPath] = ps
	d.mu.Unlock()
	return ps, nil
}

// openProject opens the metadata, lexical and vector stores already
// built by `meridian index` for rootPath and wires them into a search
// engine sharing the daemon's embedder.
func (d *Daemon) openProject(ctx context.Context, rootPath string) (*projectState, error) {
	dataDir := filepath.Join(rootPath, ".meridian")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found in %s", rootPath)
	}

	metadata, err := store.NewSQLiteMetadataStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	backend := store.LexicalBackend(cfg.Search.BM25Backend)
	if backend == "" {
		backend = store.LexicalBackendSQLite
	}
	lexical, err := store.NewLexicalStore(backend, filepath.Join(dataDir, "lexical"), store.DefaultCodeStopWords)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("opening lexical store: %w", err)
	}

	rawVector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(d.embedder.Dimensions()))
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if err := rawVector.Load(vectorPath); err != nil {
			_ = metadata.Close()
			_ = lexical.Close()
			_ = rawVector.Close()
			return nil, fmt.Errorf("loading vector store: %w", err)
		}
	}
	chunkVector := store.NewChunkVectorStore(rawVector, daemonSourceNameResolver(metadata))

	engine, err := search.NewHybridEngine(lexical, chunkVector, d.embedder, metadata)
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		_ = rawVector.Close()
		return nil, fmt.Errorf("constructing search engine: %w", err)
	}

	now := time.Now()
	return &projectState{
		rootPath:    rootPath,
		dataDir:     dataDir,
		metadata:    metadata,
		lexical:     lexical,
		vector:      rawVector,
		chunkVector: chunkVector,
		engine:      engine,
		loadedAt:    now,
		lastUsed:    now,
	}, nil
}

// daemonSourceNameResolver resolves a source ID to its display name for
// ChunkVectorStore's repository-name filter, using a fresh background
// context so lookups keep working past the request that triggered them.
func daemonSourceNameResolver(metadata store.MetadataStore) func(sourceID int64) string {
	return func(sourceID int64) string {
		src, err := metadata.GetSource(context.Background(), sourceID)
		if err != nil || src == nil {
			return ""
		}
		return src.Name
	}
}

// HandleSearch implements RequestHandler.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ps, err := d.acquireProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	mode := search.ModeHybrid
	if params.BM25Only {
		mode = search.ModeKeyword
	}

	q := search.Query{
		Text:  params.Query,
		Mode:  mode,
		Limit: params.Limit,
		Filters: search.Filters{
			FolderPrefix: strings.Join(params.Scopes, ","),
			Extensions:   searchExtensions(params.Filter, params.Language),
		},
	}

	resp, err := ps.engine.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	weights := search.DefaultWeights()
	results := make([]SearchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		sr := SearchResult{
			FilePath: r.RelPath,
			Score:    r.Score,
			Content:  r.Snippet,
			Language: strings.TrimPrefix(filepath.Ext(r.RelPath), "."),
		}
		if params.Explain {
			sr.BM25Rank = r.KeywordRank
			sr.VecRank = r.SemanticRank
			if i == 0 {
				sr.Explain = &ExplainData{
					Query:             params.Query,
					BM25ResultCount:   countRanked(resp.Results, func(r search.Result) int { return r.KeywordRank }),
					VectorResultCount: countRanked(resp.Results, func(r search.Result) int { return r.SemanticRank }),
					BM25Weight:        weights.Keyword,
					SemanticWeight:    weights.Semantic,
					RRFConstant:       search.DefaultRRFConstant,
					BM25Only:          params.BM25Only,
				}
			}
		}
		results = append(results, sr)
	}
	return results, nil
}

func countRanked(results []search.Result, rank func(search.Result) int) int {
	n := 0
	for _, r := range results {
		if rank(r) > 0 {
			n++
		}
	}
	return n
}

// searchExtensions translates the RPC filter/language fields into the
// file-extension filter the hybrid engine understands, mirroring the
// CLI's --type/--language flags.
func searchExtensions(filterType, language string) []string {
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

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	projectsLoaded := len(d.projects)
	started := d.started
	embedder := d.embedder
	d.mu.RUnlock()

	status := StatusResult{
		Running:        !started.IsZero(),
		PID:            os.Getpid(),
		Uptime:         time.Since(started).Round(time.Second).String(),
		ProjectsLoaded: projectsLoaded,
	}

	if embedder == nil {
		status.EmbedderType = "unavailable"
		status.EmbedderStatus = "unavailable"
	} else {
		status.EmbedderType = embedder.ModelName()
		status.EmbedderStatus = "ready"
	}

	return status
}

// projectState is one project's loaded stores and search engine, cached
// for as long as it stays within the daemon's MaxProjects budget.
type projectState struct {
	rootPath string
	dataDir  string

	metadata    store.MetadataStore
	lexical     store.LexicalStore
	vector      *store.HNSWStore
	chunkVector *store.ChunkVectorStore
	engine      search.Engine

	loadedAt time.Time
	lastUsed time.Time
}

// Close releases every store projectState holds, tolerating a
// zero-value state (nil stores) so eviction and cleanup never need to
// special-case an incompletely constructed entry.
func (p *projectState) Close() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.engine != nil {
		note(p.engine.Close())
	}
	if p.chunkVector != nil {
		note(p.chunkVector.Close())
	} else if p.vector != nil {
		note(p.vector.Close())
	}
	if p.lexical != nil {
		note(p.lexical.Close())
	}
	if p.metadata != nil {
		note(p.metadata.Close())
	}
	return firstErr
}
