package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meridian-search/meridian/internal/chunk"
	"github.com/meridian-search/meridian/internal/config"
	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/index"
	"github.com/meridian-search/meridian/internal/scanner"
	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/skill"
	"github.com/meridian-search/meridian/internal/store"
	"github.com/meridian-search/meridian/internal/ui"
	"github.com/meridian-search/meridian/internal/workflow"
)

// appStack holds every long-lived dependency a project root needs to
// index, search, and serve: the metadata, lexical and vector stores, the
// embedder, and the skill/workflow/coordinator layers built on top of
// them. Commands that need the full stack (serve, index, search, status)
// construct one of these instead of repeating the wiring.
type appStack struct {
	root     string
	dataDir  string
	cfg      *config.Config
	metadata store.MetadataStore
	lexical  store.LexicalStore
	vector   *store.ChunkVectorStore
	rawVector *store.HNSWStore
	vectorPath string
	embedder embed.Embedder

	skills      *skill.Registry
	workflow    *workflow.Engine
	engine      search.Engine
	coordinator *index.Coordinator
	runner      *index.Runner
}

// openAppStack builds the full stack rooted at root's .meridian data
// directory, reporting indexing progress to a silent stderr renderer.
// offline forces the static embedder, matching the --offline flag's
// existing meaning.
func openAppStack(ctx context.Context, root string, offline bool) (*appStack, error) {
	return openAppStackWithRenderer(ctx, root, offline, ui.NewRenderer(ui.NewConfig(os.Stderr, ui.WithForcePlain(true))))
}

// openAppStackWithRenderer is openAppStack with an explicit renderer, for
// callers (the index command) that want indexing progress on stdout.
func openAppStackWithRenderer(ctx context.Context, root string, offline bool, renderer ui.Renderer) (*appStack, error) {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(root, ".meridian")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
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

	embedder, err := newAppEmbedder(ctx, cfg, offline)
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}

	rawVector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := rawVector.Load(vectorPath); err != nil {
			_ = metadata.Close()
			_ = lexical.Close()
			_ = embedder.Close()
			_ = rawVector.Close()
			return nil, fmt.Errorf("loading vector store: %w", err)
		}
	}
	vector := store.NewChunkVectorStore(rawVector, sourceNameResolver(metadata))

	engine, err := search.NewHybridEngine(lexical, vector, embedder, metadata)
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		_ = embedder.Close()
		_ = rawVector.Close()
		return nil, fmt.Errorf("constructing search engine: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		_ = metadata.Close()
		_ = lexical.Close()
		_ = embedder.Close()
		_ = rawVector.Close()
		return nil, fmt.Errorf("constructing scanner: %w", err)
	}

	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		Metadata:    metadata,
		Lexical:     lexical,
		Vector:      vector,
		Embedder:    embedder,
		CodeChunker: chunk.NewCodeChunkerWithOptions(chunk.CodeChunkerOptions{MaxChunkTokens: cfg.Search.ChunkSize, OverlapTokens: cfg.Search.ChunkOverlap}),
		MDChunker:   chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{MaxChunkTokens: cfg.Search.ChunkSize, OverlapTokens: cfg.Search.ChunkOverlap}),
		Scanner:     sc,
		ExcludePatterns: cfg.Paths.Exclude,
	})

	registry := skill.NewRegistry()
	_ = registry.Register(skill.NewSearchSkill(engine))
	_ = registry.Register(skill.NewCodeAnalysisSkill(chunk.NewParser(), chunk.NewSymbolExtractor()))
	_ = registry.Register(skill.NewReportSkill())
	_ = registry.Register(skill.NewRelationalQuerySkill())

	return &appStack{
		root:        root,
		dataDir:     dataDir,
		cfg:         cfg,
		metadata:    metadata,
		lexical:     lexical,
		vector:      vector,
		rawVector:   rawVector,
		vectorPath:  vectorPath,
		embedder:    embedder,
		skills:      registry,
		workflow:    workflow.NewEngine(registry),
		engine:      engine,
		coordinator: coordinator,
		runner:      index.NewRunner(coordinator, metadata, renderer),
	}, nil
}

func (a *appStack) Close() {
	if a.rawVector.Count() > 0 {
		if err := a.rawVector.Save(a.vectorPath); err != nil {
			slog.Warn("saving vector store", slog.String("error", err.Error()))
		}
	}
	_ = a.engine.Close()
	_ = a.vector.Close()
	_ = a.lexical.Close()
	_ = a.embedder.Close()
	_ = a.metadata.Close()
}

// ensureSourceRegistered records root as a directory source if it isn't
// already known, so a bare `meridian serve` in a fresh project has
// something to index and expose.
func (a *appStack) ensureSourceRegistered(ctx context.Context) (*store.Source, error) {
	existing, err := a.metadata.GetSourceByPath(ctx, a.root)
	if err == nil && existing != nil {
		return existing, nil
	}
	return a.metadata.AddSource(ctx, &store.Source{
		Type:    store.SourceTypeDirectory,
		Path:    a.root,
		Name:    filepath.Base(a.root),
		Enabled: true,
	})
}

// newAppEmbedder builds the embedder for a project, honoring --offline,
// the MERIDIAN_EMBEDDER test override (static, skipping network calls
// entirely), and the thermal/MLX tuning knobs from config.
func newAppEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
	if offline || os.Getenv("MERIDIAN_EMBEDDER") == "static" {
		return embed.NewStaticEmbedder768(), nil
	}

	embed.SetThermalConfig(embed.ThermalConfig{
		TimeoutProgression:     cfg.Embeddings.TimeoutProgression,
		RetryTimeoutMultiplier: cfg.Embeddings.RetryTimeoutMultiplier,
	})
	if cfg.Embeddings.InterBatchDelay != "" {
		if d, err := time.ParseDuration(cfg.Embeddings.InterBatchDelay); err == nil {
			tc := embed.ThermalConfig{
				TimeoutProgression:     cfg.Embeddings.TimeoutProgression,
				RetryTimeoutMultiplier: cfg.Embeddings.RetryTimeoutMultiplier,
				InterBatchDelay:        d,
			}
			embed.SetThermalConfig(tc)
		}
	}
	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return embed.NewEmbedder(embedCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
}

// sourceNameResolver returns a lookup used by ChunkVectorStore to
// hydrate a source ID into its display name at search time. It uses a
// fresh background context per call rather than the stack's own ctx, so
// lookups keep working even after the caller's request context ends.
func sourceNameResolver(metadata store.MetadataStore) func(sourceID int64) string {
	return func(sourceID int64) string {
		src, err := metadata.GetSource(context.Background(), sourceID)
		if err != nil || src == nil {
			return ""
		}
		return src.Name
	}
}
