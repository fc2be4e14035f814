package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/store"
)

// ErrNilDependency is returned when a required HybridEngine dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// HybridEngine implements Engine by running the keyword and semantic
// retrievals concurrently and fusing them with reciprocal-rank fusion,
// per spec §4.7.
type HybridEngine struct {
	lexical  store.LexicalStore
	vector   *store.ChunkVectorStore
	embedder embed.Embedder
	metadata store.MetadataStore
	expander *QueryExpander

	mu sync.RWMutex
}

var _ Engine = (*HybridEngine)(nil)

// NewHybridEngine constructs the hybrid search engine. All four
// dependencies are required; a nil one yields ErrNilDependency.
func NewHybridEngine(
	lexical store.LexicalStore,
	vector *store.ChunkVectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
) (*HybridEngine, error) {
	if lexical == nil || vector == nil || embedder == nil || metadata == nil {
		return nil, fmt.Errorf("search: %w", ErrNilDependency)
	}
	return &HybridEngine{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		expander: NewQueryExpander(),
	}, nil
}

func (e *HybridEngine) Close() error {
	return nil
}

// Search executes q and returns a ranked, hydrated Response. In hybrid
// mode both arms are issued concurrently and awaited together; if one
// fails, the surviving arm's results are used and Degraded is set. If
// both fail, an error carrying both arms' errors is returned.
func (e *HybridEngine) Search(ctx context.Context, q Query) (Response, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	weights := DefaultWeights()
	if q.Weights != nil {
		weights = *q.Weights
	}
	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	overFetch := limit * 3
	if overFetch < limit {
		overFetch = limit
	}

	var (
		keywordHits []store.LexicalHit
		vectorHits  []store.ChunkSearchResult
		keywordErr  error
		vectorErr   error
	)

	lexFilter := store.LexicalFilter{
		Repositories: q.Filters.Repositories,
		SourceIDs:    q.Filters.SourceIDs,
		FolderPrefix: q.Filters.FolderPrefix,
		Extensions:   q.Filters.Extensions,
	}
	vecFilter := store.VectorFilter{
		Repositories: q.Filters.Repositories,
		SourceIDs:    q.Filters.SourceIDs,
		FolderPrefix: q.Filters.FolderPrefix,
		Extensions:   q.Filters.Extensions,
	}

	g, gctx := errgroup.WithContext(ctx)

	if mode == ModeKeyword || mode == ModeHybrid {
		g.Go(func() error {
			expanded := e.expander.Expand(q.Text)
			hits, err := e.lexical.Search(gctx, expanded, lexFilter, overFetch)
			if err != nil {
				keywordErr = err
				return nil
			}
			keywordHits = hits
			return nil
		})
	}
	if mode == ModeSemantic || mode == ModeHybrid {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, q.Text)
			if err != nil {
				vectorErr = err
				return nil
			}
			hits, err := e.vector.Search(gctx, vec, overFetch, vecFilter)
			if err != nil {
				vectorErr = err
				return nil
			}
			vectorHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	switch mode {
	case ModeKeyword:
		if keywordErr != nil {
			return Response{}, fmt.Errorf("keyword search: %w", keywordErr)
		}
		return e.hydrateKeywordOnly(ctx, keywordHits, limit, q.MinScore)
	case ModeSemantic:
		if vectorErr != nil {
			return Response{}, fmt.Errorf("semantic search: %w", vectorErr)
		}
		return e.hydrateVectorOnly(ctx, vectorHits, limit, q.MinScore)
	default:
		return e.hydrateHybrid(ctx, keywordHits, keywordErr, vectorHits, vectorErr, weights, limit, q.MinScore)
	}
}

func (e *HybridEngine) hydrateHybrid(
	ctx context.Context,
	keywordHits []store.LexicalHit,
	keywordErr error,
	vectorHits []store.ChunkSearchResult,
	vectorErr error,
	weights Weights,
	limit int,
	minScore float64,
) (Response, error) {
	degraded := false

	if keywordErr != nil && vectorErr != nil {
		return Response{}, fmt.Errorf("both search arms failed: keyword: %v, semantic: %v", keywordErr, vectorErr)
	}
	if keywordErr != nil {
		slog.Warn("keyword search arm failed, falling back to semantic only", slog.String("error", keywordErr.Error()))
		degraded = true
		resp, err := e.hydrateVectorOnly(ctx, vectorHits, limit, minScore)
		resp.Degraded = degraded
		return resp, err
	}
	if vectorErr != nil {
		slog.Warn("semantic search arm failed, falling back to keyword only", slog.String("error", vectorErr.Error()))
		degraded = true
		resp, err := e.hydrateKeywordOnly(ctx, keywordHits, limit, minScore)
		resp.Degraded = degraded
		return resp, err
	}

	keywordDocIDs := make([]string, len(keywordHits))
	snippetOf := make(map[string]string, len(keywordHits))
	for i, h := range keywordHits {
		keywordDocIDs[i] = h.DocID
		snippetOf[h.DocID] = h.Snippet
	}

	semanticDocIDs, snippetFromVec := bestChunkPerDoc(vectorHits)
	for docID, snippet := range snippetFromVec {
		if _, ok := snippetOf[docID]; !ok {
			snippetOf[docID] = snippet
		}
	}

	fused := fuse(keywordDocIDs, semanticDocIDs, weights, DefaultRRFConstant)

	sources, err := e.loadSources(ctx)
	if err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, limit)
	for _, d := range fused {
		score := scoreOf(d, weights, DefaultRRFConstant)
		if score < minScore {
			continue
		}
		rec, err := e.metadata.GetFile(ctx, d.docID)
		if err != nil {
			continue // dropped: cannot hydrate, do not backfill
		}
		results = append(results, Result{
			DocID:          d.docID,
			Score:          score,
			KeywordRank:    d.keywordRank,
			SemanticRank:   d.semanticRank,
			RepositoryName: repoName(sources, rec.SourceID),
			RelPath:        rec.RelPath,
			Snippet:        snippetOf[d.docID],
			MTime:          rec.MTime.Unix(),
		})
		if len(results) >= limit {
			break
		}
	}

	return Response{Results: results, Degraded: degraded}, nil
}

func (e *HybridEngine) hydrateKeywordOnly(ctx context.Context, hits []store.LexicalHit, limit int, minScore float64) (Response, error) {
	sources, err := e.loadSources(ctx)
	if err != nil {
		return Response{}, err
	}
	results := make([]Result, 0, limit)
	for i, h := range hits {
		if h.Score < minScore {
			continue
		}
		rec, err := e.metadata.GetFile(ctx, h.DocID)
		if err != nil {
			continue
		}
		results = append(results, Result{
			DocID:          h.DocID,
			Score:          h.Score,
			KeywordRank:    i + 1,
			RepositoryName: repoName(sources, rec.SourceID),
			RelPath:        rec.RelPath,
			Snippet:        h.Snippet,
			MTime:          rec.MTime.Unix(),
		})
		if len(results) >= limit {
			break
		}
	}
	return Response{Results: results}, nil
}

func (e *HybridEngine) hydrateVectorOnly(ctx context.Context, hits []store.ChunkSearchResult, limit int, minScore float64) (Response, error) {
	docIDs, snippets := bestChunkPerDoc(hits)
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if s, ok := scores[h.DocID]; !ok || float64(h.Score) > s {
			scores[h.DocID] = float64(h.Score)
		}
	}

	sources, err := e.loadSources(ctx)
	if err != nil {
		return Response{}, err
	}
	results := make([]Result, 0, limit)
	for i, docID := range docIDs {
		score := scores[docID]
		if score < minScore {
			continue
		}
		rec, err := e.metadata.GetFile(ctx, docID)
		if err != nil {
			continue
		}
		results = append(results, Result{
			DocID:          docID,
			Score:          score,
			SemanticRank:   i + 1,
			RepositoryName: repoName(sources, rec.SourceID),
			RelPath:        rec.RelPath,
			Snippet:        snippets[docID],
			MTime:          rec.MTime.Unix(),
		})
		if len(results) >= limit {
			break
		}
	}
	return Response{Results: results}, nil
}

// bestChunkPerDoc collapses chunk-level vector hits to one entry per
// doc_id, keeping rank order by best (first-seen, since hits arrive
// pre-sorted by score) chunk and its snippet.
func bestChunkPerDoc(hits []store.ChunkSearchResult) ([]string, map[string]string) {
	seen := make(map[string]struct{}, len(hits))
	docIDs := make([]string, 0, len(hits))
	snippets := make(map[string]string, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocID]; ok {
			continue
		}
		seen[h.DocID] = struct{}{}
		docIDs = append(docIDs, h.DocID)
		snippets[h.DocID] = h.Metadata.Snippet
	}
	return docIDs, snippets
}

func (e *HybridEngine) loadSources(ctx context.Context) (map[int64]*store.Source, error) {
	list, err := e.metadata.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading sources for hydration: %w", err)
	}
	m := make(map[int64]*store.Source, len(list))
	for _, s := range list {
		m[s.ID] = s
	}
	return m, nil
}

func repoName(sources map[int64]*store.Source, sourceID int64) string {
	if s, ok := sources[sourceID]; ok {
		return s.Name
	}
	return ""
}
