package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-search/meridian/internal/store"
)

// fakeLexicalStore is a minimal in-memory store.LexicalStore for engine tests.
type fakeLexicalStore struct {
	hits []store.LexicalHit
	err  error
}

func (f *fakeLexicalStore) IndexDocuments(ctx context.Context, docs []store.LexicalDocument) error {
	return nil
}
func (f *fakeLexicalStore) DeleteByDocIDs(ctx context.Context, ids []string) error { return nil }
func (f *fakeLexicalStore) Search(ctx context.Context, query string, filter store.LexicalFilter, limit int) ([]store.LexicalHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}
func (f *fakeLexicalStore) Count() int   { return len(f.hits) }
func (f *fakeLexicalStore) Close() error { return nil }

// fakeEmbedder is a deterministic store.Embedder stand-in.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}
func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}
func (e *fakeEmbedder) Dimensions() int                  { return len(e.vec) }
func (e *fakeEmbedder) ModelName() string                { return "fake" }
func (e *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (e *fakeEmbedder) Close() error                     { return nil }
func (e *fakeEmbedder) SetBatchIndex(idx int)             {}
func (e *fakeEmbedder) SetFinalBatch(isFinal bool)        {}

// fakeMetadataStore implements store.MetadataStore with just enough
// behavior for hydration: GetFile and ListSources.
type fakeMetadataStore struct {
	files   map[string]*store.FileRecord
	sources []*store.Source
}

func (m *fakeMetadataStore) AddSource(ctx context.Context, src *store.Source) (*store.Source, error) {
	return src, nil
}
func (m *fakeMetadataStore) UpdateSource(ctx context.Context, id int64, changes store.SourceChanges) (*store.Source, error) {
	return nil, store.ErrNotFound
}
func (m *fakeMetadataStore) DeleteSource(ctx context.Context, id int64) error { return nil }
func (m *fakeMetadataStore) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	for _, s := range m.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}
func (m *fakeMetadataStore) GetSourceByPath(ctx context.Context, path string) (*store.Source, error) {
	return nil, store.ErrNotFound
}
func (m *fakeMetadataStore) ListSources(ctx context.Context, filter store.SourceFilter) ([]*store.Source, error) {
	return m.sources, nil
}
func (m *fakeMetadataStore) UpsertFile(ctx context.Context, rec *store.FileRecord) error {
	m.files[rec.DocID] = rec
	return nil
}
func (m *fakeMetadataStore) GetFile(ctx context.Context, docID string) (*store.FileRecord, error) {
	rec, ok := m.files[docID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}
func (m *fakeMetadataStore) ListFilesBySource(ctx context.Context, sourceID int64) ([]*store.FileRecord, error) {
	return nil, nil
}
func (m *fakeMetadataStore) DeleteFilesMissing(ctx context.Context, sourceID int64, observedDocIDs map[string]struct{}) ([]*store.FileRecord, error) {
	return nil, nil
}
func (m *fakeMetadataStore) DeleteFiles(ctx context.Context, docIDs []string) error { return nil }
func (m *fakeMetadataStore) RecordIndexEvent(ctx context.Context, sourceID int64, indexType store.IndexType, outcome store.IndexOutcome, duration time.Duration) {
}
func (m *fakeMetadataStore) GetStats(ctx context.Context, sourceID int64) ([]*store.SourceStats, error) {
	return nil, nil
}
func (m *fakeMetadataStore) Close() error { return nil }

func newTestEngine(t *testing.T, lex *fakeLexicalStore, emb *fakeEmbedder, meta *fakeMetadataStore, raw store.VectorStore) *HybridEngine {
	t.Helper()
	cvs := store.NewChunkVectorStore(raw, func(id int64) string { return "" })
	eng, err := NewHybridEngine(lex, cvs, emb, meta)
	require.NoError(t, err)
	return eng
}

func newTestHNSWRaw(t *testing.T, dims int) *store.HNSWStore {
	t.Helper()
	s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHybridEngine_KeywordModeHydratesFromMetadata(t *testing.T) {
	ctx := context.Background()
	meta := &fakeMetadataStore{files: map[string]*store.FileRecord{
		"doc1": {DocID: "doc1", RelPath: "a.go", MTime: time.Unix(100, 0)},
	}}
	lex := &fakeLexicalStore{hits: []store.LexicalHit{{DocID: "doc1", Score: 1.0, Snippet: "func main()"}}}
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	raw := newTestHNSWRaw(t, 2)

	eng := newTestEngine(t, lex, emb, meta, raw)
	resp, err := eng.Search(ctx, Query{Text: "main", Mode: ModeKeyword, Limit: 10})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "doc1", resp.Results[0].DocID)
	require.Equal(t, "a.go", resp.Results[0].RelPath)
}

func TestHybridEngine_DropsResultsThatCannotBeHydrated(t *testing.T) {
	ctx := context.Background()
	meta := &fakeMetadataStore{files: map[string]*store.FileRecord{
		"doc1": {DocID: "doc1", RelPath: "a.go"},
	}}
	lex := &fakeLexicalStore{hits: []store.LexicalHit{
		{DocID: "doc1", Score: 1.0},
		{DocID: "doc-deleted", Score: 0.9}, // no FileRecord: simulates deletion race
	}}
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	raw := newTestHNSWRaw(t, 2)

	eng := newTestEngine(t, lex, emb, meta, raw)
	resp, err := eng.Search(ctx, Query{Text: "x", Mode: ModeKeyword, Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "unhydratable result must be dropped, not backfilled")
	require.Equal(t, "doc1", resp.Results[0].DocID)
}

func TestHybridEngine_SemanticArmFailureDegradesToKeyword(t *testing.T) {
	ctx := context.Background()
	meta := &fakeMetadataStore{files: map[string]*store.FileRecord{
		"doc1": {DocID: "doc1", RelPath: "a.go"},
	}}
	lex := &fakeLexicalStore{hits: []store.LexicalHit{{DocID: "doc1", Score: 1.0}}}
	emb := &fakeEmbedder{err: context.DeadlineExceeded}
	raw := newTestHNSWRaw(t, 2)

	eng := newTestEngine(t, lex, emb, meta, raw)
	resp, err := eng.Search(ctx, Query{Text: "x", Mode: ModeHybrid, Limit: 10})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
}

func TestHybridEngine_BothArmsFailReturnsError(t *testing.T) {
	ctx := context.Background()
	meta := &fakeMetadataStore{files: map[string]*store.FileRecord{}}
	lex := &fakeLexicalStore{err: context.DeadlineExceeded}
	emb := &fakeEmbedder{err: context.DeadlineExceeded}
	raw := newTestHNSWRaw(t, 2)

	eng := newTestEngine(t, lex, emb, meta, raw)
	_, err := eng.Search(ctx, Query{Text: "x", Mode: ModeHybrid, Limit: 10})
	require.Error(t, err)
}

func TestHybridEngine_MinScoreFiltersLowRankedResults(t *testing.T) {
	ctx := context.Background()
	meta := &fakeMetadataStore{files: map[string]*store.FileRecord{
		"doc1": {DocID: "doc1", RelPath: "a.go"},
	}}
	lex := &fakeLexicalStore{hits: []store.LexicalHit{{DocID: "doc1", Score: 0.01}}}
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	raw := newTestHNSWRaw(t, 2)

	eng := newTestEngine(t, lex, emb, meta, raw)
	resp, err := eng.Search(ctx, Query{Text: "x", Mode: ModeKeyword, Limit: 10, MinScore: 0.5})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
}
