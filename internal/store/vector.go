package store

import "context"

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Quantization   string // "f32", "f16", "i8"
	Metric         string // "cos", "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides raw nearest-neighbor storage keyed by string chunk
// ID. It is the opaque provider described in spec §4.5: it knows nothing
// about doc_id grouping or metadata filters — that's layered on top by
// ChunkVectorStore.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ChunkMetadata is the provenance stored alongside every chunk vector so
// that filtered retrieval and doc_id-scoped deletion are possible without
// consulting the metadata store.
type ChunkMetadata struct {
	DocID      string
	SourceType SourceType
	SourceID   int64
	FilePath   string
	Extension  string
	StartLine  int
	EndLine    int
	Snippet    string
}

// VectorFilter is the conjunctive metadata predicate applied to a vector
// query, combining the source-dimension union (repositories ∪ directories)
// with folder-prefix and extension intersection, per spec §4.7's filter
// algebra.
type VectorFilter struct {
	Repositories []string
	SourceIDs    []int64
	FolderPrefix string
	Extensions   []string
}

func (f VectorFilter) isEmpty() bool {
	return len(f.Repositories) == 0 && len(f.SourceIDs) == 0 && f.FolderPrefix == "" && len(f.Extensions) == 0
}

func (f VectorFilter) matches(md ChunkMetadata, repoNameOf func(sourceID int64) string) bool {
	sourceOK := len(f.Repositories) == 0 && len(f.SourceIDs) == 0
	if !sourceOK {
		for _, id := range f.SourceIDs {
			if id == md.SourceID {
				sourceOK = true
				break
			}
		}
		if !sourceOK && repoNameOf != nil {
			name := repoNameOf(md.SourceID)
			for _, r := range f.Repositories {
				if r == name {
					sourceOK = true
					break
				}
			}
		}
	}
	if !sourceOK {
		return false
	}
	if f.FolderPrefix != "" && !hasPathPrefix(md.FilePath, f.FolderPrefix) {
		return false
	}
	if len(f.Extensions) > 0 {
		extOK := false
		for _, ext := range f.Extensions {
			if ext == md.Extension {
				extOK = true
				break
			}
		}
		if !extOK {
			return false
		}
	}
	return true
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// ChunkVectorStore composes a raw VectorStore with doc_id grouping,
// metadata filters, and an upsert-by-doc_id contract: a full rewrite of a
// document's chunks deletes the old set before inserting the new one, so
// observers never see a mixture of two versions (spec invariant: chunk
// atomicity).
type ChunkVectorStore struct {
	raw        VectorStore
	byDoc      map[string]map[string]struct{} // docID -> set of chunk IDs
	meta       map[string]ChunkMetadata       // chunk ID -> metadata
	repoNameOf func(sourceID int64) string
}

// NewChunkVectorStore wraps raw with doc_id bookkeeping. repoNameOf
// resolves a source_id to its repository name for the filter algebra's
// union dimension; it may be nil if repository-name filtering is unused.
func NewChunkVectorStore(raw VectorStore, repoNameOf func(sourceID int64) string) *ChunkVectorStore {
	return &ChunkVectorStore{
		raw:        raw,
		byDoc:      make(map[string]map[string]struct{}),
		meta:       make(map[string]ChunkMetadata),
		repoNameOf: repoNameOf,
	}
}

// ReplaceDocument deletes every chunk currently recorded for docID, then
// inserts the provided chunks as the new set, as one logical operation.
func (c *ChunkVectorStore) ReplaceDocument(ctx context.Context, docID string, ids []string, vectors [][]float32, metas []ChunkMetadata) error {
	if existing, ok := c.byDoc[docID]; ok {
		old := make([]string, 0, len(existing))
		for id := range existing {
			old = append(old, id)
		}
		if err := c.raw.Delete(ctx, old); err != nil {
			return err
		}
		for _, id := range old {
			delete(c.meta, id)
		}
	}

	if len(ids) == 0 {
		delete(c.byDoc, docID)
		return nil
	}

	if err := c.raw.Add(ctx, ids, vectors); err != nil {
		return err
	}

	set := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		set[id] = struct{}{}
		c.meta[id] = metas[i]
	}
	c.byDoc[docID] = set
	return nil
}

// DeleteDocuments removes all chunks belonging to the given doc IDs.
func (c *ChunkVectorStore) DeleteDocuments(ctx context.Context, docIDs []string) error {
	var all []string
	for _, docID := range docIDs {
		for id := range c.byDoc[docID] {
			all = append(all, id)
		}
		delete(c.byDoc, docID)
	}
	if len(all) == 0 {
		return nil
	}
	for _, id := range all {
		delete(c.meta, id)
	}
	return c.raw.Delete(ctx, all)
}

// ChunkSearchResult is one filtered, hydrated vector hit.
type ChunkSearchResult struct {
	ChunkID  string
	DocID    string
	Score    float32
	Metadata ChunkMetadata
}

// Search performs a top-K nearest-neighbor query, over-fetching to absorb
// filter rejection, then applies the conjunctive metadata predicate.
func (c *ChunkVectorStore) Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]ChunkSearchResult, error) {
	fetchK := k
	if !filter.isEmpty() {
		fetchK = k * 4
		if fetchK < 20 {
			fetchK = 20
		}
	}

	raw, err := c.raw.Search(ctx, query, fetchK)
	if err != nil {
		return nil, err
	}

	out := make([]ChunkSearchResult, 0, k)
	for _, r := range raw {
		md, ok := c.meta[r.ID]
		if !ok {
			continue
		}
		if !filter.isEmpty() && !filter.matches(md, c.repoNameOf) {
			continue
		}
		out = append(out, ChunkSearchResult{ChunkID: r.ID, DocID: md.DocID, Score: r.Score, Metadata: md})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Close releases the underlying store.
func (c *ChunkVectorStore) Close() error {
	return c.raw.Close()
}
