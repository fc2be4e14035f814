package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChunkVectorStore_ReplaceDocumentAtomicity(t *testing.T) {
	ctx := context.Background()
	raw := newTestHNSW(t, 3)
	cvs := NewChunkVectorStore(raw, nil)

	err := cvs.ReplaceDocument(ctx, "doc1",
		[]string{"doc1#0", "doc1#1"},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]ChunkMetadata{
			{DocID: "doc1", FilePath: "a.go", Extension: "go"},
			{DocID: "doc1", FilePath: "a.go", Extension: "go"},
		})
	require.NoError(t, err)
	require.Equal(t, 2, raw.Count())

	// Replacing with a new, smaller chunk set must remove the old chunks
	// entirely, never leave a mixture of old and new.
	err = cvs.ReplaceDocument(ctx, "doc1",
		[]string{"doc1#0"},
		[][]float32{{0, 0, 1}},
		[]ChunkMetadata{{DocID: "doc1", FilePath: "a.go", Extension: "go"}})
	require.NoError(t, err)
	require.Equal(t, 1, raw.Count())
	require.False(t, raw.Contains("doc1#1"))
}

func TestChunkVectorStore_SearchAppliesFilter(t *testing.T) {
	ctx := context.Background()
	raw := newTestHNSW(t, 2)
	cvs := NewChunkVectorStore(raw, func(id int64) string {
		if id == 1 {
			return "repo-a"
		}
		return "repo-b"
	})

	require.NoError(t, cvs.ReplaceDocument(ctx, "doc1", []string{"doc1#0"}, [][]float32{{1, 0}},
		[]ChunkMetadata{{DocID: "doc1", SourceID: 1, FilePath: "x/a.go", Extension: "go"}}))
	require.NoError(t, cvs.ReplaceDocument(ctx, "doc2", []string{"doc2#0"}, [][]float32{{0.9, 0.1}},
		[]ChunkMetadata{{DocID: "doc2", SourceID: 2, FilePath: "y/b.go", Extension: "go"}}))

	results, err := cvs.Search(ctx, []float32{1, 0}, 10, VectorFilter{Repositories: []string{"repo-a"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc1", results[0].DocID)
}

func TestChunkVectorStore_DeleteDocuments(t *testing.T) {
	ctx := context.Background()
	raw := newTestHNSW(t, 2)
	cvs := NewChunkVectorStore(raw, nil)

	require.NoError(t, cvs.ReplaceDocument(ctx, "doc1", []string{"doc1#0", "doc1#1"},
		[][]float32{{1, 0}, {0, 1}}, []ChunkMetadata{{DocID: "doc1"}, {DocID: "doc1"}}))

	require.NoError(t, cvs.DeleteDocuments(ctx, []string{"doc1"}))
	require.Equal(t, 0, raw.Count())
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 4)

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 2, 3}})
	require.Error(t, err)
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 4, mismatch.Expected)
	require.Equal(t, 3, mismatch.Got)
}

func TestHNSWStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestHNSW(t, 3)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	path := dir + "/vectors.hnsw"
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))
	require.Equal(t, 2, loaded.Count())
	require.True(t, loaded.Contains("a"))
}
