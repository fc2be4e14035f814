package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetadataStore_AddAndGetSource(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	src, err := s.AddSource(ctx, &Source{
		Type:        SourceTypeRepository,
		Path:        "/tmp/repo",
		Name:        "repo",
		Enabled:     true,
		AutoReindex: true,
		Priority:    10,
	})
	require.NoError(t, err)
	require.NotZero(t, src.ID)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, "repo", got.Name)
	require.Equal(t, SourceTypeRepository, got.Type)
	require.True(t, got.Enabled)
}

func TestMetadataStore_AddSourceDuplicatePath(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	_, err := s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/dir", Name: "dir"})
	require.NoError(t, err)

	_, err = s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/dir", Name: "dir2"})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMetadataStore_UpdateSourcePartial(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	src, err := s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/d", Name: "d", Priority: 1})
	require.NoError(t, err)

	disabled := false
	updated, err := s.UpdateSource(ctx, src.ID, SourceChanges{Enabled: &disabled})
	require.NoError(t, err)
	require.False(t, updated.Enabled)
	require.Equal(t, "d", updated.Name) // unchanged fields preserved
	require.Equal(t, 1, updated.Priority)
}

func TestMetadataStore_DeleteSourceNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)
	err := s.DeleteSource(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataStore_ListSourcesOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	_, err := s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/b", Name: "b", Priority: 5, Enabled: true})
	require.NoError(t, err)
	_, err = s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/a", Name: "a", Priority: 5, Enabled: true})
	require.NoError(t, err)
	_, err = s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/c", Name: "c", Priority: 9, Enabled: false})
	require.NoError(t, err)

	all, err := s.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].Name) // highest priority first
	require.Equal(t, "a", all[1].Name) // tie broken by name ascending
	require.Equal(t, "b", all[2].Name)

	enabledOnly, err := s.ListSources(ctx, SourceFilter{EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabledOnly, 2)
}

func TestMetadataStore_UpsertFileAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	src, err := s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/root", Name: "root"})
	require.NoError(t, err)

	now := time.Now()
	for _, doc := range []string{"doc-a", "doc-b", "doc-c"} {
		err := s.UpsertFile(ctx, &FileRecord{
			DocID:         doc,
			SourceType:    SourceTypeDirectory,
			SourceID:      src.ID,
			AbsPath:       "/tmp/root/" + doc,
			RelPath:       doc,
			Size:          10,
			MTime:         now,
			Hash:          "h",
			LastIndexedAt: now,
		})
		require.NoError(t, err)
	}

	files, err := s.ListFilesBySource(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)

	observed := map[string]struct{}{"doc-a": {}, "doc-c": {}}
	stale, err := s.DeleteFilesMissing(ctx, src.ID, observed)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "doc-b", stale[0].DocID)

	remaining, err := s.ListFilesBySource(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestMetadataStore_RecordIndexEventAndStats(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	src, err := s.AddSource(ctx, &Source{Type: SourceTypeDirectory, Path: "/tmp/stats", Name: "stats"})
	require.NoError(t, err)

	s.RecordIndexEvent(ctx, src.ID, IndexTypeLexical, IndexOutcomeSuccess, 50*time.Millisecond)
	s.RecordIndexEvent(ctx, src.ID, IndexTypeLexical, IndexOutcomeSuccess, 75*time.Millisecond)

	stats, err := s.GetStats(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, IndexTypeLexical, stats[0].IndexType)
	require.Equal(t, 75*time.Millisecond, stats[0].LastReindexDuration)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastIndexed)
}
