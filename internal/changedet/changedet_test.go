package changedet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-search/meridian/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) Observed {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return Observed{
		DocID: name, AbsPath: path, RelPath: name,
		Size: info.Size(), MTime: info.ModTime().Unix(),
	}
}

func TestDiff_AddedFileHasNoExistingRecord(t *testing.T) {
	dir := t.TempDir()
	o := writeFile(t, dir, "a.go", "package a")

	changes, err := Diff([]Observed{o}, map[string]*store.FileRecord{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeAdded, changes[0].Kind)
	require.NotEmpty(t, changes[0].Hash)
}

func TestDiff_UnmodifiedWhenMTimeAndSizeMatch(t *testing.T) {
	dir := t.TempDir()
	o := writeFile(t, dir, "a.go", "package a")

	existing := map[string]*store.FileRecord{
		"a.go": {DocID: "a.go", Size: o.Size, MTime: time.Unix(o.MTime, 0), Hash: "irrelevant"},
	}

	changes, err := Diff([]Observed{o}, existing)
	require.NoError(t, err)
	require.Equal(t, ChangeUnmodified, changes[0].Kind)
}

func TestDiff_ModifiedWhenHashDiffers(t *testing.T) {
	dir := t.TempDir()
	o := writeFile(t, dir, "a.go", "package a; v2")

	existing := map[string]*store.FileRecord{
		"a.go": {DocID: "a.go", Size: o.Size - 1, MTime: time.Unix(o.MTime-10, 0), Hash: "stale-hash"},
	}

	changes, err := Diff([]Observed{o}, existing)
	require.NoError(t, err)
	require.Equal(t, ChangeModified, changes[0].Kind)
	require.NotEqual(t, "stale-hash", changes[0].Hash)
}

func TestDiff_UnmodifiedWhenHashMatchesDespiteTouchedMTime(t *testing.T) {
	dir := t.TempDir()
	o := writeFile(t, dir, "a.go", "package a")
	realHash, err := hashFile(o.AbsPath)
	require.NoError(t, err)

	existing := map[string]*store.FileRecord{
		"a.go": {DocID: "a.go", Size: o.Size, MTime: time.Unix(o.MTime-100, 0), Hash: realHash},
	}

	changes, err := Diff([]Observed{o}, existing)
	require.NoError(t, err)
	require.Equal(t, ChangeUnmodified, changes[0].Kind)
}

func TestMissing_ReportsFilesNoLongerObserved(t *testing.T) {
	existing := map[string]*store.FileRecord{
		"a.go": {DocID: "a.go"},
		"b.go": {DocID: "b.go"},
	}
	observed := []Observed{{DocID: "a.go"}}

	missing := Missing(observed, existing)
	require.Equal(t, []string{"b.go"}, missing)
}
