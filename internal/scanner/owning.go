package scanner

import (
	"path/filepath"
	"strings"
)

// OwningRoot is the minimal shape this package needs from a registered
// source to resolve ownership: its id and canonical root path.
type OwningRoot struct {
	SourceID int64
	Path     string
}

// OwningSource resolves which of the given roots owns filePath, using
// the longest-prefix rule: when registered sources overlap, a file
// belongs to the source whose root is the longest prefix of the file's
// path (spec §4.3). Returns ok=false if no root contains filePath.
func OwningSource(filePath string, roots []OwningRoot) (OwningRoot, bool) {
	filePath = filepath.Clean(filePath)

	var best OwningRoot
	bestLen := -1
	found := false

	for _, r := range roots {
		root := filepath.Clean(r.Path)
		if !isWithin(filePath, root) {
			continue
		}
		if len(root) > bestLen {
			best = r
			bestLen = len(root)
			found = true
		}
	}

	return best, found
}

// isWithin reports whether path is root itself or a descendant of root.
func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
