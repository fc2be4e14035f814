// Package changedet compares freshly scanned files against the metadata
// store's tracked file records to decide which files actually need
// reindexing, per spec §4.6's mtime/size diff with a content-hash
// fallback.
package changedet

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/meridian-search/meridian/internal/store"
)

// Observed is one freshly scanned file, prior to hashing.
type Observed struct {
	DocID   string
	AbsPath string
	RelPath string
	Size    int64
	MTime   int64 // unix seconds
}

// ChangeKind classifies how an observed file relates to the metadata
// store's last-known record for it.
type ChangeKind string

const (
	ChangeAdded      ChangeKind = "added"
	ChangeModified   ChangeKind = "modified"
	ChangeUnmodified ChangeKind = "unmodified"
)

// Change is one file whose indexed state needs reconciling.
type Change struct {
	Kind ChangeKind
	File Observed
	Hash string // computed for added files and when mtime/size differ; otherwise the stored hash
}

// Diff compares observed files against existing, keyed by doc_id, and
// returns one Change per observed file. mtime/size equality is treated
// as sufficient evidence of no change without reading file content; a
// changed mtime or size triggers a content hash, so a file whose editor
// merely touched its mtime without altering bytes is still reported
// unmodified once the hash is compared to the stored one.
func Diff(observed []Observed, existing map[string]*store.FileRecord) ([]Change, error) {
	changes := make([]Change, 0, len(observed))

	for _, o := range observed {
		rec, ok := existing[o.DocID]
		if !ok {
			hash, err := hashFile(o.AbsPath)
			if err != nil {
				return nil, err
			}
			changes = append(changes, Change{Kind: ChangeAdded, File: o, Hash: hash})
			continue
		}

		if rec.MTime.Unix() == o.MTime && rec.Size == o.Size {
			changes = append(changes, Change{Kind: ChangeUnmodified, File: o, Hash: rec.Hash})
			continue
		}

		hash, err := hashFile(o.AbsPath)
		if err != nil {
			return nil, err
		}
		if hash == rec.Hash {
			changes = append(changes, Change{Kind: ChangeUnmodified, File: o, Hash: hash})
			continue
		}
		changes = append(changes, Change{Kind: ChangeModified, File: o, Hash: hash})
	}

	return changes, nil
}

// Missing returns the doc_ids present in existing but absent from
// observed — files the metadata store tracks that the latest scan no
// longer sees, and so should be reaped.
func Missing(observed []Observed, existing map[string]*store.FileRecord) []string {
	seen := make(map[string]struct{}, len(observed))
	for _, o := range observed {
		seen[o.DocID] = struct{}{}
	}
	var missing []string
	for docID := range existing {
		if _, ok := seen[docID]; !ok {
			missing = append(missing, docID)
		}
	}
	return missing
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
