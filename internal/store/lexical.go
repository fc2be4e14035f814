package store

import (
	"context"
	"fmt"
	"time"
)

// LexicalDocument is one indexable document in the lexical engine's
// schema: the searchable fields plus the filterable attributes named in
// spec §4.4.
type LexicalDocument struct {
	DocID          string
	FileName       string
	FolderName     string
	Content        string
	SourceType     SourceType
	SourceID       int64
	RepositoryName string
	Extension      string
	MTime          time.Time
	Size           int64
}

// LexicalFilter is the predicate composed by the hybrid search engine:
// repository names and directory source IDs combine as a union within the
// source dimension, intersected with an optional folder prefix and
// extension set.
type LexicalFilter struct {
	Repositories []string
	SourceIDs    []int64
	FolderPrefix string
	Extensions   []string
}

func (f LexicalFilter) isEmpty() bool {
	return len(f.Repositories) == 0 && len(f.SourceIDs) == 0 && f.FolderPrefix == "" && len(f.Extensions) == 0
}

// LexicalHit is a single ranked keyword-search result.
type LexicalHit struct {
	DocID   string
	Score   float64
	Snippet string
}

// LexicalStore is the opaque keyword-search provider described in spec
// §1/§4.4: batched document writes with a typed attribute schema, filtered
// ranked retrieval, and deletion by primary key.
type LexicalStore interface {
	IndexDocuments(ctx context.Context, docs []LexicalDocument) error
	DeleteByDocIDs(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, filter LexicalFilter, limit int) ([]LexicalHit, error)
	Count() int
	Close() error
}

// LexicalBackend names a selectable lexical store implementation.
type LexicalBackend string

const (
	LexicalBackendSQLite LexicalBackend = "sqlite"
	LexicalBackendBleve  LexicalBackend = "bleve"
)

// DefaultCodeStopWords contains programming keywords filtered out of the
// lexical index so common syntax doesn't dominate term-frequency ranking.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// NewLexicalStore constructs the selected backend at path (a base path
// without extension — the backend appends its own).
func NewLexicalStore(backend LexicalBackend, basePath string, stopWords []string) (LexicalStore, error) {
	switch backend {
	case LexicalBackendBleve:
		var p string
		if basePath != "" {
			p = basePath + ".bleve"
		}
		return NewBleveLexicalStore(p, stopWords)
	case LexicalBackendSQLite, "":
		var p string
		if basePath != "" {
			p = basePath + ".db"
		}
		return NewSQLiteLexicalStore(p, stopWords)
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s", backend)
	}
}
