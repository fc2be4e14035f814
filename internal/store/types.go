// Package store provides the metadata store (SQLite), the lexical index
// backends (SQLite FTS5 and Bleve), and the vector store (HNSW) that back
// the ingestion and search pipelines.
package store

import (
	"context"
	"fmt"
	"time"
)

// SourceType distinguishes a version-controlled repository from an
// ad-hoc directory. Both are exposed through the same Source shape.
type SourceType string

const (
	SourceTypeRepository SourceType = "repository"
	SourceTypeDirectory  SourceType = "directory"
)

// IndexType identifies which of the two parallel indexes a stat or event
// applies to.
type IndexType string

const (
	IndexTypeLexical IndexType = "lexical"
	IndexTypeVector  IndexType = "vector"
)

// Source is a registered root (repository or ad-hoc directory) whose
// files are indexed. Path is unique across all sources.
type Source struct {
	ID          int64
	Type        SourceType
	Path        string // absolute, canonicalized
	Name        string
	Enabled     bool
	AutoReindex bool
	Priority    int
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastIndexed *time.Time
}

// SourceChanges is a partial update applied by UpdateSource. Nil fields are
// left unchanged.
type SourceChanges struct {
	Name        *string
	Enabled     *bool
	AutoReindex *bool
	Priority    *int
	Notes       *string
}

// SourceFilter restricts ListSources.
type SourceFilter struct {
	EnabledOnly bool
	Kind        SourceType // zero value means "any"
}

// SourceStats is the per-(source, index_type) accounting used for UI
// display only; it is never consulted for correctness.
type SourceStats struct {
	SourceID            int64
	IndexType           IndexType
	TotalFiles          int
	TotalBytes          int64
	InitialDuration     time.Duration
	InitialAt           *time.Time
	LastReindexDuration time.Duration
	LastReindexAt       *time.Time
}

// FileRecord represents one indexable file tracked by the metadata store.
type FileRecord struct {
	DocID           string
	SourceType      SourceType
	SourceID        int64
	AbsPath         string
	RelPath         string
	Size            int64
	MTime           time.Time
	Hash            string
	Kind            string // extension / classified file kind
	LastIndexedAt   time.Time
	LastIndexedHash string
}

// IndexOutcome is the result of one indexing pass against one index.
type IndexOutcome string

const (
	IndexOutcomeSuccess    IndexOutcome = "success"
	IndexOutcomeFailed     IndexOutcome = "failed"
	IndexOutcomeScanFailed IndexOutcome = "scan_failed"
)

// ErrNotFound is returned when a requested source or file record does not
// exist.
var ErrNotFound = fmt.Errorf("not found")

// ErrAlreadyExists is returned by AddSource when the canonicalized path is
// already registered.
var ErrAlreadyExists = fmt.Errorf("already exists")

// MetadataStore is the single source of truth for sources, file records,
// and per-source index statistics (spec §4.1). The two indexes hold
// derived state only; they are never consulted as authoritative.
type MetadataStore interface {
	AddSource(ctx context.Context, src *Source) (*Source, error)
	UpdateSource(ctx context.Context, id int64, changes SourceChanges) (*Source, error)
	DeleteSource(ctx context.Context, id int64) error
	GetSource(ctx context.Context, id int64) (*Source, error)
	GetSourceByPath(ctx context.Context, path string) (*Source, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]*Source, error)

	UpsertFile(ctx context.Context, rec *FileRecord) error
	GetFile(ctx context.Context, docID string) (*FileRecord, error)
	ListFilesBySource(ctx context.Context, sourceID int64) ([]*FileRecord, error)
	// DeleteFilesMissing removes any file record for sourceID whose doc_id
	// is not in observedDocIDs, and returns the removed records so callers
	// can delete them from the lexical and vector indexes.
	DeleteFilesMissing(ctx context.Context, sourceID int64, observedDocIDs map[string]struct{}) ([]*FileRecord, error)
	DeleteFiles(ctx context.Context, docIDs []string) error

	RecordIndexEvent(ctx context.Context, sourceID int64, indexType IndexType, outcome IndexOutcome, duration time.Duration)
	GetStats(ctx context.Context, sourceID int64) ([]*SourceStats, error)

	Close() error
}

// ContentType labels the semantic shape of a file for chunking purposes.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// SymbolType represents the type of code symbol.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted during chunking.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Chunk is a bounded slice of a file used as the unit of embedding and
// vector-store storage. Chunks sharing a DocID form one atomic set: they
// are written and deleted together (spec invariant: chunk atomicity).
type Chunk struct {
	ID          string // content-addressable: DocID + ordinal + content hash
	DocID       string // parent file's identity
	Ordinal     int    // 0-indexed, contiguous within a DocID
	FilePath    string // relative to source root
	Content     string
	RawContent  string
	Context     string
	ContentType ContentType
	Language    string
	StartOffset int
	EndOffset   int
	StartLine   int
	EndLine     int
	Symbols     []*Symbol
	Metadata    map[string]string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ErrDimensionMismatch indicates vector dimension mismatch between the
// configured embedder and the vector store's recorded dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'meridian sources reindex --force')", e.Expected, e.Got)
}
