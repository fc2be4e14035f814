// Package index provides the ingestion pipeline: scanning a registered
// source, detecting which files changed, chunking and embedding them,
// and writing the result to the lexical and vector indexes and the
// metadata store.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meridian-search/meridian/internal/changedet"
	"github.com/meridian-search/meridian/internal/chunk"
	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/identity"
	"github.com/meridian-search/meridian/internal/scanner"
	"github.com/meridian-search/meridian/internal/store"
)

// DefaultMaxFileSize is the default maximum file size to index (100MB);
// larger files are skipped to bound memory use.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// CoordinatorConfig holds the Coordinator's dependencies.
type CoordinatorConfig struct {
	Metadata    store.MetadataStore
	Lexical     store.LexicalStore
	Vector      *store.ChunkVectorStore
	Embedder    embed.Embedder
	CodeChunker chunk.Chunker
	MDChunker   chunk.Chunker
	Scanner     *scanner.Scanner

	ExcludePatterns []string
	MaxFileSize     int64
}

// Coordinator runs full and incremental indexing passes for a single
// registered source (spec §4.5/§4.6: chunking, embedding, batched writes,
// and change-detected reindexing).
type Coordinator struct {
	cfg CoordinatorConfig
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

func (c *Coordinator) maxFileSize() int64 {
	if c.cfg.MaxFileSize > 0 {
		return c.cfg.MaxFileSize
	}
	return DefaultMaxFileSize
}

// PassOutcome summarizes one IndexSource call.
type PassOutcome struct {
	Added      int
	Modified   int
	Removed    int
	Unmodified int
	Warnings   int
}

// IndexSource scans src's filesystem tree, diffs it against the metadata
// store's tracked file records for src, and reconciles both indexes:
// added/modified files are chunked, embedded, and written; files no
// longer observed are reaped. Returns per-source stats and records the
// pass outcome via MetadataStore.RecordIndexEvent for both index types.
func (c *Coordinator) IndexSource(ctx context.Context, src *store.Source) (PassOutcome, error) {
	start := time.Now()
	var outcome PassOutcome

	observed, observedIDs, scanWarnings, err := c.scanSource(ctx, src)
	outcome.Warnings += scanWarnings
	if err != nil {
		c.cfg.Metadata.RecordIndexEvent(ctx, src.ID, store.IndexTypeLexical, store.IndexOutcomeScanFailed, time.Since(start))
		c.cfg.Metadata.RecordIndexEvent(ctx, src.ID, store.IndexTypeVector, store.IndexOutcomeScanFailed, time.Since(start))
		return outcome, fmt.Errorf("scanning source %d: %w", src.ID, err)
	}

	existing, err := c.existingRecords(ctx, src.ID)
	if err != nil {
		return outcome, fmt.Errorf("loading existing file records: %w", err)
	}

	changes, err := changedet.Diff(observed, existing)
	if err != nil {
		return outcome, fmt.Errorf("diffing observed files: %w", err)
	}

	removedRecs, err := c.cfg.Metadata.DeleteFilesMissing(ctx, src.ID, observedIDs)
	if err != nil {
		return outcome, fmt.Errorf("deleting missing file records: %w", err)
	}
	if len(removedRecs) > 0 {
		docIDs := make([]string, len(removedRecs))
		for i, r := range removedRecs {
			docIDs[i] = r.DocID
		}
		if err := c.removeDocuments(ctx, docIDs); err != nil {
			slog.Warn("failed to remove stale documents", slog.String("error", err.Error()))
			outcome.Warnings++
		}
		outcome.Removed += len(removedRecs)
	}

	for _, ch := range changes {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}

		switch ch.Kind {
		case changedet.ChangeUnmodified:
			outcome.Unmodified++
			continue
		case changedet.ChangeAdded:
			outcome.Added++
		case changedet.ChangeModified:
			outcome.Modified++
		}

		if err := c.indexFile(ctx, src, ch); err != nil {
			slog.Warn("failed to index file",
				slog.String("path", ch.File.RelPath),
				slog.String("error", err.Error()))
			outcome.Warnings++
			continue
		}
	}

	duration := time.Since(start)
	c.cfg.Metadata.RecordIndexEvent(ctx, src.ID, store.IndexTypeLexical, store.IndexOutcomeSuccess, duration)
	c.cfg.Metadata.RecordIndexEvent(ctx, src.ID, store.IndexTypeVector, store.IndexOutcomeSuccess, duration)

	return outcome, nil
}

func (c *Coordinator) scanSource(ctx context.Context, src *store.Source) ([]changedet.Observed, map[string]struct{}, int, error) {
	resultChan, err := c.cfg.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          src.Path,
		RespectGitignore: true,
		ExcludePatterns:  c.cfg.ExcludePatterns,
		MaxFileSize:      c.maxFileSize(),
	})
	if err != nil {
		return nil, nil, 0, err
	}

	var observed []changedet.Observed
	observedIDs := make(map[string]struct{})
	var warnings int

	for result := range resultChan {
		if result.Error != nil {
			warnings++
			continue
		}
		if result.File == nil {
			continue
		}
		if result.File.ContentType != scanner.ContentTypeCode && result.File.ContentType != scanner.ContentTypeMarkdown {
			continue
		}
		docID := identity.DocID(result.File.AbsPath)
		o := changedet.Observed{
			DocID:   docID,
			AbsPath: result.File.AbsPath,
			RelPath: result.File.Path,
			Size:    result.File.Size,
			MTime:   result.File.ModTime.Unix(),
		}
		observed = append(observed, o)
		observedIDs[docID] = struct{}{}
	}

	return observed, observedIDs, warnings, nil
}

func (c *Coordinator) existingRecords(ctx context.Context, sourceID int64) (map[string]*store.FileRecord, error) {
	recs, err := c.cfg.Metadata.ListFilesBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]*store.FileRecord, len(recs))
	for _, r := range recs {
		m[r.DocID] = r
	}
	return m, nil
}

func (c *Coordinator) indexFile(ctx context.Context, src *store.Source, ch changedet.Change) error {
	content, err := os.ReadFile(ch.File.AbsPath)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	if isBinaryContent(content) {
		return nil
	}

	language := scanner.DetectLanguage(ch.File.RelPath)
	contentType := scanner.DetectContentType(language)

	var chunker chunk.Chunker
	switch contentType {
	case scanner.ContentTypeCode:
		chunker = c.cfg.CodeChunker
	case scanner.ContentTypeMarkdown:
		chunker = c.cfg.MDChunker
	default:
		return nil
	}

	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{Path: ch.File.RelPath, Content: content, Language: language})
	if err != nil {
		return fmt.Errorf("chunking file: %w", err)
	}

	ext := filepath.Ext(ch.File.RelPath)
	now := time.Now()

	rec := &store.FileRecord{
		DocID:         ch.File.DocID,
		SourceType:    src.Type,
		SourceID:      src.ID,
		AbsPath:       ch.File.AbsPath,
		RelPath:       ch.File.RelPath,
		Size:          ch.File.Size,
		MTime:         time.Unix(ch.File.MTime, 0),
		Hash:          ch.Hash,
		Kind:          ext,
		LastIndexedAt: now,
	}

	if len(chunks) == 0 {
		// No indexable content (e.g. an empty file): drop any prior chunks
		// for this doc and still record the file so it doesn't look missing.
		if err := c.cfg.Vector.ReplaceDocument(ctx, ch.File.DocID, nil, nil, nil); err != nil {
			return err
		}
		if err := c.cfg.Lexical.DeleteByDocIDs(ctx, []string{ch.File.DocID}); err != nil {
			return err
		}
		return c.cfg.Metadata.UpsertFile(ctx, rec)
	}

	texts := make([]string, len(chunks))
	for i, ck := range chunks {
		texts[i] = ck.Content
	}
	vectors, err := c.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	metas := make([]store.ChunkMetadata, len(chunks))
	for i, ck := range chunks {
		ids[i] = fmt.Sprintf("%s#%d", ch.File.DocID, i)
		metas[i] = store.ChunkMetadata{
			DocID:      ch.File.DocID,
			SourceType: src.Type,
			SourceID:   src.ID,
			FilePath:   ch.File.RelPath,
			Extension:  ext,
			StartLine:  ck.StartLine,
			EndLine:    ck.EndLine,
			Snippet:    snippetOf(ck.Content),
		}
	}

	if err := c.cfg.Vector.ReplaceDocument(ctx, ch.File.DocID, ids, vectors, metas); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}

	doc := store.LexicalDocument{
		DocID:          ch.File.DocID,
		FileName:       filepath.Base(ch.File.RelPath),
		FolderName:     filepath.Dir(ch.File.RelPath),
		Content:        joinChunkContent(chunks),
		SourceType:     src.Type,
		SourceID:       src.ID,
		RepositoryName: src.Name,
		Extension:      ext,
		MTime:          rec.MTime,
		Size:           rec.Size,
	}
	if err := c.cfg.Lexical.IndexDocuments(ctx, []store.LexicalDocument{doc}); err != nil {
		return fmt.Errorf("writing lexical document: %w", err)
	}

	return c.cfg.Metadata.UpsertFile(ctx, rec)
}

func (c *Coordinator) removeDocuments(ctx context.Context, docIDs []string) error {
	if err := c.cfg.Vector.DeleteDocuments(ctx, docIDs); err != nil {
		return err
	}
	return c.cfg.Lexical.DeleteByDocIDs(ctx, docIDs)
}

func joinChunkContent(chunks []*chunk.Chunk) string {
	var total int
	for _, c := range chunks {
		total += len(c.Content) + 1
	}
	out := make([]byte, 0, total)
	for i, c := range chunks {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, c.Content...)
	}
	return string(out)
}

func snippetOf(content string) string {
	const maxLen = 240
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen]
}

func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
