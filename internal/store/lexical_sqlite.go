package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteLexicalStore implements LexicalStore using SQLite FTS5 for the
// searchable fields plus an ordinary attribute table for the filterable
// ones. WAL mode allows concurrent readers while the single ingestion
// worker writes.
type SQLiteLexicalStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	closed    bool
	stopWords map[string]struct{}
}

var _ LexicalStore = (*SQLiteLexicalStore)(nil)

// NewSQLiteLexicalStore opens (or creates) a SQLite-backed lexical store
// at path. An empty path creates an in-memory store, used by tests.
func NewSQLiteLexicalStore(path string, stopWords []string) (*SQLiteLexicalStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create lexical store directory: %w", err)
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite lexical store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteLexicalStore{db: db, stopWords: BuildStopWordMap(stopWords)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteLexicalStore) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		file_name,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS doc_attrs (
		doc_id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		folder_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		repository_name TEXT NOT NULL,
		extension TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_doc_attrs_source ON doc_attrs(source_type, source_id);
	CREATE INDEX IF NOT EXISTS idx_doc_attrs_repo ON doc_attrs(repository_name);
	CREATE INDEX IF NOT EXISTS idx_doc_attrs_ext ON doc_attrs(extension);
	`
	_, err := s.db.Exec(schema)
	return err
}

// IndexDocuments writes documents in one batch transaction, replacing any
// existing entry with the same doc_id (FTS5 has no REPLACE support, so the
// write is a delete followed by an insert).
func (s *SQLiteLexicalStore) IndexDocuments(ctx context.Context, docs []LexicalDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delFTS, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return err
	}
	defer delFTS.Close()

	insFTS, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, file_name, content) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insFTS.Close()

	upsertAttrs, err := tx.PrepareContext(ctx, `
		INSERT INTO doc_attrs(doc_id, file_name, folder_name, source_type, source_id, repository_name, extension, mtime, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			file_name=excluded.file_name, folder_name=excluded.folder_name,
			source_type=excluded.source_type, source_id=excluded.source_id,
			repository_name=excluded.repository_name, extension=excluded.extension,
			mtime=excluded.mtime, size=excluded.size
	`)
	if err != nil {
		return err
	}
	defer upsertAttrs.Close()

	for _, d := range docs {
		tokens := FilterStopWords(TokenizeCode(d.Content), s.stopWords)
		content := strings.Join(tokens, " ")

		if _, err := delFTS.ExecContext(ctx, d.DocID); err != nil {
			return fmt.Errorf("delete existing doc %s: %w", d.DocID, err)
		}
		if _, err := insFTS.ExecContext(ctx, d.DocID, d.FileName, content); err != nil {
			return fmt.Errorf("index doc %s: %w", d.DocID, err)
		}
		if _, err := upsertAttrs.ExecContext(ctx, d.DocID, d.FileName, d.FolderName,
			string(d.SourceType), d.SourceID, d.RepositoryName, d.Extension,
			d.MTime.Unix(), d.Size); err != nil {
			return fmt.Errorf("index attrs %s: %w", d.DocID, err)
		}
	}

	return tx.Commit()
}

// DeleteByDocIDs removes documents from both the FTS table and the
// attribute table.
func (s *SQLiteLexicalStore) DeleteByDocIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", in), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM doc_attrs WHERE doc_id IN (%s)", in), args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Search issues an FTS5 MATCH query joined against the attribute table so
// the filter predicate (source union, folder prefix, extension set) is
// applied by the same store that ranks the match.
func (s *SQLiteLexicalStore) Search(ctx context.Context, query string, filter LexicalFilter, limit int) ([]LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical store is closed")
	}

	tokens := FilterStopWords(TokenizeCode(query), s.stopWords)
	if len(tokens) == 0 {
		return nil, nil
	}
	matchQuery := strings.Join(tokens, " ")

	where, args := buildLexicalFilterClause(filter)
	args = append([]any{matchQuery}, args...)
	args = append(args, limit)

	sqlText := fmt.Sprintf(`
		SELECT f.doc_id, bm25(fts_content) AS score, snippet(fts_content, 2, '[', ']', '...', 12)
		FROM fts_content f
		JOIN doc_attrs a ON a.doc_id = f.doc_id
		WHERE f.content MATCH ? %s
		ORDER BY score
		LIMIT ?
	`, where)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var docID, snippet string
		var score float64
		if err := rows.Scan(&docID, &score, &snippet); err != nil {
			return nil, err
		}
		hits = append(hits, LexicalHit{DocID: docID, Score: -score, Snippet: snippet})
	}
	return hits, rows.Err()
}

// buildLexicalFilterClause renders the filter algebra described in spec
// §4.7: repository-name and directory-id filters union within the source
// dimension; folder prefix and extension intersect with that union.
func buildLexicalFilterClause(f LexicalFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Repositories) > 0 || len(f.SourceIDs) > 0 {
		var sourceOr []string
		for _, r := range f.Repositories {
			sourceOr = append(sourceOr, "a.repository_name = ?")
			args = append(args, r)
		}
		for _, id := range f.SourceIDs {
			sourceOr = append(sourceOr, "a.source_id = ?")
			args = append(args, id)
		}
		clauses = append(clauses, "("+strings.Join(sourceOr, " OR ")+")")
	}

	if f.FolderPrefix != "" {
		clauses = append(clauses, "a.folder_name LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.FolderPrefix)+"%")
	}

	if len(f.Extensions) > 0 {
		var extOr []string
		for _, ext := range f.Extensions {
			extOr = append(extOr, "a.extension = ?")
			args = append(args, ext)
		}
		clauses = append(clauses, "("+strings.Join(extOr, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "AND " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// Count returns the number of indexed documents.
func (s *SQLiteLexicalStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM doc_attrs`).Scan(&n)
	return n
}

// Close releases the underlying database handle.
func (s *SQLiteLexicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
