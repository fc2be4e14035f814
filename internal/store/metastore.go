package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// CurrentSchemaVersion is the schema_version row value written by a fresh
// migrate. Bump it when the schema in migrate changes in an incompatible way.
const CurrentSchemaVersion = 1

// SQLiteMetadataStore implements MetadataStore over a single SQLite
// database file holding sources, source_stats, file_records, and a
// schema_meta key/value table (whose schema_version row records the
// schema version), per the relational layout in spec §6. It is the
// single source of truth; the lexical and vector stores hold derived
// state only.
type SQLiteMetadataStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (or creates) the metadata database at
// path. An empty path creates an in-memory store, used by tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create metadata store directory: %w", err)
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite metadata store: %w", err)
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

	s := &SQLiteMetadataStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMetadataStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		auto_reindex INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_indexed INTEGER
	);

	CREATE TABLE IF NOT EXISTS source_stats (
		source_id INTEGER NOT NULL,
		index_type TEXT NOT NULL,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER NOT NULL DEFAULT 0,
		initial_duration_ms INTEGER NOT NULL DEFAULT 0,
		initial_at INTEGER,
		last_reindex_duration_ms INTEGER NOT NULL DEFAULT 0,
		last_reindex_at INTEGER,
		PRIMARY KEY (source_id, index_type),
		FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS file_records (
		doc_id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		abs_path TEXT NOT NULL,
		rel_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		hash TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		last_indexed_at INTEGER NOT NULL,
		last_indexed_hash TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_file_records_source ON file_records(source_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO schema_meta(key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", CurrentSchemaVersion))
	return err
}

// AddSource inserts a new source. Returns ErrAlreadyExists if the
// canonicalized path is already registered.
func (s *SQLiteMetadataStore) AddSource(ctx context.Context, src *Source) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources(type, path, name, enabled, auto_reindex, priority, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(src.Type), src.Path, src.Name, boolToInt(src.Enabled), boolToInt(src.AutoReindex),
		src.Priority, src.Notes, now.Unix(), now.Unix())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert source: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted id: %w", err)
	}
	return s.getSourceLocked(ctx, id)
}

// UpdateSource applies a partial update. Nil fields in changes are left
// unchanged.
func (s *SQLiteMetadataStore) UpdateSource(ctx context.Context, id int64, changes SourceChanges) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	existing, err := s.getSourceLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	name, enabled, autoReindex, priority, notes := existing.Name, existing.Enabled, existing.AutoReindex, existing.Priority, existing.Notes
	if changes.Name != nil {
		name = *changes.Name
	}
	if changes.Enabled != nil {
		enabled = *changes.Enabled
	}
	if changes.AutoReindex != nil {
		autoReindex = *changes.AutoReindex
	}
	if changes.Priority != nil {
		priority = *changes.Priority
	}
	if changes.Notes != nil {
		notes = *changes.Notes
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sources SET name = ?, enabled = ?, auto_reindex = ?, priority = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		name, boolToInt(enabled), boolToInt(autoReindex), priority, notes, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return s.getSourceLocked(ctx, id)
}

// DeleteSource removes a source and its stats rows. File records and
// indexed documents are deliberately left behind, reaped on next reindex
// or explicit purge, per spec.
func (s *SQLiteMetadataStore) DeleteSource(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSource fetches a source by id.
func (s *SQLiteMetadataStore) GetSource(ctx context.Context, id int64) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	return s.getSourceLocked(ctx, id)
}

func (s *SQLiteMetadataStore) getSourceLocked(ctx context.Context, id int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, path, name, enabled, auto_reindex, priority, notes, created_at, updated_at, last_indexed
		FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// GetSourceByPath fetches a source by its canonicalized path.
func (s *SQLiteMetadataStore) GetSourceByPath(ctx context.Context, path string) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, path, name, enabled, auto_reindex, priority, notes, created_at, updated_at, last_indexed
		FROM sources WHERE path = ?`, path)
	return scanSource(row)
}

// ListSources returns sources matching filter, ordered by priority
// descending then name ascending, per spec.
func (s *SQLiteMetadataStore) ListSources(ctx context.Context, filter SourceFilter) ([]*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	query := `SELECT id, type, path, name, enabled, auto_reindex, priority, notes, created_at, updated_at, last_indexed FROM sources WHERE 1=1`
	var args []any
	if filter.EnabledOnly {
		query += " AND enabled = 1"
	}
	if filter.Kind != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY priority DESC, name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var (
		src                    Source
		typ                    string
		enabledInt, autoInt    int
		lastIndexed            sql.NullInt64
		createdAt, updatedAt   int64
	)
	if err := row.Scan(&src.ID, &typ, &src.Path, &src.Name, &enabledInt, &autoInt,
		&src.Priority, &src.Notes, &createdAt, &updatedAt, &lastIndexed); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Type = SourceType(typ)
	src.Enabled = enabledInt != 0
	src.AutoReindex = autoInt != 0
	src.CreatedAt = time.Unix(createdAt, 0)
	src.UpdatedAt = time.Unix(updatedAt, 0)
	if lastIndexed.Valid {
		t := time.Unix(lastIndexed.Int64, 0)
		src.LastIndexed = &t
	}
	return &src, nil
}

// UpsertFile records or updates a file's tracked state, keyed by doc_id.
func (s *SQLiteMetadataStore) UpsertFile(ctx context.Context, rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_records(doc_id, source_type, source_id, abs_path, rel_path, size, mtime, hash, kind, last_indexed_at, last_indexed_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			source_type=excluded.source_type, source_id=excluded.source_id,
			abs_path=excluded.abs_path, rel_path=excluded.rel_path,
			size=excluded.size, mtime=excluded.mtime, hash=excluded.hash,
			kind=excluded.kind, last_indexed_at=excluded.last_indexed_at,
			last_indexed_hash=excluded.last_indexed_hash`,
		rec.DocID, string(rec.SourceType), rec.SourceID, rec.AbsPath, rec.RelPath,
		rec.Size, rec.MTime.Unix(), rec.Hash, rec.Kind, rec.LastIndexedAt.Unix(), rec.LastIndexedHash)
	if err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}
	return nil
}

// GetFile fetches a file record by doc_id.
func (s *SQLiteMetadataStore) GetFile(ctx context.Context, docID string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, source_type, source_id, abs_path, rel_path, size, mtime, hash, kind, last_indexed_at, last_indexed_hash
		FROM file_records WHERE doc_id = ?`, docID)
	return scanFileRecord(row)
}

// ListFilesBySource lists every file record tracked for sourceID.
func (s *SQLiteMetadataStore) ListFilesBySource(ctx context.Context, sourceID int64) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, source_type, source_id, abs_path, rel_path, size, mtime, hash, kind, last_indexed_at, last_indexed_hash
		FROM file_records WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var (
		rec        FileRecord
		srcType    string
		mtime      int64
		lastIndexed int64
	)
	if err := row.Scan(&rec.DocID, &srcType, &rec.SourceID, &rec.AbsPath, &rec.RelPath,
		&rec.Size, &mtime, &rec.Hash, &rec.Kind, &lastIndexed, &rec.LastIndexedHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan file record: %w", err)
	}
	rec.SourceType = SourceType(srcType)
	rec.MTime = time.Unix(mtime, 0)
	rec.LastIndexedAt = time.Unix(lastIndexed, 0)
	return &rec, nil
}

// DeleteFilesMissing removes every file record for sourceID whose doc_id
// is not present in observedDocIDs, returning the removed records so
// callers can evict them from the lexical and vector indexes too.
func (s *SQLiteMetadataStore) DeleteFilesMissing(ctx context.Context, sourceID int64, observedDocIDs map[string]struct{}) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, source_type, source_id, abs_path, rel_path, size, mtime, hash, kind, last_indexed_at, last_indexed_hash
		FROM file_records WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}

	var stale []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if _, ok := observedDocIDs[rec.DocID]; !ok {
			stale = append(stale, rec)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_records WHERE doc_id = ?`, rec.DocID); err != nil {
			return nil, fmt.Errorf("delete stale file record %s: %w", rec.DocID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stale, nil
}

// DeleteFiles removes file records by doc_id, regardless of source.
func (s *SQLiteMetadataStore) DeleteFiles(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM file_records WHERE doc_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range docIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete file record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// RecordIndexEvent updates the per-(source, index_type) stats row for
// one completed indexing pass. Failures are logged here; stats are
// accounting only and never consulted for correctness, so this method
// does not return an error.
func (s *SQLiteMetadataStore) RecordIndexEvent(ctx context.Context, sourceID int64, indexType IndexType, outcome IndexOutcome, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if outcome != IndexOutcomeSuccess {
		return
	}

	now := time.Now().Unix()
	durMs := duration.Milliseconds()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM source_stats WHERE source_id = ? AND index_type = ?`,
		sourceID, string(indexType)).Scan(&exists); err != nil && err != sql.ErrNoRows {
		slog.Warn("record index event: read stats", slog.Int64("source_id", sourceID), slog.String("error", err.Error()))
	}

	var err error
	if exists == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO source_stats(source_id, index_type, initial_duration_ms, initial_at, last_reindex_duration_ms, last_reindex_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sourceID, string(indexType), durMs, now, durMs, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE source_stats SET last_reindex_duration_ms = ?, last_reindex_at = ?
			WHERE source_id = ? AND index_type = ?`,
			durMs, now, sourceID, string(indexType))
	}
	if err != nil {
		slog.Warn("record index event: write stats", slog.Int64("source_id", sourceID), slog.String("error", err.Error()))
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sources SET last_indexed = ? WHERE id = ?`, now, sourceID); err != nil {
		slog.Warn("record index event: update last_indexed", slog.Int64("source_id", sourceID), slog.String("error", err.Error()))
	}
}

// GetStats returns the per-index-type stats rows for a source.
func (s *SQLiteMetadataStore) GetStats(ctx context.Context, sourceID int64) ([]*SourceStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, index_type, total_files, total_bytes, initial_duration_ms, initial_at, last_reindex_duration_ms, last_reindex_at
		FROM source_stats WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []*SourceStats
	for rows.Next() {
		var (
			st                          SourceStats
			indexType                   string
			initialDurMs, reindexDurMs  int64
			initialAt, lastReindexAt    sql.NullInt64
		)
		if err := rows.Scan(&st.SourceID, &indexType, &st.TotalFiles, &st.TotalBytes,
			&initialDurMs, &initialAt, &reindexDurMs, &lastReindexAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.IndexType = IndexType(indexType)
		st.InitialDuration = time.Duration(initialDurMs) * time.Millisecond
		st.LastReindexDuration = time.Duration(reindexDurMs) * time.Millisecond
		if initialAt.Valid {
			t := time.Unix(initialAt.Int64, 0)
			st.InitialAt = &t
		}
		if lastReindexAt.Valid {
			t := time.Unix(lastReindexAt.Int64, 0)
			st.LastReindexAt = &t
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
