package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const recordCacheSize = 512

// SQLiteStore is the metadata and fingerprint store backed by a single
// SQLite file. It holds the media rows, the FTS5 keyword index, tags,
// collections, persisted embeddings, fingerprints and a small state KV.
// WAL mode allows readers to proceed while an indexing batch commits.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
	cache  *lru.Cache[string, *MediaRecord]
}

// Verify interface implementation at compile time
var (
	_ MetadataStore    = (*SQLiteStore)(nil)
	_ FingerprintStore = (*SQLiteStore)(nil)
)

// validateSQLiteIntegrity checks a database file before opening it for real.
// Returns nil if valid, an error describing the corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='media_files'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}

	return nil
}

// NewSQLiteStore opens (or creates) the metadata store at path.
// If path is empty an in-memory store is created for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			// Auto-clear the corrupted database; the next scan rebuilds it.
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("metadata_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	cache, err := lru.New[string, *MediaRecord](recordCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		path:  path,
		cache: cache,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all tables. The FTS5 mirror is maintained explicitly by
// UpsertRecord/DeleteRecord inside the same transaction, not by triggers, so
// a failed statement can never leave the mirror out of step.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS media_files (
		id TEXT PRIMARY KEY,
		path TEXT UNIQUE NOT NULL,
		file_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		scene_type TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		objects TEXT NOT NULL DEFAULT '[]',
		indexed INTEGER NOT NULL DEFAULT 0,
		indexed_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_files_type ON media_files(file_type);
	CREATE INDEX IF NOT EXISTS idx_media_files_scene ON media_files(scene_type);

	-- id is UNINDEXED (stored but not searchable)
	CREATE VIRTUAL TABLE IF NOT EXISTS media_fts USING fts5(
		id UNINDEXED,
		description,
		tags,
		extracted_text,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS media_tags (
		media_id TEXT NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (media_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collection_items (
		collection_id INTEGER NOT NULL,
		media_id TEXT NOT NULL,
		added_at INTEGER NOT NULL,
		PRIMARY KEY (collection_id, media_id)
	);

	CREATE TABLE IF NOT EXISTS fingerprints (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		content_hash TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		model TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertRecord writes the record, its FTS5 mirror and its tag links in one
// transaction. Existing AI fields and tag links are fully replaced.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *MediaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tagsJSON, err := json.Marshal(emptyIfNil(rec.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	objectsJSON, err := json.Marshal(emptyIfNil(rec.Objects))
	if err != nil {
		return fmt.Errorf("failed to encode objects: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO media_files
			(id, path, file_type, size, mod_time, content_hash,
			 description, scene_type, extracted_text, tags, objects,
			 indexed, indexed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			file_type = excluded.file_type,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			description = excluded.description,
			scene_type = excluded.scene_type,
			extracted_text = excluded.extracted_text,
			tags = excluded.tags,
			objects = excluded.objects,
			indexed = excluded.indexed,
			indexed_at = excluded.indexed_at`,
		rec.ID, rec.Path, string(rec.FileType), rec.Size, rec.ModTime.Unix(),
		rec.ContentHash, rec.Description, rec.SceneType, rec.ExtractedText,
		string(tagsJSON), string(objectsJSON),
		boolToInt(rec.Indexed), rec.IndexedAt.Unix(), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}

	// FTS5 virtual tables don't support REPLACE, so delete first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_fts WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear FTS row for %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO media_fts (id, description, tags, extracted_text) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Description, strings.Join(rec.Tags, " "), rec.ExtractedText); err != nil {
		return fmt.Errorf("failed to index FTS row for %s: %w", rec.ID, err)
	}

	if err := replaceTagLinks(ctx, tx, rec.ID, rec.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	s.cache.Remove(rec.ID)
	return nil
}

// replaceTagLinks drops the record's existing tag links (decrementing usage
// counts) and installs the new set.
func replaceTagLinks(ctx context.Context, tx *sql.Tx, mediaID string, tags []string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tags SET usage_count = usage_count - 1
		WHERE id IN (SELECT tag_id FROM media_tags WHERE media_id = ?)`, mediaID)
	if err != nil {
		return fmt.Errorf("failed to decrement tag counts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_tags WHERE media_id = ?`, mediaID); err != nil {
		return fmt.Errorf("failed to clear tag links: %w", err)
	}

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (name, usage_count) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET usage_count = usage_count + 1`, tag); err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO media_tags (media_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?`, mediaID, tag); err != nil {
			return fmt.Errorf("failed to link tag %q: %w", tag, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE usage_count <= 0`); err != nil {
		return fmt.Errorf("failed to prune unused tags: %w", err)
	}
	return nil
}

// GetRecord returns the record with the given id, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	row := s.db.QueryRowContext(ctx, selectRecordSQL+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	s.cache.Add(id, rec)
	return rec, nil
}

// GetRecords returns records for the given ids, skipping ids that no longer
// exist. Result order follows the input order.
func (s *SQLiteStore) GetRecords(ctx context.Context, ids []string) ([]*MediaRecord, error) {
	records := make([]*MediaRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteRecord removes the record and everything hanging off it: the FTS
// row, tag links, collection memberships and the persisted embedding.
// Deleting an absent id is a no-op.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceTagLinks(ctx, tx, id, nil); err != nil {
		return err
	}

	for _, stmt := range []string{
		`DELETE FROM media_fts WHERE id = ?`,
		`DELETE FROM collection_items WHERE media_id = ?`,
		`DELETE FROM embeddings WHERE id = ?`,
		`DELETE FROM media_files WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.cache.Remove(id)
	return nil
}

// SetIndexed flips the indexed flag without touching the AI fields.
func (s *SQLiteStore) SetIndexed(ctx context.Context, id string, indexed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE media_files SET indexed = ?, indexed_at = ? WHERE id = ?`,
		boolToInt(indexed), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set indexed flag for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.cache.Remove(id)
	return nil
}

// AllIDs returns every record id, sorted.
func (s *SQLiteStore) AllIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM media_files ORDER BY id`)
}

// IndexedIDs returns ids of records with indexed=true, sorted.
func (s *SQLiteStore) IndexedIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM media_files WHERE indexed = 1 ORDER BY id`)
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKeyword runs a weighted FTS5 query. Column weights rank description
// hits above tag hits above extracted-text hits. Structured filters are
// pushed into the SQL.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, query string, filters Filters, limit int) ([]KeywordResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return []KeywordResult{}, nil
	}

	// bm25() takes one weight per FTS column; the UNINDEXED id column
	// carries weight 0.
	sqlQuery := `
		SELECT media_fts.id, bm25(media_fts, 0.0, 3.0, 2.0, 1.0) AS score
		FROM media_fts
		JOIN media_files m ON m.id = media_fts.id
		WHERE media_fts MATCH ?`
	args := []any{strings.Join(tokens, " ")}

	sqlQuery, args = appendFilterClauses(sqlQuery, args, "m", filters)
	sqlQuery += ` ORDER BY score LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 errors on malformed match expressions; treat as no results.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []KeywordResult{}, nil
		}
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var results []KeywordResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		// FTS5 bm25() returns negative values where lower = better match.
		results = append(results, KeywordResult{ID: id, Score: -score})
	}
	return results, rows.Err()
}

// SearchTags returns records carrying any of the given tags, scored by how
// many of them matched.
func (s *SQLiteStore) SearchTags(ctx context.Context, tags []string, limit int) ([]KeywordResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(tags) == 0 {
		return []KeywordResult{}, nil
	}

	placeholders := make([]string, len(tags))
	args := make([]any, 0, len(tags)+1)
	for i, tag := range tags {
		placeholders[i] = "?"
		args = append(args, strings.ToLower(strings.TrimSpace(tag)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT mt.media_id, COUNT(*) AS score
		FROM media_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE t.name IN (%s)
		GROUP BY mt.media_id
		ORDER BY score DESC, mt.media_id
		LIMIT ?`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}
	defer rows.Close()

	var results []KeywordResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, KeywordResult{ID: id, Score: score})
	}
	return results, rows.Err()
}

// ListByFilter returns records matching the structured filters, path-sorted.
func (s *SQLiteStore) ListByFilter(ctx context.Context, filters Filters, limit int) ([]*MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	query := selectRecordSQL + ` WHERE 1=1`
	var args []any
	query, args = appendFilterClauses(query, args, "media_files", filters)
	query += ` ORDER BY path LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter query failed: %w", err)
	}
	defer rows.Close()

	var records []*MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveEmbedding persists the record's vector so the index can be rebuilt
// without re-running analysis.
func (s *SQLiteStore) SaveEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, vector, dim, model) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, dim = excluded.dim, model = excluded.model`,
		id, encodeVector(vector), len(vector), model)
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", id, err)
	}
	return nil
}

// GetEmbedding returns the persisted vector for id, or ErrNotFound.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var blob []byte
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT vector, dim FROM embeddings WHERE id = ?`, id).Scan(&blob, &dim)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding for %s: %w", id, err)
	}

	vec := decodeVector(blob)
	if len(vec) != dim {
		return nil, fmt.Errorf("embedding for %s is truncated: have %d values, want %d", id, len(vec), dim)
	}
	return vec, nil
}

// DeleteEmbedding removes the persisted vector. Absent id is a no-op.
func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete embedding for %s: %w", id, err)
	}
	return nil
}

// Stats collects the index summary for the stats command.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{ByType: make(map[FileType]int64)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(indexed), 0) FROM media_files`).
		Scan(&stats.TotalFiles, &stats.IndexedFiles); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_type, COUNT(*) FROM media_files GROUP BY file_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var n int64
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[FileType(ft)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx,
		`SELECT name, usage_count FROM tags ORDER BY usage_count DESC, name LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tc TagCount
		if err := tagRows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tag count: %w", err)
		}
		stats.TopTags = append(stats.TopTags, tc)
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collections`).Scan(&stats.Collections); err != nil {
		return nil, fmt.Errorf("failed to count collections: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			stats.DBSizeBytes = pageCount * pageSize
		}
	}

	if v, err := s.getStateLocked(ctx, StateKeyLastScan); err == nil {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			stats.LastScanAt = t
		}
	}

	return stats, nil
}

// StateKeyLastScan is the state key recording the completion time of the
// most recent scan.
const StateKeyLastScan = "last_scan_at"

// GetState returns the state value for key, or ErrNotFound.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrClosed
	}
	return s.getStateLocked(ctx, key)
}

func (s *SQLiteStore) getStateLocked(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// Get returns the fingerprint for path, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, path string) (*Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	fp := &Fingerprint{Path: path}
	var modTime int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size, mod_time, content_hash FROM fingerprints WHERE path = ?`, path).
		Scan(&fp.Size, &modTime, &fp.ContentHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint for %s: %w", path, err)
	}
	fp.ModTime = time.Unix(modTime, 0)
	return fp, nil
}

// Put upserts a fingerprint row.
func (s *SQLiteStore) Put(ctx context.Context, fp *Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (path, size, mod_time, content_hash) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash`,
		fp.Path, fp.Size, fp.ModTime.Unix(), fp.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint for %s: %w", fp.Path, err)
	}
	return nil
}

// Remove deletes a fingerprint row. Absent path is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to remove fingerprint for %s: %w", path, err)
	}
	return nil
}

// ListAll returns every fingerprint, path-sorted.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, mod_time, content_hash FROM fingerprints ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []*Fingerprint
	for rows.Next() {
		fp := &Fingerprint{}
		var modTime int64
		if err := rows.Scan(&fp.Path, &fp.Size, &modTime, &fp.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fp.ModTime = time.Unix(modTime, 0)
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cache.Purge()
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

const selectRecordSQL = `
	SELECT id, path, file_type, size, mod_time, content_hash,
	       description, scene_type, extracted_text, tags, objects,
	       indexed, indexed_at, created_at
	FROM media_files`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*MediaRecord, error) {
	rec := &MediaRecord{}
	var fileType, tagsJSON, objectsJSON string
	var modTime, indexedAt, createdAt int64
	var indexed int

	err := row.Scan(&rec.ID, &rec.Path, &fileType, &rec.Size, &modTime,
		&rec.ContentHash, &rec.Description, &rec.SceneType, &rec.ExtractedText,
		&tagsJSON, &objectsJSON, &indexed, &indexedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.FileType = FileType(fileType)
	rec.ModTime = time.Unix(modTime, 0)
	rec.Indexed = indexed != 0
	if indexedAt > 0 {
		rec.IndexedAt = time.Unix(indexedAt, 0)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)

	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(objectsJSON), &rec.Objects); err != nil {
		return nil, fmt.Errorf("failed to decode objects for %s: %w", rec.ID, err)
	}
	return rec, nil
}

// appendFilterClauses adds WHERE conditions for the structured filters.
// prefix is the media_files table name or alias in the enclosing query.
func appendFilterClauses(query string, args []any, prefix string, filters Filters) (string, []any) {
	if filters.FileType != "" {
		query += fmt.Sprintf(" AND %s.file_type = ?", prefix)
		args = append(args, string(filters.FileType))
	}
	if filters.SceneType != "" {
		query += fmt.Sprintf(" AND %s.scene_type = ?", prefix)
		args = append(args, filters.SceneType)
	}
	if !filters.After.IsZero() {
		query += fmt.Sprintf(" AND %s.mod_time >= ?", prefix)
		args = append(args, filters.After.Unix())
	}
	if !filters.Before.IsZero() {
		query += fmt.Sprintf(" AND %s.mod_time <= ?", prefix)
		args = append(args, filters.Before.Unix())
	}
	return query, args
}

// tokenizeQuery reduces free text to lowercase alphanumeric terms safe to
// hand to FTS5 MATCH.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && !(r >= 0x80)
	})
}

// encodeVector packs float32 values little-endian for BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
