package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// schemaVersion is stamped into PRAGMA user_version on first create.
const schemaVersion = 1

var errClosed = errors.New("store is closed")

// SQLiteStore is the single source of truth for documents and chunks.
// It also hosts the FTS5 keyword table, kept consistent with the
// chunks table by triggers so keyword search never needs a separate
// write path.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	dataDir   string
	path      string
	health    HealthState
	closed    bool
	stopwords map[string]struct{}
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database under
// dataDir. An empty dataDir opens an in-memory database for tests.
// A database that fails the integrity check is deleted together with
// the derived index files and recreated empty; the store then reports
// RecoveredThisSession.
func NewSQLiteStore(dataDir string, extraStopwords []string) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dataDir:   dataDir,
		health:    Healthy,
		stopwords: DefaultStopwordSet(extraStopwords),
	}

	if dataDir != "" {
		if err := EnsureDataDir(dataDir); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s.path = MetadataPath(dataDir)
		if !validateMetadataFile(s.path) {
			slog.Warn("metadata_store_corrupted", "path", s.path)
			s.removePersistedFiles()
			s.health = RecoveredThisSession
		}
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// open connects and applies the session pragmas. The modernc driver
// serializes writes per connection, so the pool is capped at one
// connection to avoid SQLITE_BUSY under concurrent writers.
func (s *SQLiteStore) open() error {
	dsn := s.path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	s.db = db
	return nil
}

// validateMetadataFile reports whether an existing database file
// passes the integrity check. A missing file is fine.
func validateMetadataFile(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL UNIQUE,
	file_hash  TEXT NOT NULL,
	mtime      INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id      INTEGER NOT NULL REFERENCES documents(id),
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB,
	token_count INTEGER NOT NULL,
	page        INTEGER,
	section     TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS store_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content='chunks',
	content_rowid='id',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
	INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version == 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return err
		}
	} else if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return s.backfillFTS()
}

// backfillFTS repopulates the FTS table when it is empty but the
// chunks table is not. This happens when the FTS table was recreated
// (schema upgrade, partial restore) without the content rows.
func (s *SQLiteStore) backfillFTS() error {
	var ftsCount, chunkCount int
	err := s.db.QueryRow(
		"SELECT (SELECT count(*) FROM chunks_fts), (SELECT count(*) FROM chunks)",
	).Scan(&ftsCount, &chunkCount)
	if err != nil {
		return fmt.Errorf("count fts rows: %w", err)
	}
	if ftsCount > 0 || chunkCount == 0 {
		return nil
	}
	if _, err := s.db.Exec("INSERT INTO chunks_fts(rowid, text) SELECT id, text FROM chunks"); err != nil {
		return fmt.Errorf("backfill fts: %w", err)
	}
	slog.Info("fts_backfill_complete", "chunks", chunkCount)
	return nil
}

// UpsertDocument writes the document row and replaces all of its
// chunks in one transaction. The document keeps its original id and
// created_at across re-indexes.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *Document, chunks []*Chunk) (int64, error) {
	if doc == nil || doc.Path == "" {
		return 0, alerrors.New(alerrors.ErrCodeInvalidInput, "document path is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	id, err := s.upsertDocumentLocked(ctx, doc, chunks)
	if err != nil {
		return 0, s.failLocked("upsert_document", err)
	}
	return id, nil
}

func (s *SQLiteStore) upsertDocumentLocked(ctx context.Context, doc *Document, chunks []*Chunk) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()

	var docID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE path = ?", doc.Path).Scan(&docID)
	switch {
	case err == sql.ErrNoRows:
		res, insErr := tx.ExecContext(ctx,
			"INSERT INTO documents (path, file_hash, mtime, size, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			doc.Path, doc.FileHash, doc.MTime, doc.Size, doc.Title, now, now)
		if insErr != nil {
			return 0, fmt.Errorf("insert document: %w", insErr)
		}
		docID, insErr = res.LastInsertId()
		if insErr != nil {
			return 0, fmt.Errorf("document id: %w", insErr)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup document: %w", err)
	default:
		if _, upErr := tx.ExecContext(ctx,
			"UPDATE documents SET file_hash = ?, mtime = ?, size = ?, title = ?, updated_at = ? WHERE id = ?",
			doc.FileHash, doc.MTime, doc.Size, doc.Title, now, docID); upErr != nil {
			return 0, fmt.Errorf("update document: %w", upErr)
		}
		if _, delErr := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID); delErr != nil {
			return 0, fmt.Errorf("delete old chunks: %w", delErr)
		}
	}

	if len(chunks) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx,
			"INSERT INTO chunks (doc_id, chunk_index, text, embedding, token_count, page, section, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
		if prepErr != nil {
			return 0, fmt.Errorf("prepare chunk insert: %w", prepErr)
		}
		defer stmt.Close()

		for i, c := range chunks {
			var embedding any
			if len(c.Embedding) > 0 {
				embedding = encodeEmbedding(c.Embedding)
			}
			var page any
			if c.Page > 0 {
				page = c.Page
			}
			var section any
			if c.Section != "" {
				section = c.Section
			}
			res, insErr := stmt.ExecContext(ctx, docID, i, c.Text, embedding, c.TokenCount, page, section, now)
			if insErr != nil {
				return 0, fmt.Errorf("insert chunk %d: %w", i, insErr)
			}
			chunkID, idErr := res.LastInsertId()
			if idErr != nil {
				return 0, fmt.Errorf("chunk id: %w", idErr)
			}
			c.ID = chunkID
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	doc.ID = docID
	return docID, nil
}

// RemoveDocuments deletes chunks then document for each id, one
// transaction per document so a failure midway leaves no document
// half-removed. Returns how many of the ids actually existed.
func (s *SQLiteStore) RemoveDocuments(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	removed := 0
	for _, id := range ids {
		existed, err := s.removeDocumentLocked(ctx, id)
		if err != nil {
			return removed, s.failLocked("remove_documents", err)
		}
		if existed {
			removed++
		}
	}
	return removed, nil
}

func (s *SQLiteStore) removeDocumentLocked(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", id); err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove: %w", err)
	}
	return affected > 0, nil
}

// GetDocumentByPath returns the document for an absolute path, or
// (nil, nil) when the path is not indexed.
func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	doc, err := s.getDocumentByPathLocked(ctx, path)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("get_document", err)
	}
	return doc, nil
}

func (s *SQLiteStore) getDocumentByPathLocked(ctx context.Context, path string) (*Document, error) {
	if s.closed {
		return nil, errClosed
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT id, path, file_hash, mtime, size, title, created_at, updated_at FROM documents WHERE path = ?", path)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ChunkIDsByDoc returns the ids of one document's chunks in
// chunk_index order.
func (s *SQLiteStore) ChunkIDsByDoc(ctx context.Context, docID int64) ([]int64, error) {
	s.mu.RLock()
	ids, err := s.chunkIDsByDocLocked(ctx, docID)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("chunk_ids_by_doc", err)
	}
	return ids, nil
}

func (s *SQLiteStore) chunkIDsByDocLocked(ctx context.Context, docID int64) ([]int64, error) {
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE doc_id = ? ORDER BY chunk_index", docID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDocuments returns all documents ordered by path.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	docs, err := s.listDocumentsLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("list_documents", err)
	}
	return docs, nil
}

func (s *SQLiteStore) listDocumentsLocked(ctx context.Context) ([]*Document, error) {
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, path, file_hash, mtime, size, title, created_at, updated_at FROM documents ORDER BY path ASC")
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var createdAt, updatedAt int64
	err := row.Scan(&doc.ID, &doc.Path, &doc.FileHash, &doc.MTime, &doc.Size, &doc.Title, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(0, createdAt)
	doc.UpdatedAt = time.Unix(0, updatedAt)
	return &doc, nil
}

// QueryKeyword tokenizes the query text and runs a prefix-OR match
// against the FTS table, ranked by BM25. Queries that reduce to no
// usable terms return no matches without touching the database.
func (s *SQLiteStore) QueryKeyword(ctx context.Context, text string, topK int) ([]*KeywordMatch, error) {
	terms := ExtractQueryTerms(text, s.stopwords)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}
	match := BuildPrefixMatchQuery(terms)

	s.mu.RLock()
	matches, err := s.queryKeywordLocked(ctx, match, topK)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("query_keyword", err)
	}
	return matches, nil
}

func (s *SQLiteStore) queryKeywordLocked(ctx context.Context, match string, topK int) ([]*KeywordMatch, error) {
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?", match, topK)
	if err != nil {
		// Unparseable MATCH input means no results, not a failed search.
		if strings.Contains(err.Error(), "fts5") {
			return nil, nil
		}
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var matches []*KeywordMatch
	rank := 0
	for rows.Next() {
		var chunkID int64
		if err := rows.Scan(&chunkID); err != nil {
			return nil, err
		}
		rank++
		matches = append(matches, &KeywordMatch{ChunkID: chunkID, Rank: rank})
	}
	return matches, rows.Err()
}

// GetChunksByIDs joins chunks with their documents, preserving the
// input id order and dropping ids that no longer exist.
func (s *SQLiteStore) GetChunksByIDs(ctx context.Context, ids []int64) ([]*ChunkDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	details, err := s.getChunksByIDsLocked(ctx, ids)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("get_chunks", err)
	}
	return details, nil
}

func (s *SQLiteStore) getChunksByIDsLocked(ctx context.Context, ids []int64) ([]*ChunkDetail, error) {
	if s.closed {
		return nil, errClosed
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`
SELECT c.id, c.doc_id, c.text, c.chunk_index, c.page, c.section, d.path, d.title
FROM chunks c
JOIN documents d ON d.id = c.doc_id
WHERE c.id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*ChunkDetail, len(ids))
	for rows.Next() {
		var d ChunkDetail
		var page sql.NullInt64
		var section sql.NullString
		if err := rows.Scan(&d.ChunkID, &d.DocID, &d.Text, &d.ChunkIndex, &page, &section, &d.Path, &d.Title); err != nil {
			return nil, err
		}
		d.Page = int(page.Int64)
		d.Section = section.String
		byID[d.ChunkID] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	details := make([]*ChunkDetail, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			details = append(details, d)
		}
	}
	return details, nil
}

// ChunkStats returns the chunk count and max created_at, the inputs
// to the vector index fingerprint.
func (s *SQLiteStore) ChunkStats(ctx context.Context) (int, int64, error) {
	s.mu.RLock()
	count, maxCreated, err := s.chunkStatsLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return 0, 0, s.failRead("chunk_stats", err)
	}
	return count, maxCreated, nil
}

func (s *SQLiteStore) chunkStatsLocked(ctx context.Context) (int, int64, error) {
	if s.closed {
		return 0, 0, errClosed
	}
	var count int
	var maxCreated int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*), COALESCE(MAX(created_at), 0) FROM chunks").Scan(&count, &maxCreated)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk stats: %w", err)
	}
	return count, maxCreated, nil
}

// ChunkIDsOrdered returns all chunk ids in ascending order.
func (s *SQLiteStore) ChunkIDsOrdered(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	ids, err := s.chunkIDsOrderedLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("chunk_ids", err)
	}
	return ids, nil
}

func (s *SQLiteStore) chunkIDsOrderedLocked(ctx context.Context) ([]int64, error) {
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunksOrderedByID streams id, embedding, and created_at for every
// chunk in ascending id order. Chunks stored without an embedding
// come back with a nil slice; the vector index substitutes a zero
// vector so positions stay dense.
func (s *SQLiteStore) ChunksOrderedByID(ctx context.Context) ([]*ChunkVector, error) {
	s.mu.RLock()
	vectors, err := s.chunksOrderedByIDLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, s.failRead("chunks_ordered", err)
	}
	return vectors, nil
}

func (s *SQLiteStore) chunksOrderedByIDLocked(ctx context.Context) ([]*ChunkVector, error) {
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, created_at FROM chunks ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query chunk vectors: %w", err)
	}
	defer rows.Close()

	var vectors []*ChunkVector
	for rows.Next() {
		var v ChunkVector
		var blob []byte
		if err := rows.Scan(&v.ID, &blob, &v.CreatedAt); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			v.Embedding, err = decodeEmbedding(blob)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", v.ID, err)
			}
		}
		vectors = append(vectors, &v)
	}
	return vectors, rows.Err()
}

// Stats returns document and chunk counts.
func (s *SQLiteStore) Stats(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	docs, chunks, err := s.statsLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return 0, 0, s.failRead("stats", err)
	}
	return docs, chunks, nil
}

func (s *SQLiteStore) statsLocked(ctx context.Context) (int, int, error) {
	if s.closed {
		return 0, 0, errClosed
	}
	var docs, chunks int
	err := s.db.QueryRowContext(ctx,
		"SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM chunks)").Scan(&docs, &chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("stats: %w", err)
	}
	return docs, chunks, nil
}

// ClearAll removes every document and chunk in one transaction. The
// FTS triggers empty the keyword table along the way.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if err := s.clearAllLocked(ctx); err != nil {
		return s.failLocked("clear_all", err)
	}
	return nil
}

func (s *SQLiteStore) clearAllLocked(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return tx.Commit()
}

// GetState returns the value for a state key, or "" when absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	value, err := s.getStateLocked(ctx, key)
	s.mu.RUnlock()
	if err != nil {
		return "", s.failRead("get_state", err)
	}
	return value, nil
}

func (s *SQLiteStore) getStateLocked(ctx context.Context, key string) (string, error) {
	if s.closed {
		return "", errClosed
	}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

// SetState stores a state key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO store_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return s.failLocked("set_state", fmt.Errorf("set state: %w", err))
	}
	return nil
}

// Health reports whether a corruption reset happened this session.
func (s *SQLiteStore) Health() HealthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// DB exposes the underlying connection for collaborators that share
// the metadata database file, like the telemetry store. The handle
// stays owned by this store; callers must not close it.
func (s *SQLiteStore) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Compact reclaims space and refreshes the query planner statistics.
// Run it from maintenance paths only; VACUUM rewrites the whole file.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return s.failLocked("compact", fmt.Errorf("wal checkpoint: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return s.failLocked("compact", fmt.Errorf("vacuum: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return s.failLocked("compact", fmt.Errorf("optimize: %w", err))
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Debug("wal_checkpoint_failed", "error", err)
		}
	}
	return s.db.Close()
}

// failLocked maps an operation error through corruption recovery.
// The write lock must be held.
func (s *SQLiteStore) failLocked(op string, err error) error {
	if !isCorruptionErr(err) {
		return err
	}
	return s.recoverLocked(op, err)
}

// failRead is the read-path variant: the read lock has already been
// released, so it is safe to take the write lock for recovery.
func (s *SQLiteStore) failRead(op string, err error) error {
	if !isCorruptionErr(err) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoverLocked(op, err)
}

// recoverLocked resets the store after a corruption signal, at most
// once per session. A second signal is logged but left alone so a
// persistent fault below us cannot trigger repeated deletes.
func (s *SQLiteStore) recoverLocked(op string, cause error) error {
	if s.closed {
		return cause
	}
	if s.health == RecoveredThisSession {
		slog.Error("store_corruption_repeated", "op", op, "error", cause)
		return alerrors.New(alerrors.ErrCodeStoreCorrupt,
			"store is corrupt and was already reset this session", cause).
			WithDetail("op", op).
			WithSuggestion("check the disk for faults, then delete the data directory and reindex")
	}

	slog.Warn("store_corruption_detected", "op", op, "error", cause)
	if err := s.resetLocked(cause.Error()); err != nil {
		return alerrors.New(alerrors.ErrCodeStoreCorrupt,
			"store is corrupt and could not be reset", errors.Join(cause, err))
	}
	s.health = RecoveredThisSession
	return alerrors.New(alerrors.ErrCodeStoreCorrupt,
		"store was corrupt and has been reset; indexed data was dropped", cause).
		WithDetail("op", op).
		WithSuggestion("re-run 'alicerag index' to rebuild the store")
}

// resetLocked closes the database, removes every persisted store file
// (metadata plus the derived vector and keyword indexes, which are
// now stale), and reopens an empty database.
func (s *SQLiteStore) resetLocked(reason string) error {
	s.db.Close()
	s.removePersistedFiles()

	if err := s.open(); err != nil {
		return err
	}
	if err := s.initSchema(); err != nil {
		return err
	}
	slog.Warn("store_reset", "reason", reason, "path", s.path)
	return nil
}

func (s *SQLiteStore) removePersistedFiles() {
	if s.path == "" {
		return
	}
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		os.Remove(p)
	}
	os.Remove(VectorIndexPath(s.dataDir))
	os.Remove(VectorMetaPath(s.dataDir))
	os.RemoveAll(KeywordBlevePath(s.dataDir))
}

// isCorruptionErr reports whether an error looks like database file
// corruption rather than a normal query failure.
func isCorruptionErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"database disk image is malformed",
		"file is not a database",
		"malformed database schema",
		"database corruption",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
