package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// catalogSchemaVersion is the current catalog schema version.
const catalogSchemaVersion = 1

// Catalog is the SQLite store holding document text, metadata, and
// build provenance for every collection under a cache root.
// It is the single source of truth: keyword and vector indexes are
// rebuildable projections of the catalog.
type Catalog struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenCatalog opens (or creates) the catalog database.
// If path is empty an in-memory database is used (tests).
func OpenCatalog(path string) (*Catalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite;
	// DSN params may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &Catalog{db: db, path: path}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	return c, nil
}

// initSchema creates the catalog tables.
func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Documents across all collections. rowid preserves insertion order,
	-- which List relies on for deterministic output and fusion tie-breaks.
	CREATE TABLE IF NOT EXISTS documents (
		collection    TEXT NOT NULL,
		doc_key       TEXT NOT NULL,
		text          TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		text_hash     TEXT NOT NULL,
		vector_id     INTEGER NOT NULL,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (collection, doc_key)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_vector
		ON documents(collection, vector_id);

	-- One provenance row per collection; mixed models are rejected upstream.
	CREATE TABLE IF NOT EXISTS provenance (
		collection TEXT PRIMARY KEY,
		provider   TEXT NOT NULL,
		model      TEXT NOT NULL,
		dimension  INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Monotonic vector id sequence per collection. Ids are never reused,
	-- even after document deletion, so stale graph nodes can't alias.
	CREATE TABLE IF NOT EXISTS vector_sequence (
		collection TEXT PRIMARY KEY,
		next_id    INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return err
	}
	_, err := c.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", catalogSchemaVersion)
	return err
}

// Put upserts a document record. UpdatedAt is set here; CreatedAt is
// preserved on update.
func (c *Catalog) Put(ctx context.Context, rec *DocumentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", rec.DocKey, err)
	}

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO documents (collection, doc_key, text, metadata_json, text_hash, vector_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, doc_key) DO UPDATE SET
			text = excluded.text,
			metadata_json = excluded.metadata_json,
			text_hash = excluded.text_hash,
			vector_id = excluded.vector_id,
			updated_at = excluded.updated_at`,
		rec.Collection, rec.DocKey, rec.Text, string(metadata), rec.TextHash, rec.VectorID, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", rec.DocKey, err)
	}
	return nil
}

// Get returns one document, or sql.ErrNoRows wrapped if absent.
func (c *Catalog) Get(ctx context.Context, collection, docKey string) (*DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT collection, doc_key, text, metadata_json, text_hash, vector_id, created_at, updated_at
		FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, docKey)

	return scanDocument(row)
}

// GetByVectorID resolves a vector id back to its document.
func (c *Catalog) GetByVectorID(ctx context.Context, collection string, vectorID uint64) (*DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT collection, doc_key, text, metadata_json, text_hash, vector_id, created_at, updated_at
		FROM documents WHERE collection = ? AND vector_id = ?`,
		collection, vectorID)

	return scanDocument(row)
}

// List returns all documents of a collection in insertion order.
func (c *Catalog) List(ctx context.Context, collection string) ([]*DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT collection, doc_key, text, metadata_json, text_hash, vector_id, created_at, updated_at
		FROM documents WHERE collection = ? ORDER BY rowid`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var records []*DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes one document. Returns true if a row was deleted.
func (c *Catalog) Delete(ctx context.Context, collection, docKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, fmt.Errorf("catalog is closed")
	}

	res, err := c.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND doc_key = ?",
		collection, docKey)
	if err != nil {
		return false, fmt.Errorf("failed to delete document %s: %w", docKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of documents in a collection.
func (c *Catalog) Count(ctx context.Context, collection string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fmt.Errorf("catalog is closed")
	}

	var count int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Collections returns stats for every collection known to the catalog,
// ordered by name.
func (c *Catalog) Collections(ctx context.Context) ([]*CollectionStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT d.collection, COUNT(*),
		       p.provider, p.model, p.dimension, p.created_at, p.updated_at
		FROM documents d
		LEFT JOIN provenance p ON p.collection = d.collection
		GROUP BY d.collection
		ORDER BY d.collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var stats []*CollectionStats
	for rows.Next() {
		var s CollectionStats
		var provider, model sql.NullString
		var dimension sql.NullInt64
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&s.Collection, &s.DocumentCount,
			&provider, &model, &dimension, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection stats: %w", err)
		}
		if provider.Valid {
			s.Provenance = &Provenance{
				Collection: s.Collection,
				Provider:   provider.String,
				Model:      model.String,
				Dimension:  int(dimension.Int64),
				CreatedAt:  createdAt.Time,
				UpdatedAt:  updatedAt.Time,
			}
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// Provenance returns a collection's build provenance, or nil if unknown.
func (c *Catalog) Provenance(ctx context.Context, collection string) (*Provenance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	var p Provenance
	err := c.db.QueryRowContext(ctx, `
		SELECT collection, provider, model, dimension, created_at, updated_at
		FROM provenance WHERE collection = ?`, collection).
		Scan(&p.Collection, &p.Provider, &p.Model, &p.Dimension, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provenance: %w", err)
	}
	return &p, nil
}

// SetProvenance records (or refreshes) a collection's build provenance.
func (c *Catalog) SetProvenance(ctx context.Context, p *Provenance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO provenance (collection, provider, model, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at`,
		p.Collection, p.Provider, p.Model, p.Dimension, now, now)
	if err != nil {
		return fmt.Errorf("failed to set provenance: %w", err)
	}
	return nil
}

// NextVectorID allocates n monotonic vector ids for a collection and
// returns the first. Ids are never reused.
func (c *Catalog) NextVectorID(ctx context.Context, collection string, n int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fmt.Errorf("catalog is closed")
	}
	if n <= 0 {
		return 0, fmt.Errorf("vector id count must be positive, got %d", n)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next uint64
	err = tx.QueryRowContext(ctx,
		"SELECT next_id FROM vector_sequence WHERE collection = ?", collection).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vector_sequence (collection, next_id) VALUES (?, ?)",
			collection, next); err != nil {
			return 0, fmt.Errorf("failed to create vector sequence: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to read vector sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE vector_sequence SET next_id = ? WHERE collection = ?",
		next+uint64(n), collection); err != nil {
		return 0, fmt.Errorf("failed to advance vector sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit vector sequence: %w", err)
	}
	return next, nil
}

// EnsureVectorSequence raises the collection's id sequence so the next
// NextVectorID returns at least min. Used when installing a fetched
// bundle whose rows already carry assigned vector ids.
func (c *Catalog) EnsureVectorSequence(ctx context.Context, collection string, min uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO vector_sequence (collection, next_id) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET next_id = MAX(next_id, excluded.next_id)`,
		collection, min)
	if err != nil {
		return fmt.Errorf("failed to raise vector sequence: %w", err)
	}
	return nil
}

// DeleteCollection removes all catalog rows for a collection.
func (c *Catalog) DeleteCollection(ctx context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM documents WHERE collection = ?",
		"DELETE FROM provenance WHERE collection = ?",
		"DELETE FROM vector_sequence WHERE collection = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, collection); err != nil {
			return fmt.Errorf("failed to delete collection rows: %w", err)
		}
	}

	return tx.Commit()
}

// ImportCollection atomically replaces a collection's catalog state with
// the given records, provenance, and vector id floor. A crash mid-import
// leaves the previous state intact; readers never see a half-imported
// collection.
func (c *Catalog) ImportCollection(ctx context.Context, collection string, recs []*DocumentRecord, prov *Provenance, minSeq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM documents WHERE collection = ?",
		"DELETE FROM provenance WHERE collection = ?",
		"DELETE FROM vector_sequence WHERE collection = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, collection); err != nil {
			return fmt.Errorf("failed to clear collection rows: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, rec := range recs {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", rec.DocKey, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, doc_key, text, metadata_json, text_hash, vector_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			collection, rec.DocKey, rec.Text, string(metadata), rec.TextHash, rec.VectorID, now, now); err != nil {
			return fmt.Errorf("failed to import document %s: %w", rec.DocKey, err)
		}
	}

	if prov != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO provenance (collection, provider, model, dimension, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			collection, prov.Provider, prov.Model, prov.Dimension, prov.CreatedAt, prov.UpdatedAt); err != nil {
			return fmt.Errorf("failed to import provenance: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vector_sequence (collection, next_id) VALUES (?, ?)",
		collection, minSeq); err != nil {
		return fmt.Errorf("failed to seed vector sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

// Checkpoint flushes the WAL into the main database file. Called before
// bundling artifacts for publication.
func (c *Catalog) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}
	_, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.path != "" {
		_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return c.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var rec DocumentRecord
	var metadata string
	err := row.Scan(&rec.Collection, &rec.DocKey, &rec.Text, &metadata,
		&rec.TextHash, &rec.VectorID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", rec.DocKey, err)
		}
	}
	return &rec, nil
}
