package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		index_name TEXT NOT NULL,
		source TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL,
		ingested_at INTEGER NOT NULL,
		PRIMARY KEY (index_name, source)
	);

	CREATE INDEX IF NOT EXISTS idx_sources_ingested_at ON sources(index_name, ingested_at);
	`
	_, err := db.Exec(schema)
	return err
}

func scanSource(row interface{ Scan(...any) error }) (*models.SourceRecord, error) {
	var rec models.SourceRecord
	var modTime, ingested int64
	if err := row.Scan(&rec.Index, &rec.Source, &rec.Chunks, &modTime, &rec.Size, &ingested); err != nil {
		return nil, err
	}
	rec.ModTime = fromUnixNano(modTime)
	rec.IngestedAt = fromUnixNano(ingested)
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// GetSource returns the ledger entry for source in index, or ErrNotFound.
func (s *SQLiteLedger) GetSource(ctx context.Context, index, source string) (*models.SourceRecord, error) {
	rec, err := scanSource(s.db.QueryRowContext(ctx,
		`SELECT index_name, source, chunk_count, mod_time, size, ingested_at
		 FROM sources WHERE index_name = ? AND source = ?`, index, source,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PutSource inserts or replaces an entry. IngestedAt defaults to now.
func (s *SQLiteLedger) PutSource(ctx context.Context, rec *models.SourceRecord) error {
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (index_name, source, chunk_count, mod_time, size, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(index_name, source) DO UPDATE SET
		   chunk_count = excluded.chunk_count,
		   mod_time = excluded.mod_time,
		   size = excluded.size,
		   ingested_at = excluded.ingested_at`,
		rec.Index, rec.Source, rec.Chunks, unixNano(rec.ModTime), rec.Size, unixNano(rec.IngestedAt),
	)
	return err
}

// DeleteSource removes an entry. Deleting a missing entry is not an error.
func (s *SQLiteLedger) DeleteSource(ctx context.Context, index, source string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE index_name = ? AND source = ?`, index, source)
	return err
}

// ListSources returns entries of index, most recently ingested first.
func (s *SQLiteLedger) ListSources(ctx context.Context, index string, offset, limit int) ([]*models.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT index_name, source, chunk_count, mod_time, size, ingested_at
		 FROM sources WHERE index_name = ? ORDER BY ingested_at DESC, source LIMIT ? OFFSET ?`,
		index, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountSources returns the number of sources recorded for index.
func (s *SQLiteLedger) CountSources(ctx context.Context, index string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE index_name = ?`, index).Scan(&count)
	return count, err
}

// CountChunks returns the number of records written to index.
func (s *SQLiteLedger) CountChunks(ctx context.Context, index string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(chunk_count), 0) FROM sources WHERE index_name = ?`, index).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
