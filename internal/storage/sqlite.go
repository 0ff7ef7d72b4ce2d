package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	prefWriteAttempts = 5
	prefWriteBackoff  = 100 * time.Millisecond
)

// SQLiteStore implements MetadataStore plus the preferences and relations
// tables on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// migrations are applied in order; schema_migrations records the last version.
var migrations = []string{
	// v1: memory metadata keyed by record id.
	`CREATE TABLE IF NOT EXISTS vector_metadata (
		vector_id INTEGER PRIMARY KEY,
		memory_type TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_vector_metadata_type ON vector_metadata(memory_type);`,

	// v2: user preferences, last write wins.
	`CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,

	// v3: knowledge relations (subject, relation, target) triples.
	`CREATE TABLE IF NOT EXISTS relations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		relation TEXT NOT NULL,
		target TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(subject, relation, target)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_subject ON relations(subject);`,
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; keep the pool small.
	db.SetMaxOpenConns(4)

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		s.logger.Info("applied schema migration", zap.Int("version", i+1))
	}
	return nil
}

// classify maps driver errors to the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		case sqlite3.ErrConstraint:
			switch sqliteErr.ExtendedCode {
			case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
				return fmt.Errorf("%w: %v", ErrDuplicateID, err)
			}
		}
	}
	return err
}

// HasRecord reports whether a metadata row exists for recordID.
func (s *SQLiteStore) HasRecord(ctx context.Context, recordID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM vector_metadata WHERE vector_id = ?`, recordID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// InsertRecord inserts a metadata row. The record id must be unique.
func (s *SQLiteStore) InsertRecord(ctx context.Context, rec MemoryRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_metadata (vector_id, memory_type, text, metadata) VALUES (?, ?, ?, ?)`,
		rec.RecordID, rec.Category, rec.Text, string(metaJSON))
	return classify(err)
}

// GetRecord returns the metadata row for recordID, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, recordID int64) (MemoryRecord, error) {
	var rec MemoryRecord
	var metaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector_id, memory_type, text, metadata FROM vector_metadata WHERE vector_id = ?`,
		recordID).Scan(&rec.RecordID, &rec.Category, &rec.Text, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryRecord{}, fmt.Errorf("record %d: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return MemoryRecord{}, classify(err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return MemoryRecord{}, fmt.Errorf("unmarshal metadata for record %d: %w", recordID, err)
	}
	return rec, nil
}

// RecordIDs returns every record id in the metadata table.
func (s *SQLiteStore) RecordIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vector_id FROM vector_metadata`)
	if err != nil {
		return nil, classify(err)
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

// CountRecords returns the number of metadata rows.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_metadata`).Scan(&n)
	return n, classify(err)
}

// SetPreference upserts a preference key. Busy errors are retried internally
// with linear backoff.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	var err error
	for attempt := 0; attempt < prefWriteAttempts; attempt++ {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		err = classify(err)
		if !errors.Is(err, ErrBusy) {
			return err
		}
		s.logger.Warn("preference write busy, retrying",
			zap.String("key", key), zap.Int("attempt", attempt+1))
		select {
		case <-time.After(time.Duration(attempt+1) * prefWriteBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// GetPreference returns the value for key, or ErrNotFound.
func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("preference %q: %w", key, ErrNotFound)
	}
	return value, classify(err)
}

// ListPreferences returns all preference keys and values.
func (s *SQLiteStore) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

// AddRelation stores a (subject, relation, target) triple. Duplicate triples
// are ignored.
func (s *SQLiteStore) AddRelation(ctx context.Context, subject, relation, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relations (subject, relation, target, created_at) VALUES (?, ?, ?, ?)`,
		subject, relation, target, time.Now().Unix())
	return classify(err)
}

// QueryRelations finds triples whose subject matches exactly; if nothing
// matches, it falls back to a keyword LIKE match over all three columns.
func (s *SQLiteStore) QueryRelations(ctx context.Context, subject string) ([][3]string, error) {
	triples, err := s.queryRelationRows(ctx,
		`SELECT subject, relation, target FROM relations WHERE subject = ?`, subject)
	if err != nil || len(triples) > 0 {
		return triples, err
	}
	pattern := "%" + strings.TrimSpace(subject) + "%"
	return s.queryRelationRows(ctx,
		`SELECT subject, relation, target FROM relations
		 WHERE subject LIKE ? OR relation LIKE ? OR target LIKE ?`,
		pattern, pattern, pattern)
}

func (s *SQLiteStore) queryRelationRows(ctx context.Context, query string, args ...any) ([][3]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var triples [][3]string
	for rows.Next() {
		var t [3]string
		if err := rows.Scan(&t[0], &t[1], &t[2]); err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
	return triples, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
