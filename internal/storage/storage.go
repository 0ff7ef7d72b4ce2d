// Package storage persists memory metadata, user preferences and knowledge
// relations in SQLite.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors callers can test with errors.Is. The SQLite driver's own
// error codes are classified into these in sqlite.go.
var (
	// ErrBusy means the database was locked; the write may succeed on retry.
	ErrBusy = errors.New("database busy")
	// ErrDuplicateID means a record with the same primary key already exists.
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

// MemoryRecord is one row of memory metadata. RecordID is the stable
// identifier referenced by the position map.
type MemoryRecord struct {
	RecordID int64
	Category string
	Text     string
	Metadata map[string]any
}

// MetadataStore is the metadata table interface the memory store depends on.
type MetadataStore interface {
	// HasRecord reports whether a record with the given id exists.
	HasRecord(ctx context.Context, recordID int64) (bool, error)
	// InsertRecord inserts rec. Returns ErrDuplicateID if the id is taken and
	// ErrBusy if the database is locked.
	InsertRecord(ctx context.Context, rec MemoryRecord) error
	// GetRecord returns the record with the given id, or ErrNotFound.
	GetRecord(ctx context.Context, recordID int64) (MemoryRecord, error)
	// RecordIDs returns all record ids in the table.
	RecordIDs(ctx context.Context) ([]int64, error)
	// CountRecords returns the number of metadata rows.
	CountRecords(ctx context.Context) (int64, error)
}
