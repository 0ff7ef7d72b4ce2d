package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := MemoryRecord{
		RecordID: 1724400000123456,
		Category: "episodic",
		Text:     "user asked about deployment schedules",
		Metadata: map[string]any{"round_id": "r-17", "category": "episodic"},
	}
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	got, err := s.GetRecord(ctx, rec.RecordID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Category != rec.Category || got.Text != rec.Text {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if got.Metadata["round_id"] != "r-17" {
		t.Errorf("metadata round_id = %v, want r-17", got.Metadata["round_id"])
	}
}

func TestInsertDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := MemoryRecord{RecordID: 42, Category: "semantic", Text: "a"}
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertRecord(ctx, MemoryRecord{RecordID: 42, Category: "semantic", Text: "b"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second insert: err = %v, want ErrDuplicateID", err)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHasRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.HasRecord(ctx, 7)
	if err != nil || ok {
		t.Fatalf("HasRecord(7) before insert = %v, %v; want false, nil", ok, err)
	}
	if err := s.InsertRecord(ctx, MemoryRecord{RecordID: 7, Category: "wm", Text: "x"}); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	ok, err = s.HasRecord(ctx, 7)
	if err != nil || !ok {
		t.Errorf("HasRecord(7) after insert = %v, %v; want true, nil", ok, err)
	}
}

func TestRecordIDsAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := s.InsertRecord(ctx, MemoryRecord{RecordID: i, Category: "episodic", Text: "t"}); err != nil {
			t.Fatalf("InsertRecord(%d): %v", i, err)
		}
	}
	ids, err := s.RecordIDs(ctx)
	if err != nil {
		t.Fatalf("RecordIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("got %d ids, want 3", len(ids))
	}
	n, err := s.CountRecords(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountRecords = %d, %v; want 3, nil", n, err)
	}
}

func TestPreferencesUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetPreference(ctx, "tone", "concise"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, "tone", "detailed"); err != nil {
		t.Fatalf("SetPreference update: %v", err)
	}
	v, err := s.GetPreference(ctx, "tone")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if v != "detailed" {
		t.Errorf("preference = %q, want %q (last write wins)", v, "detailed")
	}

	if _, err := s.GetPreference(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing preference: err = %v, want ErrNotFound", err)
	}

	prefs, err := s.ListPreferences(ctx)
	if err != nil || len(prefs) != 1 {
		t.Errorf("ListPreferences = %v, %v; want one entry", prefs, err)
	}
}

func TestRelationsExactAndKeywordFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddRelation(ctx, "alice", "works_at", "acme"); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}
	// Duplicate triple is ignored.
	if err := s.AddRelation(ctx, "alice", "works_at", "acme"); err != nil {
		t.Fatalf("AddRelation duplicate: %v", err)
	}

	exact, err := s.QueryRelations(ctx, "alice")
	if err != nil {
		t.Fatalf("QueryRelations exact: %v", err)
	}
	if len(exact) != 1 || exact[0] != [3]string{"alice", "works_at", "acme"} {
		t.Errorf("exact match = %v, want [[alice works_at acme]]", exact)
	}

	// No subject named "acme"; keyword fallback matches it as a target.
	fallback, err := s.QueryRelations(ctx, "acme")
	if err != nil {
		t.Fatalf("QueryRelations fallback: %v", err)
	}
	if len(fallback) != 1 {
		t.Errorf("keyword fallback returned %d triples, want 1", len(fallback))
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := NewSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.InsertRecord(context.Background(), MemoryRecord{RecordID: 1, Category: "c", Text: "t"}); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	s1.Close()

	// Reopen: migrations already applied, data survives.
	s2, err := NewSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	ok, err := s2.HasRecord(context.Background(), 1)
	if err != nil || !ok {
		t.Errorf("record lost across reopen: %v, %v", ok, err)
	}
}
