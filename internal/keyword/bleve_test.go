package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "kw.bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexMemory(ctx, 101, "episodic", "discussed kubernetes rollout strategy"); err != nil {
		t.Fatalf("IndexMemory: %v", err)
	}
	if err := idx.IndexMemory(ctx, 102, "semantic", "the capital of france is paris"); err != nil {
		t.Fatalf("IndexMemory: %v", err)
	}

	hits, err := idx.Search(ctx, "kubernetes", "", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RecordID != 101 {
		t.Errorf("hits = %v, want single hit for record 101", hits)
	}
}

func TestSearchCategoryFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.IndexMemory(ctx, 1, "episodic", "paris trip planning")
	idx.IndexMemory(ctx, 2, "semantic", "paris is in france")

	hits, err := idx.Search(ctx, "paris", "semantic", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RecordID != 2 {
		t.Errorf("hits = %v, want single semantic hit for record 2", hits)
	}
}

func TestDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.IndexMemory(ctx, 9, "episodic", "temporary note about billing")
	if err := idx.Delete(ctx, 9); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, err := idx.Search(ctx, "billing", "", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits after delete = %v, want none", hits)
	}
}

func TestReopenExistingIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kw.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	idx.IndexMemory(ctx, 3, "episodic", "persistent entry")
	idx.Close()

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	hits, err := reopened.Search(ctx, "persistent", "", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits after reopen = %v, want 1", hits)
	}
}
