package memstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/embedding"
	"github.com/hyperjump/omoide/internal/storage"
	"github.com/hyperjump/omoide/internal/vector"
)

const testDims = 32

// fakeMetadata is an in-memory MetadataStore with failure injection.
type fakeMetadata struct {
	records     map[int64]storage.MemoryRecord
	insertErrs  []error // consumed one per InsertRecord call
	insertCalls int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{records: make(map[int64]storage.MemoryRecord)}
}

func (f *fakeMetadata) HasRecord(_ context.Context, id int64) (bool, error) {
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeMetadata) InsertRecord(_ context.Context, rec storage.MemoryRecord) error {
	f.insertCalls++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.records[rec.RecordID]; ok {
		return storage.ErrDuplicateID
	}
	f.records[rec.RecordID] = rec
	return nil
}

func (f *fakeMetadata) GetRecord(_ context.Context, id int64) (storage.MemoryRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return storage.MemoryRecord{}, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeMetadata) RecordIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMetadata) CountRecords(_ context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

// countingIndex wraps a FlatIndex, counts snapshot writes and can fail them.
type countingIndex struct {
	*vector.FlatIndex
	saves   int
	saveErr error
}

func (c *countingIndex) Save(path string) error {
	c.saves++
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.FlatIndex.Save(path)
}

type storeFixture struct {
	store    *Store
	metadata *fakeMetadata
	index    *countingIndex
	dir      string
}

func newFixture(t *testing.T, opts ...func(*Options)) *storeFixture {
	t.Helper()
	dir := t.TempDir()
	flat, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatalf("NewFlatIndex: %v", err)
	}
	idx := &countingIndex{FlatIndex: flat}
	meta := newFakeMetadata()

	o := Options{
		Embedder:    embedding.NewMockEmbedder(testDims),
		Index:       idx,
		Metadata:    meta,
		IndexPath:   filepath.Join(dir, "index.bin"),
		MappingPath: filepath.Join(dir, "mapping.json"),
		Logger:      zap.NewNop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := Open(o)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &storeFixture{store: s, metadata: meta, index: idx, dir: dir}
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Store(ctx, "episodic", "user prefers dark mode", map[string]any{"round_id": "r1"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == 0 {
		t.Fatal("Store returned zero id")
	}

	results, err := f.store.Retrieve(ctx, "user prefers dark mode", "", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.RecordID != id || r.Text != "user prefers dark mode" || r.Category != "episodic" {
		t.Errorf("result = %+v", r)
	}
	if r.Distance != 0 {
		t.Errorf("identical text distance = %v, want 0", r.Distance)
	}
	if r.Metadata["round_id"] != "r1" || r.Metadata["category"] != "episodic" || r.Metadata["text"] != "user prefers dark mode" {
		t.Errorf("metadata = %v, want merged user meta plus category and text", r.Metadata)
	}
}

func TestStoreMapCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		id, err := f.store.Store(ctx, "semantic", fmt.Sprintf("fact number %d", i), nil)
		if err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("record id %d allocated twice", id)
		}
		seen[id] = true
	}

	indexSize, mapped := f.store.Size()
	if indexSize != n || mapped != n {
		t.Fatalf("index size = %d, mapped = %d; want %d each", indexSize, mapped, n)
	}
	// Every mapped id resolves to a metadata row.
	for pos, id := range f.store.positions.Entries() {
		if _, err := f.metadata.GetRecord(ctx, id); err != nil {
			t.Errorf("position %d maps to id %d with no row: %v", pos, id, err)
		}
	}
}

func TestStoreIDCollisionRegenerates(t *testing.T) {
	// Generator returns 100 twice, then unique ids. First store takes 100;
	// second sees it taken via HasRecord and moves on.
	ids := []int64{100, 100, 200, 300}
	i := 0
	gen := func() int64 {
		id := ids[i%len(ids)]
		i++
		return id
	}
	f := newFixture(t, func(o *Options) { o.IDGenerator = gen })
	ctx := context.Background()

	first, err := f.store.Store(ctx, "episodic", "first", nil)
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	second, err := f.store.Store(ctx, "episodic", "second", nil)
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if first == second {
		t.Errorf("duplicate record id %d allocated", first)
	}
	if first != 100 || second != 200 {
		t.Errorf("ids = %d, %d; want 100, 200", first, second)
	}
}

func TestStoreInsertRaceRepairsMapping(t *testing.T) {
	// HasRecord says free, but the insert itself reports a duplicate
	// (concurrent-writer race). The store regenerates the id and the map
	// entry points at the id that actually landed.
	ids := []int64{500, 600}
	i := 0
	gen := func() int64 {
		id := ids[i%len(ids)]
		i++
		return id
	}
	f := newFixture(t, func(o *Options) { o.IDGenerator = gen })
	f.metadata.insertErrs = []error{storage.ErrDuplicateID}
	ctx := context.Background()

	id, err := f.store.Store(ctx, "episodic", "raced", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id != 600 {
		t.Errorf("stored id = %d, want regenerated 600", id)
	}
	mapped, ok := f.store.positions.Get(0)
	if !ok || mapped != 600 {
		t.Errorf("position 0 maps to %d, %v; want 600", mapped, ok)
	}
}

func TestStoreIDAllocationExhausted(t *testing.T) {
	gen := func() int64 { return 7 }
	f := newFixture(t, func(o *Options) { o.IDGenerator = gen })
	ctx := context.Background()

	if _, err := f.store.Store(ctx, "episodic", "occupies id 7", nil); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	_, err := f.store.Store(ctx, "episodic", "cannot get an id", nil)
	if !errors.Is(err, ErrIDAllocationExhausted) {
		t.Fatalf("err = %v, want ErrIDAllocationExhausted", err)
	}
	// Allocation happens before the index append, so nothing leaked.
	indexSize, mapped := f.store.Size()
	if indexSize != 1 || mapped != 1 {
		t.Errorf("index size = %d, mapped = %d after failed store; want 1 each", indexSize, mapped)
	}
}

func TestStoreMetadataWriteFailureLeavesOrphan(t *testing.T) {
	f := newFixture(t)
	// Every insert attempt reports busy.
	for i := 0; i < insertAttempts; i++ {
		f.metadata.insertErrs = append(f.metadata.insertErrs, storage.ErrBusy)
	}
	ctx := context.Background()

	_, err := f.store.Store(ctx, "episodic", "doomed write", nil)
	if !errors.Is(err, ErrMetadataWriteFailed) {
		t.Fatalf("err = %v, want ErrMetadataWriteFailed", err)
	}

	// The vector and map entry stay; the store is dirty so the orphan state
	// is persisted and reconciliation can find it.
	indexSize, mapped := f.store.Size()
	if indexSize != 1 || mapped != 1 {
		t.Errorf("index size = %d, mapped = %d; want orphan kept", indexSize, mapped)
	}
	if !f.store.Dirty() {
		t.Error("store not dirty after orphaning write")
	}

	// Retrieval skips the orphan rather than failing.
	results, err := f.store.Retrieve(ctx, "doomed write", "", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (orphan skipped)", len(results))
	}
}

func TestRetrieveCategoryFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Store(ctx, "episodic", "meeting notes from standup", nil)
	f.store.Store(ctx, "semantic", "go interfaces are satisfied implicitly", nil)

	results, err := f.store.Retrieve(ctx, "standup meeting", "semantic", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, r := range results {
		if r.Category != "semantic" {
			t.Errorf("category filter leaked %q result", r.Category)
		}
	}
}

func TestRetrieveOverFetchBoundary(t *testing.T) {
	// One memory in the wanted category, five in another. With k=3 the
	// search window is 2k=6, which covers all stored vectors, so the single
	// match is found regardless of its distance rank.
	f := newFixture(t)
	ctx := context.Background()

	want, err := f.store.Store(ctx, "preferences", "tabs over spaces", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.store.Store(ctx, "episodic", fmt.Sprintf("noise entry %d", i), nil); err != nil {
			t.Fatalf("Store noise %d: %v", i, err)
		}
	}

	results, err := f.store.Retrieve(ctx, "indentation preference", "preferences", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != want {
		t.Errorf("results = %+v, want single hit %d", results, want)
	}
}

func TestRetrieveStopsAtK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		f.store.Store(ctx, "episodic", fmt.Sprintf("entry %d", i), nil)
	}
	results, err := f.store.Retrieve(ctx, "entry", "", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	// Results come back in ascending distance order.
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results out of distance order: %v then %v",
				results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestFlushIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Store(ctx, "episodic", "something to persist", nil)
	if !f.store.Dirty() {
		t.Fatal("store not dirty after Store")
	}
	if err := f.store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.store.Dirty() {
		t.Error("store still dirty after Flush")
	}
	if f.index.saves != 1 {
		t.Fatalf("snapshot writes = %d, want 1", f.index.saves)
	}

	// No changes since the flush: the second flush is a no-op.
	if err := f.store.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if f.index.saves != 1 {
		t.Errorf("snapshot writes after idempotent flush = %d, want 1", f.index.saves)
	}
}

func TestFlushFailureKeepsStateAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Store(ctx, "episodic", "survives a failed flush", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	f.index.saveErr = errors.New("disk full")
	if err := f.store.Flush(); !errors.Is(err, ErrSnapshotIO) {
		t.Fatalf("Flush: err = %v, want ErrSnapshotIO", err)
	}
	if !f.store.Dirty() {
		t.Error("dirty flag cleared by failed flush")
	}

	// In-memory state is unaffected by the snapshot failure.
	results, err := f.store.Retrieve(ctx, "survives a failed flush", "", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != id {
		t.Errorf("results = %+v, want record %d", results, id)
	}

	// The next flush picks the change back up.
	f.index.saveErr = nil
	if err := f.store.Flush(); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if f.store.Dirty() {
		t.Error("still dirty after successful retry")
	}
	if f.index.saves != 2 {
		t.Errorf("snapshot writes = %d, want 2", f.index.saves)
	}
}

func TestCrashRecoveryReopen(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.bin")
	mappingPath := filepath.Join(dir, "mapping.json")
	meta := newFakeMetadata()
	ctx := context.Background()

	flat, _ := vector.NewFlatIndex(testDims)
	s1, err := Open(Options{
		Embedder:    embedding.NewMockEmbedder(testDims),
		Index:       flat,
		Metadata:    meta,
		IndexPath:   indexPath,
		MappingPath: mappingPath,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s1.Store(ctx, "semantic", "durable fact", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s1.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Reopen from disk as after a restart.
	reloaded, err := vector.LoadFlatIndex(indexPath, testDims)
	if err != nil {
		t.Fatalf("LoadFlatIndex: %v", err)
	}
	s2, err := Open(Options{
		Embedder:    embedding.NewMockEmbedder(testDims),
		Index:       reloaded,
		Metadata:    meta,
		IndexPath:   indexPath,
		MappingPath: mappingPath,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	results, err := s2.Retrieve(ctx, "durable fact", "", 5)
	if err != nil {
		t.Fatalf("Retrieve after reopen: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != id {
		t.Errorf("results after reopen = %+v, want record %d", results, id)
	}
}

func TestOpenDetectsMapBeyondIndex(t *testing.T) {
	dir := t.TempDir()
	mappingPath := filepath.Join(dir, "mapping.json")

	// Map claims position 5 but the index is empty: snapshot lost or stale.
	m := NewPositionMap()
	m.Put(5, 12345)
	if err := m.Save(mappingPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	flat, _ := vector.NewFlatIndex(testDims)
	_, err := Open(Options{
		Embedder:    embedding.NewMockEmbedder(testDims),
		Index:       flat,
		Metadata:    newFakeMetadata(),
		IndexPath:   filepath.Join(dir, "index.bin"),
		MappingPath: mappingPath,
		Logger:      zap.NewNop(),
	})
	if !errors.Is(err, ErrIndexCorruption) {
		t.Errorf("err = %v, want ErrIndexCorruption", err)
	}
}

func TestOpenAllowsUnmappedIndexPositions(t *testing.T) {
	// The inverse mismatch is legal: reconciliation leaves index positions
	// with no map entry.
	dir := t.TempDir()
	flat, _ := vector.NewFlatIndex(testDims)
	flat.Add(make([]float32, testDims))
	flat.Add(make([]float32, testDims))

	m := NewPositionMap()
	m.Put(0, 111)
	mappingPath := filepath.Join(dir, "mapping.json")
	if err := m.Save(mappingPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := Open(Options{
		Embedder:    embedding.NewMockEmbedder(testDims),
		Index:       flat,
		Metadata:    newFakeMetadata(),
		IndexPath:   filepath.Join(dir, "index.bin"),
		MappingPath: mappingPath,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Errorf("Open with unmapped index positions: %v, want nil", err)
	}
}

func TestReconcileDropsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.store.Store(ctx, "episodic", "healthy entry", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// Orphan: map a position with no metadata row.
	f.store.positions.Put(0xdead, 999999) // beyond index end
	f.store.index.Add(make([]float32, testDims))
	f.store.positions.Put(1, 888888) // in range, no row

	report, err := f.store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.DroppedBeyondEnd != 1 || report.DroppedMissingRow != 1 {
		t.Errorf("report = %+v, want one drop of each kind", report)
	}
	if f.store.positions.Len() != 1 {
		t.Errorf("mapped positions = %d, want 1", f.store.positions.Len())
	}
	if id, ok := f.store.positions.Get(0); !ok || id != keep {
		t.Errorf("surviving entry = %d, %v; want %d", id, ok, keep)
	}
}

func TestOpenSkipValidationEnablesReconcile(t *testing.T) {
	dir := t.TempDir()
	mappingPath := filepath.Join(dir, "mapping.json")

	// Map claims position 3 but the index is empty. The normal open refuses
	// this state; the repair-mode open lets reconciliation clean it up.
	m := NewPositionMap()
	m.Put(3, 54321)
	if err := m.Save(mappingPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	flat, _ := vector.NewFlatIndex(testDims)
	opts := Options{
		Embedder:       embedding.NewMockEmbedder(testDims),
		Index:          flat,
		Metadata:       newFakeMetadata(),
		IndexPath:      filepath.Join(dir, "index.bin"),
		MappingPath:    mappingPath,
		Logger:         zap.NewNop(),
		SkipValidation: true,
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("repair-mode Open: %v", err)
	}

	report, err := s.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.DroppedBeyondEnd != 1 {
		t.Fatalf("report = %+v, want one beyond-end drop", report)
	}

	// The repaired map passes the normal startup validation.
	opts.SkipValidation = false
	if _, err := Open(opts); err != nil {
		t.Errorf("Open after repair: %v", err)
	}
}

func TestStoreRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Store(context.Background(), "episodic", "", nil); err == nil {
		t.Error("Store with empty text succeeded")
	}
}

func TestStoreRejectsEmptyCategory(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Store(context.Background(), "", "uncategorized", nil); err == nil {
		t.Error("Store with empty category succeeded")
	}
	if indexSize, mapped := f.store.Size(); indexSize != 0 || mapped != 0 {
		t.Errorf("index size = %d, mapped = %d after rejected store; want 0 each", indexSize, mapped)
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Retrieve(context.Background(), "", "", 5); err == nil {
		t.Error("Retrieve with empty query succeeded")
	}
}
