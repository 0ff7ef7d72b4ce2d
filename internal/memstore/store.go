// Package memstore implements the vector-indexed long-term memory store: an
// embedding provider, an append-only similarity index, a durable
// position-to-record-id map, and a SQLite metadata table kept consistent
// across restarts.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/embedding"
	"github.com/hyperjump/omoide/internal/keyword"
	"github.com/hyperjump/omoide/internal/storage"
	"github.com/hyperjump/omoide/internal/vector"
)

const (
	// DefaultK is the result count used when a retrieve request omits k.
	DefaultK = 5

	idAttempts     = 10
	insertAttempts = 5
	insertBackoff  = 100 * time.Millisecond

	// Retrieval over-fetches so category filtering and skipped orphans still
	// yield k usable results.
	overFetchFactor = 2
)

// IDGenerator produces candidate record ids. The default combines the current
// microsecond timestamp with a random suffix.
type IDGenerator func() int64

func defaultIDGenerator() int64 {
	return time.Now().UnixMicro() + int64(rand.Intn(9000)+1000)
}

// Options configures Open.
type Options struct {
	Embedder    embedding.Embedder
	Index       vector.Index
	Metadata    storage.MetadataStore
	IndexPath   string
	MappingPath string
	// Keyword is optional; when set, stored memories are also indexed for
	// keyword recall. Keyword indexing is best effort and never fails a store.
	Keyword     keyword.Index
	Logger      *zap.Logger
	IDGenerator IDGenerator
	// SkipValidation opens the store even when the position map references
	// positions beyond the end of the index. Only offline reconciliation sets
	// this; the server must never serve from a store in that state.
	SkipValidation bool
}

// Result is one retrieved memory. Distance is the raw squared L2 distance
// from the query embedding; smaller is closer.
type Result struct {
	RecordID int64          `json:"record_id"`
	Category string         `json:"category"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Distance float32        `json:"distance"`
}

// Store is the vector memory store. Store and Flush take the write lock;
// Retrieve takes the read lock, so reads proceed concurrently.
type Store struct {
	mu sync.RWMutex

	embedder  embedding.Embedder
	index     vector.Index
	metadata  storage.MetadataStore
	positions *PositionMap
	keyword   keyword.Index
	logger    *zap.Logger
	genID     IDGenerator

	indexPath   string
	mappingPath string
	dirty       bool
}

// Open loads the index snapshot and position map from disk and validates
// them against each other. Missing files mean a cold start with empty state.
// A position map entry pointing beyond the end of the index is corruption:
// the map claims a vector that does not exist.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = defaultIDGenerator
	}

	positions, err := LoadPositionMap(opts.MappingPath)
	if err != nil {
		return nil, err
	}

	indexSize := opts.Index.Size()
	if maxPos, ok := positions.MaxPosition(); ok && maxPos >= indexSize {
		if !opts.SkipValidation {
			return nil, fmt.Errorf("%w: position map references position %d but index holds %d vectors",
				ErrIndexCorruption, maxPos, indexSize)
		}
		opts.Logger.Warn("position map references positions beyond index end, opened for repair",
			zap.Uint64("max_position", maxPos),
			zap.Uint64("index_size", indexSize))
	}
	if indexSize > uint64(positions.Len()) {
		// Legitimate after reconciliation drops orphaned entries; those index
		// positions are permanently unmapped and skipped during retrieval.
		opts.Logger.Warn("index has unmapped positions",
			zap.Uint64("index_size", indexSize),
			zap.Int("mapped_positions", positions.Len()))
	}

	opts.Logger.Info("memory store opened",
		zap.Uint64("index_size", indexSize),
		zap.Int("mapped_positions", positions.Len()))

	return &Store{
		embedder:    opts.Embedder,
		index:       opts.Index,
		metadata:    opts.Metadata,
		positions:   positions,
		keyword:     opts.Keyword,
		logger:      opts.Logger,
		genID:       opts.IDGenerator,
		indexPath:   opts.IndexPath,
		mappingPath: opts.MappingPath,
	}, nil
}

// Store embeds text, appends the vector to the index, maps its position to a
// freshly allocated record id, and inserts the metadata row. The returned id
// identifies the memory from then on. The new state is held in memory until
// the next Flush.
func (s *Store) Store(ctx context.Context, category, text string, meta map[string]any) (int64, error) {
	if category == "" {
		return 0, errors.New("category must not be empty")
	}
	if text == "" {
		return 0, errors.New("text must not be empty")
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed text: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Allocate the id before touching the index so an exhausted allocation
	// leaves no partial state behind.
	recordID, err := s.allocateID(ctx)
	if err != nil {
		return 0, err
	}

	pos, err := s.index.Add(emb)
	if err != nil {
		return 0, fmt.Errorf("append vector: %w", err)
	}
	s.positions.Put(pos, recordID)

	merged := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		merged[k] = v
	}
	merged["category"] = category
	merged["text"] = text

	recordID, err = s.insertWithRetry(ctx, pos, storage.MemoryRecord{
		RecordID: recordID,
		Category: category,
		Text:     text,
		Metadata: merged,
	})
	s.dirty = true
	if err != nil {
		return 0, err
	}

	if s.keyword != nil {
		if kerr := s.keyword.IndexMemory(ctx, recordID, category, text); kerr != nil {
			s.logger.Warn("keyword indexing failed",
				zap.Int64("record_id", recordID), zap.Error(kerr))
		}
	}

	s.logger.Debug("memory stored",
		zap.Int64("record_id", recordID),
		zap.String("category", category),
		zap.Uint64("position", pos))
	return recordID, nil
}

// allocateID draws candidate ids until one is free in the metadata table.
func (s *Store) allocateID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < idAttempts; attempt++ {
		id := s.genID()
		taken, err := s.metadata.HasRecord(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("check record id %d: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: no free id after %d attempts", ErrIDAllocationExhausted, idAttempts)
}

// insertWithRetry inserts the metadata row, retrying busy errors with linear
// backoff and regenerating the id on a duplicate-key race. If all attempts
// fail, the indexed vector stays behind as an orphan: its position remains
// mapped but has no metadata row, so retrieval skips it and reconciliation
// cleans it up. Returns the id actually inserted.
func (s *Store) insertWithRetry(ctx context.Context, pos uint64, rec storage.MemoryRecord) (int64, error) {
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		err = s.metadata.InsertRecord(ctx, rec)
		if err == nil {
			return rec.RecordID, nil
		}
		switch {
		case errors.Is(err, storage.ErrDuplicateID):
			// Another writer claimed the id between the HasRecord check and
			// the insert. Allocate a new one and repair the map entry.
			newID, allocErr := s.allocateID(ctx)
			if allocErr != nil {
				err = allocErr
			} else {
				s.logger.Warn("record id collision, regenerated",
					zap.Int64("old_id", rec.RecordID), zap.Int64("new_id", newID))
				rec.RecordID = newID
				s.positions.Put(pos, newID)
				continue
			}
		case errors.Is(err, storage.ErrBusy):
			s.logger.Warn("metadata insert busy, retrying",
				zap.Int64("record_id", rec.RecordID), zap.Int("attempt", attempt+1))
			select {
			case <-time.After(time.Duration(attempt+1) * insertBackoff):
				continue
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		break
	}

	s.logger.Error("metadata insert failed, position orphaned",
		zap.Uint64("position", pos),
		zap.Int64("record_id", rec.RecordID),
		zap.Error(err))
	return 0, fmt.Errorf("%w: record %d at position %d: %v",
		ErrMetadataWriteFailed, rec.RecordID, pos, err)
}

// Retrieve embeds the query, searches the index for the 2k nearest vectors,
// and resolves hits through the position map and metadata table. Hits whose
// position is unmapped or whose metadata row is missing are skipped, as are
// hits whose category does not match a non-empty filter. At most k results
// are returned, in index distance order.
func (s *Store) Retrieve(ctx context.Context, query, category string, k int) ([]Result, error) {
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	if k <= 0 {
		k = DefaultK
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.Search(emb, k*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make([]Result, 0, k)
	for _, hit := range hits {
		if len(results) >= k {
			break
		}
		recordID, ok := s.positions.Get(hit.Position)
		if !ok {
			s.logger.Debug("skipping unmapped position", zap.Uint64("position", hit.Position))
			continue
		}
		rec, err := s.metadata.GetRecord(ctx, recordID)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("skipping orphaned position",
				zap.Uint64("position", hit.Position), zap.Int64("record_id", recordID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load record %d: %w", recordID, err)
		}
		if category != "" && rec.Category != category {
			continue
		}
		results = append(results, Result{
			RecordID: rec.RecordID,
			Category: rec.Category,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Distance: hit.Distance,
		})
	}
	return results, nil
}

// Flush writes the index snapshot and position map to disk if anything
// changed since the last flush. Both writes are atomic; the dirty flag is
// cleared only after both succeed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.index.Save(s.indexPath); err != nil {
		return fmt.Errorf("%w: save index snapshot: %v", ErrSnapshotIO, err)
	}
	if err := s.positions.Save(s.mappingPath); err != nil {
		return err
	}
	s.dirty = false
	s.logger.Info("memory store flushed",
		zap.Uint64("index_size", s.index.Size()),
		zap.Int("mapped_positions", s.positions.Len()))
	return nil
}

// Dirty reports whether in-memory state has changed since the last flush.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Size returns the number of vectors in the index and mapped positions.
func (s *Store) Size() (indexSize uint64, mapped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size(), s.positions.Len()
}
