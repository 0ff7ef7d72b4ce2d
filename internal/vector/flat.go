package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// snapshot header magic, bumped if the layout ever changes.
const flatSnapshotMagic uint32 = 0x4F4D4F49 // "OMOI"

// FlatIndex is an exact brute-force index over float32 vectors. Search scans
// every stored vector and computes squared L2 distance; no approximation, no
// deletions. Snapshots are gzip-compressed little-endian binary files written
// atomically (temp file + rename).
type FlatIndex struct {
	mu         sync.RWMutex
	dimensions int
	vectors    []float32 // flat layout: vector i occupies [i*dim, (i+1)*dim)
	count      uint64
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// LoadFlatIndex reads a snapshot from path. A missing file is not an error:
// it returns an empty index of the given dimension (cold start).
func LoadFlatIndex(path string, dimensions int) (*FlatIndex, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewFlatIndex(dimensions)
	}
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot %s: %w", path, err)
	}
	defer gz.Close()

	var magic, dim uint32
	var count uint64
	if err := binary.Read(gz, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read index snapshot header: %w", err)
	}
	if magic != flatSnapshotMagic {
		return nil, fmt.Errorf("index snapshot %s: bad magic %#x", path, magic)
	}
	if err := binary.Read(gz, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read index snapshot header: %w", err)
	}
	if err := binary.Read(gz, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read index snapshot header: %w", err)
	}
	if int(dim) != dimensions {
		return nil, fmt.Errorf("index snapshot %s has dimension %d, expected %d: %w",
			path, dim, dimensions, ErrDimensionMismatch)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index snapshot: %w", err)
	}
	// Deflate tops out near 1032:1, so a count claiming more vector data than
	// the compressed file could possibly hold is a corrupt header. Checked
	// before allocating count*dim floats.
	const maxDeflateRatio = 1032
	maxVectors := uint64(info.Size()) * maxDeflateRatio / (uint64(dim) * 4)
	if count > maxVectors {
		return nil, fmt.Errorf("index snapshot %s: header claims %d vectors but the file holds at most %d",
			path, count, maxVectors)
	}

	vectors := make([]float32, count*uint64(dim))
	buf := make([]byte, 4)
	for i := range vectors {
		if _, err := io.ReadFull(gz, buf); err != nil {
			return nil, fmt.Errorf("read index snapshot data: %w", err)
		}
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	}

	return &FlatIndex{
		dimensions: dimensions,
		vectors:    vectors,
		count:      count,
	}, nil
}

// Add appends vec and returns its ordinal position.
func (idx *FlatIndex) Add(vec []float32) (uint64, error) {
	if len(vec) != idx.dimensions {
		return 0, fmt.Errorf("add vector of dimension %d to index of dimension %d: %w",
			len(vec), idx.dimensions, ErrDimensionMismatch)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	pos := idx.count
	idx.vectors = append(idx.vectors, vec...)
	idx.count++
	return pos, nil
}

// Search scans all vectors and returns up to k hits by ascending squared L2 distance.
func (idx *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dimensions {
		return nil, fmt.Errorf("search with query of dimension %d in index of dimension %d: %w",
			len(query), idx.dimensions, ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]Hit, 0, idx.count)
	dim := idx.dimensions
	for i := uint64(0); i < idx.count; i++ {
		row := idx.vectors[i*uint64(dim) : (i+1)*uint64(dim)]
		var dist float32
		for j, q := range query {
			d := q - row[j]
			dist += d * d
		}
		hits = append(hits, Hit{Position: i, Distance: dist})
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Position < hits[b].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Size returns the number of vectors stored.
func (idx *FlatIndex) Size() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.count
}

// Dimensions returns the vector dimension.
func (idx *FlatIndex) Dimensions() int {
	return idx.dimensions
}

// Truncate drops all vectors at or beyond position n. Used by offline
// reconciliation; the live store never removes vectors.
func (idx *FlatIndex) Truncate(n uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n >= idx.count {
		return
	}
	idx.vectors = idx.vectors[:n*uint64(idx.dimensions)]
	idx.count = n
}

// Save writes a gzip-compressed snapshot to path atomically.
func (idx *FlatIndex) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	err = writeSnapshot(gz, idx.dimensions, idx.count, idx.vectors)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename index snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(w io.Writer, dim int, count uint64, vectors []float32) error {
	if err := binary.Write(w, binary.LittleEndian, flatSnapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, count); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
