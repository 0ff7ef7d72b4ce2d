package memstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// PositionMap maps index positions to record ids. The on-disk form is a JSON
// object with string keys ({"0": 1724400000123456, ...}) so the file stays
// readable and diffable.
type PositionMap struct {
	entries map[uint64]int64
}

// NewPositionMap returns an empty map.
func NewPositionMap() *PositionMap {
	return &PositionMap{entries: make(map[uint64]int64)}
}

// LoadPositionMap reads the map from path. A missing file is a cold start and
// returns an empty map.
func LoadPositionMap(path string) (*PositionMap, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewPositionMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read position map: %v", ErrSnapshotIO, err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: position map %s is not valid JSON: %v", ErrIndexCorruption, path, err)
	}

	m := NewPositionMap()
	for k, id := range raw {
		pos, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: position map %s has non-numeric key %q", ErrIndexCorruption, path, k)
		}
		m.entries[pos] = id
	}
	return m, nil
}

// Save writes the map to path atomically (temp file + rename).
func (m *PositionMap) Save(path string) error {
	raw := make(map[string]int64, len(m.entries))
	for pos, id := range m.entries {
		raw[strconv.FormatUint(pos, 10)] = id
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal position map: %v", ErrSnapshotIO, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create position map directory: %v", ErrSnapshotIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".mapping-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp position map: %v", ErrSnapshotIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write position map: %v", ErrSnapshotIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename position map: %v", ErrSnapshotIO, err)
	}
	return nil
}

// Get returns the record id at pos.
func (m *PositionMap) Get(pos uint64) (int64, bool) {
	id, ok := m.entries[pos]
	return id, ok
}

// Put maps pos to recordID, overwriting any existing entry.
func (m *PositionMap) Put(pos uint64, recordID int64) {
	m.entries[pos] = recordID
}

// Delete removes the entry at pos.
func (m *PositionMap) Delete(pos uint64) {
	delete(m.entries, pos)
}

// Len returns the number of entries.
func (m *PositionMap) Len() int {
	return len(m.entries)
}

// MaxPosition returns the largest mapped position and whether the map is non-empty.
func (m *PositionMap) MaxPosition() (uint64, bool) {
	if len(m.entries) == 0 {
		return 0, false
	}
	var max uint64
	for pos := range m.entries {
		if pos > max {
			max = pos
		}
	}
	return max, true
}

// Entries returns a copy of the underlying map.
func (m *PositionMap) Entries() map[uint64]int64 {
	out := make(map[uint64]int64, len(m.entries))
	for pos, id := range m.entries {
		out[pos] = id
	}
	return out
}
