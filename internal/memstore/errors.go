package memstore

import "errors"

// Error taxonomy for the vector memory store. Callers select handling with
// errors.Is; wrapped causes carry the detail.
var (
	// ErrIDAllocationExhausted means a unique record id could not be found
	// after the bounded number of attempts. Nothing was written.
	ErrIDAllocationExhausted = errors.New("record id allocation exhausted")

	// ErrMetadataWriteFailed means the vector was appended to the index but
	// its metadata row could not be inserted. The position stays mapped and
	// is skipped during retrieval until reconciliation.
	ErrMetadataWriteFailed = errors.New("metadata write failed")

	// ErrSnapshotIO means the index snapshot or position map could not be
	// read or written.
	ErrSnapshotIO = errors.New("snapshot i/o failed")

	// ErrIndexCorruption means the persisted index, position map and
	// metadata table disagree in a way the store cannot operate with.
	ErrIndexCorruption = errors.New("index corruption detected")
)
