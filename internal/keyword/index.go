// Package keyword provides optional full-text recall over stored memories,
// complementing vector similarity for exact-term lookups.
package keyword

import "context"

// Result is a keyword search hit.
type Result struct {
	RecordID int64   `json:"record_id"`
	Score    float64 `json:"score"`
}

// Index is a full-text index over memory text.
type Index interface {
	// IndexMemory adds or replaces the document for recordID.
	IndexMemory(ctx context.Context, recordID int64, category, text string) error
	// Search returns up to k hits ranked by relevance, optionally filtered
	// by category.
	Search(ctx context.Context, query, category string, k int) ([]Result, error)
	// Delete removes the document for recordID.
	Delete(ctx context.Context, recordID int64) error
	// Close releases the index.
	Close() error
}
