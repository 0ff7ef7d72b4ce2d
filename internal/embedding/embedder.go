// Package embedding provides text embedding providers and caching.
package embedding

import (
	"context"
	"errors"
)

// Provider failure classes. Unavailable covers transient transport problems
// (callers may retry); Malformed covers responses that cannot be parsed into
// a vector of the configured dimension (a provider or configuration bug).
var (
	ErrUnavailable = errors.New("embedding: provider unavailable")
	ErrMalformed   = errors.New("embedding: malformed response")
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
