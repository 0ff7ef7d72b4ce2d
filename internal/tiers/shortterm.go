// Package tiers implements the volatile memory tiers: short-term conversation
// summaries with a TTL and task-scoped working memory. Both live in process
// memory and are lost on restart, unlike the vector-indexed long-term store.
package tiers

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/hyperjump/omoide/internal/models"
)

// ShortTerm holds recent conversation round summaries per conversation,
// expiring whole conversations after the configured TTL.
type ShortTerm struct {
	mu    sync.Mutex
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewShortTerm creates a short-term tier holding up to maxConversations
// conversations, each expiring ttl after its last write.
func NewShortTerm(maxConversations int64, ttl time.Duration) (*ShortTerm, error) {
	if maxConversations <= 0 {
		maxConversations = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxConversations * 10,
		MaxCost:     maxConversations,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create short-term cache: %w", err)
	}
	return &ShortTerm{cache: cache, ttl: ttl}, nil
}

// StoreSummary appends a round summary to the conversation. A summary with a
// round id already present replaces the earlier one, so re-summarized rounds
// do not duplicate.
func (s *ShortTerm) StoreSummary(conversationID string, summary models.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := s.summariesLocked(conversationID)
	replaced := false
	for i, existing := range summaries {
		if existing.RoundID == summary.RoundID {
			summaries[i] = summary
			replaced = true
			break
		}
	}
	if !replaced {
		summaries = append(summaries, summary)
	}
	s.cache.SetWithTTL(conversationID, summaries, 1, s.ttl)
	s.cache.Wait()
}

// Summaries returns the most recent lastK summaries for the conversation, in
// chronological order. lastK <= 0 returns all of them.
func (s *ShortTerm) Summaries(conversationID string, lastK int) []models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := s.summariesLocked(conversationID)
	if lastK > 0 && len(summaries) > lastK {
		summaries = summaries[len(summaries)-lastK:]
	}
	out := make([]models.Summary, len(summaries))
	copy(out, summaries)
	return out
}

// Clear removes all summaries for the conversation.
func (s *ShortTerm) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Del(conversationID)
	s.cache.Wait()
}

func (s *ShortTerm) summariesLocked(conversationID string) []models.Summary {
	if v, ok := s.cache.Get(conversationID); ok {
		return v.([]models.Summary)
	}
	return nil
}

// Close releases the cache.
func (s *ShortTerm) Close() {
	s.cache.Close()
}
