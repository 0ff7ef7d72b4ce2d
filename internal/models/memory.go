// Package models defines the wire types of the memory API.
package models

// StoreRequest asks the orchestrator to store one memory of the given type.
// Params carries the type-specific fields (e.g. text/metadata for vector
// memories, conversation_id/round_id for short-term summaries).
type StoreRequest struct {
	MemoryType string         `json:"memory_type"`
	Params     map[string]any `json:"params"`
}

// RetrieveRequest asks the orchestrator to retrieve memories of the given type.
type RetrieveRequest struct {
	MemoryType string         `json:"memory_type"`
	Params     map[string]any `json:"params"`
}

// ClearRequest asks the orchestrator to clear a short-term or working memory entry.
type ClearRequest struct {
	MemoryType string         `json:"memory_type"`
	Params     map[string]any `json:"params"`
}

// MemoryResult is a single vector retrieval hit. Score is the raw index
// distance (lower = more similar); it is not normalized and callers needing a
// similarity must convert.
type MemoryResult struct {
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// APIResponse is the common response envelope of the HTTP API.
type APIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary is one round of a conversation kept in short-term memory.
type Summary struct {
	RoundID            int      `json:"round_id"`
	UserRequest        string   `json:"user_request"`
	FinalAnswer        string   `json:"final_answer"`
	MemoriesUsed       []string `json:"memories_used,omitempty"`
	Timestamp          float64  `json:"timestamp"`
	ConversationLength int      `json:"conversation_length"`
}

// Relation is a subject-relation-object triple from the relation store.
type Relation struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}
