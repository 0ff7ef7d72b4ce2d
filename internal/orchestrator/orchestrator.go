// Package orchestrator routes memory operations to the right tier based on
// the request's memory type: volatile short-term and working memory, the
// vector-indexed long-term store, preferences, knowledge relations, keyword
// recall and procedural skills.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/keyword"
	"github.com/hyperjump/omoide/internal/memstore"
	"github.com/hyperjump/omoide/internal/models"
	"github.com/hyperjump/omoide/internal/skills"
	"github.com/hyperjump/omoide/internal/storage"
	"github.com/hyperjump/omoide/internal/tiers"
)

var (
	// ErrUnknownMemoryType means the request named a memory type no tier handles.
	ErrUnknownMemoryType = errors.New("unknown memory type")
	// ErrMissingParam means a required request parameter is absent or has the wrong type.
	ErrMissingParam = errors.New("missing parameter")
)

// vectorCategories maps request memory types to the category stored in the
// long-term store. semantic_fact is an accepted alias for semantic.
var vectorCategories = map[string]string{
	"episodic":      "episodic",
	"semantic":      "semantic",
	"semantic_fact": "semantic",
	"ltm_doc":       "ltm_doc",
}

// Orchestrator owns the memory tiers and dispatches operations to them.
type Orchestrator struct {
	longTerm  *memstore.Store
	shortTerm *tiers.ShortTerm
	working   *tiers.Working
	store     *storage.SQLiteStore
	skills    *skills.Registry
	keyword   keyword.Index
	defaultK  int
	logger    *zap.Logger
}

// New assembles an orchestrator. kw may be nil when keyword recall is
// disabled; defaultK is the result count for retrieve requests that omit k,
// falling back to memstore.DefaultK when unset.
func New(
	longTerm *memstore.Store,
	shortTerm *tiers.ShortTerm,
	working *tiers.Working,
	store *storage.SQLiteStore,
	skillRegistry *skills.Registry,
	kw keyword.Index,
	defaultK int,
	logger *zap.Logger,
) *Orchestrator {
	if defaultK <= 0 {
		defaultK = memstore.DefaultK
	}
	return &Orchestrator{
		longTerm:  longTerm,
		shortTerm: shortTerm,
		working:   working,
		store:     store,
		skills:    skillRegistry,
		keyword:   kw,
		defaultK:  defaultK,
		logger:    logger,
	}
}

// Store routes a store request to its tier and returns tier-specific result data.
func (o *Orchestrator) Store(ctx context.Context, req models.StoreRequest) (any, error) {
	params := req.Params
	if category, ok := vectorCategories[req.MemoryType]; ok {
		text, err := stringParam(params, "text")
		if err != nil {
			return nil, err
		}
		meta, _ := params["metadata"].(map[string]any)
		id, err := o.longTerm.Store(ctx, category, text, meta)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record_id": id}, nil
	}

	switch req.MemoryType {
	case "stm":
		conversationID, err := stringParam(params, "conversation_id")
		if err != nil {
			return nil, err
		}
		summary, err := summaryParam(params)
		if err != nil {
			return nil, err
		}
		o.shortTerm.StoreSummary(conversationID, summary)
		return map[string]any{"conversation_id": conversationID, "round_id": summary.RoundID}, nil

	case "wm":
		taskID, err := stringParam(params, "task_id")
		if err != nil {
			return nil, err
		}
		key, err := stringParam(params, "key")
		if err != nil {
			return nil, err
		}
		o.working.Set(taskID, key, params["value"])
		return map[string]any{"task_id": taskID, "key": key}, nil

	case "ltm_preference":
		key, err := stringParam(params, "key")
		if err != nil {
			return nil, err
		}
		value, err := stringParam(params, "value")
		if err != nil {
			return nil, err
		}
		if err := o.store.SetPreference(ctx, key, value); err != nil {
			return nil, err
		}
		return map[string]any{"key": key}, nil

	case "kg_relation":
		subject, err := stringParam(params, "subject")
		if err != nil {
			return nil, err
		}
		relation, err := stringParam(params, "relation")
		if err != nil {
			return nil, err
		}
		target, err := stringParam(params, "target")
		if err != nil {
			return nil, err
		}
		if err := o.store.AddRelation(ctx, subject, relation, target); err != nil {
			return nil, err
		}
		return map[string]any{"subject": subject, "relation": relation, "target": target}, nil

	case "procedural_skill":
		// Skills are compiled in and listed in the manifest; there is no
		// runtime code storage.
		return nil, skills.ErrSkillsImmutable

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMemoryType, req.MemoryType)
	}
}

// Retrieve routes a retrieve request to its tier.
func (o *Orchestrator) Retrieve(ctx context.Context, req models.RetrieveRequest) (any, error) {
	params := req.Params
	if category, ok := vectorCategories[req.MemoryType]; ok {
		query, err := stringParam(params, "query")
		if err != nil {
			return nil, err
		}
		k := intParam(params, "k", o.defaultK)
		results, err := o.longTerm.Retrieve(ctx, query, category, k)
		if err != nil {
			return nil, err
		}
		return results, nil
	}

	switch req.MemoryType {
	case "stm":
		conversationID, err := stringParam(params, "conversation_id")
		if err != nil {
			return nil, err
		}
		lastK := intParam(params, "last_k", 0)
		return o.shortTerm.Summaries(conversationID, lastK), nil

	case "wm":
		taskID, err := stringParam(params, "task_id")
		if err != nil {
			return nil, err
		}
		if key, err := stringParam(params, "key"); err == nil {
			value, ok := o.working.Get(taskID, key)
			if !ok {
				return nil, fmt.Errorf("working memory key %q: %w", key, storage.ErrNotFound)
			}
			return map[string]any{key: value}, nil
		}
		return o.working.Snapshot(taskID), nil

	case "ltm_preference":
		if key, err := stringParam(params, "key"); err == nil {
			value, err := o.store.GetPreference(ctx, key)
			if err != nil {
				return nil, err
			}
			return map[string]any{"key": key, "value": value}, nil
		}
		return o.store.ListPreferences(ctx)

	case "kg_relation":
		subject, err := stringParam(params, "subject")
		if err != nil {
			return nil, err
		}
		triples, err := o.store.QueryRelations(ctx, subject)
		if err != nil {
			return nil, err
		}
		relations := make([]models.Relation, len(triples))
		for i, t := range triples {
			relations[i] = models.Relation{Subject: t[0], Relation: t[1], Target: t[2]}
		}
		return relations, nil

	case "procedural_skill":
		name, err := stringParam(params, "name")
		if err != nil {
			return nil, err
		}
		skillParams, _ := params["params"].(map[string]any)
		return o.skills.Invoke(ctx, name, skillParams)

	case "keyword":
		if o.keyword == nil {
			return nil, errors.New("keyword recall is disabled")
		}
		query, err := stringParam(params, "query")
		if err != nil {
			return nil, err
		}
		category, _ := params["category"].(string)
		k := intParam(params, "k", o.defaultK)
		hits, err := o.keyword.Search(ctx, query, category, k)
		if err != nil {
			return nil, err
		}
		return o.hydrateKeywordHits(ctx, hits), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMemoryType, req.MemoryType)
	}
}

// hydrateKeywordHits resolves keyword hits to full records, dropping hits
// whose row has vanished.
func (o *Orchestrator) hydrateKeywordHits(ctx context.Context, hits []keyword.Result) []models.MemoryResult {
	out := make([]models.MemoryResult, 0, len(hits))
	for _, hit := range hits {
		rec, err := o.store.GetRecord(ctx, hit.RecordID)
		if err != nil {
			o.logger.Debug("keyword hit has no metadata row",
				zap.Int64("record_id", hit.RecordID), zap.Error(err))
			continue
		}
		out = append(out, models.MemoryResult{Metadata: rec.Metadata, Score: hit.Score})
	}
	return out
}

// Clear routes a clear request to its tier. Only the volatile tiers support
// clearing; long-term memory is append-only.
func (o *Orchestrator) Clear(ctx context.Context, req models.ClearRequest) error {
	params := req.Params
	switch req.MemoryType {
	case "stm":
		conversationID, err := stringParam(params, "conversation_id")
		if err != nil {
			return err
		}
		o.shortTerm.Clear(conversationID)
		return nil
	case "wm":
		taskID, err := stringParam(params, "task_id")
		if err != nil {
			return err
		}
		o.working.Clear(taskID)
		return nil
	default:
		return fmt.Errorf("%w: %q does not support clear", ErrUnknownMemoryType, req.MemoryType)
	}
}

// LongTerm exposes the vector store for flush scheduling and status reporting.
func (o *Orchestrator) LongTerm() *memstore.Store {
	return o.longTerm
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %q is required", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrMissingParam, key)
	}
	return s, nil
}

// intParam reads an integer parameter; JSON numbers decode as float64.
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func summaryParam(params map[string]any) (models.Summary, error) {
	var s models.Summary
	s.RoundID = intParam(params, "round_id", 0)
	if s.RoundID == 0 {
		return s, fmt.Errorf("%w: %q is required", ErrMissingParam, "round_id")
	}
	s.UserRequest, _ = params["user_request"].(string)
	s.FinalAnswer, _ = params["final_answer"].(string)
	s.Timestamp, _ = params["timestamp"].(float64)
	s.ConversationLength = intParam(params, "conversation_length", 0)
	if used, ok := params["memories_used"].([]any); ok {
		for _, m := range used {
			if str, ok := m.(string); ok {
				s.MemoriesUsed = append(s.MemoriesUsed, str)
			}
		}
	}
	return s, nil
}
