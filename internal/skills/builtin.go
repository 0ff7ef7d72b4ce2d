package skills

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NewDefaultRegistry returns a registry with the built-in handlers registered.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.RegisterHandler("calculate_budget", calculateBudget)
	r.RegisterHandler("analyze_sentiment", analyzeSentiment)
	return r
}

// calculateBudget splits a total across categories by weight.
func calculateBudget(_ context.Context, params map[string]any) (any, error) {
	total, _ := params["total"].(float64)
	weights, _ := params["weights"].(map[string]any)

	var weightSum float64
	for _, w := range weights {
		if f, ok := w.(float64); ok {
			weightSum += f
		}
	}
	allocations := make(map[string]float64, len(weights))
	if weightSum > 0 {
		for name, w := range weights {
			if f, ok := w.(float64); ok {
				allocations[name] = total * f / weightSum
			}
		}
	}
	return map[string]any{"total": total, "allocations": allocations}, nil
}

var (
	positiveWords = []string{"good", "great", "excellent", "happy", "love", "like", "thanks"}
	negativeWords = []string{"bad", "terrible", "awful", "sad", "hate", "dislike", "angry"}
)

// analyzeSentiment is a lexicon counter over the input text.
func analyzeSentiment(_ context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	lower := strings.ToLower(text)

	var pos, neg int
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}

	label := "neutral"
	switch {
	case pos > neg:
		label = "positive"
	case neg > pos:
		label = "negative"
	}
	return map[string]any{"label": label, "positive": pos, "negative": neg}, nil
}

// DefaultManifestYAML is a starter manifest exposing the built-in handlers.
const DefaultManifestYAML = `skills:
  - name: calculate_budget
    description: Split a total amount across weighted categories.
    handler: calculate_budget
    params_schema:
      type: object
      required: [total, weights]
      properties:
        total:
          type: number
          minimum: 0
        weights:
          type: object
          additionalProperties:
            type: number
  - name: analyze_sentiment
    description: Classify text sentiment with a word lexicon.
    handler: analyze_sentiment
    params_schema:
      type: object
      required: [text]
      properties:
        text:
          type: string
          minLength: 1
`
