// Package search provides semantic search over questions using an external
// vector index with transparent fallback to text search in Postgres.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soudan-ai/soudan/internal/model"
)

// Result holds a question ID and its raw similarity score from the search index.
// The caller hydrates full question data from Postgres (source of truth).
type Result struct {
	QuestionID uuid.UUID
	Score      float32
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns question IDs matching the query vector, optionally
	// restricted to a tag. Returns IDs + raw similarity scores; the caller
	// hydrates from Postgres.
	Search(ctx context.Context, embedding []float32, tag string, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error describing the problem.
	Healthy(ctx context.Context) error
}

// ReScore adjusts raw similarity scores with answer-count and recency
// weighting, sorts descending by adjusted score, and truncates to limit.
//
// Formula: relevance = similarity * (0.7 + 0.3 * min(answers, 5)/5) * (1.0 / (1.0 + age_days / 90.0))
func ReScore(results []Result, questions map[uuid.UUID]model.QuestionSearchResult, limit int) []model.QuestionSearchResult {
	now := time.Now()
	scored := make([]model.QuestionSearchResult, 0, len(results))

	for _, r := range results {
		q, ok := questions[r.QuestionID]
		if !ok {
			// Question was deleted between index search and Postgres hydration.
			continue
		}

		ageDays := math.Max(0, now.Sub(q.CreatedAt).Hours()/24.0)
		answerBonus := 0.7 + 0.3*math.Min(float64(q.AnswerCount), 5.0)/5.0
		recencyDecay := 1.0 / (1.0 + ageDays/90.0)
		relevance := float64(r.Score) * answerBonus * recencyDecay

		q.Score = float32(math.Min(relevance, 1.0))
		scored = append(scored, q)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
