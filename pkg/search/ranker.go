// Package search ranks candidate memories for retrieval.
//
// A candidate's score blends four signals: semantic similarity to the
// query, stored importance, stored confidence, and recency. Recency uses
// exponential half-life decay on the memory's age, so a memory loses half
// its recency contribution every HalfLife.
package search

import (
	"math"
	"sort"
	"time"

	"github.com/mnemo-ai/mnemo/pkg/store"
)

// Weights controls the contribution of each ranking signal. The four
// weights must be non-negative and sum to 1.
type Weights struct {
	Similarity float64
	Importance float64
	Confidence float64
	Recency    float64
}

// DefaultWeights matches the retrieval blend used across the engine.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.5,
		Importance: 0.2,
		Confidence: 0.15,
		Recency:    0.15,
	}
}

// Valid reports whether the weights are non-negative and sum to 1.
func (w Weights) Valid() bool {
	if w.Similarity < 0 || w.Importance < 0 || w.Confidence < 0 || w.Recency < 0 {
		return false
	}
	sum := w.Similarity + w.Importance + w.Confidence + w.Recency
	return math.Abs(sum-1.0) < 1e-9
}

// Candidate pairs a memory with its semantic similarity to the query.
type Candidate struct {
	Memory     *store.Memory
	Similarity float64
}

// Result is a ranked retrieval result.
type Result struct {
	Memory     *store.Memory
	Similarity float64
	Score      float64
}

// Ranker orders retrieval candidates by blended score.
type Ranker struct {
	weights  Weights
	halfLife time.Duration
	minScore float64
}

// DefaultHalfLife is the recency half-life applied when none is configured.
const DefaultHalfLife = 30 * 24 * time.Hour

// NewRanker creates a ranker. halfLife <= 0 defaults to DefaultHalfLife and
// minScore filters results whose blended score falls below it.
func NewRanker(weights Weights, halfLife time.Duration, minScore float64) *Ranker {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Ranker{
		weights:  weights,
		halfLife: halfLife,
		minScore: minScore,
	}
}

// Score computes the blended score for one candidate at the given time.
func (r *Ranker) Score(c Candidate, now time.Time) float64 {
	m := c.Memory
	importance := float64(store.ClampImportance(m.Importance)) / 5.0
	confidence := store.ClampConfidence(m.Confidence)
	recency := recencyFactor(now.Sub(m.CreatedAt), r.halfLife)

	return r.weights.Similarity*c.Similarity +
		r.weights.Importance*importance +
		r.weights.Confidence*confidence +
		r.weights.Recency*recency
}

// Rank scores all candidates and returns up to limit results at or above
// the minimum score, best first. Score ties rank the more recalled memory
// first, then the smaller ID, so ordering is deterministic.
func (r *Ranker) Rank(candidates []Candidate, now time.Time, limit int) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score := r.Score(c, now)
		if score < r.minScore {
			continue
		}
		results = append(results, Result{
			Memory:     c.Memory,
			Similarity: c.Similarity,
			Score:      score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Memory.RecallCount != results[j].Memory.RecallCount {
			return results[i].Memory.RecallCount > results[j].Memory.RecallCount
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// recencyFactor returns 0.5^(age/halfLife), clamped to [0, 1]. A future
// CreatedAt counts as age zero.
func recencyFactor(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}
