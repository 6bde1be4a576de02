package mnemo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mnemo-ai/mnemo/pkg/store"
)

// consolidationCandidate pairs a memory with its embedding for grouping.
type consolidationCandidate struct {
	memory    *store.Memory
	embedding []float32
}

// unionFind is a basic disjoint-set over candidate indexes.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// runConsolidation merges groups of highly similar memories into single
// consolidated memories. Groups are connected components of the pairwise
// similarity graph at the configured threshold; oversized components are
// trimmed to their most coherent members. At most MaxConsolidations groups
// are applied per run, most coherent first. A summarizer failure aborts
// only its own group.
func (e *Engine) runConsolidation(ctx context.Context, userID string, now time.Time) (int, error) {
	candidates, err := e.consolidationCandidates(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(candidates) < 2 {
		return 0, nil
	}

	groups := buildGroups(candidates, e.cfg.ConsolidationSimilarity, e.cfg.MaxGroupSize)
	if len(groups) > e.cfg.MaxConsolidations {
		groups = groups[:e.cfg.MaxConsolidations]
	}

	applied := 0
	for _, group := range groups {
		if err := e.consolidateGroup(ctx, userID, group, now); err != nil {
			e.logger().Warn("consolidation group skipped",
				"user_id", userID,
				"group_size", len(group.members),
				"error", err)
			continue
		}
		applied++
	}

	return applied, nil
}

func (e *Engine) consolidationCandidates(ctx context.Context, userID string) ([]consolidationCandidate, error) {
	memories, err := e.store.Query(ctx, userID, store.QueryFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to query consolidation candidates: %w", err)
	}

	var candidates []consolidationCandidate
	for _, m := range memories {
		if m.IsConsolidated || m.EmbeddingStatus != store.EmbeddingReady || len(m.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, consolidationCandidate{memory: m, embedding: m.Embedding})
	}
	return candidates, nil
}

// group is one candidate merge with its coherence score.
type group struct {
	members       []consolidationCandidate
	avgSimilarity float64
}

// buildGroups clusters candidates into connected components at the
// similarity threshold, trims oversized components, and returns groups of
// two or more ordered by average intra-group similarity, highest first.
func buildGroups(candidates []consolidationCandidate, minSimilarity float64, maxGroupSize int) []group {
	n := len(candidates)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}

	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := store.CosineSimilarity(candidates[i].embedding, candidates[j].embedding)
			sims[i][j] = sim
			sims[j][i] = sim
			if sim >= minSimilarity {
				uf.union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	var groups []group
	for _, idxs := range components {
		if len(idxs) < 2 {
			continue
		}
		idxs = trimComponent(idxs, sims, maxGroupSize)

		members := make([]consolidationCandidate, len(idxs))
		for i, idx := range idxs {
			members[i] = candidates[idx]
		}
		groups = append(groups, group{
			members:       members,
			avgSimilarity: avgPairwise(idxs, sims),
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].avgSimilarity != groups[j].avgSimilarity {
			return groups[i].avgSimilarity > groups[j].avgSimilarity
		}
		// Deterministic order for equal coherence.
		return groups[i].members[0].memory.ID < groups[j].members[0].memory.ID
	})

	return groups
}

// trimComponent reduces an oversized component by repeatedly dropping the
// member with the lowest average similarity to the rest.
func trimComponent(idxs []int, sims [][]float64, maxGroupSize int) []int {
	for len(idxs) > maxGroupSize {
		worst := 0
		worstAvg := 2.0
		for i, a := range idxs {
			var sum float64
			for _, b := range idxs {
				if a != b {
					sum += sims[a][b]
				}
			}
			avg := sum / float64(len(idxs)-1)
			if avg < worstAvg {
				worstAvg = avg
				worst = i
			}
		}
		idxs = append(idxs[:worst], idxs[worst+1:]...)
	}
	return idxs
}

func avgPairwise(idxs []int, sims [][]float64) float64 {
	if len(idxs) < 2 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i < len(idxs); i++ {
		for j := i + 1; j < len(idxs); j++ {
			sum += sims[idxs[i]][idxs[j]]
			count++
		}
	}
	return sum / float64(count)
}

// consolidateGroup summarizes one group, persists the merge atomically,
// and refreshes the vector index.
func (e *Engine) consolidateGroup(ctx context.Context, userID string, g group, now time.Time) error {
	texts := make([]string, len(g.members))
	sourceIDs := make([]string, len(g.members))
	for i, c := range g.members {
		texts[i] = c.memory.Content
		sourceIDs[i] = c.memory.ID
	}

	summaryCtx, cancel := context.WithTimeout(ctx, e.cfg.SummarizeTimeout)
	defer cancel()
	summary, err := e.summarizer.Summarize(summaryCtx, texts, sharedCategory(g.members))
	if err != nil {
		return &DependencyError{Dependency: "summarizer", Err: err}
	}

	consolidated := buildConsolidatedMemory(userID, summary, g.members, now)

	// Embed the summary up front so the merged memory is searchable
	// immediately. A failure leaves it pending for the next retry sweep.
	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	if embedding, err := e.embedder.EmbedOne(embedCtx, summary); err == nil {
		consolidated.Embedding = embedding
		consolidated.EmbeddingStatus = store.EmbeddingReady
	} else {
		consolidated.EmbeddingStatus = store.EmbeddingPending
		e.logger().Warn("failed to embed consolidated memory, left pending",
			"user_id", userID, "error", err)
	}

	centroid := centroidOf(g.members)
	strengths := make(map[string]float64, len(g.members))
	for _, c := range g.members {
		strengths[c.memory.ID] = store.CosineSimilarity(c.embedding, centroid)
	}

	e.markConsolidating(userID, sourceIDs)
	defer e.unmarkConsolidating(userID, sourceIDs)

	err = e.store.ApplyConsolidation(ctx, userID, store.ConsolidationGroup{
		Consolidated: consolidated,
		SourceIDs:    sourceIDs,
		Strengths:    strengths,
		Similarity:   g.avgSimilarity,
	})
	if err != nil {
		return fmt.Errorf("failed to apply consolidation: %w", err)
	}

	idx := e.indexFor(userID)
	for _, id := range sourceIDs {
		idx.Remove(ctx, id)
	}
	if consolidated.EmbeddingStatus == store.EmbeddingReady {
		idx.Upsert(ctx, consolidated.ID, consolidated.Embedding, consolidated.CreatedAt.UnixNano())
	}

	e.logger().Info("memories consolidated",
		"user_id", userID,
		"consolidated_id", consolidated.ID,
		"sources", len(sourceIDs),
		"similarity", g.avgSimilarity)

	return nil
}

// buildConsolidatedMemory derives the merged memory's attributes from its
// sources: highest importance, average confidence nudged up, union of tags.
func buildConsolidatedMemory(userID, summary string, members []consolidationCandidate, now time.Time) *store.Memory {
	importance := 0
	var confidenceSum float64
	tagSet := make(map[string]bool)
	for _, c := range members {
		if c.memory.Importance > importance {
			importance = c.memory.Importance
		}
		confidenceSum += c.memory.Confidence
		for _, t := range c.memory.Tags {
			tagSet[t] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	return &store.Memory{
		UserID:         userID,
		Content:        summary,
		Category:       sharedCategory(members),
		Importance:     importance,
		Confidence:     store.ClampConfidence(confidenceSum/float64(len(members)) + 0.1),
		Tags:           tags,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsConsolidated: true,
	}
}

// sharedCategory returns the members' category when they all agree,
// otherwise "general".
func sharedCategory(members []consolidationCandidate) string {
	category := members[0].memory.Category
	for _, c := range members[1:] {
		if c.memory.Category != category {
			return "general"
		}
	}
	return category
}

// centroidOf averages the members' embeddings elementwise.
func centroidOf(members []consolidationCandidate) []float32 {
	dims := len(members[0].embedding)
	centroid := make([]float32, dims)
	for _, c := range members {
		if len(c.embedding) != dims {
			continue
		}
		for i, v := range c.embedding {
			centroid[i] += v
		}
	}
	for i := range centroid {
		centroid[i] /= float32(len(members))
	}
	return centroid
}
