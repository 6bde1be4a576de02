package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreate_DefaultsAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{
		UserID:    "alice",
		Content:   "prefers dark roast coffee",
		Tags:      []string{"Coffee", "coffee", " preferences "},
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if m.ID == "" {
		t.Fatal("Expected ID to be assigned")
	}

	got, err := s.Get(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != m.Content {
		t.Errorf("Expected content %q, got %q", m.Content, got.Content)
	}
	if got.Category != "general" {
		t.Errorf("Expected default category 'general', got %q", got.Category)
	}
	if got.EmbeddingStatus != EmbeddingReady {
		t.Errorf("Expected ready status, got %q", got.EmbeddingStatus)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("Expected embedding of 3 dims, got %d", len(got.Embedding))
	}
	// Tags are lowercased, trimmed, deduplicated and sorted.
	if len(got.Tags) != 2 || got.Tags[0] != "coffee" || got.Tags[1] != "preferences" {
		t.Errorf("Expected normalized tags [coffee preferences], got %v", got.Tags)
	}
}

func TestCreate_PendingWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "no vector yet"}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EmbeddingStatus != EmbeddingPending {
		t.Errorf("Expected pending status, got %q", got.EmbeddingStatus)
	}
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		name string
		m    *Memory
	}{
		{"empty content", &Memory{UserID: "alice", Content: "   "}},
		{"empty user", &Memory{Content: "something"}},
		{"importance too high", &Memory{UserID: "alice", Content: "x", Importance: 6}},
		{"importance negative", &Memory{UserID: "alice", Content: "x", Importance: -1}},
		{"confidence too high", &Memory{UserID: "alice", Content: "x", Confidence: 1.5}},
		{"consolidated without sources", &Memory{UserID: "alice", Content: "x", IsConsolidated: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Create(ctx, tc.m)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "alice", "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGet_UserIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "alice's secret"}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.Get(ctx, "bob", m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound across users, got %v", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "to be deleted"}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, err := s.Delete(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Error("Expected deleted=true on first delete")
	}

	deleted, err = s.Delete(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Second delete errored: %v", err)
	}
	if deleted {
		t.Error("Expected deleted=false on second delete")
	}
}

func TestReinforce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "likes hiking", Importance: 2, Confidence: 0.5}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Reinforce(ctx, "alice", m.ID, 0.9); err != nil {
		t.Fatalf("Reinforce failed: %v", err)
	}

	got, err := s.Get(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RecallCount != 1 {
		t.Errorf("Expected recall count 1, got %d", got.RecallCount)
	}
	if got.Importance != 3 {
		t.Errorf("Expected importance 3, got %d", got.Importance)
	}
	// confidence = 0.5 + (1 - 0.5) * 0.1 = 0.55
	if got.Confidence < 0.549 || got.Confidence > 0.551 {
		t.Errorf("Expected confidence 0.55, got %f", got.Confidence)
	}
	if got.LastReinforcedAt == nil {
		t.Error("Expected last_reinforced_at to be set")
	}
}

func TestReinforce_ClampsAtCaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "maxed out", Importance: 5, Confidence: 1.0}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Reinforce(ctx, "alice", m.ID, 1.0); err != nil {
			t.Fatalf("Reinforce failed: %v", err)
		}
	}

	got, err := s.Get(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Importance != 5 {
		t.Errorf("Expected importance capped at 5, got %d", got.Importance)
	}
	if got.Confidence > 1.0 {
		t.Errorf("Expected confidence capped at 1.0, got %f", got.Confidence)
	}
	if got.RecallCount != 3 {
		t.Errorf("Expected recall count 3, got %d", got.RecallCount)
	}
}

func TestReinforce_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Reinforce(ctx, "alice", "missing", 0.5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReinforce_ConcurrentRecallsLoseNoIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "recalled from many goroutines"}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const recalls = 25
	errs := make(chan error, recalls)
	var wg sync.WaitGroup
	for i := 0; i < recalls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Reinforce(ctx, "alice", m.ID, 0.9)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Reinforce failed: %v", err)
		}
	}

	got, err := s.Get(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RecallCount != recalls {
		t.Errorf("Expected %d recalls with no lost increments, got %d", recalls, got.RecallCount)
	}
}

func TestQuery_Filters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mems := []*Memory{
		{UserID: "alice", Content: "loves espresso", Category: "preferences", Importance: 4, Tags: []string{"coffee"}},
		{UserID: "alice", Content: "works at a bakery", Category: "facts", Importance: 2},
		{UserID: "alice", Content: "allergic to peanuts", Category: "facts", Importance: 5, Tags: []string{"health"}},
	}
	for _, m := range mems {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	byCategory, err := s.Query(ctx, "alice", QueryFilter{Category: "facts"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byCategory) != 2 {
		t.Errorf("Expected 2 facts, got %d", len(byCategory))
	}

	byImportance, err := s.Query(ctx, "alice", QueryFilter{MinImportance: 4, SortBy: SortImportance})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byImportance) != 2 {
		t.Fatalf("Expected 2 important memories, got %d", len(byImportance))
	}
	if byImportance[0].Importance < byImportance[1].Importance {
		t.Error("Expected importance descending")
	}

	byTag, err := s.Query(ctx, "alice", QueryFilter{Tags: []string{"health"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Content != "allergic to peanuts" {
		t.Errorf("Expected one health-tagged memory, got %d", len(byTag))
	}

	limited, err := s.Query(ctx, "alice", QueryFilter{Limit: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit 1, got %d", len(limited))
	}
}

func TestQuery_ExcludesExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Now().Add(-time.Hour)
	expired := &Memory{UserID: "alice", Content: "stale", ExpiresAt: &past}
	live := &Memory{UserID: "alice", Content: "fresh"}
	for _, m := range []*Memory{expired, live} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	results, err := s.Query(ctx, "alice", QueryFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Content != "fresh" {
		t.Errorf("Expected only the live memory, got %d results", len(results))
	}

	all, err := s.Query(ctx, "alice", QueryFilter{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected both with IncludeExpired, got %d", len(all))
	}
}

func TestSetEmbedding_AndPendingFeed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "pending fact"}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pending, err := s.PendingEmbeddings(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != m.ID {
		t.Fatalf("Expected the pending memory in the feed, got %d", len(pending))
	}

	if err := s.SetEmbedding(ctx, "alice", m.ID, []float32{0.5, 0.5}); err != nil {
		t.Fatalf("SetEmbedding failed: %v", err)
	}

	pending, err = s.PendingEmbeddings(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected empty pending feed, got %d", len(pending))
	}

	rows, err := s.EmbeddingRows(ctx, "alice")
	if err != nil {
		t.Fatalf("EmbeddingRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].MemoryID != m.ID {
		t.Fatalf("Expected one embedding row, got %d", len(rows))
	}
	if len(rows[0].Embedding) != 2 {
		t.Errorf("Expected 2-dim embedding, got %d", len(rows[0].Embedding))
	}
}

func makeConsolidationFixture(t *testing.T, ctx context.Context, s *SQLiteStore) (sources []*Memory, group ConsolidationGroup) {
	t.Helper()
	for i := 0; i < 2; i++ {
		m := &Memory{
			UserID:     "alice",
			Content:    fmt.Sprintf("likes coffee variant %d", i),
			Importance: 2 + i,
			Confidence: 0.6,
			Embedding:  []float32{1, 0},
		}
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		sources = append(sources, m)
	}

	group = ConsolidationGroup{
		Consolidated: &Memory{
			UserID:         "alice",
			Content:        "likes coffee",
			Importance:     3,
			Confidence:     0.7,
			IsConsolidated: true,
			Embedding:      []float32{1, 0},
		},
		SourceIDs:  []string{sources[0].ID, sources[1].ID},
		Strengths:  map[string]float64{sources[0].ID: 0.9, sources[1].ID: 0.8},
		Similarity: 0.85,
	}
	return sources, group
}

func TestApplyConsolidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sources, group := makeConsolidationFixture(t, ctx, s)

	if err := s.ApplyConsolidation(ctx, "alice", group); err != nil {
		t.Fatalf("ApplyConsolidation failed: %v", err)
	}

	// Sources are superseded, not deleted.
	for _, src := range sources {
		got, err := s.Get(ctx, "alice", src.ID)
		if err != nil {
			t.Fatalf("Get source failed: %v", err)
		}
		if !got.Superseded {
			t.Errorf("Expected source %s superseded", src.ID)
		}
	}

	// The consolidated memory carries its source list.
	consolidated, err := s.Get(ctx, "alice", group.Consolidated.ID)
	if err != nil {
		t.Fatalf("Get consolidated failed: %v", err)
	}
	if !consolidated.IsConsolidated {
		t.Error("Expected is_consolidated true")
	}
	if len(consolidated.SourceMemoryIDs) != 2 {
		t.Errorf("Expected 2 source IDs, got %d", len(consolidated.SourceMemoryIDs))
	}

	// part_of relationships link each source to the consolidated memory.
	edges, err := s.RelationshipsFor(ctx, "alice", group.Consolidated.ID)
	if err != nil {
		t.Fatalf("RelationshipsFor failed: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("Expected 2 relationships, got %d", len(edges))
	}
	for _, edge := range edges {
		if edge.Kind != KindPartOf {
			t.Errorf("Expected part_of, got %s", edge.Kind)
		}
	}

	// One audit log entry was appended.
	log, err := s.ConsolidationLog(ctx, "alice")
	if err != nil {
		t.Fatalf("ConsolidationLog failed: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(log))
	}
	if log[0].ConsolidatedID != group.Consolidated.ID {
		t.Errorf("Log entry points at wrong memory")
	}

	// Superseded memories no longer appear in default queries.
	live, err := s.Query(ctx, "alice", QueryFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(live) != 1 || live[0].ID != group.Consolidated.ID {
		t.Errorf("Expected only the consolidated memory live, got %d", len(live))
	}
}

func TestApplyConsolidation_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sources, group := makeConsolidationFixture(t, ctx, s)

	injected := errors.New("injected crash")
	s.beforeLog = func() error { return injected }

	err := s.ApplyConsolidation(ctx, "alice", group)
	if !errors.Is(err, injected) {
		t.Fatalf("Expected injected error, got %v", err)
	}

	// Nothing of the merge survives: sources live, no consolidated row,
	// no relationships, no log entry.
	for _, src := range sources {
		got, err := s.Get(ctx, "alice", src.ID)
		if err != nil {
			t.Fatalf("Get source failed: %v", err)
		}
		if got.Superseded {
			t.Errorf("Source %s should not be superseded after rollback", src.ID)
		}
	}
	if _, err := s.Get(ctx, "alice", group.Consolidated.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected consolidated memory absent, got %v", err)
	}
	log, err := s.ConsolidationLog(ctx, "alice")
	if err != nil {
		t.Fatalf("ConsolidationLog failed: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("Expected empty log after rollback, got %d entries", len(log))
	}
}

func TestApplyConsolidation_MissingSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, group := makeConsolidationFixture(t, ctx, s)
	group.SourceIDs = append(group.SourceIDs, "ghost")

	err := s.ApplyConsolidation(ctx, "alice", group)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing source, got %v", err)
	}
	if _, err := s.Get(ctx, "alice", group.Consolidated.ID); !errors.Is(err, ErrNotFound) {
		t.Error("Expected consolidated memory rolled back")
	}
}

func TestDecayCandidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().Add(-60 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	neglected := &Memory{UserID: "alice", Content: "neglected", Importance: 3, CreatedAt: old, UpdatedAt: old}
	fresh := &Memory{UserID: "alice", Content: "fresh", Importance: 3, CreatedAt: recent, UpdatedAt: recent}
	reinforced := &Memory{UserID: "alice", Content: "reinforced", Importance: 3, CreatedAt: old, UpdatedAt: old, LastReinforcedAt: &recent}
	zeroed := &Memory{UserID: "alice", Content: "already zero", Importance: 0, CreatedAt: old, UpdatedAt: old}
	for _, m := range []*Memory{neglected, fresh, reinforced, zeroed} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	candidates, err := s.DecayCandidates(ctx, "alice", cutoff, 10)
	if err != nil {
		t.Fatalf("DecayCandidates failed: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("Expected only the neglected memory, got %d", len(candidates))
	}
	if candidates[0].ID != neglected.ID {
		t.Errorf("Expected neglected candidate, got %s", candidates[0].Content)
	}
}

func TestDecayCandidates_Ordering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().Add(-90 * 24 * time.Hour)
	older := time.Now().Add(-120 * 24 * time.Hour)

	// Same reinforcement state; fewer recalls decays first.
	muchRecalled := &Memory{UserID: "alice", Content: "much recalled", Importance: 3, CreatedAt: old, UpdatedAt: old, RecallCount: 10}
	rarelyRecalled := &Memory{UserID: "alice", Content: "rarely recalled", Importance: 3, CreatedAt: older, UpdatedAt: older, RecallCount: 1}
	for _, m := range []*Memory{muchRecalled, rarelyRecalled} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	candidates, err := s.DecayCandidates(ctx, "alice", cutoff, 1)
	if err != nil {
		t.Fatalf("DecayCandidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != rarelyRecalled.ID {
		t.Errorf("Expected the rarely recalled memory first")
	}
}

func TestSetImportance_Clamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &Memory{UserID: "alice", Content: "tweakable", Importance: 3}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.SetImportance(ctx, "alice", m.ID, 99); err != nil {
		t.Fatalf("SetImportance failed: %v", err)
	}
	got, _ := s.Get(ctx, "alice", m.ID)
	if got.Importance != 5 {
		t.Errorf("Expected clamp to 5, got %d", got.Importance)
	}

	if err := s.SetImportance(ctx, "alice", m.ID, -3); err != nil {
		t.Fatalf("SetImportance failed: %v", err)
	}
	got, _ = s.Get(ctx, "alice", m.ID)
	if got.Importance != 0 {
		t.Errorf("Expected clamp to 0, got %d", got.Importance)
	}
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expired := &Memory{UserID: "alice", Content: "gone", ExpiresAt: &past}
	notYet := &Memory{UserID: "alice", Content: "still here", ExpiresAt: &future}
	forever := &Memory{UserID: "alice", Content: "no expiry"}
	for _, m := range []*Memory{expired, notYet, forever} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	n, err := s.DeleteExpired(ctx, "alice", time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deletion, got %d", n)
	}
	if _, err := s.Get(ctx, "alice", expired.ID); !errors.Is(err, ErrNotFound) {
		t.Error("Expected expired memory hard-deleted")
	}
	if _, err := s.Get(ctx, "alice", notYet.ID); err != nil {
		t.Errorf("Unexpired memory should survive: %v", err)
	}
}

func TestAddRelationship_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &Memory{UserID: "alice", Content: "a"}
	b := &Memory{UserID: "alice", Content: "b"}
	for _, m := range []*Memory{a, b} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	err := s.AddRelationship(ctx, &Relationship{UserID: "alice", SourceID: a.ID, TargetID: b.ID, Kind: "friend_of", Strength: 0.5})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError for unknown kind, got %v", err)
	}

	err = s.AddRelationship(ctx, &Relationship{UserID: "alice", SourceID: a.ID, TargetID: "ghost", Kind: KindSupports, Strength: 0.5})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing target, got %v", err)
	}

	if err := s.AddRelationship(ctx, &Relationship{UserID: "alice", SourceID: a.ID, TargetID: b.ID, Kind: KindSupports, Strength: 0.5}); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	edges, err := s.RelationshipsFor(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("RelationshipsFor failed: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("Expected 1 relationship, got %d", len(edges))
	}
}

func TestPurgeUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, group := makeConsolidationFixture(t, ctx, s)
	if err := s.ApplyConsolidation(ctx, "alice", group); err != nil {
		t.Fatalf("ApplyConsolidation failed: %v", err)
	}
	other := &Memory{UserID: "bob", Content: "bob's memory"}
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.PurgeUser(ctx, "alice"); err != nil {
		t.Fatalf("PurgeUser failed: %v", err)
	}

	count, err := s.CountMemories(ctx, "alice")
	if err != nil {
		t.Fatalf("CountMemories failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 memories after purge, got %d", count)
	}
	log, err := s.ConsolidationLog(ctx, "alice")
	if err != nil {
		t.Fatalf("ConsolidationLog failed: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("Expected empty log after purge, got %d", len(log))
	}

	// Other users are untouched.
	if _, err := s.Get(ctx, "bob", other.ID); err != nil {
		t.Errorf("Bob's memory should survive alice's purge: %v", err)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, u := range []string{"alice", "bob", "alice"} {
		if err := s.Create(ctx, &Memory{UserID: u, Content: "m"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Expected 2 distinct users, got %d", len(users))
	}
}
