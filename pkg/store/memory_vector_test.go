package store

import (
	"context"
	"testing"
)

func TestMemoryVectorIndex_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	idx.Upsert(ctx, "exact", []float32{1, 0, 0}, 1)
	idx.Upsert(ctx, "close", []float32{0.9, 0.1, 0}, 2)
	idx.Upsert(ctx, "far", []float32{0, 1, 0}, 3)

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches above threshold, got %d", len(matches))
	}
	if matches[0].MemoryID != "exact" {
		t.Errorf("Expected 'exact' first, got %s", matches[0].MemoryID)
	}
	if matches[1].MemoryID != "close" {
		t.Errorf("Expected 'close' second, got %s", matches[1].MemoryID)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("Results not sorted by similarity descending")
	}
}

func TestMemoryVectorIndex_TieBreakNewerFirst(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	// Same vector, so identical similarity; the newer entry must win.
	idx.Upsert(ctx, "old", []float32{1, 1}, 100)
	idx.Upsert(ctx, "new", []float32{1, 1}, 200)

	matches, err := idx.Search(ctx, []float32{1, 1}, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].MemoryID != "new" {
		t.Errorf("Expected newer memory first on tie, got %s", matches[0].MemoryID)
	}
}

func TestMemoryVectorIndex_Limit(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	idx.Upsert(ctx, "a", []float32{1, 0}, 1)
	idx.Upsert(ctx, "b", []float32{0.9, 0.1}, 2)
	idx.Upsert(ctx, "c", []float32{0.8, 0.2}, 3)

	matches, err := idx.Search(ctx, []float32{1, 0}, 2, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("Expected limit of 2, got %d matches", len(matches))
	}

	// limit <= 0 returns every admissible match.
	matches, err = idx.Search(ctx, []float32{1, 0}, 0, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("Expected all 3 matches with no limit, got %d", len(matches))
	}
}

func TestMemoryVectorIndex_RemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	idx.Upsert(ctx, "a", []float32{1, 0}, 1)
	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Second Remove failed: %v", err)
	}
	if err := idx.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove of absent ID failed: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("Expected empty index, got %d entries", idx.Len())
	}
}

func TestMemoryVectorIndex_UpsertCopiesSlice(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	vec := []float32{1, 0}
	idx.Upsert(ctx, "a", vec, 1)
	vec[0] = 0
	vec[1] = 1

	matches, err := idx.Search(ctx, []float32{1, 0}, 1, 0.99)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].MemoryID != "a" {
		t.Error("Index must not share the caller's slice")
	}
}

func TestMemoryVectorIndex_Clear(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex()

	idx.Upsert(ctx, "a", []float32{1}, 1)
	idx.Upsert(ctx, "b", []float32{1}, 2)
	idx.Clear()

	if idx.Len() != 0 {
		t.Errorf("Expected empty index after Clear, got %d", idx.Len())
	}
}
