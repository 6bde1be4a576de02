// Package store is the system of record for the memory engine: it owns
// memories, relationships and the consolidation log, and enforces their
// invariants. The vector index is a derived cache rebuildable from this
// store and is never authoritative.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedding status values for a memory row.
const (
	EmbeddingReady   = "ready"
	EmbeddingPending = "pending"
)

// Relationship kinds.
const (
	KindPartOf      = "part_of"
	KindSupports    = "supports"
	KindContradicts = "contradicts"
	KindRelatesTo   = "relates_to"
)

// Sort fields accepted by Query.
const (
	SortImportance  = "importance"
	SortConfidence  = "confidence"
	SortRecency     = "recency"
	SortRecallCount = "recall_count"
)

// Memory is a persisted fact about one user.
type Memory struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Content          string     `json:"content"`
	Category         string     `json:"category"`
	Importance       int        `json:"importance"` // 0-5, clamped on every mutation
	Confidence       float64    `json:"confidence"` // 0-1, clamped on every mutation
	Tags             []string   `json:"tags,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RecallCount      int        `json:"recall_count"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`
	IsConsolidated   bool       `json:"is_consolidated"`
	SourceMemoryIDs  []string   `json:"source_memory_ids,omitempty"`
	Superseded       bool       `json:"superseded"`
	Embedding        []float32  `json:"-"`
	EmbeddingStatus  string     `json:"embedding_status"`
}

// Expired reports whether the memory's expiry has passed at the given time.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Relationship is a directed edge between two memories of the same user.
// Multiple edges between the same pair are allowed only with distinct kinds.
type Relationship struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Kind      string    `json:"kind"`
	Strength  float64   `json:"strength"` // 0-1
	CreatedAt time.Time `json:"created_at"`
}

// ConsolidationLogEntry is an immutable audit record of one merge. Entries
// are only ever removed by full user-data erasure.
type ConsolidationLogEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConsolidatedID string    `json:"consolidated_id"`
	SourceIDs      []string  `json:"source_ids"`
	Similarity     float64   `json:"similarity"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConsolidationGroup describes one merge to be applied atomically:
// the new consolidated memory, the sources it supersedes, and the
// similarity of each source to the group centroid.
type ConsolidationGroup struct {
	Consolidated *Memory
	SourceIDs    []string
	// Strengths maps source ID to its similarity to the group centroid,
	// recorded on the part_of relationship.
	Strengths map[string]float64
	// Similarity is the average intra-group similarity that triggered the merge.
	Similarity float64
}

// QueryFilter narrows and orders a Query. The zero value returns all live
// (non-expired, non-superseded) memories for the user sorted by recency.
type QueryFilter struct {
	Category          string
	Tags              []string // memory must carry every listed tag
	MinImportance     int
	IncludeExpired    bool
	IncludeSuperseded bool
	SortBy            string // one of the Sort* constants, default SortRecency
	Limit             int
}

// EmbeddingRow is one (id, vector, created_at) triple used to rebuild the
// derived vector index from the store.
type EmbeddingRow struct {
	MemoryID  string
	Embedding []float32
	CreatedAt time.Time
}

// ErrNotFound indicates that no memory exists for the given ID.
var ErrNotFound = errors.New("memory not found")

// ValidationError reports input that violates a domain constraint. It is
// returned before any mutation takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// MemoryStore defines CRUD and invariant enforcement for all entities.
// All mutation of per-user state goes through this interface; no component
// writes to the underlying tables directly.
type MemoryStore interface {
	// Create validates and persists a new memory, assigning ID and timestamps.
	Create(ctx context.Context, m *Memory) error

	// Get retrieves one memory, superseded or not. Returns ErrNotFound.
	Get(ctx context.Context, userID, id string) (*Memory, error)

	// Query returns memories matching the filter, expired and superseded
	// excluded unless explicitly overridden.
	Query(ctx context.Context, userID string, filter QueryFilter) ([]*Memory, error)

	// Delete removes a memory, its embedding and all relationships touching
	// it. Idempotent: deleting an absent ID returns (false, nil).
	Delete(ctx context.Context, userID, id string) (bool, error)

	// Reinforce atomically increments recall_count, raises confidence toward
	// 1.0 by a tenth of the gap, raises importance by at most one, and stamps
	// last_reinforced_at.
	Reinforce(ctx context.Context, userID, id string, similarity float64) error

	// SetEmbedding stores a vector for the memory and marks it ready.
	SetEmbedding(ctx context.Context, userID, id string, embedding []float32) error

	// PendingEmbeddings lists memories still waiting for a vector.
	PendingEmbeddings(ctx context.Context, userID string, limit int) ([]*Memory, error)

	// DecayCandidates lists live, non-consolidated memories created before
	// cutoff and not reinforced since, least recently reinforced first.
	DecayCandidates(ctx context.Context, userID string, cutoff time.Time, limit int) ([]*Memory, error)

	// SetImportance writes a clamped importance value.
	SetImportance(ctx context.Context, userID, id string, importance int) error

	// EmbeddingRows returns every ready embedding for the user, for index rebuilds.
	EmbeddingRows(ctx context.Context, userID string) ([]EmbeddingRow, error)

	// ApplyConsolidation executes one merge as a single transaction: insert
	// the consolidated memory, supersede the sources, write part_of
	// relationships, append the log entry. Partial application is rolled back.
	ApplyConsolidation(ctx context.Context, userID string, group ConsolidationGroup) error

	// AddRelationship inserts a directed edge. Duplicate (source, target,
	// kind) triples are rejected.
	AddRelationship(ctx context.Context, r *Relationship) error

	// RelationshipsFor returns every edge where the memory is source or target.
	RelationshipsFor(ctx context.Context, userID, memoryID string) ([]Relationship, error)

	// SupersededMemories is the audit view over soft-deleted memories.
	SupersededMemories(ctx context.Context, userID string) ([]*Memory, error)

	// ConsolidationLog returns the user's audit log, oldest first.
	ConsolidationLog(ctx context.Context, userID string) ([]ConsolidationLogEntry, error)

	// DeleteExpired hard-deletes memories whose expiry passed before now.
	DeleteExpired(ctx context.Context, userID string, now time.Time) (int, error)

	// CountMemories returns the number of live memories for the user.
	CountMemories(ctx context.Context, userID string) (int64, error)

	// Users lists every user ID with at least one memory.
	Users(ctx context.Context) ([]string, error)

	// PurgeUser erases all of a user's data, including the consolidation log.
	PurgeUser(ctx context.Context, userID string) error
}

// ClampImportance bounds importance to [0,5].
func ClampImportance(v int) int {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// ClampConfidence bounds confidence to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
