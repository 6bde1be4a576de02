package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore implements MemoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// beforeLog, when set, runs inside the consolidation transaction just
	// before the log entry is appended. Test hook for crash simulation.
	beforeLog func() error
}

// NewSQLiteStore opens (or creates) the database at dbPath and initializes
// the schema. dbPath may be ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer, and every pooled connection to an
	// in-memory path gets its own database. One connection serves both.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// DB returns the underlying database connection for advanced operations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		importance INTEGER NOT NULL DEFAULT 1,
		confidence REAL NOT NULL DEFAULT 0.5,
		tags_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		expires_at DATETIME,
		recall_count INTEGER NOT NULL DEFAULT 0,
		last_reinforced_at DATETIME,
		is_consolidated INTEGER NOT NULL DEFAULT 0,
		source_ids_json TEXT,
		superseded INTEGER NOT NULL DEFAULT 0,
		embedding BLOB,
		embedding_status TEXT NOT NULL DEFAULT 'ready',
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_memories_live ON memories(user_id, superseded, is_consolidated);
	CREATE INDEX IF NOT EXISTS idx_memories_pending ON memories(user_id, embedding_status);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		strength REAL NOT NULL DEFAULT 1.0,
		created_at DATETIME NOT NULL,
		UNIQUE (user_id, source_id, target_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(user_id, source_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(user_id, target_id);

	CREATE TABLE IF NOT EXISTS consolidation_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		consolidated_id TEXT NOT NULL,
		source_ids_json TEXT NOT NULL,
		similarity REAL NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_consolidation_log_user ON consolidation_log(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

const memoryColumns = `user_id, id, content, category, importance, confidence, tags_json,
	created_at, updated_at, expires_at, recall_count, last_reinforced_at,
	is_consolidated, source_ids_json, superseded, embedding, embedding_status`

// Create validates and persists a new memory.
func (s *SQLiteStore) Create(ctx context.Context, m *Memory) error {
	if strings.TrimSpace(m.Content) == "" {
		return &ValidationError{Field: "content", Reason: "cannot be empty"}
	}
	if m.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}
	if m.Importance < 0 || m.Importance > 5 {
		return &ValidationError{Field: "importance", Reason: "must be between 0 and 5"}
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be between 0.0 and 1.0"}
	}
	if m.IsConsolidated && len(m.SourceMemoryIDs) == 0 {
		return &ValidationError{Field: "source_memory_ids", Reason: "consolidated memory requires sources"}
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Category == "" {
		m.Category = "general"
	}
	if m.EmbeddingStatus == "" {
		if len(m.Embedding) > 0 {
			m.EmbeddingStatus = EmbeddingReady
		} else {
			m.EmbeddingStatus = EmbeddingPending
		}
	}
	m.Tags = normalizeTags(m.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMemory(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *Memory) error {
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	sourcesJSON, err := json.Marshal(m.SourceMemoryIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source ids: %w", err)
	}

	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		m.UserID,
		m.ID,
		m.Content,
		m.Category,
		ClampImportance(m.Importance),
		ClampConfidence(m.Confidence),
		tagsJSON,
		m.CreatedAt,
		m.UpdatedAt,
		m.ExpiresAt,
		m.RecallCount,
		m.LastReinforcedAt,
		m.IsConsolidated,
		sourcesJSON,
		m.Superseded,
		serializeEmbedding(m.Embedding),
		m.EmbeddingStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tagsJSON, sourcesJSON []byte
	var embedding []byte
	var expiresAt, lastReinforced sql.NullTime

	err := row.Scan(
		&m.UserID,
		&m.ID,
		&m.Content,
		&m.Category,
		&m.Importance,
		&m.Confidence,
		&tagsJSON,
		&m.CreatedAt,
		&m.UpdatedAt,
		&expiresAt,
		&m.RecallCount,
		&lastReinforced,
		&m.IsConsolidated,
		&sourcesJSON,
		&m.Superseded,
		&embedding,
		&m.EmbeddingStatus,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if lastReinforced.Valid {
		t := lastReinforced.Time
		m.LastReinforcedAt = &t
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &m.SourceMemoryIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source ids: %w", err)
		}
	}
	m.Embedding = deserializeEmbedding(embedding)

	return &m, nil
}

// Get retrieves a memory by ID, superseded or not.
func (s *SQLiteStore) Get(ctx context.Context, userID, id string) (*Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND id = ?`
	m, err := scanMemory(s.db.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// Query returns memories matching the filter. Expired and superseded
// memories are excluded unless the filter overrides that.
func (s *SQLiteStore) Query(ctx context.Context, userID string, filter QueryFilter) ([]*Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []interface{}{userID}

	if !filter.IncludeSuperseded {
		query += " AND superseded = 0"
	}
	if !filter.IncludeExpired {
		query += " AND (expires_at IS NULL OR expires_at > ?)"
		args = append(args, time.Now())
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.MinImportance > 0 {
		query += " AND importance >= ?"
		args = append(args, filter.MinImportance)
	}

	switch filter.SortBy {
	case SortImportance:
		query += " ORDER BY importance DESC, created_at DESC"
	case SortConfidence:
		query += " ORDER BY confidence DESC, created_at DESC"
	case SortRecallCount:
		query += " ORDER BY recall_count DESC, created_at DESC"
	default:
		query += " ORDER BY created_at DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		// Tag filtering happens post-scan: tags live in a JSON column.
		if !hasAllTags(m.Tags, filter.Tags) {
			continue
		}
		memories = append(memories, m)
		if filter.Limit > 0 && len(memories) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	return memories, nil
}

// Delete removes a memory, its embedding and all relationships where it is
// source or target. Deleting an absent ID is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, userID, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM relationships WHERE user_id = ? AND (source_id = ? OR target_id = ?)",
		userID, id, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete relationships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return affected > 0, nil
}

// Reinforce strengthens a memory after a successful recall. The update is a
// single statement so concurrent reinforcements never lose increments.
func (s *SQLiteStore) Reinforce(ctx context.Context, userID, id string, similarity float64) error {
	query := `
		UPDATE memories
		SET recall_count = recall_count + 1,
		    confidence = MIN(1.0, confidence + (1.0 - confidence) * 0.1),
		    importance = MIN(5, importance + 1),
		    last_reinforced_at = ?,
		    updated_at = ?
		WHERE user_id = ? AND id = ?
	`
	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, now, now, userID, id)
	if err != nil {
		return fmt.Errorf("failed to reinforce memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEmbedding stores a vector for the memory and marks it ready.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, userID, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return &ValidationError{Field: "embedding", Reason: "cannot be empty"}
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET embedding = ?, embedding_status = ?, updated_at = ? WHERE user_id = ? AND id = ?",
		serializeEmbedding(embedding), EmbeddingReady, time.Now(), userID, id)
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingEmbeddings lists non-superseded memories still waiting for a vector,
// oldest first.
func (s *SQLiteStore) PendingEmbeddings(ctx context.Context, userID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE user_id = ? AND embedding_status = ? AND superseded = 0
		ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, EmbeddingPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending embeddings: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending embeddings: %w", err)
	}
	return memories, nil
}

// DecayCandidates lists live, non-consolidated memories created before
// cutoff and not reinforced since. Ordering puts the least recently
// reinforced first, then the least recalled, then the oldest, so decay
// touches the most neglected memories before any others.
func (s *SQLiteStore) DecayCandidates(ctx context.Context, userID string, cutoff time.Time, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE user_id = ?
		AND superseded = 0
		AND is_consolidated = 0
		AND created_at <= ?
		AND (last_reinforced_at IS NULL OR last_reinforced_at <= ?)
		AND (expires_at IS NULL OR expires_at > ?)
		AND importance > 0
		ORDER BY last_reinforced_at ASC NULLS FIRST, recall_count ASC, created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, cutoff, cutoff, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decay candidates: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decay candidates: %w", err)
	}
	return memories, nil
}

// SetImportance writes a clamped importance value.
func (s *SQLiteStore) SetImportance(ctx context.Context, userID, id string, importance int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET importance = ?, updated_at = ? WHERE user_id = ? AND id = ?",
		ClampImportance(importance), time.Now(), userID, id)
	if err != nil {
		return fmt.Errorf("failed to set importance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// EmbeddingRows returns every ready embedding of the user's live memories.
// The derived vector index is rebuilt entirely from this data.
func (s *SQLiteStore) EmbeddingRows(ctx context.Context, userID string) ([]EmbeddingRow, error) {
	query := `
		SELECT id, embedding, created_at FROM memories
		WHERE user_id = ? AND embedding_status = ? AND superseded = 0
		AND (expires_at IS NULL OR expires_at > ?)
	`
	rows, err := s.db.QueryContext(ctx, query, userID, EmbeddingReady, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var r EmbeddingRow
		var blob []byte
		if err := rows.Scan(&r.MemoryID, &blob, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		r.Embedding = deserializeEmbedding(blob)
		if len(r.Embedding) == 0 {
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return out, nil
}

// ApplyConsolidation executes one merge atomically: insert the consolidated
// memory, supersede every source, write a part_of relationship per source,
// and append the audit log entry. Any failure rolls the whole group back.
func (s *SQLiteStore) ApplyConsolidation(ctx context.Context, userID string, group ConsolidationGroup) error {
	c := group.Consolidated
	if c == nil || !c.IsConsolidated || len(group.SourceIDs) == 0 {
		return &ValidationError{Field: "group", Reason: "consolidated memory with sources required"}
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	c.UserID = userID
	c.SourceMemoryIDs = group.SourceIDs
	if c.EmbeddingStatus == "" {
		if len(c.Embedding) > 0 {
			c.EmbeddingStatus = EmbeddingReady
		} else {
			c.EmbeddingStatus = EmbeddingPending
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMemory(ctx, tx, c); err != nil {
		return err
	}

	for _, sourceID := range group.SourceIDs {
		result, err := tx.ExecContext(ctx,
			"UPDATE memories SET superseded = 1, updated_at = ? WHERE user_id = ? AND id = ? AND superseded = 0",
			now, userID, sourceID)
		if err != nil {
			return fmt.Errorf("failed to supersede memory %s: %w", sourceID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("source memory %s: %w", sourceID, ErrNotFound)
		}

		strength := ClampConfidence(group.Strengths[sourceID])
		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (id, user_id, source_id, target_id, kind, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), userID, sourceID, c.ID, KindPartOf, strength, now)
		if err != nil {
			return fmt.Errorf("failed to insert part_of relationship: %w", err)
		}
	}

	if s.beforeLog != nil {
		if err := s.beforeLog(); err != nil {
			return err
		}
	}

	sourcesJSON, err := json.Marshal(group.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO consolidation_log (id, user_id, consolidated_id, source_ids_json, similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, c.ID, sourcesJSON, group.Similarity, now)
	if err != nil {
		return fmt.Errorf("failed to append consolidation log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit consolidation: %w", err)
	}
	return nil
}

// AddRelationship inserts a directed edge between two existing memories.
func (s *SQLiteStore) AddRelationship(ctx context.Context, r *Relationship) error {
	switch r.Kind {
	case KindPartOf, KindSupports, KindContradicts, KindRelatesTo:
	default:
		return &ValidationError{Field: "kind", Reason: "unknown relationship kind"}
	}
	if r.Strength < 0 || r.Strength > 1 {
		return &ValidationError{Field: "strength", Reason: "must be between 0.0 and 1.0"}
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	for _, id := range []string{r.SourceID, r.TargetID} {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM memories WHERE user_id = ? AND id = ?", r.UserID, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("memory %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check memory existence: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, user_id, source_id, target_id, kind, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.SourceID, r.TargetID, r.Kind, r.Strength, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

// RelationshipsFor returns every edge where the memory appears as source or
// target, oldest first.
func (s *SQLiteStore) RelationshipsFor(ctx context.Context, userID, memoryID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_id, target_id, kind, strength, created_at
		FROM relationships
		WHERE user_id = ? AND (source_id = ? OR target_id = ?)
		ORDER BY created_at ASC`,
		userID, memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var edges []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.UserID, &r.SourceID, &r.TargetID, &r.Kind, &r.Strength, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		edges = append(edges, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return edges, nil
}

// SupersededMemories returns the user's soft-deleted memories for audit,
// most recently superseded first.
func (s *SQLiteStore) SupersededMemories(ctx context.Context, userID string) ([]*Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE user_id = ? AND superseded = 1
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query superseded memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating superseded memories: %w", err)
	}
	return memories, nil
}

// ConsolidationLog returns the user's audit log, oldest first.
func (s *SQLiteStore) ConsolidationLog(ctx context.Context, userID string) ([]ConsolidationLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, consolidated_id, source_ids_json, similarity, created_at
		FROM consolidation_log
		WHERE user_id = ?
		ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consolidation log: %w", err)
	}
	defer rows.Close()

	var entries []ConsolidationLogEntry
	for rows.Next() {
		var e ConsolidationLogEntry
		var sourcesJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConsolidatedID, &sourcesJSON, &e.Similarity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if err := json.Unmarshal(sourcesJSON, &e.SourceIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source ids: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating consolidation log: %w", err)
	}
	return entries, nil
}

// DeleteExpired hard-deletes memories whose expiry passed before now,
// along with their relationships. Superseded memories are kept for audit.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, userID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM memories WHERE user_id = ? AND superseded = 0 AND expires_at IS NOT NULL AND expires_at <= ?",
		userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired memories: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating expired memories: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE user_id = ? AND id = ?", userID, id); err != nil {
			return 0, fmt.Errorf("failed to delete expired memory: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM relationships WHERE user_id = ? AND (source_id = ? OR target_id = ?)",
			userID, id, id); err != nil {
			return 0, fmt.Errorf("failed to delete relationships: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(ids), nil
}

// CountMemories returns the number of live memories for the user.
func (s *SQLiteStore) CountMemories(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE user_id = ? AND superseded = 0", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

// Users lists every user ID with at least one memory.
func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM memories ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// PurgeUser erases all of a user's data, including the consolidation log.
// This is the only operation permitted to delete log entries.
func (s *SQLiteStore) PurgeUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"memories", "relationships", "consolidation_log"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("failed to purge %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[strings.ToLower(strings.TrimSpace(t))] {
			return false
		}
	}
	return true
}

// Compile-time interface check
var _ MemoryStore = (*SQLiteStore)(nil)
