// Package mnemo implements a per-user long-term memory engine: memories are
// stored with importance and confidence, retrieved by a blend of semantic
// similarity and salience, reinforced on recall, consolidated when they
// cluster, and decayed when neglected.
package mnemo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/pkg/embeddings"
	"github.com/mnemo-ai/mnemo/pkg/llm"
	"github.com/mnemo-ai/mnemo/pkg/metrics"
	"github.com/mnemo-ai/mnemo/pkg/search"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// RetrievedMemory is one ranked retrieval result.
type RetrievedMemory struct {
	Memory     *store.Memory
	Similarity float64
	Score      float64
}

// MaintenanceResult summarizes one maintenance run for a user.
type MaintenanceResult struct {
	Consolidated        int
	Decayed             int
	ExpiredDeleted      int
	EmbeddingsRecovered int
}

// Engine is the main entry point for the memory system. All operations are
// safe for concurrent use; writes are serialized per user.
type Engine struct {
	cfg        Config
	store      store.MemoryStore
	embedder   embeddings.EmbeddingClient
	summarizer llm.Summarizer
	ranker     *search.Ranker
	metrics    metrics.Collector
	log        *slog.Logger

	ownedStore *store.SQLiteStore

	mu            sync.Mutex
	locks         map[string]*sync.RWMutex
	indexes       map[string]store.VectorIndex
	indexLoaded   map[string]bool
	consolidating map[string]map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.log = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithStore injects a MemoryStore, overriding Config.DBPath.
func WithStore(s store.MemoryStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEmbedder injects an embedding client, overriding the OpenAI default.
func WithEmbedder(client embeddings.EmbeddingClient) Option {
	return func(e *Engine) {
		e.embedder = client
	}
}

// WithSummarizer injects a summarizer, overriding the OpenAI default.
func WithSummarizer(s llm.Summarizer) Option {
	return func(e *Engine) {
		e.summarizer = s
	}
}

// New creates an engine from the config. Unset collaborators default to the
// OpenAI clients built from Config.OpenAIKey, with the embedding client
// wrapped in a cache.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		metrics:       metrics.NewNoopCollector(),
		locks:         make(map[string]*sync.RWMutex),
		indexes:       make(map[string]store.VectorIndex),
		indexLoaded:   make(map[string]bool),
		consolidating: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		if cfg.DBPath == "" {
			return nil, &ValidationError{Field: "db_path", Reason: "cannot be empty"}
		}
		s, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		e.store = s
		e.ownedStore = s
	}

	if e.embedder == nil {
		client := embeddings.NewOpenAIClient(cfg.OpenAIKey)
		if cfg.EmbeddingModel != "" {
			client.Model = cfg.EmbeddingModel
		}
		cached, err := embeddings.NewCachedClient(client, 0)
		if err != nil {
			return nil, err
		}
		e.embedder = cached
	}

	if e.summarizer == nil {
		s := llm.NewOpenAISummarizer(cfg.OpenAIKey)
		if cfg.SummaryModel != "" {
			s.Model = cfg.SummaryModel
		}
		e.summarizer = s
	}

	e.ranker = search.NewRanker(cfg.Weights, cfg.RecencyHalfLife, cfg.MinScore)

	return e, nil
}

// Close releases the engine's resources. Injected stores remain open.
func (e *Engine) Close() error {
	if e.ownedStore != nil {
		return e.ownedStore.Close()
	}
	return nil
}

// logger returns the configured logger or a discard-equivalent.
func (e *Engine) logger() *slog.Logger {
	if e.log == nil {
		return slog.New(discardHandler{})
	}
	return e.log
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// userLock returns the per-user mutex, creating it on first use.
func (e *Engine) userLock(userID string) *sync.RWMutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[userID] = l
	}
	return l
}

// indexFor returns the user's vector index, creating an empty one on first
// use. Callers must hold the user lock.
func (e *Engine) indexFor(userID string) store.VectorIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.indexes[userID]
	if !ok {
		idx = store.NewMemoryVectorIndex()
		e.indexes[userID] = idx
	}
	return idx
}

// ensureIndex loads the user's embeddings from the store into the index the
// first time the user is touched. Callers must hold the user lock.
func (e *Engine) ensureIndex(ctx context.Context, userID string) (store.VectorIndex, error) {
	idx := e.indexFor(userID)

	e.mu.Lock()
	loaded := e.indexLoaded[userID]
	e.mu.Unlock()
	if loaded {
		return idx, nil
	}

	rows, err := e.store.EmbeddingRows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	for _, r := range rows {
		idx.Upsert(ctx, r.MemoryID, r.Embedding, r.CreatedAt.UnixNano())
	}

	e.mu.Lock()
	e.indexLoaded[userID] = true
	e.mu.Unlock()

	return idx, nil
}

func (e *Engine) markConsolidating(userID string, ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.consolidating[userID]
	if !ok {
		set = make(map[string]bool)
		e.consolidating[userID] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

func (e *Engine) unmarkConsolidating(userID string, ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.consolidating[userID]
	for _, id := range ids {
		delete(set, id)
	}
}

func (e *Engine) isConsolidating(userID, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consolidating[userID][id]
}

// RememberOption customizes a new memory.
type RememberOption func(*store.Memory)

// WithCategory sets the memory's category.
func WithCategory(category string) RememberOption {
	return func(m *store.Memory) { m.Category = category }
}

// WithImportance sets the memory's importance (0-5).
func WithImportance(importance int) RememberOption {
	return func(m *store.Memory) { m.Importance = importance }
}

// WithConfidence sets the memory's confidence (0-1).
func WithConfidence(confidence float64) RememberOption {
	return func(m *store.Memory) { m.Confidence = confidence }
}

// WithTags sets the memory's tags.
func WithTags(tags ...string) RememberOption {
	return func(m *store.Memory) { m.Tags = tags }
}

// WithExpiresAt sets an expiry after which the memory is no longer
// retrievable and will eventually be swept.
func WithExpiresAt(t time.Time) RememberOption {
	return func(m *store.Memory) { m.ExpiresAt = &t }
}

// Remember stores a new memory and returns its ID. The content is embedded
// synchronously; if the embedding provider fails the memory is stored with
// pending status and picked up by the next maintenance run, so Remember
// degrades rather than fails on provider outages.
func (e *Engine) Remember(ctx context.Context, userID, content string, opts ...RememberOption) (string, error) {
	start := time.Now()

	if strings.TrimSpace(content) == "" {
		return "", &ValidationError{Field: "content", Reason: "cannot be empty"}
	}
	if userID == "" {
		return "", &ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}

	m := &store.Memory{
		UserID:     userID,
		Content:    content,
		Importance: 1,
		Confidence: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	idx, err := e.ensureIndex(ctx, userID)
	if err != nil {
		e.recordError(ctx, "remember", err)
		return "", err
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	embedding, embedErr := e.embedder.EmbedOne(embedCtx, content)
	if embedErr != nil {
		m.EmbeddingStatus = store.EmbeddingPending
		e.logger().Warn("embedding failed, memory stored pending",
			"user_id", userID, "error", embedErr)
		e.metrics.RecordError(ctx, "remember", ErrTypeDependency)
	} else {
		m.Embedding = embedding
		m.EmbeddingStatus = store.EmbeddingReady
	}

	if err := e.store.Create(ctx, m); err != nil {
		e.recordError(ctx, "remember", err)
		return "", err
	}

	if m.EmbeddingStatus == store.EmbeddingReady {
		idx.Upsert(ctx, m.ID, m.Embedding, m.CreatedAt.UnixNano())
	}

	e.metrics.RecordOperation(ctx, "remember", "success", time.Since(start).Milliseconds())
	e.logger().Debug("memory stored",
		"user_id", userID, "memory_id", m.ID, "embedding_status", m.EmbeddingStatus)

	return m.ID, nil
}

// Forget permanently deletes a memory. Returns ErrNotFound for an unknown
// ID and ConflictError when the memory is a source of an in-progress
// consolidation.
func (e *Engine) Forget(ctx context.Context, userID, memoryID string) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if e.isConsolidating(userID, memoryID) {
		return &ConflictError{MemoryID: memoryID, Reason: "consolidation in progress"}
	}

	deleted, err := e.store.Delete(ctx, userID, memoryID)
	if err != nil {
		e.recordError(ctx, "forget", err)
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	e.indexFor(userID).Remove(ctx, memoryID)
	e.logger().Debug("memory forgotten", "user_id", userID, "memory_id", memoryID)
	return nil
}

// RetrieveRelevant returns up to k memories ranked by the blended score of
// similarity, importance, confidence and recency. minSimilarity is an
// admission filter applied before scoring. Embedding-provider failure is
// degraded to an empty result, never an error: retrieval feeds prompt
// construction, which must go on without memories when the provider is down.
// Results are not reinforced here; call CommitRecall after delivering them.
func (e *Engine) RetrieveRelevant(ctx context.Context, userID, query string, k int, minSimilarity float64) ([]RetrievedMemory, error) {
	start := time.Now()

	if k <= 0 {
		k = 5
	}

	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()

	idx, err := e.ensureIndex(ctx, userID)
	if err != nil {
		e.recordError(ctx, "retrieve", err)
		return nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	queryVec, embedErr := e.embedder.EmbedOne(embedCtx, query)
	if embedErr != nil {
		e.logger().Warn("query embedding failed, returning no memories",
			"user_id", userID, "error", embedErr)
		e.metrics.RecordError(ctx, "retrieve", ErrTypeDependency)
		return []RetrievedMemory{}, nil
	}

	// Fetch every admissible match and let the ranker truncate to k, so a
	// high-importance memory with middling similarity is never cut before
	// blended scoring.
	matches, err := idx.Search(ctx, queryVec, 0, minSimilarity)
	if err != nil {
		e.recordError(ctx, "retrieve", err)
		return nil, err
	}

	now := time.Now()
	candidates := make([]search.Candidate, 0, len(matches))
	for _, match := range matches {
		m, err := e.store.Get(ctx, userID, match.MemoryID)
		if errors.Is(err, ErrNotFound) {
			// Index can briefly trail the store; skip strays.
			continue
		}
		if err != nil {
			e.recordError(ctx, "retrieve", err)
			return nil, err
		}
		if m.Superseded || m.Expired(now) {
			continue
		}
		candidates = append(candidates, search.Candidate{Memory: m, Similarity: match.Similarity})
	}

	ranked := e.ranker.Rank(candidates, now, k)
	results := make([]RetrievedMemory, len(ranked))
	for i, r := range ranked {
		results[i] = RetrievedMemory{Memory: r.Memory, Similarity: r.Similarity, Score: r.Score}
	}

	e.metrics.RecordOperation(ctx, "retrieve", "success", time.Since(start).Milliseconds())
	return results, nil
}

// CommitRecall reinforces each delivered memory exactly once: recall count
// up, confidence and importance nudged toward their caps. Call it after the
// retrieved memories were actually used, not speculatively.
func (e *Engine) CommitRecall(ctx context.Context, userID string, results []RetrievedMemory) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Memory == nil || seen[r.Memory.ID] {
			continue
		}
		seen[r.Memory.ID] = true
		if err := e.store.Reinforce(ctx, userID, r.Memory.ID, r.Similarity); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between retrieval and commit.
				continue
			}
			e.recordError(ctx, "commit_recall", err)
			return err
		}
	}
	return nil
}

// Get retrieves one memory by ID, superseded or not.
func (e *Engine) Get(ctx context.Context, userID, memoryID string) (*store.Memory, error) {
	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()
	return e.store.Get(ctx, userID, memoryID)
}

// Query returns memories matching the filter without semantic search.
func (e *Engine) Query(ctx context.Context, userID string, filter store.QueryFilter) ([]*store.Memory, error) {
	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()
	return e.store.Query(ctx, userID, filter)
}

// SupersededMemories is the audit view over memories replaced by
// consolidation.
func (e *Engine) SupersededMemories(ctx context.Context, userID string) ([]*store.Memory, error) {
	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()
	return e.store.SupersededMemories(ctx, userID)
}

// ConsolidationLog returns the user's merge audit log, oldest first.
func (e *Engine) ConsolidationLog(ctx context.Context, userID string) ([]store.ConsolidationLogEntry, error) {
	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()
	return e.store.ConsolidationLog(ctx, userID)
}

// RunMaintenance performs one maintenance pass for a user: expired sweep,
// pending-embedding retry, consolidation, then decay.
func (e *Engine) RunMaintenance(ctx context.Context, userID string) (MaintenanceResult, error) {
	start := time.Now()
	var result MaintenanceResult

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.ensureIndex(ctx, userID); err != nil {
		e.recordError(ctx, "maintenance", err)
		return result, err
	}

	now := time.Now()

	expired, err := e.store.DeleteExpired(ctx, userID, now)
	if err != nil {
		e.recordError(ctx, "maintenance", err)
		return result, err
	}
	result.ExpiredDeleted = expired

	recovered, err := e.retryPendingEmbeddings(ctx, userID)
	if err != nil {
		e.logger().Warn("pending embedding retry failed", "user_id", userID, "error", err)
	}
	result.EmbeddingsRecovered = recovered

	consolidated, err := e.runConsolidation(ctx, userID, now)
	if err != nil {
		e.recordError(ctx, "maintenance", err)
		return result, err
	}
	result.Consolidated = consolidated

	decayed, err := e.runDecay(ctx, userID, now)
	if err != nil {
		e.recordError(ctx, "maintenance", err)
		return result, err
	}
	result.Decayed = decayed

	if expired > 0 {
		if err := e.reloadIndex(ctx, userID); err != nil {
			e.recordError(ctx, "maintenance", err)
			return result, err
		}
	}

	if count, err := e.store.CountMemories(ctx, userID); err == nil {
		e.metrics.SetStorageCount(ctx, "memories", count)
	}

	e.metrics.RecordOperation(ctx, "maintenance", "success", time.Since(start).Milliseconds())
	e.logger().Info("maintenance complete",
		"user_id", userID,
		"consolidated", result.Consolidated,
		"decayed", result.Decayed,
		"expired_deleted", result.ExpiredDeleted,
		"embeddings_recovered", result.EmbeddingsRecovered)

	return result, nil
}

// retryPendingEmbeddings embeds memories stored without a vector and adds
// them to the index. Callers must hold the user write lock.
func (e *Engine) retryPendingEmbeddings(ctx context.Context, userID string) (int, error) {
	pending, err := e.store.PendingEmbeddings(ctx, userID, e.cfg.PendingBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending embeddings: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.Content
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	vectors, err := e.embedder.Embed(embedCtx, texts)
	if err != nil {
		return 0, &DependencyError{Dependency: "embeddings", Err: err}
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(pending), len(vectors))
	}

	idx := e.indexFor(userID)
	recovered := 0
	for i, m := range pending {
		if err := e.store.SetEmbedding(ctx, userID, m.ID, vectors[i]); err != nil {
			return recovered, err
		}
		idx.Upsert(ctx, m.ID, vectors[i], m.CreatedAt.UnixNano())
		recovered++
	}
	return recovered, nil
}

// RebuildIndex drops and reloads the user's vector index from the store.
func (e *Engine) RebuildIndex(ctx context.Context, userID string) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return e.reloadIndex(ctx, userID)
}

func (e *Engine) reloadIndex(ctx context.Context, userID string) error {
	idx := e.indexFor(userID)
	rows, err := e.store.EmbeddingRows(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	idx.Clear()
	for _, r := range rows {
		idx.Upsert(ctx, r.MemoryID, r.Embedding, r.CreatedAt.UnixNano())
	}
	e.mu.Lock()
	e.indexLoaded[userID] = true
	e.mu.Unlock()
	return nil
}

// PurgeUser erases all of a user's data: memories, relationships, audit
// log, vector index.
func (e *Engine) PurgeUser(ctx context.Context, userID string) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.PurgeUser(ctx, userID); err != nil {
		e.recordError(ctx, "purge_user", err)
		return err
	}

	e.mu.Lock()
	delete(e.indexes, userID)
	delete(e.indexLoaded, userID)
	delete(e.consolidating, userID)
	e.mu.Unlock()

	e.logger().Info("user data purged", "user_id", userID)
	return nil
}

// Users lists every user with at least one memory.
func (e *Engine) Users(ctx context.Context) ([]string, error) {
	return e.store.Users(ctx)
}

// CountMemories returns the number of live memories for the user.
func (e *Engine) CountMemories(ctx context.Context, userID string) (int64, error) {
	lock := e.userLock(userID)
	lock.RLock()
	defer lock.RUnlock()
	return e.store.CountMemories(ctx, userID)
}

func (e *Engine) recordError(ctx context.Context, operation string, err error) {
	e.metrics.RecordError(ctx, operation, ClassifyError(err))
}
