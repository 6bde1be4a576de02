package mnemo

import (
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/pkg/search"
)

// Config holds configuration for the memory engine.
type Config struct {
	// Path to the SQLite database file. ":memory:" works for tests.
	DBPath string

	// OpenAI API key for embeddings and summarization. Ignored when
	// explicit clients are injected via engine options.
	OpenAIKey string

	// Embedding model (default: "text-embedding-3-small")
	EmbeddingModel string

	// Summarization model (default: "gpt-4o-mini")
	SummaryModel string

	// Retrieval blend weights. Zero value uses search.DefaultWeights.
	Weights search.Weights

	// Half-life driving the recency factor (default: 30 days)
	RecencyHalfLife time.Duration

	// Minimum blended score for a retrieval result (default: 0)
	MinScore float64

	// Minimum pairwise similarity for two memories to join a
	// consolidation group (default: 0.75)
	ConsolidationSimilarity float64

	// Largest consolidation group; bigger components are trimmed to the
	// most coherent members (default: 8)
	MaxGroupSize int

	// Consolidation groups applied per maintenance run (default: 3)
	MaxConsolidations int

	// Importance multiplier applied on decay, in [0.5, 0.95]
	// (default: 0.9)
	DecayFactor float64

	// Memories younger or reinforced more recently than this never decay
	// (default: 30 days)
	DecayMinAge time.Duration

	// Memories decayed per maintenance run (default: 5)
	MaxDecaysPerRun int

	// Timeout for one embedding call (default: 10s)
	EmbedTimeout time.Duration

	// Timeout for one consolidation summary (default: 30s)
	SummarizeTimeout time.Duration

	// Batch size when retrying pending embeddings (default: 50)
	PendingBatchSize int
}

// DefaultConfig returns a config with every knob at its default.
func DefaultConfig() Config {
	return Config{
		Weights:                 search.DefaultWeights(),
		RecencyHalfLife:         30 * 24 * time.Hour,
		ConsolidationSimilarity: 0.75,
		MaxGroupSize:            8,
		MaxConsolidations:       3,
		DecayFactor:             0.9,
		DecayMinAge:             30 * 24 * time.Hour,
		MaxDecaysPerRun:         5,
		EmbedTimeout:            10 * time.Second,
		SummarizeTimeout:        30 * time.Second,
		PendingBatchSize:        50,
	}
}

// applyDefaults fills zero-valued fields in place.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	zero := search.Weights{}
	if c.Weights == zero {
		c.Weights = d.Weights
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = d.RecencyHalfLife
	}
	if c.ConsolidationSimilarity == 0 {
		c.ConsolidationSimilarity = d.ConsolidationSimilarity
	}
	if c.MaxGroupSize <= 0 {
		c.MaxGroupSize = d.MaxGroupSize
	}
	if c.MaxConsolidations <= 0 {
		c.MaxConsolidations = d.MaxConsolidations
	}
	if c.DecayFactor == 0 {
		c.DecayFactor = d.DecayFactor
	}
	if c.DecayMinAge <= 0 {
		c.DecayMinAge = d.DecayMinAge
	}
	if c.MaxDecaysPerRun <= 0 {
		c.MaxDecaysPerRun = d.MaxDecaysPerRun
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = d.SummarizeTimeout
	}
	if c.PendingBatchSize <= 0 {
		c.PendingBatchSize = d.PendingBatchSize
	}
}

// Validate reports the first configuration error, if any.
func (c *Config) Validate() error {
	if !c.Weights.Valid() {
		return &ValidationError{Field: "weights", Reason: "must be non-negative and sum to 1.0"}
	}
	if c.ConsolidationSimilarity < 0 || c.ConsolidationSimilarity > 1 {
		return &ValidationError{Field: "consolidation_similarity", Reason: "must be between 0.0 and 1.0"}
	}
	if c.DecayFactor < 0.5 || c.DecayFactor > 0.95 {
		return &ValidationError{Field: "decay_factor", Reason: fmt.Sprintf("must be between 0.5 and 0.95, got %g", c.DecayFactor)}
	}
	if c.MaxGroupSize < 2 {
		return &ValidationError{Field: "max_group_size", Reason: "must be at least 2"}
	}
	return nil
}
