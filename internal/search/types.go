// Package search implements hybrid retrieval over the metadata store and
// the vector index: keyword, semantic, tag and fused hybrid modes.
package search

import (
	"errors"
	"time"

	"github.com/mediamind/mediamind/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeHybrid fuses keyword and semantic rankings with weighted RRF.
	ModeHybrid Mode = "hybrid"
	// ModeKeyword queries the FTS5 index only.
	ModeKeyword Mode = "keyword"
	// ModeSemantic queries the vector index only.
	ModeSemantic Mode = "semantic"
	// ModeTag matches exact tags.
	ModeTag Mode = "tag"
)

// Weights balances the two rankings in hybrid mode. Must sum to 1.0.
// With KeywordWeight >= SemanticWeight, a record matching the query
// literally always outranks a semantic-only match at the same rank.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights is the balanced default.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.5, Semantic: 0.5}
}

// Options tunes a single search call.
type Options struct {
	// Mode defaults to ModeHybrid.
	Mode Mode
	// Limit defaults to the engine's DefaultLimit and is capped at
	// MaxLimit.
	Limit int
	// Filters narrow results by structured fields.
	Filters store.Filters
	// Weights overrides the engine's hybrid weights for this call.
	Weights *Weights
}

// Result is one ranked hit.
type Result struct {
	Record *store.MediaRecord `json:"record"`
	// Score is the fused (or single-mode) relevance, normalized so the
	// top result is 1.0.
	Score float64 `json:"score"`
	// KeywordScore is the raw BM25-derived score, 0 when the record was
	// not in the keyword ranking.
	KeywordScore float64 `json:"keyword_score"`
	// SemanticScore is the cosine similarity, 0 when the record was not
	// in the semantic ranking.
	SemanticScore float64 `json:"semantic_score"`
	// InBoth marks records found by both rankings.
	InBoth bool `json:"in_both"`
}

// Response is a complete search outcome. Empty Results is a valid outcome,
// not an error.
type Response struct {
	Results []*Result `json:"results"`
	// Degraded is set when hybrid mode lost one of its sides and answered
	// from the other alone.
	Degraded bool `json:"degraded,omitempty"`
	// DegradedReason says which side failed and why.
	DegradedReason string `json:"degraded_reason,omitempty"`
	// Elapsed is the total search duration.
	Elapsed time.Duration `json:"elapsed"`
}

// Config configures the engine.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// RRFConstant is the rank-fusion smoothing parameter (k).
	RRFConstant int
	Weights     Weights
	// SearchTimeout bounds one search call end to end.
	SearchTimeout time.Duration
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:  10,
		MaxLimit:      100,
		RRFConstant:   60,
		Weights:       DefaultWeights(),
		SearchTimeout: 5 * time.Second,
	}
}

// ErrNilDependency is returned when the engine is constructed without a
// required collaborator.
var ErrNilDependency = errors.New("search: nil dependency")
