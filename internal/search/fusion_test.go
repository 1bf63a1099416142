package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamind/mediamind/internal/store"
)

func TestFuseEmpty(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse(nil, nil, DefaultWeights())
	assert.Empty(t, results)
}

func TestFuseOverlapWins(t *testing.T) {
	f := NewRRFFusion(60)

	keyword := []store.KeywordResult{
		{ID: "a", Score: 5.0},
		{ID: "b", Score: 3.0},
	}
	semantic := []store.VectorResult{
		{ID: "b", Score: 0.9},
		{ID: "c", Score: 0.8},
	}

	results := f.Fuse(keyword, semantic, DefaultWeights())
	require.Len(t, results, 3)

	// b appears in both lists and outranks the single-list entries.
	assert.Equal(t, "b", results[0].ID)
	assert.True(t, results[0].InBothLists)
	assert.Equal(t, 1.0, results[0].RRFScore, "top score is normalized to 1.0")

	// a (keyword rank 1) beats c (semantic rank 2 only).
	assert.Equal(t, "a", results[1].ID)
	assert.Equal(t, "c", results[2].ID)

	// Original scores are preserved through fusion.
	assert.Equal(t, 3.0, results[0].KeywordScore)
	assert.Equal(t, 0.9, results[0].SemanticScore)
	assert.Equal(t, 1, results[0].SemanticRank)
	assert.Equal(t, 2, results[0].KeywordRank)
}

func TestFuseMissingRankPenalty(t *testing.T) {
	f := NewRRFFusion(60)

	// One list much longer than the other: the missing-rank contribution
	// uses max(len)+1, so a strong single-list hit is not erased.
	keyword := []store.KeywordResult{
		{ID: "k1", Score: 10},
		{ID: "k2", Score: 9},
		{ID: "k3", Score: 8},
		{ID: "k4", Score: 7},
	}
	semantic := []store.VectorResult{
		{ID: "s1", Score: 0.99},
	}

	results := f.Fuse(keyword, semantic, DefaultWeights())
	require.Len(t, results, 5)

	// k1: 0.5/61 + 0.5/65 vs s1: 0.5/61 + 0.5/65 - identical totals, so the
	// keyword-score tie-break decides.
	assert.Equal(t, "k1", results[0].ID)
	assert.Equal(t, "s1", results[1].ID)
	for _, r := range results {
		assert.Greater(t, r.RRFScore, 0.0)
	}
}

func TestFuseWeightsShiftRanking(t *testing.T) {
	f := NewRRFFusion(60)

	keyword := []store.KeywordResult{{ID: "kw", Score: 5}}
	semantic := []store.VectorResult{{ID: "sem", Score: 0.9}}

	// Heavy semantic weighting puts the semantic hit first.
	results := f.Fuse(keyword, semantic, Weights{Keyword: 0.1, Semantic: 0.9})
	require.Len(t, results, 2)
	assert.Equal(t, "sem", results[0].ID)

	// Heavy keyword weighting flips it.
	results = f.Fuse(keyword, semantic, Weights{Keyword: 0.9, Semantic: 0.1})
	assert.Equal(t, "kw", results[0].ID)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewRRFFusion(60)

	// Two semantic-only hits at equal rank contributions resolve by ID.
	semantic := []store.VectorResult{
		{ID: "z", Score: 0.5},
		{ID: "a", Score: 0.5},
	}

	r1 := f.Fuse(nil, semantic, DefaultWeights())
	r2 := f.Fuse(nil, semantic, DefaultWeights())
	require.Len(t, r1, 2)

	// List position drives the score, so z (rank 1) leads both times even
	// though the map iteration order varies.
	assert.Equal(t, "z", r1[0].ID)
	assert.Equal(t, r1[0].ID, r2[0].ID)
	assert.Equal(t, r1[1].ID, r2[1].ID)
}

func TestFuseKeywordOnlyDegraded(t *testing.T) {
	f := NewRRFFusion(60)

	keyword := []store.KeywordResult{
		{ID: "a", Score: 5},
		{ID: "b", Score: 4},
	}

	results := f.Fuse(keyword, nil, DefaultWeights())
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 1.0, results[0].RRFScore)
	assert.False(t, results[0].InBothLists)
}

func TestNewRRFFusionDefaultK(t *testing.T) {
	f := NewRRFFusion(0)
	assert.Equal(t, DefaultRRFConstant, f.K)
}
