package search

import (
	"sort"

	"github.com/mediamind/mediamind/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter, empirically
// validated across domains.
const DefaultRRFConstant = 60

// FusedResult is a single hit after rank fusion.
type FusedResult struct {
	ID            string
	RRFScore      float64 // combined score, normalized 0-1
	KeywordScore  float64 // original BM25-derived score (preserved)
	KeywordRank   int     // position in keyword list (1-indexed, 0 if absent)
	SemanticScore float64 // original cosine similarity (preserved)
	SemanticRank  int     // position in semantic list (1-indexed, 0 if absent)
	InBothLists   bool
}

// RRFFusion combines keyword and semantic rankings using weighted
// Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//   - weight_i = weight for search source i
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fusion instance. k <= 0 defaults to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines the two rankings. Records appearing in only one list take
// missing_rank = max(len(keyword), len(semantic)) + 1 for the other side's
// contribution, so one strong ranking cannot be erased by absence from the
// other.
//
// Sorted by: RRFScore (desc) → InBothLists (true first) → KeywordScore
// (desc) → ID (asc). The keyword tie-break guarantees a literal match wins
// over a semantic-only match of equal fused score whenever the keyword
// weight is at least the semantic weight.
func (f *RRFFusion) Fuse(keyword []store.KeywordResult, semantic []store.VectorResult, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(semantic) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(semantic))

	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.ID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.RRFScore += weights.Keyword / float64(f.K+rank+1)
	}

	for rank, r := range semantic {
		result := f.getOrCreate(scores, r.ID)
		result.SemanticScore = r.Score
		result.SemanticRank = rank + 1
		result.RRFScore += weights.Semantic / float64(f.K+rank+1)

		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	missingRank := f.missingRank(len(keyword), len(semantic))
	for _, r := range scores {
		if r.KeywordRank == 0 && r.SemanticRank > 0 {
			r.RRFScore += weights.Keyword / float64(f.K+missingRank)
		}
		if r.SemanticRank == 0 && r.KeywordRank > 0 {
			r.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	results := f.toSortedSlice(scores)
	f.normalize(results)
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ID: id}
	m[id] = r
	return r
}

// missingRank penalizes records absent from one list.
func (f *RRFFusion) missingRank(keywordLen, semanticLen int) int {
	if keywordLen > semanticLen {
		return keywordLen + 1
	}
	return semanticLen + 1
}

func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare implements deterministic ordering.
//
// Priority:
//  1. Higher RRF score
//  2. In both lists (true before false)
//  3. Higher keyword score (literal match indicator)
//  4. Lexicographically smaller ID (deterministic)
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.ID < b.ID
}

// normalize scales scores so the top result is 1.0.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore = r.RRFScore / maxScore
	}
}
