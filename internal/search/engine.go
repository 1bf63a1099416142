package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediamind/mediamind/internal/analyze"
	"github.com/mediamind/mediamind/internal/store"
)

// candidateMultiplier widens the per-side fetch in hybrid mode so fusion
// has enough overlap to rank from.
const candidateMultiplier = 3

// Engine answers search queries against the metadata store and the vector
// index. It never writes to either.
type Engine struct {
	meta     store.MetadataStore
	vectors  store.VectorIndex
	analyzer analyze.Analyzer
	cfg      Config
	fusion   *RRFFusion
}

// NewEngine wires a search engine. The analyzer embeds query text for the
// semantic side; passing nil restricts the engine to keyword and tag modes
// (hybrid degrades to keyword-only).
func NewEngine(meta store.MetadataStore, vectors store.VectorIndex, analyzer analyze.Analyzer, cfg Config) (*Engine, error) {
	if meta == nil || vectors == nil {
		return nil, ErrNilDependency
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultConfig().MaxLimit
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.Weights.Keyword == 0 && cfg.Weights.Semantic == 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultConfig().SearchTimeout
	}
	return &Engine{
		meta:     meta,
		vectors:  vectors,
		analyzer: analyzer,
		cfg:      cfg,
		fusion:   NewRRFFusion(cfg.RRFConstant),
	}, nil
}

// Search runs one query in the requested mode. An empty result set is a
// valid answer, not an error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return &Response{Results: []*Result{}, Elapsed: time.Since(start)}, nil
	}

	limit := e.clampLimit(opts.Limit)
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	var (
		resp *Response
		err  error
	)
	switch mode {
	case ModeHybrid:
		resp, err = e.searchHybrid(ctx, query, limit, opts)
	case ModeKeyword:
		resp, err = e.searchKeyword(ctx, query, limit, opts.Filters)
	case ModeSemantic:
		resp, err = e.searchSemantic(ctx, query, limit, opts.Filters)
	case ModeTag:
		resp, err = e.searchTags(ctx, query, limit, opts.Filters)
	default:
		return nil, fmt.Errorf("unknown search mode: %q", mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Elapsed = time.Since(start)

	slog.Debug("search_complete",
		slog.String("mode", string(mode)),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Duration("elapsed", resp.Elapsed))

	return resp, nil
}

// searchHybrid runs keyword and semantic retrieval in parallel and fuses the
// rankings. If one side fails the other still answers, marked Degraded; only
// when both fail does the search error out.
func (e *Engine) searchHybrid(ctx context.Context, query string, limit int, opts Options) (*Response, error) {
	weights := e.cfg.Weights
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	candidates := limit * candidateMultiplier

	var (
		keyword     []store.KeywordResult
		keywordErr  error
		semantic    []store.VectorResult
		semanticErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keyword, keywordErr = e.meta.SearchKeyword(gctx, query, opts.Filters, candidates)
		return nil
	})
	g.Go(func() error {
		semantic, semanticErr = e.semanticCandidates(gctx, query, candidates, opts.Filters)
		return nil
	})
	_ = g.Wait()

	if keywordErr != nil && semanticErr != nil {
		return nil, errors.Join(
			fmt.Errorf("keyword search failed: %w", keywordErr),
			fmt.Errorf("semantic search failed: %w", semanticErr),
		)
	}

	resp := &Response{}
	switch {
	case keywordErr != nil:
		resp.Degraded = true
		resp.DegradedReason = fmt.Sprintf("keyword search unavailable: %v", keywordErr)
		slog.Warn("hybrid search degraded to semantic-only",
			slog.String("error", keywordErr.Error()))
	case semanticErr != nil:
		resp.Degraded = true
		resp.DegradedReason = fmt.Sprintf("semantic search unavailable: %v", semanticErr)
		slog.Warn("hybrid search degraded to keyword-only",
			slog.String("error", semanticErr.Error()))
	}

	fused := e.fusion.Fuse(keyword, semantic, weights)

	results, err := e.resolve(ctx, fused, opts.Filters, limit)
	if err != nil {
		return nil, err
	}
	resp.Results = results
	return resp, nil
}

// semanticCandidates embeds the query and searches the vector index.
func (e *Engine) semanticCandidates(ctx context.Context, query string, k int, filters store.Filters) ([]store.VectorResult, error) {
	if e.analyzer == nil {
		return nil, errors.New("no query embedder configured")
	}
	vec, err := e.analyzer.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Vector search can't push filters down, so over-fetch when filters
	// are set and let resolve() trim the misses.
	if !filters.Empty() {
		k *= candidateMultiplier
	}
	return e.vectors.Search(ctx, vec, k)
}

func (e *Engine) searchKeyword(ctx context.Context, query string, limit int, filters store.Filters) (*Response, error) {
	hits, err := e.meta.SearchKeyword(ctx, query, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	results, err := e.resolveSingle(ctx, hits, filters, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.KeywordScore = r.Score
	}
	return &Response{Results: results}, nil
}

func (e *Engine) searchSemantic(ctx context.Context, query string, limit int, filters store.Filters) (*Response, error) {
	hits, err := e.semanticCandidates(ctx, query, limit, filters)
	if err != nil {
		return nil, err
	}

	keyed := make([]store.KeywordResult, 0, len(hits))
	for _, h := range hits {
		keyed = append(keyed, store.KeywordResult{ID: h.ID, Score: h.Score})
	}
	results, err := e.resolveSingle(ctx, keyed, filters, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.SemanticScore = r.Score
	}
	return &Response{Results: results}, nil
}

// searchTags matches exact tags. The query is a comma- or space-separated
// tag list; records match by how many of the requested tags they carry.
func (e *Engine) searchTags(ctx context.Context, query string, limit int, filters store.Filters) (*Response, error) {
	tags := splitTags(query)
	if len(tags) == 0 {
		return &Response{Results: []*Result{}}, nil
	}

	hits, err := e.meta.SearchTags(ctx, tags, limit*candidateMultiplier)
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}
	results, err := e.resolveSingle(ctx, hits, filters, limit)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results}, nil
}

// FindSimilar returns up to k records nearest to the given record's
// embedding, excluding the record itself. The embedding comes from the
// vector index when present, falling back to the persisted copy in the
// metadata store.
func (e *Engine) FindSimilar(ctx context.Context, id string, k int) ([]*Result, error) {
	if k <= 0 {
		k = e.cfg.DefaultLimit
	}
	k = e.clampLimit(k)

	vec, ok := e.vectors.Vector(id)
	if !ok {
		stored, err := e.meta.GetEmbedding(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("record %s has no embedding: %w", id, store.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load embedding for %s: %w", id, err)
		}
		vec = stored
	}

	// Over-fetch by one so the source record can be dropped.
	hits, err := e.vectors.Search(ctx, vec, k+1)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	keyed := make([]store.KeywordResult, 0, len(hits))
	for _, h := range hits {
		if h.ID == id {
			continue
		}
		keyed = append(keyed, store.KeywordResult{ID: h.ID, Score: h.Score})
	}
	results, err := e.resolveSingle(ctx, keyed, store.Filters{}, k)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.SemanticScore = r.Score
	}
	return results, nil
}

// resolve turns fused candidates into full results: fetch records, apply
// post-hoc filters (the semantic side can't filter in the index) and cut to
// the limit. Records deleted between ranking and fetch are skipped.
func (e *Engine) resolve(ctx context.Context, fused []*FusedResult, filters store.Filters, limit int) ([]*Result, error) {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}

	records, err := e.meta.GetRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	byID := make(map[string]*store.MediaRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	results := make([]*Result, 0, limit)
	for _, f := range fused {
		rec, ok := byID[f.ID]
		if !ok {
			continue
		}
		if !filters.Match(rec) {
			continue
		}
		results = append(results, &Result{
			Record:        rec,
			Score:         f.RRFScore,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			InBoth:        f.InBothLists,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// resolveSingle is resolve for single-mode rankings: scores are normalized
// so the top result is 1.0.
func (e *Engine) resolveSingle(ctx context.Context, hits []store.KeywordResult, filters store.Filters, limit int) ([]*Result, error) {
	if len(hits) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	records, err := e.meta.GetRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	byID := make(map[string]*store.MediaRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	maxScore := 0.0
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	results := make([]*Result, 0, limit)
	for _, h := range hits {
		rec, ok := byID[h.ID]
		if !ok {
			continue
		}
		if !filters.Match(rec) {
			continue
		}
		score := h.Score
		if maxScore > 0 {
			score = h.Score / maxScore
		}
		results = append(results, &Result{Record: rec, Score: score})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return limit
}

// splitTags parses a tag query: comma- or whitespace-separated, lowercased,
// deduplicated.
func splitTags(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]struct{}, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		tag := strings.ToLower(strings.TrimSpace(f))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
