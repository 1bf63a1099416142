package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamind/mediamind/internal/analyze"
	"github.com/mediamind/mediamind/internal/store"
)

// stubEmbedder satisfies analyze.Analyzer for query embedding. Analyze is
// never called by the engine.
type stubEmbedder struct {
	queryVec []float32
	err      error
}

func (s *stubEmbedder) Analyze(ctx context.Context, path string, fileType store.FileType) (*analyze.Analysis, error) {
	return nil, errors.New("not used in search")
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.EmbedQuery(ctx, text)
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.queryVec, nil
}

func (s *stubEmbedder) Dimensions() int    { return 3 }
func (s *stubEmbedder) EmbedModel() string { return "stub-embed" }
func (s *stubEmbedder) Close() error       { return nil }

type engineFixture struct {
	meta     *store.SQLiteStore
	vectors  *store.HNSWIndex
	embedder *stubEmbedder
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors, err := store.NewHNSWIndex(store.HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	embedder := &stubEmbedder{queryVec: []float32{1, 0, 0}}
	engine, err := NewEngine(meta, vectors, embedder, DefaultConfig())
	require.NoError(t, err)

	return &engineFixture{meta: meta, vectors: vectors, embedder: embedder, engine: engine}
}

// seed inserts an indexed record with an optional vector.
func (f *engineFixture) seed(t *testing.T, id, description string, tags []string, vec []float32) {
	t.Helper()
	ctx := context.Background()

	rec := &store.MediaRecord{
		ID:          id,
		Path:        "/media/" + id + ".jpg",
		FileType:    store.FileTypeImage,
		Size:        1,
		ModTime:     time.Now().Truncate(time.Second),
		Description: description,
		Tags:        tags,
		Indexed:     true,
	}
	require.NoError(t, f.meta.UpsertRecord(ctx, rec))
	if vec != nil {
		require.NoError(t, f.vectors.Upsert(ctx, id, vec))
	}
}

func TestSearchKeywordMode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "a", "sunset over the ocean", nil, nil)
	f.seed(t, "b", "city skyline at night", nil, nil)

	resp, err := f.engine.Search(ctx, "sunset", Options{Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].Record.ID)
	assert.Equal(t, 1.0, resp.Results[0].Score, "single-mode scores are normalized")
	assert.False(t, resp.Degraded)
}

func TestSearchTagMode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "a", "family dinner", []string{"family", "dinner"}, nil)
	f.seed(t, "b", "office party", []string{"office"}, nil)

	resp, err := f.engine.Search(ctx, "family, dinner", Options{Mode: ModeTag})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].Record.ID)
}

func TestSearchSemanticMode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "near", "completely unrelated words", nil, []float32{0.99, 0.1, 0})
	f.seed(t, "far", "also unrelated", nil, []float32{0, 1, 0})

	f.embedder.queryVec = []float32{1, 0, 0}
	resp, err := f.engine.Search(ctx, "anything", Options{Mode: ModeSemantic, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "near", resp.Results[0].Record.ID)
	assert.Greater(t, resp.Results[0].SemanticScore, 0.0)
}

func TestSearchHybridOverlapWins(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// "both" matches the query text AND sits nearest the query vector.
	f.seed(t, "both", "golden retriever on the beach", nil, []float32{1, 0, 0})
	f.seed(t, "kwonly", "golden gate bridge", nil, []float32{0, 1, 0})
	f.seed(t, "semonly", "unrelated description", nil, []float32{0.9, 0.2, 0})

	f.embedder.queryVec = []float32{1, 0, 0}
	resp, err := f.engine.Search(ctx, "golden", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	assert.Equal(t, "both", resp.Results[0].Record.ID)
	assert.True(t, resp.Results[0].InBoth)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.False(t, resp.Degraded)
}

func TestSearchHybridDegradesToKeyword(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "a", "sunset over the ocean", nil, nil)
	f.embedder.err = errors.New("ollama unreachable")

	resp, err := f.engine.Search(ctx, "sunset", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReason, "semantic search unavailable")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].Record.ID)
}

func TestSearchHybridWithoutEmbedder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	engine, err := NewEngine(f.meta, f.vectors, nil, DefaultConfig())
	require.NoError(t, err)

	f.seed(t, "a", "sunset over the ocean", nil, nil)

	resp, err := engine.Search(ctx, "sunset", Options{Mode: ModeHybrid})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newEngineFixture(t)

	resp, err := f.engine.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchUnknownMode(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Search(context.Background(), "x", Options{Mode: "telepathic"})
	assert.Error(t, err)
}

func TestSearchLimitClamped(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.seed(t, string(rune('a'+i)), "repeated sunset photo", nil, nil)
	}

	resp, err := f.engine.Search(ctx, "sunset", Options{Mode: ModeKeyword, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	// Limits above MaxLimit are capped, not rejected.
	resp, err = f.engine.Search(ctx, "sunset", Options{Mode: ModeKeyword, Limit: 10_000})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
}

func TestSemanticFiltersPostHoc(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "img", "whatever", nil, []float32{1, 0, 0})

	doc := &store.MediaRecord{
		ID:          "doc",
		Path:        "/media/doc.pdf",
		FileType:    store.FileTypeDocument,
		Size:        1,
		ModTime:     time.Now().Truncate(time.Second),
		Description: "whatever",
		Indexed:     true,
	}
	require.NoError(t, f.meta.UpsertRecord(ctx, doc))
	require.NoError(t, f.vectors.Upsert(ctx, "doc", []float32{0.99, 0.1, 0}))

	resp, err := f.engine.Search(ctx, "anything", Options{
		Mode:    ModeSemantic,
		Filters: store.Filters{FileType: store.FileTypeDocument},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc", resp.Results[0].Record.ID)
}

func TestFindSimilar(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seed(t, "src", "source image", nil, []float32{1, 0, 0})
	f.seed(t, "near", "nearby image", nil, []float32{0.95, 0.05, 0})
	f.seed(t, "far", "distant image", nil, []float32{0, 1, 0})

	results, err := f.engine.FindSimilar(ctx, "src", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The source record itself is excluded.
	for _, r := range results {
		assert.NotEqual(t, "src", r.Record.ID)
	}
	assert.Equal(t, "near", results[0].Record.ID)
}

func TestFindSimilarFallsBackToPersistedEmbedding(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// src has a persisted embedding but no live vector (demoted record).
	f.seed(t, "src", "source image", nil, nil)
	require.NoError(t, f.meta.SaveEmbedding(ctx, "src", []float32{1, 0, 0}, "stub-embed"))
	f.seed(t, "near", "nearby image", nil, []float32{0.95, 0.05, 0})

	results, err := f.engine.FindSimilar(ctx, "src", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Record.ID)
}

func TestFindSimilarNoEmbedding(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.FindSimilar(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewEngineNilDependency(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"dog", "beach"}, splitTags("Dog, beach"))
	assert.Equal(t, []string{"dog"}, splitTags("dog dog DOG"))
	assert.Empty(t, splitTags(" ,, "))
}
