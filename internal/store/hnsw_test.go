package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(HNSWConfig{Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWUpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, "c", []float32{0.9, 0.1, 0}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestHNSWUpsertReplaces(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{0, 1, 0}))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestHNSWRemove(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0}))

	require.NoError(t, idx.Remove(ctx, "a"))
	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 1, idx.Count())

	// Removed ids never surface in search, even though the graph node
	// lingers.
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}

	// Removing an absent id is a no-op.
	require.NoError(t, idx.Remove(ctx, "a", "never-existed"))
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	err := idx.Upsert(ctx, "a", []float32{1, 0})
	assert.True(t, IsDimensionMismatch(err))

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}))
	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.True(t, IsDimensionMismatch(err))
}

func TestHNSWAdoptsFirstDimension(t *testing.T) {
	idx := newTestIndex(t, 0)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}))
	err := idx.Upsert(ctx, "b", []float32{1, 0})
	assert.True(t, IsDimensionMismatch(err))
}

func TestHNSWVector(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{2, 0, 0}))

	vec, ok := idx.Vector("a")
	require.True(t, ok)
	// Stored vectors are normalized.
	assert.InDelta(t, 1.0, float64(vec[0]), 1e-5)

	_, ok = idx.Vector("missing")
	assert.False(t, ok)
}

func TestHNSWSearchEmpty(t *testing.T) {
	idx := newTestIndex(t, 3)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewHNSWIndex(HNSWConfig{Path: path, Dimensions: 3})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reloaded, err := NewHNSWIndex(HNSWConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = reloaded.Close() }()

	assert.Equal(t, 2, reloaded.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, reloaded.AllIDs())

	results, err := reloaded.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWClosed(t *testing.T) {
	idx := newTestIndex(t, 3)
	ctx := context.Background()
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close()) // idempotent

	assert.ErrorIs(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}), ErrClosed)
	_, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, idx.Contains("a"))
}
