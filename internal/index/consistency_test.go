package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamind/mediamind/internal/store"
)

func consistencyFixture(t *testing.T) (*store.SQLiteStore, *store.HNSWIndex, *ConsistencyChecker) {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors, err := store.NewHNSWIndex(store.HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	checker, err := NewConsistencyChecker(meta, meta, vectors)
	require.NoError(t, err)
	return meta, vectors, checker
}

func indexedRecord(id string) *store.MediaRecord {
	return &store.MediaRecord{
		ID:          id,
		Path:        "/media/" + id + ".jpg",
		FileType:    store.FileTypeImage,
		Size:        1,
		ModTime:     time.Now().Truncate(time.Second),
		Description: "record " + id,
		Indexed:     true,
	}
}

func TestCheckConsistent(t *testing.T) {
	meta, vectors, checker := consistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, meta.UpsertRecord(ctx, indexedRecord("a")))
	require.NoError(t, vectors.Upsert(ctx, "a", []float32{1, 0, 0}))

	report, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestRepairDanglingVector(t *testing.T) {
	_, vectors, checker := consistencyFixture(t)
	ctx := context.Background()

	// A vector with no record behind it.
	require.NoError(t, vectors.Upsert(ctx, "orphan", []float32{1, 0, 0}))

	report, err := checker.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, report.DanglingVectors)
	assert.False(t, vectors.Contains("orphan"))

	// Re-check: now consistent.
	report, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestRepairRestoresFromPersistedEmbedding(t *testing.T) {
	meta, vectors, checker := consistencyFixture(t)
	ctx := context.Background()

	// Indexed record with a persisted embedding but no graph entry: the
	// crash window between the store writes and the vector insert.
	require.NoError(t, meta.UpsertRecord(ctx, indexedRecord("a")))
	require.NoError(t, meta.SaveEmbedding(ctx, "a", []float32{0, 1, 0}, "fake-embed"))

	report, err := checker.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Restored)
	assert.Zero(t, report.Demoted)
	assert.True(t, vectors.Contains("a"))

	// The record stays indexed.
	rec, err := meta.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.Indexed)
}

func TestRepairDemotesWithoutEmbedding(t *testing.T) {
	meta, vectors, checker := consistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, meta.UpsertRecord(ctx, indexedRecord("a")))

	report, err := checker.Repair(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Restored)
	assert.Equal(t, 1, report.Demoted)
	assert.False(t, vectors.Contains("a"))

	rec, err := meta.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.False(t, rec.Indexed, "demoted record is re-analyzed next scan")
}

func TestRepairForgetsOrphanFingerprint(t *testing.T) {
	meta, _, checker := consistencyFixture(t)
	ctx := context.Background()

	// A fingerprint with no record: a record write failed after the
	// fingerprint was stored. Left in place it would classify the file as
	// unchanged on every later scan.
	path := "/media/lost.jpg"
	require.NoError(t, meta.Put(ctx, &store.Fingerprint{
		Path:    path,
		Size:    5,
		ModTime: time.Now().Truncate(time.Second),
	}))

	report, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{path}, report.OrphanFingerprints)

	report, err = checker.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ForgottenFingerprints)

	_, err = meta.Get(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)

	report, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestUnindexedRecordKeepsFingerprint(t *testing.T) {
	meta, _, checker := consistencyFixture(t)
	ctx := context.Background()

	// A demoted record legitimately keeps its fingerprint: the file is
	// re-analyzed, not re-detected.
	rec := indexedRecord("a")
	rec.ID = GenerateFileID(rec.Path)
	rec.Indexed = false
	require.NoError(t, meta.UpsertRecord(ctx, rec))
	require.NoError(t, meta.Put(ctx, &store.Fingerprint{
		Path:    rec.Path,
		Size:    rec.Size,
		ModTime: rec.ModTime,
	}))

	report, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.OrphanFingerprints)
	assert.True(t, report.Consistent())
}

func TestNewConsistencyCheckerNilDependency(t *testing.T) {
	_, err := NewConsistencyChecker(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}
