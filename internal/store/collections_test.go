package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	col, err := s.CreateCollection(ctx, "vacation-2026", "summer trip")
	require.NoError(t, err)
	assert.Equal(t, "vacation-2026", col.Name)
	assert.Equal(t, "summer trip", col.Description)

	// Duplicate names are rejected.
	_, err = s.CreateCollection(ctx, "vacation-2026", "")
	assert.Error(t, err)

	got, err := s.GetCollection(ctx, "vacation-2026")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.ItemCount)

	require.NoError(t, s.DeleteCollection(ctx, "vacation-2026"))
	_, err = s.GetCollection(ctx, "vacation-2026")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteCollection(ctx, "vacation-2026"), ErrNotFound)
}

func TestCollectionMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord("id1", "/a.jpg")))
	require.NoError(t, s.UpsertRecord(ctx, testRecord("id2", "/b.jpg")))

	_, err := s.CreateCollection(ctx, "pets", "")
	require.NoError(t, err)

	require.NoError(t, s.AddToCollection(ctx, "pets", "id1"))
	require.NoError(t, s.AddToCollection(ctx, "pets", "id2"))
	// Adding twice is a no-op.
	require.NoError(t, s.AddToCollection(ctx, "pets", "id1"))

	col, err := s.GetCollection(ctx, "pets")
	require.NoError(t, err)
	assert.Equal(t, int64(2), col.ItemCount)

	ids, err := s.CollectionItems(ctx, "pets")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id1", "id2"}, ids)

	require.NoError(t, s.RemoveFromCollection(ctx, "pets", "id1"))
	ids, err = s.CollectionItems(ctx, "pets")
	require.NoError(t, err)
	assert.Equal(t, []string{"id2"}, ids)
}

func TestAddToCollectionValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord("id1", "/a.jpg")))

	// Unknown record.
	_, err := s.CreateCollection(ctx, "pets", "")
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddToCollection(ctx, "pets", "missing"), ErrNotFound)

	// Unknown collection.
	assert.ErrorIs(t, s.AddToCollection(ctx, "missing", "id1"), ErrNotFound)
}

func TestDeleteRecordRemovesFromCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord("id1", "/a.jpg")))
	_, err := s.CreateCollection(ctx, "pets", "")
	require.NoError(t, err)
	require.NoError(t, s.AddToCollection(ctx, "pets", "id1"))

	require.NoError(t, s.DeleteRecord(ctx, "id1"))

	ids, err := s.CollectionItems(ctx, "pets")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// The collection itself survives.
	_, err = s.GetCollection(ctx, "pets")
	require.NoError(t, err)
}
