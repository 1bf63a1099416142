package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateCollection creates a named collection and returns it. Names are
// unique; creating an existing name fails.
func (s *SQLiteStore) CreateCollection(ctx context.Context, name, description string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, description, created_at) VALUES (?, ?, ?)`,
		name, description, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read collection id: %w", err)
	}

	return &Collection{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

// GetCollection returns the collection with the given name, or ErrNotFound.
func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	c := &Collection{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM collection_items ci WHERE ci.collection_id = c.id)
		FROM collections c WHERE c.name = ?`, name).
		Scan(&c.ID, &c.Name, &c.Description, &createdAt, &c.ItemCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return c, nil
}

// ListCollections returns all collections with item counts, name-sorted.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM collection_items ci WHERE ci.collection_id = c.id)
		FROM collections c ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		c := &Collection{}
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &createdAt, &c.ItemCount); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// DeleteCollection removes a collection and its memberships. The media
// records themselves are untouched.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM collection_items
		WHERE collection_id IN (SELECT id FROM collections WHERE name = ?)`, name); err != nil {
		return fmt.Errorf("failed to clear collection %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// AddToCollection links a media record into a collection. Both must exist.
func (s *SQLiteStore) AddToCollection(ctx context.Context, name, mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_files WHERE id = ?`, mediaID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check record %s: %w", mediaID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO collection_items (collection_id, media_id, added_at)
		SELECT id, ?, ? FROM collections WHERE name = ?`,
		mediaID, time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("failed to add %s to collection %q: %w", mediaID, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the collection doesn't exist or the item is already in it.
		if _, err := s.collectionIDLocked(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromCollection unlinks a media record from a collection.
func (s *SQLiteStore) RemoveFromCollection(ctx context.Context, name, mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM collection_items
		WHERE media_id = ?
		  AND collection_id IN (SELECT id FROM collections WHERE name = ?)`, mediaID, name)
	if err != nil {
		return fmt.Errorf("failed to remove %s from collection %q: %w", mediaID, name, err)
	}
	return nil
}

// CollectionItems returns the record ids in a collection, ordered by when
// they were added.
func (s *SQLiteStore) CollectionItems(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	if _, err := s.collectionIDLocked(ctx, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.media_id FROM collection_items ci
		JOIN collections c ON c.id = ci.collection_id
		WHERE c.name = ?
		ORDER BY ci.added_at, ci.media_id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %q: %w", name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan collection item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) collectionIDLocked(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM collections WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up collection %q: %w", name, err)
	}
	return id, nil
}
