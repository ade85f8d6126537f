package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetRemote returns the cached metadata for url, or nil if it was never fetched.
func (s *SQLiteStore) GetRemote(ctx context.Context, url string) (*RemoteObject, error) {
	query := `
		SELECT url, etag, content_hash, fetched_at, expires_at
		FROM remote_objects
		WHERE url = ?
	`

	obj := &RemoteObject{}
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&obj.URL, &obj.ETag, &obj.ContentHash, &obj.FetchedAt, &obj.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote object: %w", err)
	}
	return obj, nil
}

// PutRemote inserts or replaces the metadata for obj.URL.
func (s *SQLiteStore) PutRemote(ctx context.Context, obj *RemoteObject) error {
	query := `
		INSERT INTO remote_objects (url, etag, content_hash, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			etag = excluded.etag,
			content_hash = excluded.content_hash,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		obj.URL, obj.ETag, obj.ContentHash, obj.FetchedAt.UTC(), obj.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put remote object: %w", err)
	}
	return nil
}

// ListRemote returns all cached remote metadata ordered by URL.
func (s *SQLiteStore) ListRemote(ctx context.Context) ([]*RemoteObject, error) {
	query := `
		SELECT url, etag, content_hash, fetched_at, expires_at
		FROM remote_objects
		ORDER BY url
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote objects: %w", err)
	}
	defer rows.Close()

	var objs []*RemoteObject
	for rows.Next() {
		obj := &RemoteObject{}
		if err := rows.Scan(&obj.URL, &obj.ETag, &obj.ContentHash, &obj.FetchedAt, &obj.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan remote object: %w", err)
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate remote objects: %w", err)
	}
	return objs, nil
}
