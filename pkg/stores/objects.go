package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/hashing"
)

// PutObject stores data under hash, which must be its content hash. Storing
// the same content twice is a no-op.
func (s *SQLiteStore) PutObject(ctx context.Context, hash string, data []byte) error {
	if hashing.Content(data) != hash {
		return engine.NewInvalidArgumentError("object hash does not match its content")
	}
	if data == nil {
		data = []byte{}
	}

	query := `
		INSERT OR IGNORE INTO objects (hash, data, size, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, hash, data, len(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// GetObject returns the bytes stored under hash.
func (s *SQLiteStore) GetObject(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM objects WHERE hash = ?", hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("object " + hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	if hashing.Content(data) != hash {
		return nil, engine.NewCacheCorruptError(hash, fmt.Errorf("object content does not match its hash"))
	}
	return data, nil
}

// HasObject reports whether an object with hash is stored.
func (s *SQLiteStore) HasObject(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM objects WHERE hash = ?", hash).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return n > 0, nil
}

// CollectGarbage deletes every object that no cache entry output and no
// remote object references. It returns the number of objects removed.
func (s *SQLiteStore) CollectGarbage(ctx context.Context) (int, error) {
	live := make(map[string]bool)

	entries, _, err := s.ListEntries(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Output != nil && e.Output.ContentHash != "" {
			live[e.Output.ContentHash] = true
		}
	}

	remotes, err := s.ListRemote(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range remotes {
		live[r.ContentHash] = true
	}

	hashes, err := s.objectHashes(ctx)
	if err != nil {
		return 0, err
	}

	var dead []string
	for _, h := range hashes {
		if !live[h] {
			dead = append(dead, h)
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "DELETE FROM objects WHERE hash = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", err)
		}
		defer stmt.Close()
		for _, h := range dead {
			if _, err := stmt.ExecContext(ctx, h); err != nil {
				return fmt.Errorf("failed to delete object: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(dead), nil
}

func (s *SQLiteStore) objectHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash FROM objects")
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan object hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
