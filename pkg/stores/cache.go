package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// GetEntry returns the cache entry stored under key, or nil if there is none.
// Rows that fail to decode yield a CACHE_CORRUPT error.
func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*engine.CacheEntry, error) {
	query := `
		SELECT key, identity, script_hash, args_hash, trace, output, updated_at
		FROM cache_entries
		WHERE key = ?
	`

	var r entryRow
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&r.key, &r.identity, &r.scriptHash, &r.argsHash, &r.trace, &r.output, &r.updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return r.decode()
}

// PutEntry atomically replaces the entry stored under entry.Key.
func (s *SQLiteStore) PutEntry(ctx context.Context, entry *engine.CacheEntry) error {
	identity, err := json.Marshal(entry.Identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	trace, err := json.Marshal(entry.Trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	var output sql.NullString
	if entry.Output != nil {
		data, err := json.Marshal(entry.Output)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO cache_entries (key, script, identity, script_hash, args_hash, trace, output, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			script = excluded.script,
			identity = excluded.identity,
			script_hash = excluded.script_hash,
			args_hash = excluded.args_hash,
			trace = excluded.trace,
			output = excluded.output,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.Key,
		entry.Identity.Script,
		string(identity),
		entry.ScriptHash,
		entry.ArgsHash,
		string(trace),
		output,
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// ListEntries returns every decodable cache entry ordered by key. Corrupt rows
// are skipped and counted.
func (s *SQLiteStore) ListEntries(ctx context.Context) ([]*engine.CacheEntry, int, error) {
	query := `
		SELECT key, identity, script_hash, args_hash, trace, output, updated_at
		FROM cache_entries
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*engine.CacheEntry
	corrupt := 0
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(&r.key, &r.identity, &r.scriptHash, &r.argsHash, &r.trace, &r.output, &r.updatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entry, err := r.decode()
		if err != nil {
			corrupt++
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate cache entries: %w", err)
	}

	return entries, corrupt, nil
}

// EntriesForScript returns the entries of every task run from script.
func (s *SQLiteStore) EntriesForScript(ctx context.Context, script string) ([]*engine.CacheEntry, error) {
	query := `
		SELECT key, identity, script_hash, args_hash, trace, output, updated_at
		FROM cache_entries
		WHERE script = ?
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query, script)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*engine.CacheEntry
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(&r.key, &r.identity, &r.scriptHash, &r.argsHash, &r.trace, &r.output, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entry, err := r.decode()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes the entry stored under key.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// PruneEntries deletes every entry whose key is not in keep.
func (s *SQLiteStore) PruneEntries(ctx context.Context, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	keys, err := s.entryKeys(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, k := range keys {
		if !keepSet[k] {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "DELETE FROM cache_entries WHERE key = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare prune: %w", err)
		}
		defer stmt.Close()
		for _, k := range stale {
			if _, err := stmt.ExecContext(ctx, k); err != nil {
				return fmt.Errorf("failed to prune cache entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (s *SQLiteStore) entryKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// entryRow is a raw cache_entries row.
type entryRow struct {
	key        string
	identity   string
	scriptHash string
	argsHash   string
	trace      string
	output     sql.NullString
	updatedAt  time.Time
}

func (r *entryRow) decode() (*engine.CacheEntry, error) {
	entry := &engine.CacheEntry{
		Key:        r.key,
		ScriptHash: r.scriptHash,
		ArgsHash:   r.argsHash,
		UpdatedAt:  r.updatedAt,
	}

	if err := json.Unmarshal([]byte(r.identity), &entry.Identity); err != nil {
		return nil, engine.NewCacheCorruptError(r.key, err)
	}
	if entry.Identity.Key() != r.key {
		return nil, engine.NewCacheCorruptError(r.key, fmt.Errorf("identity does not match key"))
	}
	if err := json.Unmarshal([]byte(r.trace), &entry.Trace); err != nil {
		return nil, engine.NewCacheCorruptError(r.key, err)
	}
	for _, rec := range entry.Trace.Records {
		if err := rec.Kind.Validate(); err != nil {
			return nil, engine.NewCacheCorruptError(r.key, err)
		}
	}
	if r.output.Valid {
		entry.Output = &engine.Output{}
		if err := json.Unmarshal([]byte(r.output.String), entry.Output); err != nil {
			return nil, engine.NewCacheCorruptError(r.key, err)
		}
	}
	return entry, nil
}
