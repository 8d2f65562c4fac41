package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.DB == nil {
		return "", false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("cache key is required")
	}

	var value string
	row := s.DB.QueryRowContext(ctx, `SELECT value FROM kv_cache WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch cache value: %w", err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO kv_cache (key, value, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			written_at = excluded.written_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store cache value: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("remove cache value: %w", err)
	}
	return nil
}

// Keys lists keys starting with prefix, ordered.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT key FROM kv_cache
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache keys: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	return keys, nil
}
