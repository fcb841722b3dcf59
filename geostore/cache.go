// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// PutResource stores a media blob or map tile under its content key. After
// a write that pushes the aggregate size over budget, expired entries are
// evicted first and then the oldest entries until the cache fits again.
func (s *Store) PutResource(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("cache key cannot be empty")
	}

	s.writeMu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _resource_cache (cache_key, data, size_bytes, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			data = excluded.data,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at
	`, key, data, len(data), s.now().UTC().UnixNano())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to store resource: %w", err)
	}
	s.hot.Set(key, data, gocache.DefaultExpiration)

	total, err := s.ResourceCacheSize(ctx)
	if err != nil {
		return err
	}
	if total > s.config.CacheMaxSize {
		if _, err := s.EvictExpiredResources(ctx); err != nil {
			return err
		}
		if _, err := s.EvictResourcesToBudget(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetResource returns the cached bytes for key, or ErrNotFound on a miss.
// Expired entries behave as misses and are dropped lazily.
func (s *Store) GetResource(ctx context.Context, key string) ([]byte, error) {
	if v, ok := s.hot.Get(key); ok {
		return v.([]byte), nil
	}

	var data []byte
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, created_at FROM _resource_cache WHERE cache_key = ?
	`, key).Scan(&data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}

	if s.now().UTC().Sub(timeColumn(createdAt)) > s.config.CacheMaxAge {
		s.writeMu.Lock()
		_, _ = s.db.ExecContext(ctx, `DELETE FROM _resource_cache WHERE cache_key = ?`, key)
		s.writeMu.Unlock()
		return nil, ErrNotFound
	}

	s.hot.Set(key, data, gocache.DefaultExpiration)
	return data, nil
}

// ResourceCacheSize returns the aggregate size in bytes of the durable
// cache.
func (s *Store) ResourceCacheSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM _resource_cache`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cache size: %w", err)
	}
	return total, nil
}

// EvictExpiredResources removes every entry older than the configured max
// age and returns how many were dropped.
func (s *Store) EvictExpiredResources(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.config.CacheMaxAge).UnixNano()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys, err := s.cacheKeysWhere(ctx, `created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.deleteCacheKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// EvictResourcesToBudget drops the oldest entries until the aggregate size
// fits the configured budget, returning how many were dropped. The retained
// entries are exactly the most recently created ones.
func (s *Store) EvictResourcesToBudget(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cache_key, size_bytes FROM _resource_cache ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	// Walk newest-first, keeping entries while they fit; everything after
	// the budget line is evicted oldest-first by construction.
	var kept int64
	var evict []string
	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return 0, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		if kept+size > s.config.CacheMaxSize {
			evict = append(evict, key)
			continue
		}
		kept += size
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating cache entries: %w", err)
	}

	if len(evict) == 0 {
		return 0, nil
	}
	if err := s.deleteCacheKeys(ctx, evict); err != nil {
		return 0, err
	}
	s.logger.Debug("evicted cache entries over budget", "count", len(evict))
	return len(evict), nil
}

// RunCacheJanitor periodically evicts expired and over-budget entries
// regardless of write activity, until ctx is cancelled. Run it in its own
// goroutine.
func (s *Store) RunCacheJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.EvictExpiredResources(ctx); err != nil {
				s.logger.Error("cache janitor: expiry eviction failed", "error", err)
				continue
			}
			if _, err := s.EvictResourcesToBudget(ctx); err != nil {
				s.logger.Error("cache janitor: budget eviction failed", "error", err)
			}
		}
	}
}

func (s *Store) cacheKeysWhere(ctx context.Context, where string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key FROM _resource_cache WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache keys: %w", err)
	}
	return keys, nil
}

// deleteCacheKeys removes entries from both the durable table and the hot
// layer. Callers hold writeMu.
func (s *Store) deleteCacheKeys(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM _resource_cache WHERE cache_key = ?`, key); err != nil {
			return fmt.Errorf("failed to evict cache entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit eviction: %w", err)
	}
	for _, key := range keys {
		s.hot.Delete(key)
	}
	return nil
}
