// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

// Package geostore is the local persistent layer of the treasure-hunt
// client: a SQLite-backed entity store with a durable mutation queue,
// radius-bounded geospatial queries, and a bounded media/tile cache.
//
// The store is the single source of truth on the device. Every local
// mutation is written together with its sync queue entry in one
// transaction, so a crash can never leave a dirty record without a queued
// mutation or vice versa.
package geostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	gocache "github.com/patrickmn/go-cache"
)

// ErrNotFound is returned by point lookups when no live record exists.
var ErrNotFound = errors.New("geostore: record not found")

// Config holds configuration for the local store.
type Config struct {
	UserID       string        // owner of this database file
	EntityTypes  []EntityType  // kinds pulled from the remote service
	MaxRetries   int           // queue attempts before an entry is marked failed
	CacheMaxAge  time.Duration // resource cache entry lifetime
	CacheMaxSize int64         // resource cache aggregate byte budget
}

// DefaultConfig returns the store configuration used by the app: the three
// game entity kinds, three sync attempts, and a 7-day / 64 MiB tile+media
// cache.
func DefaultConfig(userID string) *Config {
	return &Config{
		UserID:       userID,
		EntityTypes:  []EntityType{EntityUser, EntityTreasure, EntityDiscovery},
		MaxRetries:   3,
		CacheMaxAge:  7 * 24 * time.Hour,
		CacheMaxSize: 64 << 20,
	}
}

// Store manages the local SQLite database: entity records, the pending
// mutation queue, sync client info, and the resource cache.
type Store struct {
	db      *sql.DB
	config  *Config
	logger  *slog.Logger
	hot     *gocache.Cache // in-memory layer over _resource_cache
	writeMu sync.Mutex     // serialize write transactions to avoid SQLite locking issues
	now     func() time.Time
}

// NewStore initializes the schema on db and returns a ready store. A nil
// logger falls back to slog.Default. Queue entries stranded in "syncing" by
// a crash are reset to "pending" so they are retried on the next cycle.
func NewStore(db *sql.DB, config *Config, logger *slog.Logger) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("config.UserID must be provided")
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("config.MaxRetries must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Store{
		db:     db,
		config: config,
		logger: logger,
		hot:    gocache.New(config.CacheMaxAge, config.CacheMaxAge),
		now:    time.Now,
	}

	if _, err := s.EnsureSourceID(context.Background()); err != nil {
		return nil, err
	}

	// Crash recovery: a cycle that died mid-drain leaves entries claimed.
	if _, err := db.Exec(
		`UPDATE _sync_pending SET status = ? WHERE status = ?`,
		StatusPending, StatusSyncing,
	); err != nil {
		return nil, fmt.Errorf("failed to reset stranded queue entries: %w", err)
	}

	return s, nil
}

// DB exposes the underlying database handle, mainly for tests.
func (s *Store) DB() *sql.DB { return s.db }

// EntityTypes returns the entity kinds this store syncs.
func (s *Store) EntityTypes() []EntityType { return s.config.EntityTypes }

// MaxRetries returns the configured retry cap for queue entries.
func (s *Store) MaxRetries() int { return s.config.MaxRetries }

// initializeDatabase creates the schema and enables WAL mode.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		// Generic entity envelope, one row per (entity_type, id).
		// lat/lon are denormalized from fields for geo-anchored kinds.
		// deleted=1 keeps a tombstone until the delete is confirmed synced.
		`CREATE TABLE IF NOT EXISTS entities (
			entity_type    TEXT NOT NULL,
			id             TEXT NOT NULL,
			fields         TEXT NOT NULL,
			lat            REAL,
			lon            REAL,
			last_modified  INTEGER NOT NULL,
			needs_sync     INTEGER NOT NULL DEFAULT 0,
			deleted        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (entity_type, id)
		)`,

		// Parallel sync metadata, one row per (entity_type, entity_id).
		// version increments on every confirmed write.
		`CREATE TABLE IF NOT EXISTS _sync_entity_meta (
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			version        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (entity_type, entity_id)
		)`,

		// Durable mutation queue. Completed entries are deleted.
		`CREATE TABLE IF NOT EXISTS _sync_pending (
			id             TEXT PRIMARY KEY,
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			action         TEXT NOT NULL CHECK (action IN ('create','update','delete')),
			payload        TEXT,
			status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','syncing','failed')),
			retry_count    INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			last_attempt   INTEGER
		)`,

		// Client/device info (one row per signed-in user).
		`CREATE TABLE IF NOT EXISTS _sync_client_info (
			user_id        TEXT PRIMARY KEY,
			source_id      TEXT NOT NULL,
			watermark      INTEGER NOT NULL DEFAULT 0,
			last_sync_at   INTEGER NOT NULL DEFAULT 0
		)`,

		// Bounded media/tile cache.
		`CREATE TABLE IF NOT EXISTS _resource_cache (
			cache_key      TEXT PRIMARY KEY,
			data           BLOB NOT NULL,
			size_bytes     INTEGER NOT NULL,
			created_at     INTEGER NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_entities_bbox ON entities (entity_type, lat, lon)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_dirty ON entities (needs_sync)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON _sync_pending (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_age ON _resource_cache (created_at)`,
	}
	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// EnsureSourceID generates and persists a device source ID if not already
// present, and returns it.
func (s *Store) EnsureSourceID(ctx context.Context) (string, error) {
	var sourceID string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id FROM _sync_client_info WHERE user_id = ?`, s.config.UserID,
	).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		sourceID = uuid.New().String()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO _sync_client_info (user_id, source_id, watermark, last_sync_at)
			VALUES (?, ?, 0, 0)
		`, s.config.UserID, sourceID)
		if err != nil {
			return "", fmt.Errorf("failed to insert client info: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}
	return sourceID, nil
}

// Watermark returns the timestamp of the last successfully completed pull.
// The zero time means no pull has completed yet.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM _sync_client_info WHERE user_id = ?`, s.config.UserID,
	).Scan(&nanos)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query watermark: %w", err)
	}
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos).UTC(), nil
}

// LastSyncAt returns the completion time of the last successful sync cycle.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM _sync_client_info WHERE user_id = ?`, s.config.UserID,
	).Scan(&nanos)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last sync time: %w", err)
	}
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos).UTC(), nil
}

// UpdateSyncMarks persists the pull watermark and cycle completion time in
// one transaction. The watermark only moves forward.
func (s *Store) UpdateSyncMarks(ctx context.Context, watermark, syncedAt time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE _sync_client_info
		SET watermark = MAX(watermark, ?), last_sync_at = ?
		WHERE user_id = ?
	`, watermark.UnixNano(), syncedAt.UnixNano(), s.config.UserID)
	if err != nil {
		return fmt.Errorf("failed to update sync marks: %w", err)
	}
	return nil
}

// timeColumn converts a stored unix-nanosecond value to UTC time, mapping 0
// to the zero time.
func timeColumn(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
