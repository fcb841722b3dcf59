// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Upsert inserts or replaces a record from a local mutation. It stamps
// LastModified with the current time, marks the record dirty, and enqueues
// the matching sync action in the same transaction. The stored record is
// returned.
func (s *Store) Upsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" || rec.EntityType == "" {
		return Record{}, fmt.Errorf("record must carry entity type and id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM entities WHERE entity_type = ? AND id = ?)
	`, rec.EntityType, rec.ID).Scan(&exists)
	if err != nil {
		return Record{}, fmt.Errorf("failed to look up record: %w", err)
	}

	rec.LastModified = s.now().UTC()
	rec.NeedsSync = true
	rec.Deleted = false
	if rec.Lat == nil || rec.Lon == nil {
		rec.Lat, rec.Lon = extractCoordinates(rec.Fields)
	}

	if err := writeRecordInTx(ctx, tx, rec); err != nil {
		return Record{}, err
	}

	// A re-created tombstone is an update from the server's point of view.
	action := ActionUpdate
	if !exists {
		action = ActionCreate
	}
	if err := s.enqueueInTx(ctx, tx, rec.EntityType, rec.ID, action, rec.Fields); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return rec, nil
}

// UpsertFromRemote inserts or replaces a record applied from a remote pull.
// It preserves the remote LastModified, clears the dirty flag, bumps the
// confirmed-write version, and does not enqueue anything — applying the same
// pull batch twice is a no-op at the resolver and idempotent here.
func (s *Store) UpsertFromRemote(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" || rec.EntityType == "" {
		return Record{}, fmt.Errorf("record must carry entity type and id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec.NeedsSync = false
	rec.Deleted = false
	if rec.Lat == nil || rec.Lon == nil {
		rec.Lat, rec.Lon = extractCoordinates(rec.Fields)
	}

	if err := writeRecordInTx(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err := bumpVersionInTx(ctx, tx, rec.EntityType, rec.ID); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit remote upsert: %w", err)
	}
	return rec, nil
}

// Find is a point lookup of a live record. Tombstoned records behave as
// absent. No side effects.
func (s *Store) Find(ctx context.Context, entityType EntityType, id string) (Record, error) {
	return s.findRecord(ctx, entityType, id, false)
}

// FindAny is a point lookup that also returns tombstoned records. The sync
// coordinator uses it so a pending local delete can win conflicts against
// older remote edits.
func (s *Store) FindAny(ctx context.Context, entityType EntityType, id string) (Record, error) {
	return s.findRecord(ctx, entityType, id, true)
}

func (s *Store) findRecord(ctx context.Context, entityType EntityType, id string, includeDeleted bool) (Record, error) {
	query := `
		SELECT e.entity_type, e.id, e.fields, e.lat, e.lon, e.last_modified,
		       e.needs_sync, e.deleted, COALESCE(m.version, 0)
		FROM entities e
		LEFT JOIN _sync_entity_meta m
		  ON m.entity_type = e.entity_type AND m.entity_id = e.id
		WHERE e.entity_type = ? AND e.id = ?`
	if !includeDeleted {
		query += ` AND e.deleted = 0`
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, entityType, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to find record: %w", err)
	}
	return rec, nil
}

// Delete tombstones a record and enqueues the delete in one transaction.
// The row is physically purged only once the delete is confirmed synced, so
// a failed push can be retried from the tombstone.
func (s *Store) Delete(ctx context.Context, entityType EntityType, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE entities SET deleted = 1, needs_sync = 1, last_modified = ?
		WHERE entity_type = ? AND id = ? AND deleted = 0
	`, s.now().UTC().UnixNano(), entityType, id)
	if err != nil {
		return fmt.Errorf("failed to tombstone record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tombstone result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := s.enqueueInTx(ctx, tx, entityType, id, ActionDelete, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// ApplyRemoteDelete removes a record because the remote service reported it
// deleted. The local copy and its sync metadata are purged outright; the
// caller has already established that the remote deletion wins.
func (s *Store) ApplyRemoteDelete(ctx context.Context, entityType EntityType, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := purgeRecordInTx(ctx, tx, entityType, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote delete: %w", err)
	}
	return nil
}

// QueryByBoundingBox returns all live records of one kind inside the given
// latitude/longitude rectangle, filtered by an optional predicate. Records
// without denormalized coordinates never match. Used by the nearby query
// engine; the box is a cheap over-approximation of its search circle.
func (s *Store) QueryByBoundingBox(ctx context.Context, entityType EntityType,
	minLat, maxLat, minLon, maxLon float64, pred func(Record) bool) ([]Record, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_type, e.id, e.fields, e.lat, e.lon, e.last_modified,
		       e.needs_sync, e.deleted, COALESCE(m.version, 0)
		FROM entities e
		LEFT JOIN _sync_entity_meta m
		  ON m.entity_type = e.entity_type AND m.entity_id = e.id
		WHERE e.entity_type = ? AND e.deleted = 0
		  AND e.lat IS NOT NULL AND e.lon IS NOT NULL
		  AND e.lat >= ? AND e.lat <= ? AND e.lon >= ? AND e.lon <= ?
	`, entityType, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query bounding box: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if pred != nil && !pred(rec) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// DirtyRecords returns every record still marked needs_sync, tombstones
// included. The sync coordinator's push sweep uses it to re-verify that no
// dirty record is missing a queue entry.
func (s *Store) DirtyRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_type, e.id, e.fields, e.lat, e.lon, e.last_modified,
		       e.needs_sync, e.deleted, COALESCE(m.version, 0)
		FROM entities e
		LEFT JOIN _sync_entity_meta m
		  ON m.entity_type = e.entity_type AND m.entity_id = e.id
		WHERE e.needs_sync = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty records: %w", err)
	}
	return records, nil
}

// EnsureQueued re-enqueues a mutation for any dirty record with no queue
// entry at all. Under the atomic upsert/enqueue boundary this finds
// nothing; it exists as the safety sweep of the sync cycle. Records whose
// entry is parked as failed are left alone: they wait for an explicit
// retry or discard. Returns the number of entries added.
func (s *Store) EnsureQueued(ctx context.Context) (int, error) {
	dirty, err := s.DirtyRecords(ctx)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	queued := 0
	for _, rec := range dirty {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM _sync_pending
			WHERE entity_type = ? AND entity_id = ?
		`, rec.EntityType, rec.ID).Scan(&n)
		if err != nil {
			return queued, fmt.Errorf("failed to count queue entries: %w", err)
		}
		if n > 0 {
			continue
		}

		action := ActionUpdate
		payload := rec.Fields
		if rec.Deleted {
			action = ActionDelete
			payload = nil
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return queued, fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := s.enqueueInTx(ctx, tx, rec.EntityType, rec.ID, action, payload); err != nil {
			tx.Rollback()
			return queued, err
		}
		if err := tx.Commit(); err != nil {
			return queued, fmt.Errorf("failed to commit sweep enqueue: %w", err)
		}
		s.logger.Warn("dirty record had no queue entry, re-enqueued",
			"entity_type", rec.EntityType, "entity_id", rec.ID, "action", action)
		queued++
	}
	return queued, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var fields string
	var lat, lon sql.NullFloat64
	var lastModified int64
	var needsSync, deleted int
	if err := row.Scan(&rec.EntityType, &rec.ID, &fields, &lat, &lon,
		&lastModified, &needsSync, &deleted, &rec.Version); err != nil {
		return Record{}, err
	}
	rec.Fields = json.RawMessage(fields)
	if lat.Valid {
		rec.Lat = &lat.Float64
	}
	if lon.Valid {
		rec.Lon = &lon.Float64
	}
	rec.LastModified = timeColumn(lastModified)
	rec.NeedsSync = needsSync == 1
	rec.Deleted = deleted == 1
	return rec, nil
}

func writeRecordInTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	var lat, lon any
	if rec.Lat != nil {
		lat = *rec.Lat
	}
	if rec.Lon != nil {
		lon = *rec.Lon
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, fields, lat, lon, last_modified, needs_sync, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			fields = excluded.fields,
			lat = excluded.lat,
			lon = excluded.lon,
			last_modified = MAX(entities.last_modified, excluded.last_modified),
			needs_sync = excluded.needs_sync,
			deleted = excluded.deleted
	`, rec.EntityType, rec.ID, string(rec.Fields), lat, lon,
		rec.LastModified.UnixNano(), boolInt(rec.NeedsSync), boolInt(rec.Deleted))
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func bumpVersionInTx(ctx context.Context, tx *sql.Tx, entityType EntityType, id string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_entity_meta (entity_type, entity_id, version)
		VALUES (?, ?, 1)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET version = version + 1
	`, entityType, id)
	if err != nil {
		return fmt.Errorf("failed to bump entity version: %w", err)
	}
	return nil
}

func purgeRecordInTx(ctx context.Context, tx *sql.Tx, entityType EntityType, id string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`, entityType, id); err != nil {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM _sync_entity_meta WHERE entity_type = ? AND entity_id = ?`, entityType, id); err != nil {
		return fmt.Errorf("failed to purge entity meta: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
