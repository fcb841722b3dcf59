// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned by queue operations addressing a missing
// entry id.
var ErrEntryNotFound = errors.New("geostore: queue entry not found")

// enqueueInTx appends a pending queue entry inside the caller's
// transaction, keeping the record write and its queue entry atomic.
func (s *Store) enqueueInTx(ctx context.Context, tx *sql.Tx,
	entityType EntityType, entityID string, action Action, payload []byte) error {

	var payloadArg any
	if payload != nil {
		payloadArg = string(payload)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_pending (id, entity_type, entity_id, action, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?)
	`, uuid.New().String(), entityType, entityID, action, payloadArg, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to enqueue sync entry: %w", err)
	}
	return nil
}

// ClaimPending atomically selects every pending entry in createdAt order and
// transitions it to syncing. Claims are exclusive: the write lock plus the
// single transaction guarantee no two concurrent callers claim the same
// entry. Failed entries are never claimed.
func (s *Store) ClaimPending(ctx context.Context) ([]Entry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, payload, status, retry_count, created_at, last_attempt
		FROM _sync_pending
		WHERE status = 'pending'
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if _, err := tx.ExecContext(ctx,
			`UPDATE _sync_pending SET status = 'syncing' WHERE id = ?`, entries[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim entry: %w", err)
		}
		entries[i].Status = StatusSyncing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return entries, nil
}

// MarkCompleted removes a successfully pushed entry. In the same
// transaction it bumps the record's confirmed-write version, clears the
// dirty flag when no other live entry references the identity, and purges
// the tombstone once a confirmed delete has no entries left.
func (s *Store) MarkCompleted(ctx context.Context, entry Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM _sync_pending WHERE id = ?`, entry.ID); err != nil {
		return fmt.Errorf("failed to remove completed entry: %w", err)
	}
	if err := bumpVersionInTx(ctx, tx, entry.EntityType, entry.EntityID); err != nil {
		return err
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM _sync_pending
		WHERE entity_type = ? AND entity_id = ? AND status IN ('pending','syncing')
	`, entry.EntityType, entry.EntityID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("failed to count remaining entries: %w", err)
	}

	if remaining == 0 {
		if entry.Action == ActionDelete {
			if err := purgeRecordInTx(ctx, tx, entry.EntityType, entry.EntityID); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE entities SET needs_sync = 0 WHERE entity_type = ? AND id = ?
			`, entry.EntityType, entry.EntityID); err != nil {
				return fmt.Errorf("failed to clear dirty flag: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}

// MarkFailed records a failed push attempt. Below the retry cap the entry
// reverts to pending for the next cycle; at the cap it becomes failed and
// is excluded from automatic claiming until retried or discarded
// explicitly.
func (s *Store) MarkFailed(ctx context.Context, entry Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	status := StatusPending
	if entry.RetryCount+1 >= s.config.MaxRetries {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE _sync_pending SET status = ?, retry_count = retry_count + 1, last_attempt = ?
		WHERE id = ?
	`, status, s.now().UTC().UnixNano(), entry.ID)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	if status == StatusFailed {
		s.logger.Warn("sync entry exhausted retries",
			"entry_id", entry.ID, "entity_type", entry.EntityType,
			"entity_id", entry.EntityID, "action", entry.Action)
	}
	return nil
}

// MarkFailedTerminal moves an entry straight to failed, bypassing retry
// accounting. Used for non-retryable remote rejections such as validation
// errors.
func (s *Store) MarkFailedTerminal(ctx context.Context, entry Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE _sync_pending SET status = 'failed', retry_count = retry_count + 1, last_attempt = ?
		WHERE id = ?
	`, s.now().UTC().UnixNano(), entry.ID)
	if err != nil {
		return fmt.Errorf("failed to mark entry terminally failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	s.logger.Warn("sync entry rejected by server",
		"entry_id", entry.ID, "entity_type", entry.EntityType,
		"entity_id", entry.EntityID, "action", entry.Action)
	return nil
}

// FailedEntries returns the entries excluded from automatic syncing, oldest
// first, for inspection in the sync-errors UI.
func (s *Store) FailedEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, payload, status, retry_count, created_at, last_attempt
		FROM _sync_pending
		WHERE status = 'failed'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed entries: %w", err)
	}
	return scanEntries(rows)
}

// RetryFailed puts a failed entry back into automatic processing with a
// fresh retry budget.
func (s *Store) RetryFailed(ctx context.Context, entryID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE _sync_pending SET status = 'pending', retry_count = 0
		WHERE id = ? AND status = 'failed'
	`, entryID)
	if err != nil {
		return fmt.Errorf("failed to retry entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DiscardFailed drops a failed entry permanently. The local edit stands but
// will never reach the remote service. When the discarded entry was the
// identity's last one, the dirty flag is cleared; a discarded delete purges
// the tombstone, making the local deletion final on this device.
func (s *Store) DiscardFailed(ctx context.Context, entryID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var entry Entry
	row := tx.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, action, payload, status, retry_count, created_at, last_attempt
		FROM _sync_pending
		WHERE id = ? AND status = 'failed'
	`, entryID)
	entry, err = scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM _sync_pending WHERE id = ?`, entry.ID); err != nil {
		return fmt.Errorf("failed to discard entry: %w", err)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM _sync_pending WHERE entity_type = ? AND entity_id = ?
	`, entry.EntityType, entry.EntityID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("failed to count remaining entries: %w", err)
	}
	if remaining == 0 {
		if entry.Action == ActionDelete {
			if err := purgeRecordInTx(ctx, tx, entry.EntityType, entry.EntityID); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE entities SET needs_sync = 0 WHERE entity_type = ? AND id = ?
			`, entry.EntityType, entry.EntityID); err != nil {
				return fmt.Errorf("failed to clear dirty flag: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit discard: %w", err)
	}
	return nil
}

// PendingCount returns how many entries are awaiting automatic sync.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _sync_pending WHERE status IN ('pending','syncing')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// FailedCount returns the visible sync-error count.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _sync_pending WHERE status = 'failed'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed entries: %w", err)
	}
	return n, nil
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var payload sql.NullString
	var createdAt int64
	var lastAttempt sql.NullInt64
	if err := row.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &payload,
		&e.Status, &e.RetryCount, &createdAt, &lastAttempt); err != nil {
		return Entry{}, err
	}
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	e.CreatedAt = timeColumn(createdAt)
	if lastAttempt.Valid {
		e.LastAttempt = timeColumn(lastAttempt.Int64)
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}
