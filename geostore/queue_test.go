// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimPendingFIFOOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := TreasureRecord(testTreasure(NewID(), 37.0+float64(i)*0.01, -122.0))
		require.NoError(t, err)
		_, err = store.Upsert(ctx, rec)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		require.Equal(t, ids[i], entry.EntityID, "entry %d out of order", i)
		require.Equal(t, StatusSyncing, entry.Status)
	}

	// Claimed entries are excluded from a second claim.
	again, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestMarkCompletedClearsDirtyOnlyWhenQueueDrained(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	treasure := testTreasure(NewID(), 37.7749, -122.4194)
	rec, err := TreasureRecord(treasure)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	treasure.Points = 100
	rec, err = TreasureRecord(treasure)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, store.MarkCompleted(ctx, entries[0]))
	found, err := store.Find(ctx, EntityTreasure, rec.ID)
	require.NoError(t, err)
	require.True(t, found.NeedsSync, "record stays dirty while a later entry is queued")

	require.NoError(t, store.MarkCompleted(ctx, entries[1]))
	found, err = store.Find(ctx, EntityTreasure, rec.ID)
	require.NoError(t, err)
	require.False(t, found.NeedsSync)
	require.Equal(t, int64(2), found.Version)
}

func TestMarkFailedExhaustsRetries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := TreasureRecord(testTreasure(NewID(), 37.7749, -122.4194))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	// DefaultConfig allows three attempts before the entry parks as failed.
	for attempt := 1; attempt <= store.MaxRetries(); attempt++ {
		entries, err := store.ClaimPending(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1, "attempt %d should find a claimable entry", attempt)
		require.NoError(t, store.MarkFailed(ctx, entries[0]))
	}

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Empty(t, entries, "exhausted entry must not be claimed again")

	failed, err := store.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, store.MaxRetries(), failed[0].RetryCount)
	require.False(t, failed[0].LastAttempt.IsZero())
}

func TestMarkFailedTerminalSkipsRetries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := TreasureRecord(testTreasure(NewID(), 37.7749, -122.4194))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, store.MarkFailedTerminal(ctx, entries[0]))

	pending, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	failed, err := store.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestRetryFailedRequeuesEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := TreasureRecord(testTreasure(NewID(), 37.7749, -122.4194))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailedTerminal(ctx, entries[0]))

	failed, err := store.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, store.RetryFailed(ctx, failed[0].ID))

	entries, err = store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Zero(t, entries[0].RetryCount, "retry resets the attempt counter")
}

func TestRetryFailedUnknownEntry(t *testing.T) {
	store := newTestStore(t)
	err := store.RetryFailed(context.Background(), "no-such-entry")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestDiscardFailedDeletePurgesTombstone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := TreasureRecord(testTreasure(NewID(), 37.7749, -122.4194))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, EntityTreasure, rec.ID))

	entries, err := store.ClaimPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, store.MarkCompleted(ctx, entries[0]))
	require.NoError(t, store.MarkFailedTerminal(ctx, entries[1]))

	failed, err := store.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NoError(t, store.DiscardFailed(ctx, failed[0].ID))

	// Discarding the delete gives up on replicating it; the local
	// tombstone has no further purpose.
	_, err = store.FindAny(ctx, EntityTreasure, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)

	count, err := store.FailedCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
