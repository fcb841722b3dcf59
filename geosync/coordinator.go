// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

// Package geosync reconciles the local geostore with the remote service:
// it drains the durable mutation queue, pulls remote changes behind a
// persistent watermark, and resolves conflicts deterministically.
package geosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aalexli1/didactic-barnacle-sub000/geostore"
)

// DefaultInterval is the fixed period between automatic sync cycles.
const DefaultInterval = 30 * time.Second

// Coordinator drives sync cycles against the remote service. Cycles never
// overlap: a trigger while one is in flight is a no-op. A cycle is not
// preemptible mid-stage; timeouts are delegated to the transport per call.
type Coordinator struct {
	store    *geostore.Store
	remote   Remote
	resolver geostore.Resolver
	logger   *slog.Logger
	interval time.Duration

	isSyncing int32
	cycles    atomic.Int64
	lastErr   atomic.Value // error
	now       func() time.Time
}

// NewCoordinator wires a coordinator over an explicitly constructed store
// and transport. A nil resolver defaults to last-write-wins; a nil logger
// falls back to slog.Default; a non-positive interval uses DefaultInterval.
func NewCoordinator(store *geostore.Store, remote Remote, resolver geostore.Resolver,
	logger *slog.Logger, interval time.Duration) *Coordinator {

	if resolver == nil {
		resolver = geostore.LastWriteWins{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		store:    store,
		remote:   remote,
		resolver: resolver,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run drives sync cycles on the fixed interval until ctx is cancelled. Run
// it in its own goroutine; it can be joined in tests by cancelling ctx.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SyncNow(ctx); err != nil {
				c.logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// SyncNow runs one sync cycle: drain the queue, pull remote changes, sweep
// for dirty records missing a queue entry, then advance the watermark and
// cycle timestamp. If a cycle is already in flight the call is a no-op. On
// any stage error the cycle aborts with the watermark untouched so the next
// cycle re-attempts the same pull window.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.isSyncing, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&c.isSyncing, 0)
	c.cycles.Add(1)

	err := c.runCycle(ctx)
	if err != nil {
		c.lastErr.Store(err)
		return err
	}
	return nil
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	if err := c.drain(ctx); err != nil {
		return fmt.Errorf("drain stage failed: %w", err)
	}

	watermark, err := c.pull(ctx)
	if err != nil {
		return fmt.Errorf("pull stage failed: %w", err)
	}

	if _, err := c.store.EnsureQueued(ctx); err != nil {
		return fmt.Errorf("push sweep failed: %w", err)
	}

	if err := c.store.UpdateSyncMarks(ctx, watermark, c.now().UTC()); err != nil {
		return err
	}
	return nil
}

// drain pushes every claimed queue entry in enqueue order. A transport
// failure feeds retry accounting and does not block other entities; only
// store-level errors abort the stage.
func (c *Coordinator) drain(ctx context.Context) error {
	entries, err := c.store.ClaimPending(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		pushErr := c.push(ctx, entry)
		if pushErr == nil {
			if err := c.store.MarkCompleted(ctx, entry); err != nil {
				return err
			}
			continue
		}

		done, retryable := classifyPushError(pushErr, entry.Action)
		switch {
		case done:
			if err := c.store.MarkCompleted(ctx, entry); err != nil {
				return err
			}
		case retryable:
			c.logger.Warn("push failed, will retry",
				"entity_type", entry.EntityType, "entity_id", entry.EntityID,
				"action", entry.Action, "retry_count", entry.RetryCount, "error", pushErr)
			if err := c.store.MarkFailed(ctx, entry); err != nil {
				return err
			}
		default:
			c.logger.Error("push rejected by server",
				"entity_type", entry.EntityType, "entity_id", entry.EntityID,
				"action", entry.Action, "error", pushErr)
			if err := c.store.MarkFailedTerminal(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// push performs the remote call for one entry. Create and update transmit
// the record's current store state; the enqueue-time payload snapshot is
// used only when the record is no longer readable.
func (c *Coordinator) push(ctx context.Context, entry geostore.Entry) error {
	switch entry.Action {
	case geostore.ActionDelete:
		return c.remote.Delete(ctx, entry.EntityType, entry.EntityID)

	case geostore.ActionCreate, geostore.ActionUpdate:
		fields := entry.Payload
		rec, err := c.store.Find(ctx, entry.EntityType, entry.EntityID)
		if err == nil {
			fields = rec.Fields
		}
		if len(fields) == 0 {
			return &RemoteError{StatusCode: 422, Body: "no payload available for push"}
		}
		if entry.Action == geostore.ActionCreate {
			return c.remote.Create(ctx, entry.EntityType, fields)
		}
		return c.remote.Update(ctx, entry.EntityType, entry.EntityID, fields)

	default:
		return &RemoteError{StatusCode: 422, Body: fmt.Sprintf("unknown action %q", entry.Action)}
	}
}

// pull fetches remote changes past the watermark for every registered
// entity kind and applies them through the conflict resolver. It returns
// the new watermark: the highest remote modification time seen, or the old
// watermark when the window was empty.
func (c *Coordinator) pull(ctx context.Context) (time.Time, error) {
	since, err := c.store.Watermark(ctx)
	if err != nil {
		return time.Time{}, err
	}

	watermark := since
	for _, entityType := range c.store.EntityTypes() {
		records, err := c.remote.Pull(ctx, entityType, since)
		if err != nil {
			return time.Time{}, err
		}
		for _, rr := range records {
			if err := c.applyRemote(ctx, entityType, rr); err != nil {
				return time.Time{}, err
			}
			if rr.LastModified.After(watermark) {
				watermark = rr.LastModified
			}
		}
		if len(records) > 0 {
			c.logger.Debug("applied remote changes",
				"entity_type", entityType, "count", len(records))
		}
	}
	return watermark, nil
}

// applyRemote reconciles one pulled record against local state. Conflicts
// are not errors: the resolver decides and the loser is dropped silently.
func (c *Coordinator) applyRemote(ctx context.Context, entityType geostore.EntityType, rr RemoteRecord) error {
	remote := geostore.Record{
		EntityType:   entityType,
		ID:           rr.ID,
		Fields:       rr.Fields,
		LastModified: rr.LastModified.UTC(),
		Deleted:      rr.Deleted,
	}

	local, err := c.store.FindAny(ctx, entityType, rr.ID)
	if errors.Is(err, geostore.ErrNotFound) {
		if rr.Deleted {
			return nil
		}
		_, err := c.store.UpsertFromRemote(ctx, remote)
		return err
	}
	if err != nil {
		return err
	}

	merged, remoteWins := c.resolver.Resolve(local, remote)
	if !remoteWins {
		return nil
	}
	if rr.Deleted {
		return c.store.ApplyRemoteDelete(ctx, entityType, rr.ID)
	}
	_, err = c.store.UpsertFromRemote(ctx, merged)
	return err
}

// IsSyncing reports whether a cycle is currently in flight.
func (c *Coordinator) IsSyncing() bool {
	return atomic.LoadInt32(&c.isSyncing) == 1
}

// Cycles returns how many cycles have started since construction.
func (c *Coordinator) Cycles() int64 {
	return c.cycles.Load()
}

// LastError returns the most recent cycle error, or nil.
func (c *Coordinator) LastError() error {
	if err, ok := c.lastErr.Load().(error); ok {
		return err
	}
	return nil
}

// LastSyncAt returns the completion time of the last successful cycle; it
// survives process restart.
func (c *Coordinator) LastSyncAt(ctx context.Context) (time.Time, error) {
	return c.store.LastSyncAt(ctx)
}

// SyncErrorCount returns the number of failed queue entries awaiting
// explicit retry or discard.
func (c *Coordinator) SyncErrorCount(ctx context.Context) (int, error) {
	return c.store.FailedCount(ctx)
}
