// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aalexli1/didactic-barnacle-sub000/geostore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		store, db, err := openStore(logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		lastSync, err := store.LastSyncAt(ctx)
		if err != nil {
			return err
		}
		pending, err := store.PendingCount(ctx)
		if err != nil {
			return err
		}
		failed, err := store.FailedCount(ctx)
		if err != nil {
			return err
		}
		cacheSize, err := store.ResourceCacheSize(ctx)
		if err != nil {
			return err
		}

		if lastSync.IsZero() {
			fmt.Println("last sync:      never")
		} else {
			fmt.Printf("last sync:      %s\n", lastSync.Local())
		}
		fmt.Printf("pending:        %d\n", pending)
		fmt.Printf("failed:         %d\n", failed)
		fmt.Printf("cache size:     %d bytes\n", cacheSize)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage failed sync entries",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failed sync entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		store, db, err := openStore(logger)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := store.FailedEntries(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no failed entries")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-7s %s/%s  retries=%d  last=%s\n",
				e.ID, e.Action, e.EntityType, e.EntityID,
				e.RetryCount, e.LastAttempt.Local())
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Put a failed entry back into automatic sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *geostore.Store) error {
			return store.RetryFailed(cmd.Context(), args[0])
		})
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <entry-id>",
	Short: "Drop a failed entry permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *geostore.Store) error {
			return store.DiscardFailed(cmd.Context(), args[0])
		})
	},
}

func withStore(fn func(*geostore.Store) error) error {
	store, db, err := openStore(newLogger())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(store)
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueDiscardCmd)
	rootCmd.AddCommand(statusCmd, queueCmd)
}
