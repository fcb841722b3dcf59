// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aalexli1/didactic-barnacle-sub000/geosync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		store, db, err := openStore(logger)
		if err != nil {
			return err
		}
		defer db.Close()

		remote, err := newRemote(cmd.Context(), store, logger)
		if err != nil {
			return err
		}

		interval := viper.GetDuration("sync.interval")
		coordinator := geosync.NewCoordinator(store, remote, nil, logger, interval)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go store.RunCacheJanitor(ctx, time.Hour)
		go coordinator.Run(ctx)

		logger.Info("sync loop started",
			"interval", interval, "db", viper.GetString("db.path"),
			"server", viper.GetString("server.url"))

		// One immediate cycle so a freshly started daemon converges without
		// waiting a full interval.
		if err := coordinator.SyncNow(ctx); err != nil {
			logger.Warn("initial sync cycle failed", "error", err)
		}

		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
