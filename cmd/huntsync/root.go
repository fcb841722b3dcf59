// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aalexli1/didactic-barnacle-sub000/geostore"
	"github.com/aalexli1/didactic-barnacle-sub000/geosync"
	"github.com/aalexli1/didactic-barnacle-sub000/internal/auth"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "huntsync",
	Short:         "Offline sync daemon for the treasure-hunt client",
	Long:          `huntsync manages the local treasure-hunt store: it runs the background sync loop against the remote service, answers nearby queries from the local database, and inspects or retries failed sync entries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./huntsync.yaml)")
	rootCmd.PersistentFlags().String("db", "huntsync.db", "path to the local SQLite database")
	rootCmd.PersistentFlags().String("server", "", "base URL of the remote service")
	rootCmd.PersistentFlags().String("user", "", "user ID owning the local database")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for flag, key := range map[string]string{
		"db":        "db.path",
		"server":    "server.url",
		"user":      "user.id",
		"log-level": "log.level",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	viper.SetDefault("server.secret", "")
	viper.SetDefault("sync.interval", geosync.DefaultInterval)
	viper.SetDefault("cache.max_age", 7*24*time.Hour)
	viper.SetDefault("cache.max_size", int64(64<<20))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("huntsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("HUNTSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// The config file is optional unless named explicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore builds the explicitly constructed service graph shared by all
// subcommands: SQLite handle plus the local store.
func openStore(logger *slog.Logger) (*geostore.Store, *sql.DB, error) {
	userID := viper.GetString("user.id")
	if userID == "" {
		return nil, nil, fmt.Errorf("user ID is required (--user or HUNTSYNC_USER_ID)")
	}

	db, err := sql.Open("sqlite3", viper.GetString("db.path"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	config := geostore.DefaultConfig(userID)
	config.CacheMaxAge = viper.GetDuration("cache.max_age")
	config.CacheMaxSize = viper.GetInt64("cache.max_size")

	store, err := geostore.NewStore(db, config, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// newRemote builds the HTTP transport with a JWT token source for the
// configured user/device identity.
func newRemote(ctx context.Context, store *geostore.Store, logger *slog.Logger) (*geosync.HTTPRemote, error) {
	baseURL := viper.GetString("server.url")
	if baseURL == "" {
		return nil, fmt.Errorf("server URL is required (--server or HUNTSYNC_SERVER_URL)")
	}

	deviceID, err := store.EnsureSourceID(ctx)
	if err != nil {
		return nil, err
	}

	source := auth.NewTokenSource(viper.GetString("server.secret"))
	token := source.TokenFunc(viper.GetString("user.id"), deviceID, time.Hour)
	return geosync.NewHTTPRemote(baseURL, token, logger), nil
}
