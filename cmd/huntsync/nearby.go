// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aalexli1/didactic-barnacle-sub000/geostore"
)

var (
	nearbyLat    float64
	nearbyLon    float64
	nearbyRadius float64
	nearbyAll    bool
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List treasures within a radius of a point, from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		store, db, err := openStore(logger)
		if err != nil {
			return err
		}
		defer db.Close()

		pred := func(rec geostore.Record) bool {
			if nearbyAll {
				return true
			}
			var t geostore.Treasure
			if err := geostore.DecodeFields(rec, &t); err != nil {
				return false
			}
			return t.IsActive
		}

		center := geostore.Coordinate{Lat: nearbyLat, Lon: nearbyLon}
		results, err := store.Nearby(cmd.Context(), geostore.EntityTreasure, center, nearbyRadius, pred)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no treasures in range")
			return nil
		}
		for _, res := range results {
			var t geostore.Treasure
			if err := geostore.DecodeFields(res.Record, &t); err != nil {
				return err
			}
			fmt.Printf("%7.0fm  %-36s  %s (%d pts)\n", res.DistanceMeters, t.ID, t.Title, t.Points)
		}
		return nil
	},
}

func init() {
	nearbyCmd.Flags().Float64Var(&nearbyLat, "lat", 0, "center latitude")
	nearbyCmd.Flags().Float64Var(&nearbyLon, "lon", 0, "center longitude")
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 500, "search radius in meters")
	nearbyCmd.Flags().BoolVar(&nearbyAll, "all", false, "include inactive treasures")
	_ = nearbyCmd.MarkFlagRequired("lat")
	_ = nearbyCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(nearbyCmd)
}
