// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustUpsertTreasure(t *testing.T, store *Store, lat, lon float64) Record {
	t.Helper()
	rec, err := TreasureRecord(testTreasure(NewID(), lat, lon))
	require.NoError(t, err)
	stored, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	return stored
}

func TestNearbyRadiusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}

	near := mustUpsertTreasure(t, store, 37.7751, -122.4190) // ~40 m away
	far := mustUpsertTreasure(t, store, 37.8000, -122.4194)  // ~2.8 km away

	results, err := store.Nearby(ctx, EntityTreasure, center, 500, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, near.ID, results[0].ID)
	require.InDelta(t, 41, results[0].DistanceMeters, 5)

	// The same query with a generous radius picks up both.
	results, err = store.Nearby(ctx, EntityTreasure, center, 5000, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, near.ID, results[0].ID, "results are ordered nearest first")
	require.Equal(t, far.ID, results[1].ID)
}

func TestNearbyBoxCornerExcluded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}

	// A point near the corner of the 500 m bounding box sits inside the box
	// but roughly 700 m from the center; the haversine pass must drop it.
	mustUpsertTreasure(t, store, 37.7749+0.0044, -122.4194+0.0056)

	results, err := store.Nearby(ctx, EntityTreasure, center, 500, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestNearbyPredicateFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}

	active := testTreasure(NewID(), 37.7750, -122.4194)
	inactive := testTreasure(NewID(), 37.7751, -122.4194)
	inactive.IsActive = false

	for _, tr := range []Treasure{active, inactive} {
		rec, err := TreasureRecord(tr)
		require.NoError(t, err)
		_, err = store.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	isActive := func(rec Record) bool {
		var tr Treasure
		if err := DecodeFields(rec, &tr); err != nil {
			return false
		}
		return tr.IsActive
	}

	results, err := store.Nearby(ctx, EntityTreasure, center, 500, isActive)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, active.ID, results[0].ID)
}

func TestNearbyExcludesTombstones(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}

	rec := mustUpsertTreasure(t, store, 37.7750, -122.4194)
	require.NoError(t, store.Delete(ctx, EntityTreasure, rec.ID))

	results, err := store.Nearby(ctx, EntityTreasure, center, 500, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestNearbyRejectsNonPositiveRadius(t *testing.T) {
	store := newTestStore(t)
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}

	_, err := store.Nearby(context.Background(), EntityTreasure, center, 0, nil)
	require.Error(t, err)
	_, err = store.Nearby(context.Background(), EntityTreasure, center, -10, nil)
	require.Error(t, err)
}

func TestHaversineKnownDistance(t *testing.T) {
	// San Francisco to Los Angeles, roughly 559 km.
	sf := Coordinate{Lat: 37.7749, Lon: -122.4194}
	la := Coordinate{Lat: 34.0522, Lon: -118.2437}
	require.InDelta(t, 559000, haversineMeters(sf, la), 5000)

	require.Zero(t, haversineMeters(sf, sf))
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	center := Coordinate{Lat: 37.7749, Lon: -122.4194}
	radius := 500.0
	minLat, maxLat, minLon, maxLon := boundingBox(center, radius)

	// Points at the circle's compass extremes must fall inside the box.
	extremes := []Coordinate{
		{Lat: center.Lat + radius/metersPerDegreeLat, Lon: center.Lon},
		{Lat: center.Lat - radius/metersPerDegreeLat, Lon: center.Lon},
	}
	for _, p := range extremes {
		require.GreaterOrEqual(t, p.Lat, minLat)
		require.LessOrEqual(t, p.Lat, maxLat)
		require.GreaterOrEqual(t, p.Lon, minLon)
		require.LessOrEqual(t, p.Lon, maxLon)
	}

	// The longitude span widens toward the pole.
	_, _, npMinLon, npMaxLon := boundingBox(Coordinate{Lat: 80, Lon: 0}, radius)
	require.Greater(t, npMaxLon-npMinLon, maxLon-minLon)
}
