// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"context"
	"fmt"
	"math"
	"sort"
)

const (
	// metersPerDegreeLat approximates one degree of latitude anywhere on
	// Earth; longitude degrees shrink by cos(latitude).
	metersPerDegreeLat = 111000.0

	// earthRadiusMeters is the mean Earth radius used for great-circle
	// distances.
	earthRadiusMeters = 6371000.0
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NearbyRecord is a query result annotated with its exact great-circle
// distance from the query center.
type NearbyRecord struct {
	Record
	DistanceMeters float64
}

// Nearby returns the live records of one kind within radiusMeters of
// center, closest first, optionally filtered by pred.
//
// The query runs in two phases: a bounding box over-approximating the
// search circle prefilters candidates with plain comparisons, then the
// exact haversine distance discards the box corners. Distance is computed
// only for the prefiltered set, so sparse regions stay near-linear in
// result size rather than corpus size.
func (s *Store) Nearby(ctx context.Context, entityType EntityType, center Coordinate,
	radiusMeters float64, pred func(Record) bool) ([]NearbyRecord, error) {

	if radiusMeters <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", radiusMeters)
	}

	minLat, maxLat, minLon, maxLon := boundingBox(center, radiusMeters)
	candidates, err := s.QueryByBoundingBox(ctx, entityType, minLat, maxLat, minLon, maxLon, pred)
	if err != nil {
		return nil, err
	}

	results := make([]NearbyRecord, 0, len(candidates))
	for _, rec := range candidates {
		d := haversineMeters(center, Coordinate{Lat: *rec.Lat, Lon: *rec.Lon})
		if d > radiusMeters {
			continue
		}
		results = append(results, NearbyRecord{Record: rec, DistanceMeters: d})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	return results, nil
}

// boundingBox returns a latitude/longitude rectangle that contains the
// circle of the given radius around center. Longitude spans widen toward
// the poles; the cosine is clamped so the box degrades to very wide rather
// than inverting.
func boundingBox(center Coordinate, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	latDelta := radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := radiusMeters / (metersPerDegreeLat * cosLat)
	return center.Lat - latDelta, center.Lat + latDelta,
		center.Lon - lonDelta, center.Lon + lonDelta
}

// haversineMeters is the great-circle distance between two points.
func haversineMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
