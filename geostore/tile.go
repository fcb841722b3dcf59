// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"fmt"
	"math"
)

// DefaultTileZoomLevels are the slippy-map zoom levels prefetched for
// offline map regions.
var DefaultTileZoomLevels = []int{14, 15, 16}

// MapTile addresses one slippy-map tile.
type MapTile struct {
	X    int
	Y    int
	Zoom int
}

// CacheKey is the resource cache key for this tile.
func (t MapTile) CacheKey() string {
	return fmt.Sprintf("tile/%d/%d/%d", t.Zoom, t.X, t.Y)
}

// URL builds the tile fetch URL against a slippy-map tile server base, e.g.
// "https://tile.openstreetmap.org".
func (t MapTile) URL(base string) string {
	return fmt.Sprintf("%s/%d/%d/%d.png", base, t.Zoom, t.X, t.Y)
}

// TileForCoordinate returns the tile containing c at the given zoom.
func TileForCoordinate(c Coordinate, zoom int) MapTile {
	return MapTile{X: lonToTileX(c.Lon, zoom), Y: latToTileY(c.Lat, zoom), Zoom: zoom}
}

// TilesForBounds enumerates every tile covering the rectangle at each zoom
// level, for prefetching a map region into the resource cache.
func TilesForBounds(minLat, maxLat, minLon, maxLon float64, zooms []int) []MapTile {
	var tiles []MapTile
	for _, zoom := range zooms {
		minX := lonToTileX(minLon, zoom)
		maxX := lonToTileX(maxLon, zoom)
		// Tile Y grows southward.
		minY := latToTileY(maxLat, zoom)
		maxY := latToTileY(minLat, zoom)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				tiles = append(tiles, MapTile{X: x, Y: y, Zoom: zoom})
			}
		}
	}
	return tiles
}

func lonToTileX(lon float64, zoom int) int {
	return int(math.Floor((lon + 180.0) / 360.0 * math.Exp2(float64(zoom))))
}

func latToTileY(lat float64, zoom int) int {
	latRad := lat * math.Pi / 180.0
	return int(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * math.Exp2(float64(zoom))))
}
