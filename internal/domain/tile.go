package domain

import "time"

// Tile is one covering slippy-map cell of an activity route, stored under the
// project's shifted index convention (x = raw+8192, y = 8192-raw). Unique per
// (activity, x, y, z).
type Tile struct {
	ID         string
	ActivityID string
	AccountID  string
	X          int
	Y          int
	Z          int
	// Ring is the closed 5-point lon/lat polygon of the tile's corners, kept
	// explicitly so union and containment queries don't depend on the index.
	Ring [][2]float64
}

// Cell is a raw (pre-offset) square-grid index returned by the spatial store.
type Cell struct {
	X int
	Y int
}

// Region is pre-existing administrative reference data; this engine only
// associates activities with it, it never creates regions.
type Region struct {
	ID   int64
	Name string
}

// TileAggregate is the per-account simplified union of all tile polygons.
// It is an eventually-consistent cache: stale between explicit refreshes.
type TileAggregate struct {
	AccountID string
	GeoJSON   []byte
	UpdatedAt time.Time
}
