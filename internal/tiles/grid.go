// Package tiles computes the slippy-map tile coverage of activity routes.
package tiles

import (
	"context"
	"fmt"
	"log"
	"math"

	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/observability"
)

const (
	// Zoom is the fixed tile zoom level for coverage computation.
	Zoom = 14
	// MaxSegmentVertices bounds the vertex count per subdivided route segment
	// so each grid intersection test stays cheap.
	MaxSegmentVertices = 64
	// IndexOffset shifts raw grid indices before storage: x = raw+8192,
	// y = 8192-raw. Downstream tile URLs and bbox filters assume this exact
	// transform, so it must not change.
	IndexOffset = 8192
)

// Grid derives the minimal covering tile set for an activity route. The
// heavy lifting (projection, subdivision, grid overlay, intersection) runs
// as set-based queries inside the spatial store.
type Grid struct {
	tiles   domain.TileRepository
	spatial domain.SpatialQueryable
	logger  *log.Logger
}

// NewGrid constructs a Grid.
func NewGrid(tiles domain.TileRepository, spatial domain.SpatialQueryable, logger *log.Logger) *Grid {
	if logger == nil {
		logger = log.New(log.Writer(), "[tiles] ", log.LstdFlags)
	}
	return &Grid{tiles: tiles, spatial: spatial, logger: logger}
}

// Compute returns the covering tiles for the activity. Existing tiles are
// returned unchanged unless forced; forced recompute replaces the stored set
// in one transaction so the activity is never left partially covered.
func (g *Grid) Compute(ctx context.Context, activity *domain.Activity, forced bool) ([]domain.Tile, error) {
	if !forced {
		existing, err := g.tiles.ListByActivity(ctx, activity.ID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}

	if activity.RoutePolyline() == "" {
		return nil, fmt.Errorf("%w: activity %s has no route line", domain.ErrMalformedGeometry, activity.ID)
	}

	cells, err := g.spatial.CoveringCells(ctx, activity.ID, Zoom, MaxSegmentVertices)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: activity %s covers no grid cells", domain.ErrMalformedGeometry, activity.ID)
	}

	computed := make([]domain.Tile, 0, len(cells))
	seen := make(map[[2]int]struct{}, len(cells))
	for _, cell := range cells {
		x := cell.X + IndexOffset
		y := IndexOffset - cell.Y
		key := [2]int{x, y}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		computed = append(computed, domain.Tile{
			ActivityID: activity.ID,
			AccountID:  activity.AccountID,
			X:          x,
			Y:          y,
			Z:          Zoom,
			Ring:       Ring(x, y, Zoom),
		})
	}

	if err := g.tiles.ReplaceForActivity(ctx, activity.ID, computed); err != nil {
		return nil, err
	}
	observability.RecordTilesComputed(len(computed))
	g.logger.Printf("computed %d tiles for activity %s (forced=%t)", len(computed), activity.ID, forced)
	return computed, nil
}

// TileToLatLon converts a tile index to the lat/lon of its corner using the
// standard slippy-map formula.
func TileToLatLon(x, y, z int) (lat, lon float64) {
	n := math.Pow(2, float64(z))
	lon = float64(x)/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi-float64(y)/n*2*math.Pi)) * 180 / math.Pi
	return lat, lon
}

// LatLonToTile converts a coordinate to its tile index, the inverse of
// TileToLatLon.
func LatLonToTile(lat, lon float64, z int) (x, y int) {
	n := math.Pow(2, float64(z))
	x = int(math.Floor((lon + 180) / 360 * n))
	y = int(math.Floor((1 - math.Log(math.Tan(lat*math.Pi/180)+1/math.Cos(lat*math.Pi/180))/math.Pi) / 2 * n))
	return x, y
}

// Ring builds the closed 5-point lon/lat corner ring of a stored tile. The
// corners are derived from the stored (shifted) indices; because the stored
// y axis is mirrored, the opposite corner sits at (x+1, y-1).
func Ring(x, y, z int) [][2]float64 {
	corners := [][2]int{{x, y}, {x + 1, y}, {x + 1, y - 1}, {x, y - 1}, {x, y}}
	ring := make([][2]float64, 0, len(corners))
	for _, c := range corners {
		lat, lon := TileToLatLon(c[0], c[1], z)
		ring = append(ring, [2]float64{lon, lat})
	}
	return ring
}
