package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// emptyGeometry is the serialized form of a union over zero tiles.
const emptyGeometry = `{"type":"GeometryCollection","geometries":[]}`

// SpatialStore implements domain.SpatialQueryable on PostGIS. Every
// operation is a set-based query; no geometry is processed in Go.
type SpatialStore struct {
	pool *pgxpool.Pool
}

// NewSpatialStore constructs a SpatialStore.
func NewSpatialStore(pool *pgxpool.Pool) *SpatialStore {
	return &SpatialStore{pool: pool}
}

var _ domain.SpatialQueryable = (*SpatialStore)(nil)

// CoveringCells overlays a square grid sized to the tile extent at the given
// zoom over the activity's route, after projecting to Web Mercator and
// subdividing the line to cap per-geometry vertex counts, and returns the
// distinct cells that actually intersect the route.
func (s *SpatialStore) CoveringCells(ctx context.Context, activityID string, zoom, maxVertices int) ([]domain.Cell, error) {
	const query = `
WITH
  zoom(lvl, csize) AS (
    VALUES ($2::int, (2*PI()*6378137)/POW(2, $2))
  ),
  route AS (
    SELECT a.activity_id, sdv AS geom
    FROM activities AS a,
    LATERAL ST_SubDivide(
      ST_Transform(COALESCE(a.detail_line, a.summary_line), 3857),
      $3
    ) AS sdv
    WHERE a.activity_id = $1
  )
SELECT DISTINCT
  grid.i AS x, grid.j AS y
FROM
  zoom AS z,
  route AS t,
  LATERAL ST_SquareGrid(z.csize, t.geom) AS grid
WHERE
  ST_Intersects(t.geom, grid.geom)`

	rows, err := s.pool.Query(ctx, query, activityID, zoom, maxVertices)
	if err != nil {
		return nil, fmt.Errorf("%w: covering cells for activity %s: %v", domain.ErrSpatialStore, activityID, err)
	}
	defer rows.Close()

	var cells []domain.Cell
	for rows.Next() {
		var cell domain.Cell
		if err := rows.Scan(&cell.X, &cell.Y); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSpatialStore, err)
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSpatialStore, err)
	}
	return cells, nil
}

// IntersectingRegions returns every region whose boundary intersects the
// activity's best-available route line.
func (s *SpatialStore) IntersectingRegions(ctx context.Context, activityID string) ([]domain.Region, error) {
	const query = `
SELECT r.region_id, r.name
FROM regions AS r, activities AS a
WHERE a.activity_id = $1
  AND ST_Intersects(r.boundary, COALESCE(a.detail_line, a.summary_line))
ORDER BY r.region_id`

	rows, err := s.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("%w: intersecting regions for activity %s: %v", domain.ErrSpatialStore, activityID, err)
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var region domain.Region
		if err := rows.Scan(&region.ID, &region.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSpatialStore, err)
		}
		regions = append(regions, region)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSpatialStore, err)
	}
	return regions, nil
}

// UnionTileGeoJSON unions the account's tile polygons, simplifies the result
// with the given tolerance and serializes it to GeoJSON.
func (s *SpatialStore) UnionTileGeoJSON(ctx context.Context, accountID string, tolerance float64) ([]byte, error) {
	const query = `
SELECT ST_AsGeoJSON(ST_Simplify(ST_Union(t.cell), $2))
FROM activity_tiles AS t
WHERE t.account_id = $1`

	var blob *string
	if err := s.pool.QueryRow(ctx, query, accountID, tolerance).Scan(&blob); err != nil {
		return nil, fmt.Errorf("%w: tile union for account %s: %v", domain.ErrSpatialStore, accountID, err)
	}
	if blob == nil {
		return []byte(emptyGeometry), nil
	}
	return []byte(*blob), nil
}

// RouteGeoJSON serializes the activity's best-available route line.
func (s *SpatialStore) RouteGeoJSON(ctx context.Context, activityID string) ([]byte, error) {
	const query = `
SELECT ST_AsGeoJSON(COALESCE(a.detail_line, a.summary_line))
FROM activities AS a WHERE a.activity_id = $1`

	var blob *string
	if err := s.pool.QueryRow(ctx, query, activityID).Scan(&blob); err != nil {
		return nil, fmt.Errorf("%w: route for activity %s: %v", domain.ErrSpatialStore, activityID, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: activity %s has no route line", domain.ErrMalformedGeometry, activityID)
	}
	return []byte(*blob), nil
}

// RegionGeoJSON serializes a region boundary.
func (s *SpatialStore) RegionGeoJSON(ctx context.Context, regionID int64) ([]byte, error) {
	const query = `SELECT ST_AsGeoJSON(boundary) FROM regions WHERE region_id = $1`

	var blob string
	if err := s.pool.QueryRow(ctx, query, regionID).Scan(&blob); err != nil {
		return nil, fmt.Errorf("%w: region %d: %v", domain.ErrSpatialStore, regionID, err)
	}
	return []byte(blob), nil
}
