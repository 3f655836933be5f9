package domain

import (
	"context"
	"time"
)

// AccountRepository exposes the accounts the sync sweep iterates over.
type AccountRepository interface {
	Get(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
}

// TokenRepository stores provider tokens. Latest returns the newest row for
// the account (latest wins), nil when the account never authenticated.
type TokenRepository interface {
	Latest(ctx context.Context, accountID string) (*Token, error)
	Save(ctx context.Context, token *Token) error
}

// ActivityRepository captures activity persistence operations.
type ActivityRepository interface {
	Get(ctx context.Context, id string) (*Activity, error)
	// LatestStartDate returns the sync watermark for the account, nil when no
	// activity was synced before.
	LatestStartDate(ctx context.Context, accountID string) (*time.Time, error)
	// ExistingExternalIDs returns every stored external id; external ids are
	// unique system-wide.
	ExistingExternalIDs(ctx context.Context) (map[int64]struct{}, error)
	CreateBatch(ctx context.Context, activities []Activity) error
	Update(ctx context.Context, activity *Activity) error
	ListByAccount(ctx context.Context, accountID string) ([]Activity, error)
	ListSummaryOnly(ctx context.Context, accountID string) ([]Activity, error)
	ListAll(ctx context.Context) ([]Activity, error)
}

// TileRepository stores computed tiles. ReplaceForActivity deletes the old
// set and inserts the new one as a unit so an activity is never left
// partially covered.
type TileRepository interface {
	ListByActivity(ctx context.Context, activityID string) ([]Tile, error)
	ListByAccount(ctx context.Context, accountID string) ([]Tile, error)
	ReplaceForActivity(ctx context.Context, activityID string, tiles []Tile) error
}

// RegionRepository stores activity<->region associations. Attach is
// idempotent; ReplaceForActivity is the forced-recompute path.
type RegionRepository interface {
	ListForActivity(ctx context.Context, activityID string) ([]Region, error)
	ReplaceForActivity(ctx context.Context, activityID string, regionIDs []int64) error
}

// AggregateRepository stores the per-account tile aggregate, overwritten
// wholesale on every refresh.
type AggregateRepository interface {
	Get(ctx context.Context, accountID string) (*TileAggregate, error)
	Save(ctx context.Context, aggregate *TileAggregate) error
}

// SpatialQueryable is satisfied only by stores that can run projected-grid
// intersection queries. Callers that need spatial capability take this
// interface so a non-spatial store is rejected at construction time.
type SpatialQueryable interface {
	// CoveringCells returns the raw square-grid indices at the given zoom
	// whose cells intersect the activity's best-available route line, after
	// subdividing the projected line to at most maxVertices per segment.
	CoveringCells(ctx context.Context, activityID string, zoom, maxVertices int) ([]Cell, error)
	// IntersectingRegions returns every region whose boundary intersects the
	// activity's best-available route line.
	IntersectingRegions(ctx context.Context, activityID string) ([]Region, error)
	// UnionTileGeoJSON unions the account's tile polygons, simplifies with
	// the given tolerance and serializes the result to GeoJSON.
	UnionTileGeoJSON(ctx context.Context, accountID string, tolerance float64) ([]byte, error)
	// RouteGeoJSON returns the activity's best-available route line as a
	// GeoJSON geometry.
	RouteGeoJSON(ctx context.Context, activityID string) ([]byte, error)
	// RegionGeoJSON returns a region boundary as a GeoJSON geometry.
	RegionGeoJSON(ctx context.Context, regionID int64) ([]byte, error)
}
