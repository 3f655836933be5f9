package tiles

import (
	"context"
	"log"
	"time"

	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/observability"
)

// SimplifyTolerance is the fixed simplification tolerance, in degrees,
// applied to the unioned tile geometry.
const SimplifyTolerance = 0.001

// Aggregator maintains the per-account aggregate of all tile polygons for
// fast overview rendering. It is pull-based: tile writes never refresh it,
// callers trigger a refresh when a sync batch settles.
type Aggregator struct {
	spatial    domain.SpatialQueryable
	aggregates domain.AggregateRepository
	logger     *log.Logger
	now        func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(spatial domain.SpatialQueryable, aggregates domain.AggregateRepository, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.Writer(), "[tiles] ", log.LstdFlags)
	}
	return &Aggregator{spatial: spatial, aggregates: aggregates, logger: logger, now: time.Now}
}

// Refresh unions the account's tile polygons, simplifies the result and
// overwrites the stored aggregate.
func (a *Aggregator) Refresh(ctx context.Context, accountID string) error {
	blob, err := a.spatial.UnionTileGeoJSON(ctx, accountID, SimplifyTolerance)
	if err != nil {
		return err
	}

	aggregate := &domain.TileAggregate{
		AccountID: accountID,
		GeoJSON:   blob,
		UpdatedAt: a.now().UTC(),
	}
	if err := a.aggregates.Save(ctx, aggregate); err != nil {
		return err
	}
	observability.RecordAggregateRefreshed()
	a.logger.Printf("refreshed tile aggregate for account %s (%d bytes)", accountID, len(blob))
	return nil
}
