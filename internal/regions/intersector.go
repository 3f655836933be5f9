// Package regions associates activity routes with the administrative regions
// they pass through.
package regions

import (
	"context"
	"fmt"
	"log"

	"example.com/tilehunt/internal/domain"
)

// Intersector finds every predefined region whose boundary intersects an
// activity's best-available route line. Regions are reference data; only the
// associations are written.
type Intersector struct {
	regions domain.RegionRepository
	spatial domain.SpatialQueryable
	logger  *log.Logger
}

// NewIntersector constructs an Intersector.
func NewIntersector(regions domain.RegionRepository, spatial domain.SpatialQueryable, logger *log.Logger) *Intersector {
	if logger == nil {
		logger = log.New(log.Writer(), "[regions] ", log.LstdFlags)
	}
	return &Intersector{regions: regions, spatial: spatial, logger: logger}
}

// Compute returns the regions intersecting the activity route. Existing
// associations are returned unchanged unless forced; forced recompute
// detaches the old set and attaches the new one as a unit.
func (i *Intersector) Compute(ctx context.Context, activity *domain.Activity, forced bool) ([]domain.Region, error) {
	if !forced {
		existing, err := i.regions.ListForActivity(ctx, activity.ID)
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

	matches, err := i.spatial.IntersectingRegions(ctx, activity.ID)
	if err != nil {
		return nil, err
	}

	// Dedupe by region identity, not structural equality.
	ids := make([]int64, 0, len(matches))
	unique := make([]domain.Region, 0, len(matches))
	seen := make(map[int64]struct{}, len(matches))
	for _, region := range matches {
		if _, ok := seen[region.ID]; ok {
			continue
		}
		seen[region.ID] = struct{}{}
		ids = append(ids, region.ID)
		unique = append(unique, region)
	}

	if err := i.regions.ReplaceForActivity(ctx, activity.ID, ids); err != nil {
		return nil, err
	}
	i.logger.Printf("activity %s intersects %d regions (forced=%t)", activity.ID, len(unique), forced)
	return unique, nil
}
