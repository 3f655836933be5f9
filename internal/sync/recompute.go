package sync

import (
	"context"
	"errors"
	"log"

	"example.com/tilehunt/internal/domain"
)

// Recomputer rebuilds derived tile and region data for every stored
// activity, used after changing grid conventions or reloading region data.
type Recomputer struct {
	activities domain.ActivityRepository
	tiles      tileComputer
	regions    regionComputer
	logger     *log.Logger
}

// NewRecomputer constructs a Recomputer.
func NewRecomputer(activities domain.ActivityRepository, tiles tileComputer, regions regionComputer, logger *log.Logger) *Recomputer {
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Recomputer{activities: activities, tiles: tiles, regions: regions, logger: logger}
}

// Run force-recomputes tiles and regions for all activities. Per-activity
// failures are logged and do not abort the rest of the batch; the first
// non-geometry failure is surfaced once the sweep finishes.
func (r *Recomputer) Run(ctx context.Context) error {
	activities, err := r.activities.ListAll(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range activities {
		if err := ctx.Err(); err != nil {
			return err
		}
		activity := &activities[i]
		r.logger.Printf("recomputing %d of %d (activity %s)", i+1, len(activities), activity.ID)

		if _, err := r.tiles.Compute(ctx, activity, true); err != nil {
			r.logger.Printf("activity %s: tiles failed: %v", activity.ID, err)
			if !errors.Is(err, domain.ErrMalformedGeometry) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := r.regions.Compute(ctx, activity, true); err != nil {
			r.logger.Printf("activity %s: regions failed: %v", activity.ID, err)
			if !errors.Is(err, domain.ErrMalformedGeometry) && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
