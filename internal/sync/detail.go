package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/observability"
	"example.com/tilehunt/internal/strava"
)

// RetryDelay is the fixed backoff before a rate-limited detail job runs
// again. The provider accounts request budgets in 15-minute windows.
const RetryDelay = 15 * time.Minute

type activityGetter interface {
	GetActivity(ctx context.Context, accessToken string, externalID int64) (*strava.SummaryActivity, error)
}

type tileComputer interface {
	Compute(ctx context.Context, activity *domain.Activity, forced bool) ([]domain.Tile, error)
}

type regionComputer interface {
	Compute(ctx context.Context, activity *domain.Activity, forced bool) ([]domain.Region, error)
}

// DetailWorker backfills the full detail payload of one activity, then
// forces tile and region recomputation from the detail-fidelity line.
type DetailWorker struct {
	activities domain.ActivityRepository
	tokens     accessTokenSource
	provider   activityGetter
	scheduler  domain.Scheduler
	tiles      tileComputer
	regions    regionComputer
	logger     *log.Logger
	retryDelay time.Duration
	now        func() time.Time
}

// NewDetailWorker constructs a DetailWorker.
func NewDetailWorker(activities domain.ActivityRepository, tokens accessTokenSource, provider activityGetter, scheduler domain.Scheduler, tiles tileComputer, regions regionComputer, logger *log.Logger) *DetailWorker {
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &DetailWorker{
		activities: activities,
		tokens:     tokens,
		provider:   provider,
		scheduler:  scheduler,
		tiles:      tiles,
		regions:    regions,
		logger:     logger,
		retryDelay: RetryDelay,
		now:        time.Now,
	}
}

// Sync fetches and merges the detail payload for the activity. When not
// forced and the activity is already detailed the call is a no-op. A
// rate-limited fetch re-enqueues the identical job after RetryDelay, leaves
// the activity untouched and reports domain.ErrRateLimited.
func (w *DetailWorker) Sync(ctx context.Context, activityID string, forced bool) error {
	activity, err := w.activities.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if activity == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoActivity, activityID)
	}

	if !forced && activity.Detailed() {
		w.logger.Printf("activity %s already detailed, not forced, done", activityID)
		return nil
	}

	accessToken, err := w.tokens.AccessToken(ctx, activity.AccountID)
	if err != nil {
		return err
	}

	detail, err := w.provider.GetActivity(ctx, accessToken, activity.ExternalID)
	if errors.Is(err, domain.ErrRateLimited) {
		observability.RecordRateLimited()
		job := domain.ActivityDetailJob{ActivityID: activityID, Forced: forced}
		if enqueueErr := w.scheduler.EnqueueDelayed(ctx, domain.JobSyncActivityDetail, job, w.retryDelay); enqueueErr != nil {
			return enqueueErr
		}
		w.logger.Printf("activity %s rate limited, retrying in %s", activityID, w.retryDelay)
		return err
	}
	if err != nil {
		return err
	}

	mergeDetail(activity, detail, w.now().UTC())
	if err := w.activities.Update(ctx, activity); err != nil {
		return err
	}
	observability.RecordDetailSynced(activity.UpdatedAt)

	// Detail-level geometry supersedes the summary line: recompute derived
	// data even if it already existed.
	if _, err := w.tiles.Compute(ctx, activity, true); err != nil {
		if errors.Is(err, domain.ErrMalformedGeometry) {
			w.logger.Printf("activity %s: skipping tiles: %v", activityID, err)
		} else {
			return err
		}
	}
	if _, err := w.regions.Compute(ctx, activity, true); err != nil {
		if errors.Is(err, domain.ErrMalformedGeometry) {
			w.logger.Printf("activity %s: skipping regions: %v", activityID, err)
		} else {
			return err
		}
	}

	w.logger.Printf("activity %s detail synced", activityID)
	return nil
}

// mergeDetail overwrites summary fields with their detail-fidelity values
// and flips the activity to detailed.
func mergeDetail(activity *domain.Activity, detail *strava.SummaryActivity, now time.Time) {
	activity.Name = detail.Name
	activity.SportType = detail.SportType
	activity.Distance = detail.Distance
	activity.MovingTimeSec = detail.MovingTime
	activity.ElapsedTimeSec = detail.ElapsedTime
	activity.ElevationGain = detail.TotalElevationGain
	activity.AverageSpeed = detail.AverageSpeed
	activity.MaxSpeed = detail.MaxSpeed
	if detail.Map.SummaryPolyline != "" {
		activity.SummaryPolyline = detail.Map.SummaryPolyline
	}
	if detail.Map.Polyline != "" {
		activity.DetailedPolyline = detail.Map.Polyline
	}
	activity.State = domain.ActivityStateDetailed
	activity.UpdatedAt = now
}
