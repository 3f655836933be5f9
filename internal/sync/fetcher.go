// Package sync implements the provider synchronization pipeline: the
// paginated listing sync and the per-activity detail backfill.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/observability"
	"example.com/tilehunt/internal/strava"
)

const (
	// pageSize is the fixed listing page size.
	pageSize = 30
	// maxPages bounds the listing loop so a misbehaving remote can't spin it
	// forever.
	maxPages = 1000
	// watermarkEpsilon is subtracted from the sync watermark before the
	// `after` filter. The overlap re-fetches activities sharing a start
	// timestamp with the boundary; dedup discards them again.
	watermarkEpsilon = 10 * time.Second
)

type accessTokenSource interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
}

type activityLister interface {
	ListActivities(ctx context.Context, accessToken string, after *time.Time, page, perPage int) ([]strava.SummaryActivity, error)
}

// Fetcher runs the incremental listing sync for one account: watermark,
// page loop, dedup, one batch insert, then one detail job per activity that
// is still summary-only.
type Fetcher struct {
	activities domain.ActivityRepository
	tokens     accessTokenSource
	provider   activityLister
	scheduler  domain.Scheduler
	logger     *log.Logger
	now        func() time.Time
}

// NewFetcher constructs a Fetcher.
func NewFetcher(activities domain.ActivityRepository, tokens accessTokenSource, provider activityLister, scheduler domain.Scheduler, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Fetcher{
		activities: activities,
		tokens:     tokens,
		provider:   provider,
		scheduler:  scheduler,
		logger:     logger,
		now:        time.Now,
	}
}

// Sync fetches all activities newer than the account's watermark and returns
// the number of newly persisted rows. A rate-limited page aborts the loop
// and surfaces domain.ErrRateLimited; rows already persisted are retained
// and the caller decides when to reschedule the sweep.
func (f *Fetcher) Sync(ctx context.Context, accountID string) (int, error) {
	watermark, err := f.activities.LatestStartDate(ctx, accountID)
	if err != nil {
		return 0, err
	}

	var after *time.Time
	if watermark != nil {
		boundary := watermark.Add(-watermarkEpsilon)
		after = &boundary
		f.logger.Printf("account %s: syncing activities after %s", accountID, boundary.Format(time.RFC3339))
	} else {
		f.logger.Printf("account %s: no sync before, loading full history", accountID)
	}

	accessToken, err := f.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return 0, err
	}

	// A rate-limited page aborts the loop but the pages fetched so far are
	// still persisted below.
	var fetched []strava.SummaryActivity
	var rateLimited error
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		f.logger.Printf("account %s: loading page %d", accountID, page)
		batch, err := f.provider.ListActivities(ctx, accessToken, after, page, pageSize)
		if errors.Is(err, domain.ErrRateLimited) {
			observability.RecordRateLimited()
			rateLimited = err
			break
		}
		if err != nil {
			return 0, err
		}
		observability.RecordListingPage(len(batch))
		if len(batch) == 0 {
			break
		}
		fetched = append(fetched, batch...)
	}

	existing, err := f.activities.ExistingExternalIDs(ctx)
	if err != nil {
		return 0, err
	}

	fresh := make([]domain.Activity, 0, len(fetched))
	seen := make(map[int64]struct{}, len(fetched))
	for _, summary := range fetched {
		if _, ok := existing[summary.ID]; ok {
			continue
		}
		if _, ok := seen[summary.ID]; ok {
			continue
		}
		seen[summary.ID] = struct{}{}
		fresh = append(fresh, newActivity(accountID, summary, f.now().UTC()))
	}

	f.logger.Printf("account %s: fetched %d summaries, persisting %d new", accountID, len(fetched), len(fresh))
	if len(fresh) > 0 {
		if err := f.activities.CreateBatch(ctx, fresh); err != nil {
			return 0, err
		}
		observability.RecordActivitiesInserted(len(fresh))
	}

	// Detail jobs would run straight into the same budget, so a rate-limited
	// sync stops after persisting the partial result.
	if rateLimited != nil {
		return len(fresh), rateLimited
	}

	// Enqueue detail jobs for every summary-only activity of the account,
	// not only the fresh inserts, to repair partially-synced history.
	pending, err := f.activities.ListSummaryOnly(ctx, accountID)
	if err != nil {
		return len(fresh), err
	}
	for _, activity := range pending {
		job := domain.ActivityDetailJob{ActivityID: activity.ID}
		if err := f.scheduler.Enqueue(ctx, domain.JobSyncActivityDetail, job); err != nil {
			return len(fresh), fmt.Errorf("enqueue detail job for activity %s: %w", activity.ID, err)
		}
	}
	f.logger.Printf("account %s: enqueued %d detail jobs", accountID, len(pending))

	return len(fresh), nil
}

func newActivity(accountID string, summary strava.SummaryActivity, now time.Time) domain.Activity {
	return domain.Activity{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		ExternalID:      summary.ID,
		Name:            summary.Name,
		SportType:       summary.SportType,
		Distance:        summary.Distance,
		MovingTimeSec:   summary.MovingTime,
		ElapsedTimeSec:  summary.ElapsedTime,
		ElevationGain:   summary.TotalElevationGain,
		StartDate:       summary.StartDate.UTC(),
		StartDateLocal:  summary.StartDateLocal,
		Timezone:        summary.Timezone,
		AverageSpeed:    summary.AverageSpeed,
		MaxSpeed:        summary.MaxSpeed,
		SummaryPolyline: summary.Map.SummaryPolyline,
		State:           domain.ActivityStateSummaryOnly,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
