package domain

import (
	"context"
	"time"
)

// JobType names a background job handled by the worker.
type JobType string

const (
	// JobSyncActivities runs the paginated listing sync for one account.
	JobSyncActivities JobType = "sync_activities"
	// JobSyncActivityDetail backfills full detail for one activity.
	JobSyncActivityDetail JobType = "sync_activity_detail"
	// JobRefreshTileAggregate recomputes an account's tile aggregate.
	JobRefreshTileAggregate JobType = "refresh_tile_aggregate"
)

// Scheduler is the job-queue collaborator. EnqueueDelayed is the rate-limit
// backoff path.
type Scheduler interface {
	Enqueue(ctx context.Context, jobType JobType, payload Payload) error
	EnqueueDelayed(ctx context.Context, jobType JobType, payload Payload, delay time.Duration) error
}

// Payload is a job payload carrying its queue-routing key. Routing by key
// keeps at most one in-flight detail sync per activity id.
type Payload interface {
	RoutingKey() string
}

// SyncActivitiesJob triggers the listing sync for an account.
type SyncActivitiesJob struct {
	AccountID string `json:"account_id"`
}

func (j SyncActivitiesJob) RoutingKey() string { return j.AccountID }

// ActivityDetailJob triggers the detail backfill for an activity.
type ActivityDetailJob struct {
	ActivityID string `json:"activity_id"`
	Forced     bool   `json:"forced"`
}

func (j ActivityDetailJob) RoutingKey() string { return j.ActivityID }

// RefreshAggregateJob triggers the tile aggregate recomputation.
type RefreshAggregateJob struct {
	AccountID string `json:"account_id"`
}

func (j RefreshAggregateJob) RoutingKey() string { return j.AccountID }
