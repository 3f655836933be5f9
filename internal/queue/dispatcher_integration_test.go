//go:build integration

package queue

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/tilehunt/internal/domain"
)

func TestDispatcherPublishesDueJobs(t *testing.T) {
	ctx := context.Background()
	pool := setupDispatcherPool(t, ctx)

	producer := &stubProducer{}
	scheduler := NewScheduler(producer, pool, DefaultTopics())
	dispatcher := NewDispatcher(pool, producer, DefaultTopics(), time.Second, 25)

	dispatchedBefore := dispatchedCount(t, domain.JobSyncActivityDetail)

	due := domain.ActivityDetailJob{ActivityID: "act-due", Forced: true}
	require.NoError(t, scheduler.EnqueueDelayed(ctx, domain.JobSyncActivityDetail, due, -time.Minute))

	future := domain.ActivityDetailJob{ActivityID: "act-future"}
	require.NoError(t, scheduler.EnqueueDelayed(ctx, domain.JobSyncActivityDetail, future, time.Hour))

	require.NoError(t, dispatcher.dispatchDue(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "tilehunt_detail_jobs", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	msg := producer.writes[0].messages[0]
	require.Equal(t, "act-due", string(msg.Key))
	require.JSONEq(t, `{"activity_id":"act-due","forced":true}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	require.Equal(t, "job_type", msg.Headers[0].Key)
	require.Equal(t, string(domain.JobSyncActivityDetail), string(msg.Headers[0].Value))

	var dispatched int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs WHERE dispatched_at IS NOT NULL`).Scan(&dispatched))
	require.Equal(t, 1, dispatched)

	// The future job stays parked until its run time.
	require.NoError(t, dispatcher.dispatchDue(ctx))
	require.Len(t, producer.writes, 1)

	var pending string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT routing_key FROM scheduled_jobs WHERE dispatched_at IS NULL`).Scan(&pending))
	require.Equal(t, "act-future", pending)

	require.Equal(t, dispatchedBefore+1, dispatchedCount(t, domain.JobSyncActivityDetail))
}

func dispatchedCount(t *testing.T, jobType domain.JobType) float64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, dispatchedCounter.WithLabelValues(string(jobType)).Write(metric))
	counter := metric.GetCounter()
	require.NotNil(t, counter)
	return counter.GetValue()
}

func TestDispatcherHonorsClaimFence(t *testing.T) {
	ctx := context.Background()
	pool := setupDispatcherPool(t, ctx)

	// A row freshly claimed by another replica stays untouched; a stale claim
	// from a dead replica is picked up again.
	_, err := pool.Exec(ctx,
		`INSERT INTO scheduled_jobs (job_type, routing_key, payload, run_at, claimed_at) VALUES
         ('sync_activity_detail', 'act-fresh', '{"activity_id":"act-fresh","forced":false}', NOW() - INTERVAL '1 minute', NOW()),
         ('sync_activity_detail', 'act-stale', '{"activity_id":"act-stale","forced":false}', NOW() - INTERVAL '1 minute', NOW() - INTERVAL '2 minutes')`)
	require.NoError(t, err)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, DefaultTopics(), time.Second, 25)

	require.NoError(t, dispatcher.dispatchDue(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 1)
	require.Equal(t, "act-stale", string(producer.writes[0].messages[0].Key))

	var pending string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT routing_key FROM scheduled_jobs WHERE dispatched_at IS NULL`).Scan(&pending))
	require.Equal(t, "act-fresh", pending)
}

func TestDispatcherDropsUnknownJobTypes(t *testing.T) {
	ctx := context.Background()
	pool := setupDispatcherPool(t, ctx)

	_, err := pool.Exec(ctx,
		`INSERT INTO scheduled_jobs (job_type, routing_key, payload, run_at)
         VALUES ('retired_job', 'key', '{}', NOW() - INTERVAL '1 minute')`)
	require.NoError(t, err)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, DefaultTopics(), time.Second, 25)

	require.NoError(t, dispatcher.dispatchDue(ctx))
	require.Empty(t, producer.writes)

	// The row is still stamped so it does not wedge the queue.
	var dispatched int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs WHERE dispatched_at IS NOT NULL`).Scan(&dispatched))
	require.Equal(t, 1, dispatched)
}

func setupDispatcherPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgis/postgis:16-3.4",
		postgrescontainer.WithDatabase("tilehunt"),
		postgrescontainer.WithUsername("tilehunt"),
		postgrescontainer.WithPassword("tilehunt"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	deadline := time.Now().Add(30 * time.Second)
	for {
		var pool *pgxpool.Pool
		pool, err = pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("database never became ready: %v", err)
		}
		time.Sleep(time.Second)
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	schema, err := os.ReadFile(filepath.Join(filepath.Dir(file), "../../db/postgres/schema.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}
