// Package queue is the job-scheduler collaborator: Kafka topics carry due
// jobs, a Postgres table holds delayed ones until their run time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/tilehunt/internal/domain"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Topics maps job types onto Kafka topics.
type Topics map[domain.JobType]string

// DefaultTopics is the topic layout used outside tests.
func DefaultTopics() Topics {
	return Topics{
		domain.JobSyncActivities:       "tilehunt_sync_jobs",
		domain.JobSyncActivityDetail:   "tilehunt_detail_jobs",
		domain.JobRefreshTileAggregate: "tilehunt_aggregate_jobs",
	}
}

// Scheduler implements domain.Scheduler. Enqueue publishes straight to the
// job's topic; EnqueueDelayed parks the job in the scheduled_jobs table for
// the Dispatcher to publish once due.
type Scheduler struct {
	producer messageWriter
	pool     *pgxpool.Pool
	topics   Topics
	now      func() time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(producer messageWriter, pool *pgxpool.Pool, topics Topics) *Scheduler {
	return &Scheduler{producer: producer, pool: pool, topics: topics, now: time.Now}
}

// Enqueue publishes the job for immediate dispatch.
func (s *Scheduler) Enqueue(ctx context.Context, jobType domain.JobType, payload domain.Payload) error {
	topic, ok := s.topics[jobType]
	if !ok {
		return fmt.Errorf("no topic for job type %q", jobType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(payload.RoutingKey()),
		Value: body,
		Time:  s.now().UTC(),
		Headers: []kafka.Header{
			{Key: "job_type", Value: []byte(jobType)},
		},
	}
	if err := s.producer.WriteMessages(ctx, topic, msg); err != nil {
		return err
	}
	recordEnqueued(jobType, false)
	return nil
}

// EnqueueDelayed stores the job with its run time; the Dispatcher publishes
// it once the time passes.
func (s *Scheduler) EnqueueDelayed(ctx context.Context, jobType domain.JobType, payload domain.Payload, delay time.Duration) error {
	if _, ok := s.topics[jobType]; !ok {
		return fmt.Errorf("no topic for job type %q", jobType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO scheduled_jobs (job_type, routing_key, payload, run_at)
        VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, stmt, string(jobType), payload.RoutingKey(), body, s.now().UTC().Add(delay)); err != nil {
		return err
	}
	recordEnqueued(jobType, true)
	return nil
}
