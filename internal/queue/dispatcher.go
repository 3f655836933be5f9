package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/tilehunt/internal/domain"
)

// Dispatcher drains due rows from scheduled_jobs and publishes them to their
// Kafka topics. Multiple worker replicas can poll concurrently: FOR UPDATE
// SKIP LOCKED keeps pollers off each other's batches and the claimed_at
// fence keeps a claimed row out of other replicas until the claim expires.
// A replica that dies between claim and publish leaves its rows to be
// retried after the claim window, so delivery is at-least-once.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	topics           Topics
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, topics Topics, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		topics:           topics,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.New(log.Writer(), "[dispatcher] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.dispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher loop has stopped.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

type scheduledJob struct {
	ID         int64
	JobType    string
	RoutingKey string
	Payload    []byte
}

func (d *Dispatcher) dispatchDue(ctx context.Context) error {
	jobs, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		topic, ok := d.topics[domain.JobType(job.JobType)]
		if !ok {
			d.logger.Printf("dropping scheduled job %d with unknown type %q", job.ID, job.JobType)
			continue
		}
		msg := kafka.Message{
			Key:   []byte(job.RoutingKey),
			Value: job.Payload,
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "job_type", Value: []byte(job.JobType)},
			},
		}
		if err := d.producer.WriteMessages(ctx, topic, msg); err != nil {
			return err
		}
		recordDispatched(domain.JobType(job.JobType))
	}

	return d.markDispatched(ctx, jobs)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]scheduledJob, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const query = `SELECT id, job_type, routing_key, payload
        FROM scheduled_jobs
        WHERE dispatched_at IS NULL
          AND run_at <= NOW()
          AND (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '1 minute')
        ORDER BY run_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]scheduledJob, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var job scheduledJob
		if err = rows.Scan(&job.ID, &job.JobType, &job.RoutingKey, &job.Payload); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE scheduled_jobs SET claimed_at = NOW() WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *Dispatcher) markDispatched(ctx context.Context, jobs []scheduledJob) error {
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE scheduled_jobs SET dispatched_at = NOW() WHERE id = ANY($1)`, ids)
	return err
}
