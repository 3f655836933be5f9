package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/tilehunt/internal/config"
	"example.com/tilehunt/internal/domain"
	persistence "example.com/tilehunt/internal/persistence/postgres"
	"example.com/tilehunt/internal/queue"
	"example.com/tilehunt/internal/regions"
	"example.com/tilehunt/internal/strava"
	appsync "example.com/tilehunt/internal/sync"
	"example.com/tilehunt/internal/tiles"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	producer := queue.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	topics := queue.DefaultTopics()
	scheduler := queue.NewScheduler(producer, pool, topics)
	dispatcher := queue.NewDispatcher(pool, producer, topics, cfg.SchedulerPollInterval, cfg.SchedulerBatchSize)
	go dispatcher.Start(ctx)

	accountRepo := persistence.NewAccountRepository(pool)
	activityRepo := persistence.NewActivityRepository(pool)
	tokenRepo := persistence.NewTokenRepository(pool)
	tileRepo := persistence.NewTileRepository(pool)
	regionRepo := persistence.NewRegionRepository(pool)
	aggregateRepo := persistence.NewAggregateRepository(pool)
	spatial := persistence.NewSpatialStore(pool)

	provider := strava.NewClient(strava.Credentials{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
	}, strava.WithBaseURL(cfg.StravaBaseURL))
	tokenManager := strava.NewTokenManager(tokenRepo, provider)

	grid := tiles.NewGrid(tileRepo, spatial, nil)
	intersector := regions.NewIntersector(regionRepo, spatial, nil)
	aggregator := tiles.NewAggregator(spatial, aggregateRepo, nil)

	fetcher := appsync.NewFetcher(activityRepo, tokenManager, provider, scheduler, nil)
	detail := appsync.NewDetailWorker(activityRepo, tokenManager, provider, scheduler, grid, intersector, nil)
	sweeper := appsync.NewSweeper(accountRepo, scheduler, nil)

	handlers := map[domain.JobType]queue.HandlerFunc{
		domain.JobSyncActivities: func(ctx context.Context, job queue.Job) error {
			var payload domain.SyncActivitiesJob
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return err
			}
			_, err := fetcher.Sync(ctx, payload.AccountID)
			return err
		},
		domain.JobSyncActivityDetail: func(ctx context.Context, job queue.Job) error {
			var payload domain.ActivityDetailJob
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return err
			}
			return detail.Sync(ctx, payload.ActivityID, payload.Forced)
		},
		domain.JobRefreshTileAggregate: func(ctx context.Context, job queue.Job) error {
			var payload domain.RefreshAggregateJob
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return err
			}
			return aggregator.Refresh(ctx, payload.AccountID)
		},
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := queue.NewProcessor(reader, handlers)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("worker started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("worker stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	if cfg.SyncSweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.SyncSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if queued, err := sweeper.EnqueueAll(ctx); err != nil {
						log.Printf("sync sweep failed: %v", err)
					} else {
						log.Printf("sync sweep queued %d accounts", queued)
					}
				}
			}
		}()
	}

	<-stop
	log.Println("worker shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
	dispatcher.Wait()
}
