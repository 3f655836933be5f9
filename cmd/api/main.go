package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/tilehunt/internal/api"
	"example.com/tilehunt/internal/auth"
	"example.com/tilehunt/internal/config"
	persistence "example.com/tilehunt/internal/persistence/postgres"
	"example.com/tilehunt/internal/queue"
	"example.com/tilehunt/internal/strava"
	httptransport "example.com/tilehunt/internal/transport/http"
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

	scheduler := queue.NewScheduler(producer, pool, queue.DefaultTopics())

	provider := strava.NewClient(strava.Credentials{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
	}, strava.WithBaseURL(cfg.StravaBaseURL))

	spatial := persistence.NewSpatialStore(pool)

	handler := api.NewHandler(api.Deps{
		Activities:  persistence.NewActivityRepository(pool),
		Tokens:      persistence.NewTokenRepository(pool),
		Tiles:       persistence.NewTileRepository(pool),
		Regions:     persistence.NewRegionRepository(pool),
		Aggregates:  persistence.NewAggregateRepository(pool),
		Spatial:     spatial,
		Scheduler:   scheduler,
		Provider:    provider,
		RedirectURI: cfg.StravaRedirectURI,
		TileServer:  cfg.TileServerURL,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("tilehunt api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
