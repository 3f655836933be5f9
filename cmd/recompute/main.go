// Command recompute force-recomputes tiles and region associations for every
// stored activity. Run it after changing the grid zoom or loading new regions.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/config"
	persistence "example.com/tilehunt/internal/persistence/postgres"
	"example.com/tilehunt/internal/regions"
	appsync "example.com/tilehunt/internal/sync"
	"example.com/tilehunt/internal/tiles"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	activityRepo := persistence.NewActivityRepository(pool)
	tileRepo := persistence.NewTileRepository(pool)
	regionRepo := persistence.NewRegionRepository(pool)
	spatial := persistence.NewSpatialStore(pool)

	grid := tiles.NewGrid(tileRepo, spatial, nil)
	intersector := regions.NewIntersector(regionRepo, spatial, nil)

	recomputer := appsync.NewRecomputer(activityRepo, grid, intersector, nil)

	log.Println("recompute started")
	if err := recomputer.Run(ctx); err != nil {
		log.Fatalf("recompute finished with error: %v", err)
	}
	log.Println("recompute finished")
}
