package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// TileRepository is the Postgres implementation of domain.TileRepository.
type TileRepository struct {
	pool *pgxpool.Pool
}

// NewTileRepository constructs a TileRepository.
func NewTileRepository(pool *pgxpool.Pool) *TileRepository {
	return &TileRepository{pool: pool}
}

// ListByActivity returns the stored tiles of one activity.
func (r *TileRepository) ListByActivity(ctx context.Context, activityID string) ([]domain.Tile, error) {
	const query = `SELECT tile_id, activity_id, account_id, x, y, z
        FROM activity_tiles WHERE activity_id = $1 ORDER BY x, y`
	return r.list(ctx, query, activityID)
}

// ListByAccount returns the account's tiles deduplicated by index: the same
// cell covered by several activities appears once.
func (r *TileRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.Tile, error) {
	const query = `SELECT DISTINCT ON (x, y, z) tile_id, activity_id, account_id, x, y, z
        FROM activity_tiles WHERE account_id = $1 ORDER BY x, y, z`
	return r.list(ctx, query, accountID)
}

// ReplaceForActivity swaps the activity's tile set in one transaction. An
// advisory lock on the activity id serializes concurrent recomputes so
// delete and insert never interleave across writers.
func (r *TileRepository) ReplaceForActivity(ctx context.Context, activityID string, tiles []domain.Tile) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('activity:' || $1, 0))`, activityID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM activity_tiles WHERE activity_id = $1`, activityID); err != nil {
		return err
	}

	const stmt = `INSERT INTO activity_tiles (tile_id, activity_id, account_id, x, y, z, cell)
        VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromText($7, 4326))`

	batch := &pgx.Batch{}
	for _, tile := range tiles {
		id := tile.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(stmt, id, tile.ActivityID, tile.AccountID, tile.X, tile.Y, tile.Z, ringWKT(tile.Ring))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *TileRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Tile, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiles []domain.Tile
	for rows.Next() {
		var tile domain.Tile
		if err := rows.Scan(&tile.ID, &tile.ActivityID, &tile.AccountID, &tile.X, &tile.Y, &tile.Z); err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}
	return tiles, rows.Err()
}

func ringWKT(ring [][2]float64) string {
	points := make([]string, 0, len(ring))
	for _, pt := range ring {
		points = append(points, fmt.Sprintf("%.9f %.9f", pt[0], pt[1]))
	}
	return "POLYGON((" + strings.Join(points, ",") + "))"
}
