package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// AggregateRepository stores the per-account tile aggregate blob.
type AggregateRepository struct {
	pool *pgxpool.Pool
}

// NewAggregateRepository constructs an AggregateRepository.
func NewAggregateRepository(pool *pgxpool.Pool) *AggregateRepository {
	return &AggregateRepository{pool: pool}
}

// Get returns the stored aggregate, nil when never computed.
func (r *AggregateRepository) Get(ctx context.Context, accountID string) (*domain.TileAggregate, error) {
	const query = `SELECT account_id, geojson, updated_at FROM tile_aggregates WHERE account_id = $1`

	var aggregate domain.TileAggregate
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&aggregate.AccountID, &aggregate.GeoJSON, &aggregate.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &aggregate, nil
}

// Save overwrites the aggregate wholesale.
func (r *AggregateRepository) Save(ctx context.Context, aggregate *domain.TileAggregate) error {
	const stmt = `INSERT INTO tile_aggregates (account_id, geojson, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET
            geojson = EXCLUDED.geojson,
            updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, aggregate.AccountID, aggregate.GeoJSON, aggregate.UpdatedAt)
	return err
}
