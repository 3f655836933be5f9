package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// RegionRepository stores activity<->region associations. Region boundary
// rows are reference data loaded out of band; this repository never writes
// them.
type RegionRepository struct {
	pool *pgxpool.Pool
}

// NewRegionRepository constructs a RegionRepository.
func NewRegionRepository(pool *pgxpool.Pool) *RegionRepository {
	return &RegionRepository{pool: pool}
}

// ListForActivity returns the regions currently associated with an activity.
func (r *RegionRepository) ListForActivity(ctx context.Context, activityID string) ([]domain.Region, error) {
	const query = `SELECT r.region_id, r.name
        FROM regions r
        JOIN activity_regions ar ON ar.region_id = r.region_id
        WHERE ar.activity_id = $1
        ORDER BY r.region_id`

	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var region domain.Region
		if err := rows.Scan(&region.ID, &region.Name); err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// ReplaceForActivity swaps the activity's associations in one transaction.
// The insert is idempotent through the (activity, region) primary key.
func (r *RegionRepository) ReplaceForActivity(ctx context.Context, activityID string, regionIDs []int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('activity:' || $1, 0))`, activityID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM activity_regions WHERE activity_id = $1`, activityID); err != nil {
		return err
	}

	const stmt = `INSERT INTO activity_regions (activity_id, region_id)
        VALUES ($1, $2) ON CONFLICT DO NOTHING`

	batch := &pgx.Batch{}
	for _, regionID := range regionIDs {
		batch.Queue(stmt, activityID, regionID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
