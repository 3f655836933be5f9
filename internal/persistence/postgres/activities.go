// Package postgres provides pgx-backed persistence, including the PostGIS
// spatial queries that drive tile and region computation.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

const activityColumns = `activity_id, account_id, external_id, name, sport_type, distance,
        moving_time_sec, elapsed_time_sec, elevation_gain, start_date, start_date_local,
        timezone, average_speed, max_speed, summary_polyline, COALESCE(detailed_polyline, ''),
        processing_state, created_at, updated_at`

// ActivityRepository is the Postgres implementation of
// domain.ActivityRepository. The encoded polylines are decoded into PostGIS
// line geometries at write time so all spatial work stays in the store.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// Get retrieves an activity by id, nil when absent.
func (r *ActivityRepository) Get(ctx context.Context, id string) (*domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities WHERE activity_id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	activity, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return activity, nil
}

// LatestStartDate returns the account's sync watermark, nil when the account
// has no synced activities yet.
func (r *ActivityRepository) LatestStartDate(ctx context.Context, accountID string) (*time.Time, error) {
	const query = `SELECT start_date FROM activities WHERE account_id = $1
        ORDER BY start_date DESC LIMIT 1`

	var latest time.Time
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &latest, nil
}

// ExistingExternalIDs returns every stored external id.
func (r *ActivityRepository) ExistingExternalIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT external_id FROM activities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CreateBatch persists the activities in a single transaction.
func (r *ActivityRepository) CreateBatch(ctx context.Context, activities []domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	const stmt = `INSERT INTO activities (activity_id, account_id, external_id, name, sport_type,
            distance, moving_time_sec, elapsed_time_sec, elevation_gain, start_date,
            start_date_local, timezone, average_speed, max_speed, summary_polyline,
            summary_line, processing_state, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
            CASE WHEN $15 <> '' THEN ST_LineFromEncodedPolyline($15) END,
            $16,$17,$18)`

	batch := &pgx.Batch{}
	for _, a := range activities {
		batch.Queue(stmt,
			a.ID, a.AccountID, a.ExternalID, a.Name, a.SportType,
			a.Distance, a.MovingTimeSec, a.ElapsedTimeSec, a.ElevationGain, a.StartDate,
			a.StartDateLocal, a.Timezone, a.AverageSpeed, a.MaxSpeed, a.SummaryPolyline,
			a.State, a.CreatedAt, a.UpdatedAt,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update overwrites the mutable fields of an activity, refreshing the line
// geometries from the stored polylines.
func (r *ActivityRepository) Update(ctx context.Context, a *domain.Activity) error {
	const stmt = `UPDATE activities SET
            name = $2, sport_type = $3, distance = $4, moving_time_sec = $5,
            elapsed_time_sec = $6, elevation_gain = $7, average_speed = $8, max_speed = $9,
            summary_polyline = $10,
            summary_line = CASE WHEN $10 <> '' THEN ST_LineFromEncodedPolyline($10) END,
            detailed_polyline = NULLIF($11, ''),
            detail_line = CASE WHEN $11 <> '' THEN ST_LineFromEncodedPolyline($11) END,
            processing_state = $12, updated_at = $13
        WHERE activity_id = $1`

	tag, err := r.pool.Exec(ctx, stmt,
		a.ID, a.Name, a.SportType, a.Distance, a.MovingTimeSec,
		a.ElapsedTimeSec, a.ElevationGain, a.AverageSpeed, a.MaxSpeed,
		a.SummaryPolyline, a.DetailedPolyline, a.State, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoActivity
	}
	return nil
}

// ListByAccount returns the account's activities, newest first.
func (r *ActivityRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities
        WHERE account_id = $1 ORDER BY start_date DESC`
	return r.list(ctx, query, accountID)
}

// ListSummaryOnly returns the account's activities still awaiting detail.
func (r *ActivityRepository) ListSummaryOnly(ctx context.Context, accountID string) ([]domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities
        WHERE account_id = $1 AND processing_state = $2 ORDER BY start_date DESC`
	return r.list(ctx, query, accountID, domain.ActivityStateSummaryOnly)
}

// ListAll returns every stored activity.
func (r *ActivityRepository) ListAll(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities ORDER BY start_date`
	return r.list(ctx, query)
}

func (r *ActivityRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *activity)
	}
	return results, rows.Err()
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	if err := row.Scan(
		&a.ID, &a.AccountID, &a.ExternalID, &a.Name, &a.SportType, &a.Distance,
		&a.MovingTimeSec, &a.ElapsedTimeSec, &a.ElevationGain, &a.StartDate, &a.StartDateLocal,
		&a.Timezone, &a.AverageSpeed, &a.MaxSpeed, &a.SummaryPolyline, &a.DetailedPolyline,
		&a.State, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
