package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// TokenRepository is the Postgres implementation of domain.TokenRepository.
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository constructs a TokenRepository.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Latest returns the newest token row for the account; nil when the account
// never authenticated with the provider.
func (r *TokenRepository) Latest(ctx context.Context, accountID string) (*domain.Token, error) {
	const query = `SELECT token_id, account_id, COALESCE(access_token, ''), refresh_token,
            COALESCE(expires_at, 'epoch'::timestamptz), created_at, updated_at
        FROM strava_tokens WHERE account_id = $1
        ORDER BY created_at DESC LIMIT 1`

	var token domain.Token
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&token.ID, &token.AccountID, &token.AccessToken, &token.RefreshToken,
		&token.ExpiresAt, &token.CreatedAt, &token.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Save upserts the token row. Concurrent refreshes overwrite each other;
// last write wins.
func (r *TokenRepository) Save(ctx context.Context, token *domain.Token) error {
	const stmt = `INSERT INTO strava_tokens (token_id, account_id, access_token, refresh_token,
            expires_at, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
        ON CONFLICT (token_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt,
		token.ID, token.AccountID, token.AccessToken, token.RefreshToken,
		token.ExpiresAt, token.CreatedAt, token.UpdatedAt,
	)
	return err
}
