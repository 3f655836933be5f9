package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tilehunt/internal/domain"
)

// AccountRepository is the Postgres implementation of
// domain.AccountRepository.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Get retrieves an account by id.
func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	const query = `SELECT account_id, name, created_at FROM accounts WHERE account_id = $1`

	var account domain.Account
	err := r.pool.QueryRow(ctx, query, id).Scan(&account.ID, &account.Name, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoAccount
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// List returns all accounts.
func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, name, created_at FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(&account.ID, &account.Name, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
