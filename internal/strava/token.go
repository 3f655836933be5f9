package strava

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/tilehunt/internal/domain"
)

type tokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPayload, error)
}

// TokenManager issues valid access tokens for accounts, refreshing expired
// ones through the provider. Refreshes for the same account are serialized
// with a per-account lock to avoid burning refresh-token rotations; a
// concurrent refresh that slips through anyway is a benign last-write-wins.
type TokenManager struct {
	tokens   domain.TokenRepository
	provider tokenRefresher
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(tokens domain.TokenRepository, provider tokenRefresher) *TokenManager {
	return &TokenManager{
		tokens:   tokens,
		provider: provider,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// AccessToken returns a valid access token for the account. The cached token
// is returned while its expiry is in the future; otherwise the refresh grant
// runs and the rotated token state is stored before returning.
func (m *TokenManager) AccessToken(ctx context.Context, accountID string) (string, error) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	token, err := m.tokens.Latest(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !token.Usable() {
		return "", fmt.Errorf("%w: account %s", domain.ErrInvalidToken, accountID)
	}
	if token.Fresh(m.now().UTC()) {
		return token.AccessToken, nil
	}

	payload, err := m.provider.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		return "", err
	}

	token.AccessToken = payload.AccessToken
	token.ExpiresAt = payload.ExpiresAt()
	if payload.RefreshToken != "" {
		token.RefreshToken = payload.RefreshToken
	}
	token.UpdatedAt = m.now().UTC()

	if err := m.tokens.Save(ctx, token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (m *TokenManager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountID] = lock
	}
	return lock
}
