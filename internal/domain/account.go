package domain

import "time"

// Account owns activities and at most one live provider token.
type Account struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Token holds the OAuth state for one account. A fresh row replaces the
// previous one, so the latest row wins. A token without a refresh token can
// never be refreshed again.
type Token struct {
	ID           string
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Usable reports whether the token can still mint access tokens.
func (t *Token) Usable() bool {
	return t != nil && t.RefreshToken != ""
}

// Fresh reports whether the cached access token is still valid at now.
func (t *Token) Fresh(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}
