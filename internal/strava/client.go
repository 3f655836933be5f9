// Package strava talks to the fitness provider's REST API and manages the
// OAuth token lifecycle for synced accounts.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"example.com/tilehunt/internal/domain"
)

const defaultBaseURL = "https://www.strava.com"

// Credentials are the OAuth application credentials, passed in explicitly at
// construction rather than read from the process environment.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Client is a minimal provider API client. All responses are snake_case JSON
// with ISO-8601 dates; HTTP 429 maps to domain.ErrRateLimited.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// Option configures optional Client behaviour.
type Option func(*Client)

// WithBaseURL overrides the provider base URL (used by tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient constructs a Client.
func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities fetches one page of activity summaries, newest first,
// filtered to start dates strictly after the unix timestamp in after.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after *time.Time, page, perPage int) ([]SummaryActivity, error) {
	query := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if after != nil {
		query.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	var activities []SummaryActivity
	if err := c.get(ctx, accessToken, "/api/v3/athlete/activities", query, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches the detail payload for one activity by external id.
func (c *Client) GetActivity(ctx context.Context, accessToken string, externalID int64) (*SummaryActivity, error) {
	var activity SummaryActivity
	path := fmt.Sprintf("/api/v3/activities/%d", externalID)
	if err := c.get(ctx, accessToken, path, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ExchangeCode trades an authorization code for the first token of an account.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenPayload, error) {
	return c.token(ctx, url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	})
}

// RefreshToken performs the refresh-token grant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPayload, error) {
	return c.token(ctx, url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	})
}

// AuthorizeURL builds the user-facing authorization redirect.
func (c *Client) AuthorizeURL(redirectURI string) string {
	query := url.Values{
		"client_id":       {c.creds.ClientID},
		"response_type":   {"code"},
		"redirect_uri":    {redirectURI},
		"approval_prompt": {"force"},
		"scope":           {"read_all,profile:read_all,activity:read_all"},
	}
	return c.baseURL + "/oauth/authorize?" + query.Encode()
}

func (c *Client) get(ctx context.Context, accessToken, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: GET %s", domain.ErrRateLimited, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("strava: GET %s returned status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) token(ctx context.Context, form url.Values) (*TokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token?"+form.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: token endpoint", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrAuthProvider, resp.StatusCode)
	}

	var payload TokenPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthProvider, err)
	}
	return &payload, nil
}
