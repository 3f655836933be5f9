package strava

import "time"

// SummaryActivity is the provider's activity payload. The listing endpoint
// returns it with a summary-fidelity map line; the detail endpoint returns
// the same shape with map.polyline filled in.
type SummaryActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	Map                Map       `json:"map"`
}

// Map carries the encoded route lines of an activity.
type Map struct {
	ID              string `json:"id"`
	SummaryPolyline string `json:"summary_polyline"`
	Polyline        string `json:"polyline"`
}

// TokenPayload is the provider's OAuth token response. expires_at is a unix
// timestamp.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAtSec int64  `json:"expires_at"`
}

// ExpiresAt converts the unix expiry to a time.Time.
func (p TokenPayload) ExpiresAt() time.Time {
	return time.Unix(p.ExpiresAtSec, 0).UTC()
}
