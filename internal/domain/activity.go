// Package domain defines the entities and contracts of the tile sync engine.
package domain

import "time"

// ActivityState tracks how much route fidelity has been synced.
type ActivityState string

const (
	// ActivityStateSummaryOnly means only the coarse listing payload is stored.
	ActivityStateSummaryOnly ActivityState = "summary_only"
	// ActivityStateDetailed means the full-resolution detail payload was merged.
	ActivityStateDetailed ActivityState = "detailed"
)

// Activity is the canonical exercise record. Created by the listing sync,
// upgraded in place by the detail sync, never deleted.
type Activity struct {
	ID         string
	AccountID  string
	ExternalID int64

	Name           string
	SportType      string
	Distance       float64
	MovingTimeSec  int
	ElapsedTimeSec int
	ElevationGain  float64
	StartDate      time.Time
	StartDateLocal time.Time
	Timezone       string
	AverageSpeed   float64
	MaxSpeed       float64

	// SummaryPolyline is always present once synced; DetailedPolyline only
	// after a successful detail fetch.
	SummaryPolyline  string
	DetailedPolyline string

	State     ActivityState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoutePolyline returns the best-available encoded route line.
func (a *Activity) RoutePolyline() string {
	if a.DetailedPolyline != "" {
		return a.DetailedPolyline
	}
	return a.SummaryPolyline
}

// Detailed reports whether the detail payload has been merged.
func (a *Activity) Detailed() bool {
	return a.State == ActivityStateDetailed
}
