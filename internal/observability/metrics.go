// Package observability holds the service-level Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesInsertedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "sync",
		Name:      "activities_inserted_total",
		Help:      "Number of new activities persisted by the listing sync.",
	})
	listingPagesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "sync",
		Name:      "listing_pages_total",
		Help:      "Number of listing pages fetched from the provider.",
	})
	listingPageSizeHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tilehunt",
		Subsystem: "sync",
		Name:      "listing_page_activities",
		Help:      "Activities returned per listing page.",
		Buckets:   []float64{0, 1, 5, 10, 20, 30},
	})
	rateLimitedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "sync",
		Name:      "rate_limited_total",
		Help:      "Number of provider rate-limit responses observed.",
	})
	detailSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tilehunt",
		Subsystem: "sync",
		Name:      "last_detail_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent detail merge.",
	})
	tilesComputedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "tiles",
		Name:      "computed_total",
		Help:      "Number of tiles written by grid computation.",
	})
	aggregateRefreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "tiles",
		Name:      "aggregate_refreshes_total",
		Help:      "Number of per-account tile aggregate refreshes.",
	})
)

func init() {
	prometheus.MustRegister(
		activitiesInsertedCounter,
		listingPagesCounter,
		listingPageSizeHist,
		rateLimitedCounter,
		detailSyncedGauge,
		tilesComputedCounter,
		aggregateRefreshCounter,
	)
}

// RecordActivitiesInserted counts rows persisted by the listing sync.
func RecordActivitiesInserted(count int) {
	activitiesInsertedCounter.Add(float64(count))
}

// RecordListingPage counts one fetched page and its size.
func RecordListingPage(size int) {
	listingPagesCounter.Inc()
	listingPageSizeHist.Observe(float64(size))
}

// RecordRateLimited counts a provider backpressure response.
func RecordRateLimited() {
	rateLimitedCounter.Inc()
}

// RecordDetailSynced updates the detail-merge watermark gauge.
func RecordDetailSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	detailSyncedGauge.Set(float64(ts.Unix()))
}

// RecordTilesComputed counts tiles written for an activity.
func RecordTilesComputed(count int) {
	tilesComputedCounter.Add(float64(count))
}

// RecordAggregateRefreshed counts one aggregate recomputation.
func RecordAggregateRefreshed() {
	aggregateRefreshCounter.Inc()
}
