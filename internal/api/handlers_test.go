package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/tilehunt/internal/auth"
	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/geojson"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func testActivity(id, accountID string) domain.Activity {
	return domain.Activity{
		ID:              id,
		AccountID:       accountID,
		ExternalID:      101,
		Name:            "Morning Ride",
		SportType:       "Ride",
		StartDate:       testNow.Add(-2 * time.Hour),
		SummaryPolyline: "u{~vFvyys@fS]",
		State:           domain.ActivityStateSummaryOnly,
		CreatedAt:       testNow.Add(-time.Hour),
		UpdatedAt:       testNow.Add(-time.Hour),
	}
}

func authed(req *http.Request, accountID string) *http.Request {
	claims := &auth.Claims{AccountID: accountID, ExpiresAt: testNow.Add(time.Hour)}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func newTestHandler(deps Deps) *Handler {
	deps.TileServer = "https://tiles.example.com"
	deps.Logger = log.New(nopWriter{}, "", 0)
	return NewHandler(deps)
}

func TestListActivitiesReturnsOwnRows(t *testing.T) {
	repo := &fakeActivities{activities: []domain.Activity{
		testActivity("act-1", "acct-1"),
		testActivity("act-2", "acct-2"),
	}}
	handler := newTestHandler(Deps{Activities: repo})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 activity got %d", len(resp.Items))
	}
	if resp.Items[0].ActivityID != "act-1" {
		t.Fatalf("unexpected activity %s", resp.Items[0].ActivityID)
	}
}

func TestGetActivityHidesForeignRows(t *testing.T) {
	repo := &fakeActivities{activities: []domain.Activity{testActivity("act-1", "acct-2")}}
	handler := newTestHandler(Deps{Activities: repo})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities/act-1", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestActivityTilesIncludeRasterURLs(t *testing.T) {
	repo := &fakeActivities{activities: []domain.Activity{testActivity("act-1", "acct-1")}}
	tiles := &fakeTiles{tiles: []domain.Tile{{ID: "tile-1", ActivityID: "act-1", AccountID: "acct-1", X: 8712, Y: 2471, Z: 14}}}
	handler := newTestHandler(Deps{Activities: repo, Tiles: tiles})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities/act-1/tiles", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TileListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 tile got %d", len(resp.Items))
	}
	if want := "https://tiles.example.com/14/8712/2471.png"; resp.Items[0].URL != want {
		t.Fatalf("expected %s got %s", want, resp.Items[0].URL)
	}
}

func TestActivityMapCombinesRouteTilesAndRegions(t *testing.T) {
	repo := &fakeActivities{activities: []domain.Activity{testActivity("act-1", "acct-1")}}
	tiles := &fakeTiles{tiles: []domain.Tile{{ID: "tile-1", ActivityID: "act-1", AccountID: "acct-1", X: 8712, Y: 2471, Z: 14}}}
	regions := &fakeRegions{regions: []domain.Region{{ID: 7, Name: "Uster"}}}
	spatial := &fakeSpatial{
		route:  []byte(`{"type":"LineString","coordinates":[[8.5,47.3],[8.6,47.4]]}`),
		region: []byte(`{"type":"MultiPolygon","coordinates":[]}`),
	}
	handler := newTestHandler(Deps{Activities: repo, Tiles: tiles, Regions: regions, Spatial: spatial})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities/act-1/map", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp geojson.FeatureCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// One route line, one tile polygon, one region boundary.
	if len(resp.Features) != 3 {
		t.Fatalf("expected 3 features got %d", len(resp.Features))
	}
	if resp.Features[0].Properties["stroke"] != "#f60909" {
		t.Fatalf("expected route stroke, got %v", resp.Features[0].Properties)
	}
}

func TestAccountMapDeduplicatesRegions(t *testing.T) {
	first := testActivity("act-1", "acct-1")
	second := testActivity("act-2", "acct-1")
	repo := &fakeActivities{activities: []domain.Activity{first, second}}
	tiles := &fakeTiles{tiles: []domain.Tile{
		{ID: "tile-1", ActivityID: "act-1", AccountID: "acct-1", X: 8712, Y: 2471, Z: 14},
		{ID: "tile-2", ActivityID: "act-2", AccountID: "acct-1", X: 8713, Y: 2471, Z: 14},
	}}
	// Both activities pass through the same region; the overview shows it once.
	regions := &fakeRegions{regions: []domain.Region{{ID: 7, Name: "Uster"}}}
	spatial := &fakeSpatial{
		route:  []byte(`{"type":"LineString","coordinates":[[8.5,47.3],[8.6,47.4]]}`),
		region: []byte(`{"type":"MultiPolygon","coordinates":[]}`),
	}
	handler := newTestHandler(Deps{Activities: repo, Tiles: tiles, Regions: regions, Spatial: spatial})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/map", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.accountMap(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp geojson.FeatureCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// Two tile polygons, two route lines, one deduplicated region.
	if len(resp.Features) != 5 {
		t.Fatalf("expected 5 features got %d", len(resp.Features))
	}
	regionFeatures := 0
	for _, feature := range resp.Features {
		if feature.ID == "Uster" {
			regionFeatures++
		}
	}
	if regionFeatures != 1 {
		t.Fatalf("expected 1 region feature got %d", regionFeatures)
	}
}

func TestTriggerSyncEnqueuesJobForCaller(t *testing.T) {
	scheduler := &fakeScheduler{}
	handler := newTestHandler(Deps{Scheduler: scheduler})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/sync", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("expected 1 job got %d", len(scheduler.enqueued))
	}
	payload, ok := scheduler.enqueued[0].(domain.SyncActivitiesJob)
	if !ok || payload.AccountID != "acct-1" {
		t.Fatalf("unexpected payload %#v", scheduler.enqueued[0])
	}
}

func TestSyncActivityDetailForcesRecompute(t *testing.T) {
	repo := &fakeActivities{activities: []domain.Activity{testActivity("act-1", "acct-1")}}
	scheduler := &fakeScheduler{}
	handler := newTestHandler(Deps{Activities: repo, Scheduler: scheduler})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/activities/act-1/sync", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	payload, ok := scheduler.enqueued[0].(domain.ActivityDetailJob)
	if !ok {
		t.Fatalf("unexpected payload %#v", scheduler.enqueued[0])
	}
	if payload.ActivityID != "act-1" || !payload.Forced {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAggregateNotComputedYet(t *testing.T) {
	handler := newTestHandler(Deps{Aggregates: &fakeAggregates{}})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/aggregate", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.aggregate(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestAggregateReturnsStoredGeometry(t *testing.T) {
	stored := &domain.TileAggregate{
		AccountID: "acct-1",
		GeoJSON:   []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`),
		UpdatedAt: testNow,
	}
	handler := newTestHandler(Deps{Aggregates: &fakeAggregates{aggregate: stored}})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/aggregate", nil), "acct-1")
	rr := httptest.NewRecorder()
	handler.aggregate(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AggregateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(resp.Geometry) != string(stored.GeoJSON) {
		t.Fatalf("unexpected geometry %s", resp.Geometry)
	}
}

func TestEndpointsRequireClaims(t *testing.T) {
	handler := newTestHandler(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

type fakeActivities struct {
	activities []domain.Activity
}

func (f *fakeActivities) Get(_ context.Context, id string) (*domain.Activity, error) {
	for i := range f.activities {
		if f.activities[i].ID == id {
			copied := f.activities[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeActivities) LatestStartDate(_ context.Context, _ string) (*time.Time, error) {
	return nil, nil
}

func (f *fakeActivities) ExistingExternalIDs(_ context.Context) (map[int64]struct{}, error) {
	return nil, nil
}

func (f *fakeActivities) CreateBatch(_ context.Context, _ []domain.Activity) error { return nil }

func (f *fakeActivities) Update(_ context.Context, _ *domain.Activity) error { return nil }

func (f *fakeActivities) ListByAccount(_ context.Context, accountID string) ([]domain.Activity, error) {
	var out []domain.Activity
	for _, activity := range f.activities {
		if activity.AccountID == accountID {
			out = append(out, activity)
		}
	}
	return out, nil
}

func (f *fakeActivities) ListSummaryOnly(_ context.Context, _ string) ([]domain.Activity, error) {
	return nil, nil
}

func (f *fakeActivities) ListAll(_ context.Context) ([]domain.Activity, error) {
	return f.activities, nil
}

type fakeTiles struct {
	tiles []domain.Tile
}

func (f *fakeTiles) ListByActivity(_ context.Context, activityID string) ([]domain.Tile, error) {
	var out []domain.Tile
	for _, tile := range f.tiles {
		if tile.ActivityID == activityID {
			out = append(out, tile)
		}
	}
	return out, nil
}

func (f *fakeTiles) ListByAccount(_ context.Context, accountID string) ([]domain.Tile, error) {
	var out []domain.Tile
	for _, tile := range f.tiles {
		if tile.AccountID == accountID {
			out = append(out, tile)
		}
	}
	return out, nil
}

func (f *fakeTiles) ReplaceForActivity(_ context.Context, _ string, _ []domain.Tile) error {
	return nil
}

type fakeRegions struct {
	regions []domain.Region
}

func (f *fakeRegions) ListForActivity(_ context.Context, _ string) ([]domain.Region, error) {
	return f.regions, nil
}

func (f *fakeRegions) ReplaceForActivity(_ context.Context, _ string, _ []int64) error {
	return nil
}

type fakeAggregates struct {
	aggregate *domain.TileAggregate
}

func (f *fakeAggregates) Get(_ context.Context, _ string) (*domain.TileAggregate, error) {
	return f.aggregate, nil
}

func (f *fakeAggregates) Save(_ context.Context, aggregate *domain.TileAggregate) error {
	f.aggregate = aggregate
	return nil
}

type fakeSpatial struct {
	route  []byte
	region []byte
}

func (f *fakeSpatial) CoveringCells(_ context.Context, _ string, _, _ int) ([]domain.Cell, error) {
	return nil, nil
}

func (f *fakeSpatial) IntersectingRegions(_ context.Context, _ string) ([]domain.Region, error) {
	return nil, nil
}

func (f *fakeSpatial) UnionTileGeoJSON(_ context.Context, _ string, _ float64) ([]byte, error) {
	return nil, nil
}

func (f *fakeSpatial) RouteGeoJSON(_ context.Context, _ string) ([]byte, error) {
	return f.route, nil
}

func (f *fakeSpatial) RegionGeoJSON(_ context.Context, _ int64) ([]byte, error) {
	return f.region, nil
}

type fakeScheduler struct {
	enqueued []domain.Payload
	delayed  []domain.Payload
}

func (f *fakeScheduler) Enqueue(_ context.Context, _ domain.JobType, payload domain.Payload) error {
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func (f *fakeScheduler) EnqueueDelayed(_ context.Context, _ domain.JobType, payload domain.Payload, _ time.Duration) error {
	f.delayed = append(f.delayed, payload)
	return nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
