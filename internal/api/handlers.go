// Package api exposes HTTP handlers for the tile sync service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/tilehunt/internal/auth"
	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/geojson"
	"example.com/tilehunt/internal/strava"
)

// Handler coordinates HTTP requests with repositories and the job scheduler.
type Handler struct {
	activities domain.ActivityRepository
	tokens     domain.TokenRepository
	tiles      domain.TileRepository
	regions    domain.RegionRepository
	aggregates domain.AggregateRepository
	spatial    domain.SpatialQueryable
	scheduler  domain.Scheduler
	provider   *strava.Client

	redirectURI string
	tileServer  string
	logger      *log.Logger
}

// Deps bundles the collaborators required by the handler.
type Deps struct {
	Activities domain.ActivityRepository
	Tokens     domain.TokenRepository
	Tiles      domain.TileRepository
	Regions    domain.RegionRepository
	Aggregates domain.AggregateRepository
	Spatial    domain.SpatialQueryable
	Scheduler  domain.Scheduler
	Provider   *strava.Client

	RedirectURI string
	TileServer  string
	Logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handler{
		activities:  deps.Activities,
		tokens:      deps.Tokens,
		tiles:       deps.Tiles,
		regions:     deps.Regions,
		aggregates:  deps.Aggregates,
		spatial:     deps.Spatial,
		scheduler:   deps.Scheduler,
		provider:    deps.Provider,
		redirectURI: deps.RedirectURI,
		tileServer:  deps.TileServer,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync", h.triggerSync)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/map", h.accountMap)
	mux.HandleFunc("/v1/aggregate", h.aggregate)
	mux.HandleFunc("/v1/aggregate/refresh", h.refreshAggregate)
	mux.HandleFunc("/v1/strava/authorize", h.stravaAuthorize)
	mux.HandleFunc("/v1/strava/exchange", h.stravaExchange)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	job := domain.SyncActivitiesJob{AccountID: claims.AccountID}
	if err := h.scheduler.Enqueue(r.Context(), domain.JobSyncActivities, job); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	activities, err := h.activities.ListByAccount(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	id, sub, _ := strings.Cut(rest, "/")

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getActivity(w, r, id)
	case sub == "sync" && r.Method == http.MethodPost:
		h.syncActivityDetail(w, r, id)
	case sub == "tiles" && r.Method == http.MethodGet:
		h.activityTiles(w, r, id)
	case sub == "map" && r.Method == http.MethodGet:
		h.activityMap(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// owned loads the activity and verifies the caller owns it. Foreign
// activities read as not found so ids don't leak across accounts.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request, id string) (*domain.Activity, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}

	activity, err := h.activities.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	if activity == nil || activity.AccountID != claims.AccountID {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return nil, false
	}
	return activity, true
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	activity, ok := h.owned(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) syncActivityDetail(w http.ResponseWriter, r *http.Request, id string) {
	activity, ok := h.owned(w, r, id)
	if !ok {
		return
	}

	job := domain.ActivityDetailJob{ActivityID: activity.ID, Forced: true}
	if err := h.scheduler.Enqueue(r.Context(), domain.JobSyncActivityDetail, job); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) activityTiles(w http.ResponseWriter, r *http.Request, id string) {
	activity, ok := h.owned(w, r, id)
	if !ok {
		return
	}

	tileSet, err := h.tiles.ListByActivity(r.Context(), activity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]TileView, 0, len(tileSet))
	for _, tile := range tileSet {
		items = append(items, TileView{
			X:   tile.X,
			Y:   tile.Y,
			Z:   tile.Z,
			URL: geojson.TileURL(h.tileServer, tile),
		})
	}
	writeJSON(w, http.StatusOK, TileListResponse{Items: items})
}

func (h *Handler) activityMap(w http.ResponseWriter, r *http.Request, id string) {
	activity, ok := h.owned(w, r, id)
	if !ok {
		return
	}

	features := make([]geojson.Feature, 0, 8)

	route, err := h.spatial.RouteGeoJSON(r.Context(), activity.ID)
	switch {
	case err == nil:
		features = append(features, geojson.RouteFeature(activity.Name, route))
	case errors.Is(err, domain.ErrMalformedGeometry):
		// Route-less activities still render their tiles and regions.
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	tileSet, err := h.tiles.ListByActivity(r.Context(), activity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	features = append(features, geojson.TileFeatures(tileSet)...)

	regionSet, err := h.regions.ListForActivity(r.Context(), activity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	for _, region := range regionSet {
		boundary, err := h.spatial.RegionGeoJSON(r.Context(), region.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		features = append(features, geojson.RegionFeature(region, boundary))
	}

	writeJSON(w, http.StatusOK, geojson.NewCollection(features))
}

func (h *Handler) accountMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	tileSet, err := h.tiles.ListByAccount(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	features := geojson.TileFeatures(tileSet)

	activities, err := h.activities.ListByAccount(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	seenRegions := make(map[int64]struct{})
	for _, activity := range activities {
		route, err := h.spatial.RouteGeoJSON(r.Context(), activity.ID)
		switch {
		case err == nil:
			features = append(features, geojson.RouteFeature(activity.Name, route))
		case errors.Is(err, domain.ErrMalformedGeometry):
			continue
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}

		regionSet, err := h.regions.ListForActivity(r.Context(), activity.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		for _, region := range regionSet {
			if _, ok := seenRegions[region.ID]; ok {
				continue
			}
			seenRegions[region.ID] = struct{}{}
			boundary, err := h.spatial.RegionGeoJSON(r.Context(), region.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			features = append(features, geojson.RegionFeature(region, boundary))
		}
	}

	writeJSON(w, http.StatusOK, geojson.NewCollection(features))
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	aggregate, err := h.aggregates.Get(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if aggregate == nil {
		writeError(w, http.StatusNotFound, "not_found", "aggregate not computed yet")
		return
	}

	writeJSON(w, http.StatusOK, AggregateResponse{
		Geometry:  json.RawMessage(aggregate.GeoJSON),
		UpdatedAt: aggregate.UpdatedAt,
	})
}

func (h *Handler) refreshAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	job := domain.RefreshAggregateJob{AccountID: claims.AccountID}
	if err := h.scheduler.Enqueue(r.Context(), domain.JobRefreshTileAggregate, job); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) stravaAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := auth.FromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	http.Redirect(w, r, h.provider.AuthorizeURL(h.redirectURI), http.StatusFound)
}

func (h *Handler) stravaExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	code := r.URL.Query().Get("code")
	if strings.TrimSpace(code) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing code parameter")
		return
	}

	payload, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrAuthProvider) {
			writeError(w, http.StatusBadGateway, "provider_error", "code exchange rejected")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	now := time.Now().UTC()
	token := &domain.Token{
		ID:           uuid.NewString(),
		AccountID:    claims.AccountID,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    payload.ExpiresAt(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.tokens.Save(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	// Kick off the first sync right away so the account map fills in.
	job := domain.SyncActivitiesJob{AccountID: claims.AccountID}
	if err := h.scheduler.Enqueue(r.Context(), domain.JobSyncActivities, job); err != nil {
		h.logger.Printf("initial sync enqueue failed for account %s: %v", claims.AccountID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID     string    `json:"activity_id"`
	ExternalID     int64     `json:"external_id"`
	Name           string    `json:"name"`
	SportType      string    `json:"sport_type"`
	Distance       float64   `json:"distance"`
	MovingTimeSec  int       `json:"moving_time_sec"`
	ElapsedTimeSec int       `json:"elapsed_time_sec"`
	ElevationGain  float64   `json:"elevation_gain"`
	StartDate      time.Time `json:"start_date"`
	Timezone       string    `json:"timezone"`
	AverageSpeed   float64   `json:"average_speed"`
	MaxSpeed       float64   `json:"max_speed"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// TileView is one covering tile with its raster URL.
type TileView struct {
	X   int    `json:"x"`
	Y   int    `json:"y"`
	Z   int    `json:"z"`
	URL string `json:"url"`
}

// TileListResponse packages an activity's tiles.
type TileListResponse struct {
	Items []TileView `json:"items"`
}

// AggregateResponse carries the account's simplified tile union.
type AggregateResponse struct {
	Geometry  json.RawMessage `json:"geometry"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:     activity.ID,
		ExternalID:     activity.ExternalID,
		Name:           activity.Name,
		SportType:      activity.SportType,
		Distance:       activity.Distance,
		MovingTimeSec:  activity.MovingTimeSec,
		ElapsedTimeSec: activity.ElapsedTimeSec,
		ElevationGain:  activity.ElevationGain,
		StartDate:      activity.StartDate,
		Timezone:       activity.Timezone,
		AverageSpeed:   activity.AverageSpeed,
		MaxSpeed:       activity.MaxSpeed,
		State:          string(activity.State),
		CreatedAt:      activity.CreatedAt,
		UpdatedAt:      activity.UpdatedAt,
	}
}
