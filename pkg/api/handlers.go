package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/energy"
	"nocturna-sky-map/pkg/geo"
	"nocturna-sky-map/pkg/observability"
	"nocturna-sky-map/pkg/regionstats"
)

// =======================
// Public API entry points
// =======================

// Handler wires the measurement store and the two derived services so HTTP
// routes can stay small and focused on translating request bodies into the
// building blocks behind the scenes.
type Handler struct {
	DB      *database.Database
	Stats   *regionstats.Service
	Energy  *energy.Estimator
	Metrics *observability.Metrics
	Logf    func(string, ...any)
}

// NewHandler constructs a Handler with sane defaults.
// Logf is optional; pass nil if logging is not required.
func NewHandler(db *database.Database, stats *regionstats.Service, est *energy.Estimator, metrics *observability.Metrics, logf func(string, ...any)) *Handler {
	return &Handler{DB: db, Stats: stats, Energy: est, Metrics: metrics, Logf: logf}
}

// Register attaches API routes to the provided mux. We keep the method tiny
// and declarative: it simply wires URLs to helpers, avoiding clever routing
// that could obscure how requests are served.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.HandleFunc("/api/region/stats", h.handleRegionStats)
	mux.HandleFunc("/api/point/history", h.handlePointHistory)
	mux.HandleFunc("/api/region/energy", h.handleRegionEnergy)
	mux.HandleFunc("/api/region/hotspots", h.handleRegionHotspots)
	mux.HandleFunc("/api/share/qr", h.handleShareQR)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
}

// maxBodyBytes bounds region request bodies. A continent-sized polygon fits
// in a fraction of this.
const maxBodyBytes = 1 << 20

// regionRequest is the shared body for the two polygon endpoints.  A bare
// point stands in for a polygon when the map UI sends a click instead of a
// drawn selection; it expands to a square buffer below.
type regionRequest struct {
	Region       json.RawMessage `json:"region"`
	Point        *pointPayload   `json:"point"`
	ResearchOnly bool            `json:"researchOnly"`

	// Energy knobs; ignored by the stats endpoint.
	CostPerKwh       float64 `json:"costPerKwh"`
	UpwardLightRatio float64 `json:"upwardLightRatio"`
}

type pointPayload struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// handleOverview publishes machine-readable docs so developers understand
// which endpoints to call and what each one expects.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := struct {
		Service   string         `json:"service"`
		Endpoints map[string]any `json:"endpoints"`
	}{
		Service: "nocturna-sky-map",
		Endpoints: map[string]any{
			"regionStats": map[string]any{
				"method":      "POST",
				"path":        "/api/region/stats",
				"body":        []string{"region (GeoJSON Polygon/MultiPolygon)", "point {lat, lon} (5 km square buffer)", "researchOnly"},
				"description": "Aggregates sky brightness and quality over the polygon. Regions without coverage return hasData=false.",
			},
			"pointHistory": map[string]any{
				"method":      "GET",
				"path":        "/api/point/history",
				"query":       []string{"lat", "lon"},
				"description": "Returns the date-ordered brightness series within 5 km of the point.",
			},
			"regionEnergy": map[string]any{
				"method":      "POST",
				"path":        "/api/region/energy",
				"body":        []string{"region", "costPerKwh", "upwardLightRatio"},
				"description": "Estimates annual wasted upward light energy and cost for the polygon.",
			},
			"regionHotspots": map[string]any{
				"method":      "POST",
				"path":        "/api/region/hotspots",
				"body":        []string{"region", "point {lat, lon}"},
				"description": "Lists satellite-detected light-growth cells inside the polygon, strongest growth first.",
			},
			"shareQR": map[string]any{
				"method":      "GET",
				"path":        "/api/share/qr",
				"query":       []string{"lat", "lon", "size"},
				"description": "Renders a PNG QR code linking to the map at the given point.",
			},
		},
	}

	h.respondJSON(w, overview)
}

// handleRegionStats aggregates measurements inside a caller-supplied polygon.
func (h *Handler) handleRegionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	req, polygon, ok := h.decodeRegion(w, r, "stats")
	if !ok {
		return
	}

	result, err := h.Stats.Stats(r.Context(), polygon, req.ResearchOnly)
	if err != nil {
		h.fail(w, "stats", "region stats error", err)
		return
	}
	h.observe("stats", start, result.HasData)
	h.respondJSON(w, result)
}

// handlePointHistory serves the temporal series around a single point.
func (h *Handler) handlePointHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		h.reject(w, "history", "lat and lon must be valid coordinates")
		return
	}

	points, err := h.Stats.History(r.Context(), lat, lon)
	if err != nil {
		h.fail(w, "history", "history error", err)
		return
	}
	h.observe("history", start, len(points) > 0)

	resp := struct {
		Lat          float64                    `json:"lat"`
		Lon          float64                    `json:"lon"`
		RadiusMeters float64                    `json:"radiusMeters"`
		HasData      bool                       `json:"hasData"`
		Points       []regionstats.HistoryPoint `json:"points"`
	}{
		Lat:          lat,
		Lon:          lon,
		RadiusMeters: regionstats.HistoryRadiusMeters,
		HasData:      len(points) > 0,
		Points:       points,
	}
	h.respondJSON(w, resp)
}

// handleRegionEnergy runs the waste-light estimator over a polygon.
func (h *Handler) handleRegionEnergy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	req, polygon, ok := h.decodeRegion(w, r, "energy")
	if !ok {
		return
	}

	est, err := h.Energy.Estimate(r.Context(), polygon, energy.Options{
		CostPerKwh:       req.CostPerKwh,
		UpwardLightRatio: req.UpwardLightRatio,
	})
	if err != nil {
		h.fail(w, "energy", "energy estimate error", err)
		return
	}
	h.observe("energy", start, est.HasData)

	resp := struct {
		energy.Estimate
		Luminance string `json:"luminanceDisplay"`
	}{Estimate: est, Luminance: est.LuminanceScientific()}
	h.respondJSON(w, resp)
}

// handleRegionHotspots lists the satellite trend-grid cells inside a
// polygon.  An uncovered region is a valid empty answer, tagged the same
// way the stats endpoint tags it.
func (h *Handler) handleRegionHotspots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	_, polygon, ok := h.decodeRegion(w, r, "hotspots")
	if !ok {
		return
	}

	cells, err := h.DB.QueryHotspotsContained(r.Context(), polygon)
	if err != nil {
		h.fail(w, "hotspots", "hotspot query error", err)
		return
	}
	h.observe("hotspots", start, len(cells) > 0)

	resp := struct {
		HasData bool               `json:"hasData"`
		Count   int                `json:"count"`
		Cells   []database.Hotspot `json:"cells"`
	}{
		HasData: len(cells) > 0,
		Count:   len(cells),
		Cells:   cells,
	}
	h.respondJSON(w, resp)
}

// handleHealthz answers liveness probes with a ping to the store.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// =====================
// Utility helpers
// =====================

// decodeRegion reads and validates the shared polygon request body. It writes
// the error response itself so callers can just bail out on !ok.
func (h *Handler) decodeRegion(w http.ResponseWriter, r *http.Request, endpoint string) (regionRequest, geo.Polygon, bool) {
	var req regionRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.reject(w, endpoint, "cannot read body")
		return req, geo.Polygon{}, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(w, endpoint, "invalid JSON body")
		return req, geo.Polygon{}, false
	}
	if len(req.Region) == 0 {
		// A clicked point expands to a square the size of the history
		// neighbourhood, keeping everything downstream polygon-based.
		if req.Point != nil {
			center := geo.Point{Lat: req.Point.Lat, Lon: req.Point.Lon}
			if !center.Valid() {
				h.reject(w, endpoint, "point coordinates out of range")
				return req, geo.Polygon{}, false
			}
			return req, geo.SquareBuffer(center, regionstats.HistoryRadiusMeters), true
		}
		h.reject(w, endpoint, "region or point is required")
		return req, geo.Polygon{}, false
	}
	polygon, err := geo.ParseGeoJSON(req.Region)
	if err != nil {
		h.reject(w, endpoint, fmt.Sprintf("invalid region: %v", err))
		return req, geo.Polygon{}, false
	}
	return req, polygon, true
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// reject answers a malformed request and counts it.
func (h *Handler) reject(w http.ResponseWriter, endpoint, msg string) {
	if h.Metrics != nil {
		h.Metrics.APIRequests.WithLabelValues(endpoint, "bad_request").Inc()
	}
	http.Error(w, msg, http.StatusBadRequest)
}

// fail answers a store or service failure. A degenerate polygon can still
// surface here through the query path, and that is the caller's fault, not
// ours, so it counts as a bad request.
func (h *Handler) fail(w http.ResponseWriter, endpoint, msg string, err error) {
	if errors.Is(err, geo.ErrDegenerate) {
		h.reject(w, endpoint, err.Error())
		return
	}
	if h.Metrics != nil {
		h.Metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
	}
	if h.Logf != nil {
		h.Logf("%s: %v", msg, err)
	}
	http.Error(w, msg, http.StatusServiceUnavailable)
}

func (h *Handler) observe(endpoint string, start time.Time, hasData bool) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	if !hasData {
		outcome = "no_data"
	}
	h.Metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	h.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
