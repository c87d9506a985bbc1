package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openride/surgecast/core/geo"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/core/override"
	"github.com/openride/surgecast/core/positioning"
	"github.com/openride/surgecast/core/surge"
	"github.com/openride/surgecast/infra/logger"
	"github.com/openride/surgecast/internal/eventbus"
)

// SnapshotProvider supplies the current supply counters for the zone
// summary view.
type SnapshotProvider interface {
	Snapshot(zoneID string) model.SignalSnapshot
}

// Predictor exposes batch forecasts to the forecast endpoint.
type Predictor interface {
	BatchPredict(zoneIDs []string, horizonHours int) ([]model.ForecastPoint, error)
}

// Server exposes the pricing engine over HTTP. All payloads are JSON.
type Server struct {
	zones     *geo.Registry
	engine    *surge.Engine
	overrides *override.Store
	forecasts Predictor
	advisor   *positioning.Advisor
	snapshots SnapshotProvider
	bus       *eventbus.Bus
	log       logger.Logger
}

// NewServer wires the handlers. Forecasts, advisor, snapshots and bus may be
// nil for a reduced deployment; their endpoints then return 503.
func NewServer(zones *geo.Registry, engine *surge.Engine, overrides *override.Store, forecasts Predictor, advisor *positioning.Advisor, snapshots SnapshotProvider, bus *eventbus.Bus, log logger.Logger) *Server {
	if log == nil {
		log = logger.New("api")
	}
	return &Server{
		zones:     zones,
		engine:    engine,
		overrides: overrides,
		forecasts: forecasts,
		advisor:   advisor,
		snapshots: snapshots,
		bus:       bus,
		log:       log,
	}
}

// Routes returns the ServeMux with all endpoints registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", s.handleListZones)
	mux.HandleFunc("GET /zones/{id}/surge", s.handleGetSurge)
	mux.HandleFunc("POST /zones/{id}/override", s.handleSetOverride)
	mux.HandleFunc("POST /zones/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /overrides/bulk-save", s.handleBulkSave)
	mux.HandleFunc("GET /overrides", s.handleListOverrides)
	mux.HandleFunc("GET /forecast/{zoneId}", s.handleForecast)
	mux.HandleFunc("GET /positioning", s.handlePositioning)
	mux.HandleFunc("GET /stream/surge", s.handleSurgeStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// zoneView is the dashboard summary of one zone.
type zoneView struct {
	model.Zone
	Surge             model.SurgeState `json:"surge"`
	ActiveDrivers     float64          `json:"active_drivers"`
	PendingRequests   float64          `json:"pending_requests"`
	DemandRatio       float64          `json:"demand_ratio"`
	PickupEstimateMin float64          `json:"pickup_estimate_min"`
	Priority          string           `json:"priority"`
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.zones.List()
	views := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		st, err := s.engine.GetEffective(z.ID)
		if err != nil {
			continue
		}
		v := zoneView{Zone: z, Surge: st, Priority: "balanced"}
		if s.snapshots != nil {
			snap := s.snapshots.Snapshot(z.ID)
			v.ActiveDrivers = snap.ActiveDrivers
			v.PendingRequests = snap.PendingRequests
			if snap.ActiveDrivers >= 1 {
				v.DemandRatio = snap.PendingRequests / snap.ActiveDrivers
			} else {
				v.DemandRatio = snap.PendingRequests
			}
			v.PickupEstimateMin = positioning.PickupEstimateMin(z, snap.ActiveDrivers)
			if v.DemandRatio > 1.0 {
				v.Priority = "needs_drivers"
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSurge(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetEffective(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type overrideRequest struct {
	Multiplier float64   `json:"multiplier"`
	Reason     string    `json:"reason"`
	SetBy      string    `json:"set_by"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	ov, err := s.engine.SetOverride(r.PathValue("id"), req.Multiplier, req.Reason, req.SetBy, req.ExpiresAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetToAutomatic(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending-automatic"})
}

type bulkSaveRequest struct {
	Entries []override.BulkEntry `json:"entries"`
	SetBy   string               `json:"set_by"`
}

func (s *Server) handleBulkSave(w http.ResponseWriter, r *http.Request) {
	var req bulkSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if err := s.overrides.BulkSave(req.Entries, req.SetBy); err != nil {
		var bulkErr *override.BulkSaveError
		if errors.As(err, &bulkErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "bulk save rejected",
				"failures": bulkErr.Failures,
			})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": len(req.Entries)})
}

func (s *Server) handleListOverrides(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.overrides.List())
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if s.forecasts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("forecasting disabled"))
		return
	}
	zoneID := r.PathValue("zoneId")
	if !s.zones.Exists(zoneID) {
		s.writeError(w, geo.ErrZoneNotFound)
		return
	}
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		v, err := strconv.Atoi(h)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("hours must be a positive integer"))
			return
		}
		hours = v
	}
	points, err := s.forecasts.BatchPredict([]string{zoneID}, hours)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handlePositioning(w http.ResponseWriter, r *http.Request) {
	if s.advisor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("positioning disabled"))
		return
	}
	recs, err := s.advisor.RecommendAll(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleSurgeStream streams surge states as server-sent events: first the
// current state of every zone, then one event per zone update published by
// the engine tick. The stream ends when the client disconnects.
func (s *Server) handleSurgeStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("streaming disabled"))
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}
	// Subscribe before the snapshot so no tick between the two is lost.
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for _, st := range s.engine.States() {
		writeSSE(w, st)
	}
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub:
			if !open {
				return
			}
			if st, isState := ev.(model.SurgeState); isState {
				writeSSE(w, st)
				fl.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geo.ErrZoneNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, override.ErrInvalidOverride):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, geo.ErrZoneInUse), errors.Is(err, geo.ErrDuplicateZone):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		s.log.Errorf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
