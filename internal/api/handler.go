package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/internal/health"
	"github.com/labwatch/labwatch/internal/notify"
	"github.com/labwatch/labwatch/internal/query"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// Handler serves all /api/v1/* endpoints. Live state comes from the scorer;
// latest values and range reads come from the query engine.
type Handler struct {
	query          *query.Engine
	scorer         *health.Scorer
	notifier       *notify.Notifier
	storageHealthy func() bool
}

// New creates the API router with all routes and middleware registered.
func New(q *query.Engine, scorer *health.Scorer, notifier *notify.Notifier, storageHealthy func() bool, auth config.AuthConfig) http.Handler {
	h := &Handler{
		query:          q,
		scorer:         scorer,
		notifier:       notifier,
		storageHealthy: storageHealthy,
	}

	r := mux.NewRouter()
	r.Use(apiKeyMiddleware(auth))

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)
	v1.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/latest", h.latest).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/history", h.history).Methods(http.MethodGet)
	v1.HandleFunc("/insights", h.insights).Methods(http.MethodGet)
	v1.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)
	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — the system aggregate plus every device
// snapshot, computed live.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	snaps := h.scorer.Snapshots()
	sys := snaps[len(snaps)-1]
	devices := snaps[:len(snaps)-1]

	resp := HealthResponse{
		State:          sys.State,
		Score:          sys.Score,
		StorageHealthy: h.storageHealthy(),
		DeviceCount:    len(devices),
		Devices:        devices,
	}
	for _, s := range devices {
		switch s.State {
		case health.StateHealthy:
			resp.HealthyCount++
		case health.StateDegraded:
			resp.DegradedCount++
		case health.StateCritical:
			resp.CriticalCount++
		default:
			resp.UnknownCount++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listDevices returns GET /api/v1/devices — declared devices with their
// current state.
func (h *Handler) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := h.query.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		dr := DeviceResponse{
			ID:             d.ID,
			Channels:       d.Channels,
			SampleInterval: d.SampleInterval.String(),
		}
		if snap, ok := h.scorer.DeviceSnapshot(d.ID); ok {
			dr.State = snap.State
			dr.Score = snap.Score
		}
		if rec, err := h.query.LatestSample(d.ID); err == nil {
			dr.LastSample = rec.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, dr)
	}
	jsonResp(w, http.StatusOK, out)
}

// latest returns GET /api/v1/devices/{id}/latest — the most recent committed
// sample and health snapshot for one device.
func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.query.Device(id); !ok && id != telemetry.SystemDeviceID {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}

	var resp LatestResponse
	if rec, err := h.query.LatestSample(id); err == nil {
		resp.Sample = &rec
	}
	if rec, err := h.query.LatestHealth(id); err == nil {
		resp.Health = &rec
	}
	if resp.Sample == nil && resp.Health == nil {
		jsonErr(w, http.StatusNotFound, "no data for device yet")
		return
	}
	jsonResp(w, http.StatusOK, resp)
}

// history returns GET /api/v1/devices/{id}/history — one page of the device's
// persisted records, filtered by ?from=, ?to= (RFC 3339) and paginated with
// ?cursor=, ?limit=.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	from, to, cursor, limit, err := rangeParams(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.query.History(mux.Vars(r)["id"], from, to, cursor, limit)
	if errors.Is(err, query.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "history read failed")
		return
	}
	jsonResp(w, http.StatusOK, page)
}

// insights returns GET /api/v1/insights — one page of insight records,
// optionally filtered by ?device= and ?min_severity=.
func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	from, to, cursor, limit, err := rangeParams(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var minSeverity float64
	if v := r.URL.Query().Get("min_severity"); v != "" {
		minSeverity, err = strconv.ParseFloat(v, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "min_severity must be a number")
			return
		}
	}

	page, err := h.query.Insights(r.URL.Query().Get("device"), minSeverity, from, to, cursor, limit)
	if errors.Is(err, query.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "insight read failed")
		return
	}
	jsonResp(w, http.StatusOK, page)
}

// notifications returns GET /api/v1/notifications — recently delivered
// webhook notifications, oldest first.
func (h *Handler) notifications(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.notifier.Recent())
}

// --- helpers ----------------------------------------------------------------

// rangeParams parses the shared ?from=, ?to=, ?cursor=, ?limit= query
// parameters.
func rangeParams(r *http.Request) (from, to time.Time, cursor uint64, limit int, err error) {
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, cursor, limit, fmt.Errorf("from must be RFC 3339")
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, cursor, limit, fmt.Errorf("to must be RFC 3339")
		}
	}
	if v := q.Get("cursor"); v != "" {
		if cursor, err = strconv.ParseUint(v, 10, 64); err != nil {
			return from, to, cursor, limit, fmt.Errorf("cursor must be a sequence number")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return from, to, cursor, limit, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return from, to, cursor, limit, nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
