package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"csms/internal/config"
	"csms/internal/models"
	"csms/internal/station"

	"github.com/go-chi/chi/v5"
)

// DeviceStore is the slice of the device directory the API reads.
type DeviceStore interface {
	Get(ctx context.Context, deviceID string) (*models.Device, error)
}

// ChargeStore serves recorded charges.
type ChargeStore interface {
	Get(ctx context.Context, chargeID string) (*models.ChargeRecord, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.ChargeRecord, error)
}

type Server struct {
	Cfg      config.Config
	Devices  DeviceStore
	Charges  ChargeStore
	Registry *station.SessionRegistry
	WS       http.Handler
}

func NewServer(cfg config.Config, devices DeviceStore, charges ChargeStore, registry *station.SessionRegistry, wsHandler http.Handler) *Server {
	return &Server{Cfg: cfg, Devices: devices, Charges: charges, Registry: registry, WS: wsHandler}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		// Device transport; devices authenticate with their shared
		// secret, not the API token.
		r.Method(http.MethodGet, "/cs/{deviceId}", s.WS)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return RequireBearer(s.Cfg.APIToken, next) })
			r.Get("/devices/{deviceId}", s.GetDevice)
			r.Get("/devices/{deviceId}/sockets/{socketId}", s.GetSocket)
			r.Get("/devices/{deviceId}/sockets/{socketId}/time-remaining", s.GetTimeRemaining)
			r.Post("/devices/{deviceId}/sockets/{socketId}/start", s.StartCharge)
			r.Post("/devices/{deviceId}/sockets/{socketId}/stop", s.StopCharge)
			r.Get("/devices/{deviceId}/charges", s.ListCharges)
			r.Get("/charges/{chargeId}", s.GetCharge)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceId")
	dev, err := s.Devices.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if dev == nil {
		http.NotFound(w, r)
		return
	}
	_, online := s.lookup(id)
	writeJSON(w, map[string]any{
		"deviceId":   dev.DeviceID,
		"name":       dev.Name,
		"isActive":   dev.IsActive,
		"vendor":     dev.Vendor,
		"model":      dev.Model,
		"online":     online,
		"lastSeenAt": dev.LastSeenAt,
		"createdAt":  dev.CreatedAt,
		"updatedAt":  dev.UpdatedAt,
	})
}

func (s *Server) GetSocket(w http.ResponseWriter, r *http.Request) {
	sess, socketID, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.SocketSnapshotByID(socketID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) GetTimeRemaining(w http.ResponseWriter, r *http.Request) {
	sess, socketID, ok := s.session(w, r)
	if !ok {
		return
	}
	millis, err := sess.TimeRemaining(socketID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, map[string]any{"remainingMillis": millis})
}

func (s *Server) ListCharges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceId")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := s.Charges.ListByDevice(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, items)
}

func (s *Server) GetCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargeId")
	rec, err := s.Charges.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) lookup(deviceID string) (*station.DeviceSession, bool) {
	sess, err := s.Registry.Lookup(deviceID)
	return sess, err == nil
}

// session resolves the {deviceId}/{socketId} route pair to a live session,
// writing the error response itself when it can't.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*station.DeviceSession, int, bool) {
	socketID, err := strconv.Atoi(chi.URLParam(r, "socketId"))
	if err != nil {
		http.Error(w, "invalid socket id", http.StatusBadRequest)
		return nil, 0, false
	}
	sess, err := s.Registry.Lookup(chi.URLParam(r, "deviceId"))
	if err != nil {
		writeOperationError(w, err)
		return nil, 0, false
	}
	return sess, socketID, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
