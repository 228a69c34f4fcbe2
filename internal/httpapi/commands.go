package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"csms/internal/station"
)

type startChargeReq struct {
	DeadlineMs  int64  `json:"deadline"`
	RequesterID string `json:"requesterId"`
}

type commandResp struct {
	Success bool `json:"success"`
}

// StartCharge dispatches a start command to the device's live session and
// blocks until the device acknowledges or the call times out.
func (s *Server) StartCharge(w http.ResponseWriter, r *http.Request) {
	sess, socketID, ok := s.session(w, r)
	if !ok {
		return
	}

	var req startChargeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.RequesterID == "" {
		http.Error(w, "missing requesterId", http.StatusBadRequest)
		return
	}
	deadline := time.UnixMilli(req.DeadlineMs)
	if !deadline.After(time.Now()) {
		http.Error(w, "deadline must be in the future", http.StatusBadRequest)
		return
	}

	success, err := sess.StartCharge(r.Context(), socketID, deadline, req.RequesterID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, commandResp{Success: success})
}

// StopCharge dispatches a stop command. When the device reports the charge
// fully ended, billing has already been triggered by the time this returns.
func (s *Server) StopCharge(w http.ResponseWriter, r *http.Request) {
	sess, socketID, ok := s.session(w, r)
	if !ok {
		return
	}

	success, err := sess.StopCharge(r.Context(), socketID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, commandResp{Success: success})
}

// writeOperationError maps core error kinds onto HTTP statuses. Transitions
// attempted from a forbidden state and missing sessions are precondition
// failures; unanswered calls are gateway timeouts.
func writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, station.ErrUnknownSocket):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, station.ErrInvalidTransition), errors.Is(err, station.ErrNotCharging), errors.Is(err, station.ErrNoActiveSession):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, station.ErrCallTimedOut):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
