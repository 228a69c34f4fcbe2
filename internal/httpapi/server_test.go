package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"csms/internal/config"
	"csms/internal/models"
	"csms/internal/station"
)

type fakeDevices struct {
	devices map[string]*models.Device
}

func (f *fakeDevices) Get(_ context.Context, id string) (*models.Device, error) {
	return f.devices[id], nil
}

type fakeCharges struct {
	records map[string]*models.ChargeRecord
}

func (f *fakeCharges) Get(_ context.Context, id string) (*models.ChargeRecord, error) {
	return f.records[id], nil
}

func (f *fakeCharges) ListByDevice(context.Context, string, int) ([]models.ChargeRecord, error) {
	return nil, nil
}

func newTestServer(token string) *Server {
	cfg := config.Load()
	cfg.APIToken = token
	return NewServer(cfg,
		&fakeDevices{devices: map[string]*models.Device{
			"CS-1": {DeviceID: "CS-1", Name: "Test Station", IsActive: true},
		}},
		&fakeCharges{},
		station.NewSessionRegistry(),
		http.NotFoundHandler(),
	)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer("")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestBearerGuard(t *testing.T) {
	srv := newTestServer("sekret")

	req := httptest.NewRequest(http.MethodGet, "/v1/devices/CS-1", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/devices/CS-1", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", rec.Code)
	}
}

func TestCommandWithoutSession(t *testing.T) {
	srv := newTestServer("")

	body := strings.NewReader(`{"deadline": 99999999999999, "requesterId": "payer-7"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/devices/CS-1/sockets/0/start", body)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("start with no session = %d, want 409", rec.Code)
	}
}

func TestInvalidSocketID(t *testing.T) {
	srv := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/v1/devices/CS-1/sockets/banana/stop", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid socket id = %d, want 400", rec.Code)
	}
}

func TestUnknownDevice(t *testing.T) {
	srv := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/v1/devices/CS-404", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device = %d, want 404", rec.Code)
	}
}

func TestOperationErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{station.ErrUnknownSocket, http.StatusNotFound},
		{station.ErrInvalidTransition, http.StatusConflict},
		{station.ErrNotCharging, http.StatusConflict},
		{station.ErrNoActiveSession, http.StatusConflict},
		{station.ErrCallTimedOut, http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeOperationError(rec, c.err)
		if rec.Code != c.want {
			t.Errorf("%v mapped to %d, want %d", c.err, rec.Code, c.want)
		}
	}
}
