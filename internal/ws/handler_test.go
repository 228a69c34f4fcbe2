package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"csms/internal/models"
	"csms/internal/security"
	"csms/internal/station"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type fakeDirectory struct {
	devices map[string]*models.Device
	sockets map[string][]models.SocketDef
}

func (f *fakeDirectory) Get(_ context.Context, id string) (*models.Device, error) {
	return f.devices[id], nil
}

func (f *fakeDirectory) ListSockets(_ context.Context, id string) ([]models.SocketDef, error) {
	return f.sockets[id], nil
}

func (f *fakeDirectory) TouchLastSeen(context.Context, string, time.Time) error {
	return nil
}

type nopBiller struct{}

func (nopBiller) NotifyAndBill(context.Context, station.Bill) {}

func newHandshakeFixture(t *testing.T) (*httptest.Server, *station.SessionRegistry) {
	t.Helper()
	dir := &fakeDirectory{
		devices: map[string]*models.Device{
			"CS-1": {
				DeviceID:   "CS-1",
				Name:       "Test Station",
				SecretHash: security.HashSecret("devsecret"),
				IsActive:   true,
			},
		},
		sockets: map[string][]models.SocketDef{
			"CS-1": {
				{DeviceID: "CS-1", SocketID: 0, ConnectorRating: 22, SpeedRating: 22},
				{DeviceID: "CS-1", SocketID: 1, ConnectorRating: 22, SpeedRating: 11},
			},
		},
	}
	registry := station.NewSessionRegistry()
	h := NewHandler(dir, registry, nopBiller{}, time.Second)

	r := chi.NewRouter()
	r.Get("/v1/cs/{deviceId}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func wsURL(srv *httptest.Server, deviceID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/cs/" + deviceID
}

func dial(t *testing.T, srv *httptest.Server, deviceID, secret string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if secret != "" {
		header.Set("X-CS-Secret", secret)
	}
	return websocket.DefaultDialer.Dial(wsURL(srv, deviceID), header)
}

func helloFrame(socketIDs ...int) station.Frame {
	snaps := make([]station.SocketSnapshot, 0, len(socketIDs))
	for _, id := range socketIDs {
		snaps = append(snaps, station.SocketSnapshot{SocketID: id, State: station.Idle, MaxPower: 22})
	}
	return station.Frame{Kind: station.KindStatus, Sockets: snaps}
}

func waitRegistered(t *testing.T, registry *station.SessionRegistry, deviceID string) *station.DeviceSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, err := registry.Lookup(deviceID); err == nil {
			return sess
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("device %s never registered", deviceID)
	return nil
}

func TestHandshakeEstablishesSession(t *testing.T) {
	srv, registry := newHandshakeFixture(t)

	conn, _, err := dial(t, srv, "CS-1", "devsecret")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(helloFrame(0, 1)); err != nil {
		t.Fatal(err)
	}
	sess := waitRegistered(t, registry, "CS-1")
	if got := len(sess.Snapshots()); got != 2 {
		t.Errorf("session has %d sockets, want 2", got)
	}
}

func TestHandshakeRejectsBadSecret(t *testing.T) {
	srv, registry := newHandshakeFixture(t)

	_, resp, err := dial(t, srv, "CS-1", "wrong")
	if err == nil {
		t.Fatal("dial succeeded with a bad secret")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 rejection, got %+v", resp)
	}
	if registry.Len() != 0 {
		t.Error("rejected device ended up registered")
	}
}

func TestHandshakeRejectsUnknownDevice(t *testing.T) {
	srv, _ := newHandshakeFixture(t)

	_, resp, err := dial(t, srv, "CS-404", "devsecret")
	if err == nil {
		t.Fatal("dial succeeded for unknown device")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 rejection, got %+v", resp)
	}
}

func TestHandshakeRejectsSocketMismatch(t *testing.T) {
	srv, registry := newHandshakeFixture(t)

	conn, _, err := dial(t, srv, "CS-1", "devsecret")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Directory expects sockets 0 and 1.
	if err := conn.WriteJSON(helloFrame(0, 7)); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard station.Frame
	if err := conn.ReadJSON(&discard); err == nil {
		t.Fatal("server kept the connection open after a socket mismatch")
	}
	if registry.Len() != 0 {
		t.Error("mismatched device ended up registered")
	}
}

func TestHandshakeRejectsDuplicateConnection(t *testing.T) {
	srv, registry := newHandshakeFixture(t)

	conn, _, err := dial(t, srv, "CS-1", "devsecret")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(helloFrame(0, 1)); err != nil {
		t.Fatal(err)
	}
	waitRegistered(t, registry, "CS-1")

	_, resp, err := dial(t, srv, "CS-1", "devsecret")
	if err == nil {
		t.Fatal("second connection for the same device was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 rejection, got %+v", resp)
	}
}
