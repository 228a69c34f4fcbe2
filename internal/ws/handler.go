package ws

import (
	"context"
	"net/http"
	"time"

	"csms/internal/models"
	"csms/internal/security"
	"csms/internal/station"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/juju/loggo"
)

var log = loggo.GetLogger("csms.ws")

const handshakeTimeout = 10 * time.Second

// DeviceDirectory is the external existence/credential check a connection
// must pass before it becomes a session.
type DeviceDirectory interface {
	Get(ctx context.Context, deviceID string) (*models.Device, error)
	ListSockets(ctx context.Context, deviceID string) ([]models.SocketDef, error)
	TouchLastSeen(ctx context.Context, deviceID string, t time.Time) error
}

// Handler upgrades inbound device connections and runs the handshake: the
// device must exist and be active in the directory, present the right
// secret, advertise exactly the directory's socket set, and have no session
// already registered. Anything else closes the transport.
type Handler struct {
	directory   DeviceDirectory
	registry    *station.SessionRegistry
	biller      station.Biller
	callTimeout time.Duration
	upgrader    websocket.Upgrader
}

func NewHandler(directory DeviceDirectory, registry *station.SessionRegistry, biller station.Biller, callTimeout time.Duration) *Handler {
	return &Handler{
		directory:   directory,
		registry:    registry,
		biller:      biller,
		callTimeout: callTimeout,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /v1/cs/{deviceId}. It blocks for the lifetime of
// the device connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if deviceID == "" {
		http.Error(w, "missing device id", http.StatusBadRequest)
		return
	}

	dev, err := h.directory.Get(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "directory error", http.StatusInternalServerError)
		return
	}
	if dev == nil || !dev.IsActive || dev.SecretHash == "" {
		http.Error(w, "unknown device", http.StatusForbidden)
		return
	}
	presented := r.Header.Get("X-CS-Secret")
	if !security.EqualHex(dev.SecretHash, security.HashSecret(presented)) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}

	defs, err := h.directory.ListSockets(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "directory error", http.StatusInternalServerError)
		return
	}
	if len(defs) == 0 {
		http.Error(w, "device has no sockets", http.StatusForbidden)
		return
	}

	if _, err := h.registry.Lookup(deviceID); err == nil {
		http.Error(w, "device already connected", http.StatusConflict)
		return
	}

	wsc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("device %s: upgrade failed: %v", deviceID, err)
		return
	}
	conn := NewConn(wsc)

	hello, err := conn.ReadFrame()
	if err != nil {
		_ = conn.Close()
		return
	}
	if !advertisedSocketsMatch(hello, defs) {
		log.Infof("device %s: advertised sockets do not match directory, rejecting", deviceID)
		reject(wsc, "advertised sockets do not match directory")
		return
	}

	sockets := make([]*station.ChargeSocket, 0, len(defs))
	for _, def := range defs {
		sockets = append(sockets, station.NewChargeSocket(deviceID, def.SocketID, def.ConnectorRating, def.SpeedRating))
	}

	sess := station.NewDeviceSession(deviceID, dev.Name, conn, sockets, h.biller, h.callTimeout)
	sess.OnClose = func(s *station.DeviceSession) {
		h.registry.Unregister(s)
		log.Infof("device %s: session closed", s.DeviceID())
	}
	sess.OnStatus = func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.directory.TouchLastSeen(ctx, id, time.Now().UTC()); err != nil {
			log.Debugf("device %s: touching last seen: %v", id, err)
		}
	}

	if err := h.registry.Register(sess); err != nil {
		// Lost a race with a concurrent handshake for the same device.
		reject(wsc, "device already connected")
		return
	}
	sess.Prime(hello)
	log.Infof("device %s: session established with %d sockets", deviceID, len(sockets))

	sess.Run(r.Context())
}

// advertisedSocketsMatch checks the device's opening status frame against
// the directory's expected socket set.
func advertisedSocketsMatch(hello station.Frame, defs []models.SocketDef) bool {
	if hello.Kind != station.KindStatus || len(hello.Sockets) != len(defs) {
		return false
	}
	expected := make(map[int]bool, len(defs))
	for _, def := range defs {
		expected[def.SocketID] = true
	}
	for _, snap := range hello.Sockets {
		if !expected[snap.SocketID] {
			return false
		}
		delete(expected, snap.SocketID)
	}
	return len(expected) == 0
}

func reject(wsc *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = wsc.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = wsc.Close()
}
