package station

import (
	"context"
	"sync"
	"time"

	"github.com/juju/loggo"
)

var log = loggo.GetLogger("csms.station")

// Transport is one device's duplex frame channel. ReadFrame blocks until a
// frame arrives or the connection dies; WriteFrame must be safe for
// concurrent use.
type Transport interface {
	WriteFrame(Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Bill is the ephemeral billing record handed to the notification boundary
// when a charge finishes. Amount computation happens there, not here.
type Bill struct {
	PayerID    string
	DeviceID   string
	DeviceName string
	SocketID   int
	StartedAt  time.Time
	EndedAt    time.Time
	Power      float64
}

// Biller delivers a completed-charge bill. Delivery failures are absorbed
// by the implementation; callers never see them.
type Biller interface {
	NotifyAndBill(ctx context.Context, bill Bill)
}

// DeviceSession is the live representation of one connected device. It owns
// the device's socket set exclusively, the pending-call table riding on the
// transport, and the single inbound read loop. Frames for one device are
// processed in arrival order; calls block only their own caller.
type DeviceSession struct {
	deviceID    string
	deviceName  string
	transport   Transport
	calls       *PendingCallTable
	biller      Biller
	callTimeout time.Duration

	// OnClose runs once when the transport dies, before outstanding calls
	// are failed. The registry owner uses it to unregister the session.
	OnClose func(*DeviceSession)
	// OnStatus runs after every status push, e.g. to touch last-seen.
	OnStatus func(deviceID string)

	mu      sync.Mutex
	sockets []*ChargeSocket

	closeOnce sync.Once
}

func NewDeviceSession(deviceID, deviceName string, transport Transport, sockets []*ChargeSocket, biller Biller, callTimeout time.Duration) *DeviceSession {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &DeviceSession{
		deviceID:    deviceID,
		deviceName:  deviceName,
		transport:   transport,
		calls:       NewPendingCallTable(transport),
		biller:      biller,
		callTimeout: callTimeout,
		sockets:     sockets,
	}
}

func (s *DeviceSession) DeviceID() string   { return s.deviceID }
func (s *DeviceSession) DeviceName() string { return s.deviceName }

// Prime seeds the socket set from the device's opening status frame. A
// device reconnecting mid-charge resumes with its advertised state instead
// of waiting for the next push.
func (s *DeviceSession) Prime(hello Frame) {
	if hello.Kind == KindStatus && len(hello.Sockets) > 0 {
		s.applySnapshot(hello.Sockets)
	}
}

// Run reads and dispatches inbound frames until the transport closes, then
// tears the session down. It is the session's only reader; everything that
// resolves a blocked call goes through here.
func (s *DeviceSession) Run(ctx context.Context) {
	defer s.teardown()
	for {
		f, err := s.transport.ReadFrame()
		if err != nil {
			log.Debugf("device %s: transport closed: %v", s.deviceID, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.handleFrame(ctx, f)
	}
}

// Close shuts the transport down, which ends Run and triggers teardown.
func (s *DeviceSession) Close() error {
	return s.transport.Close()
}

func (s *DeviceSession) teardown() {
	s.closeOnce.Do(func() {
		_ = s.transport.Close()
		if s.OnClose != nil {
			s.OnClose(s)
		}
		s.calls.FailAll()
		s.mu.Lock()
		for _, sock := range s.sockets {
			sock.cancelTimer()
		}
		s.sockets = nil
		s.mu.Unlock()
	})
}

func (s *DeviceSession) handleFrame(ctx context.Context, f Frame) {
	switch f.Kind {
	case KindStatus:
		s.applySnapshot(f.Sockets)
		if s.OnStatus != nil {
			s.OnStatus(s.deviceID)
		}
	case KindComplete:
		// Correlated to an in-flight stop or not, a completion settles
		// here on the dispatch path. Claiming the Charging->Connected
		// transition under the session lock picks a single biller out of
		// the three origins: the stop response, the device-initiated
		// notice and the local deadline timer. The waiter, if any, only
		// learns the outcome.
		fallback, won := s.claimCompletion(f)
		s.applySnapshot(f.Sockets)
		if won {
			s.bill(ctx, f, fallback)
		} else {
			log.Debugf("device %s: completion for socket %d with no active charge", s.deviceID, fallback.SocketID)
		}
		s.calls.Resolve(f)
	default:
		// Snapshots riding on call responses are applied before the
		// waiter is woken, so a response can never overwrite a status
		// push the loop processed after it.
		if len(f.Sockets) > 0 {
			s.applySnapshot(f.Sockets)
		}
		if !s.calls.Resolve(f) {
			log.Debugf("device %s: dropping uncorrelated %q frame", s.deviceID, f.Kind)
		}
	}
}

// StartCharge asks the device to begin charging on one of its sockets and
// blocks until the device acknowledges or the call times out. Local state
// is not advanced speculatively; the ack's socket snapshot, or the next
// status push, is authoritative.
func (s *DeviceSession) StartCharge(ctx context.Context, socketID int, deadline time.Time, requesterID string) (bool, error) {
	sock, err := s.socket(socketID)
	if err != nil {
		return false, err
	}
	if sock.State() != Connected {
		return false, ErrInvalidTransition
	}

	id, err := s.calls.Issue(Frame{
		Kind:        KindStartCharge,
		SocketID:    socketID,
		DeadlineMs:  deadline.UnixMilli(),
		RequesterID: requesterID,
	})
	if err != nil {
		return false, err
	}
	resp, err := s.calls.Await(ctx, id, s.callTimeout)
	if err != nil {
		return false, err
	}
	return resp.AckSuccess(), nil
}

// StopCharge asks the device to stop an active charge and blocks for the
// response. Completion responses are settled by the read loop before the
// call resolves: any resulting bill has gone out, and the pushed socket
// set is in place, by the time this returns.
func (s *DeviceSession) StopCharge(ctx context.Context, socketID int) (bool, error) {
	sock, err := s.socket(socketID)
	if err != nil {
		return false, err
	}
	if sock.State() != Charging {
		return false, ErrInvalidTransition
	}

	id, err := s.calls.Issue(Frame{Kind: KindStopCharge, SocketID: socketID})
	if err != nil {
		return false, err
	}
	resp, err := s.calls.Await(ctx, id, s.callTimeout)
	if err != nil {
		return false, err
	}
	if resp.Kind == KindComplete || resp.Charge != nil {
		return true, nil
	}
	return resp.AckSuccess(), nil
}

// TimeRemaining reports milliseconds until the socket's charge deadline.
func (s *DeviceSession) TimeRemaining(socketID int) (int64, error) {
	sock, err := s.socket(socketID)
	if err != nil {
		return 0, err
	}
	return sock.RemainingMillis()
}

// SocketSnapshotByID copies one socket's last known state.
func (s *DeviceSession) SocketSnapshotByID(socketID int) (SocketSnapshot, error) {
	sock, err := s.socket(socketID)
	if err != nil {
		return SocketSnapshot{}, err
	}
	return sock.Snapshot(), nil
}

// Snapshots copies the whole last known socket set in order.
func (s *DeviceSession) Snapshots() []SocketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SocketSnapshot, 0, len(s.sockets))
	for _, sock := range s.sockets {
		out = append(out, sock.Snapshot())
	}
	return out
}

func (s *DeviceSession) socket(id int) (*ChargeSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sock := range s.sockets {
		if sock.id == id {
			return sock, nil
		}
	}
	return nil, ErrUnknownSocket
}

// applySnapshot wholesale-replaces the socket set with a device push.
// Timers on discarded sockets are cancelled; sockets charging per the push
// get a fresh completion callback.
func (s *DeviceSession) applySnapshot(snaps []SocketSnapshot) {
	if snaps == nil {
		return
	}
	next := make([]*ChargeSocket, 0, len(snaps))
	for _, snap := range snaps {
		sock := NewChargeSocket(s.deviceID, snap.SocketID, snap.MaxPower, snap.MaxPower)
		sock.restore(snap, func() { s.completeFromTimer(sock) })
		next = append(next, sock)
	}

	s.mu.Lock()
	old := s.sockets
	s.sockets = next
	s.mu.Unlock()
	for _, sock := range old {
		sock.cancelTimer()
	}
}

// completeFromTimer is the autonomous completion path: the scheduled
// callback armed at charge start fired before any explicit stop. Only the
// party that wins the Charging->Connected transition may bill, so a stop
// that already went through, or a snapshot that already replaced this
// socket, makes this a no-op.
func (s *DeviceSession) completeFromTimer(sock *ChargeSocket) {
	s.mu.Lock()
	owned := false
	for _, cur := range s.sockets {
		if cur == sock {
			owned = true
			break
		}
	}
	if !owned {
		s.mu.Unlock()
		return
	}
	before := sock.Snapshot()
	err := sock.EndCharge()
	s.mu.Unlock()
	if err != nil {
		return
	}
	log.Infof("device %s socket %d: charge completed on schedule", s.deviceID, sock.ID())
	s.bill(context.Background(), Frame{}, before)
}

// bill funnels every end-of-charge event, explicit or autonomous, into one
// billing attempt. Device-supplied charge metadata wins; otherwise the
// pre-completion local snapshot fills in the record.
func (s *DeviceSession) bill(ctx context.Context, f Frame, fallback SocketSnapshot) {
	bill := Bill{DeviceID: s.deviceID, DeviceName: s.deviceName}
	if f.Charge != nil {
		bill.PayerID = f.Charge.PayerID
		bill.SocketID = f.Charge.SocketID
		bill.EndedAt = time.UnixMilli(f.Charge.EndedAtMs)
		bill.StartedAt = bill.EndedAt
		if f.Charge.StartedAtMs > 0 {
			bill.StartedAt = time.UnixMilli(f.Charge.StartedAtMs)
		}
		bill.Power = f.Charge.Power
	} else {
		bill.PayerID = fallback.RequesterID
		bill.SocketID = fallback.SocketID
		bill.EndedAt = time.Now()
		// A missing start timestamp bills a zero-length charge rather
		// than one running since the epoch.
		bill.StartedAt = bill.EndedAt
		if fallback.StartedAtMs > 0 {
			bill.StartedAt = time.UnixMilli(fallback.StartedAtMs)
		}
		bill.Power = fallback.CurrentPower
	}
	if bill.PayerID == "" {
		log.Warningf("device %s socket %d: completed charge has no payer, skipping bill", s.deviceID, bill.SocketID)
		return
	}
	s.biller.NotifyAndBill(ctx, bill)
}

// claimCompletion ends the charge on the completed socket under the
// session lock and reports whether this frame won the Charging->Connected
// transition. EndCharge fails once any other origin has already ended the
// run, so at most one claim per charge succeeds. The pre-completion
// snapshot is returned for billing fallback.
func (s *DeviceSession) claimCompletion(f Frame) (SocketSnapshot, bool) {
	socketID := f.SocketID
	if f.Charge != nil {
		socketID = f.Charge.SocketID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sock := range s.sockets {
		if sock.id == socketID {
			before := sock.Snapshot()
			if err := sock.EndCharge(); err != nil {
				return before, false
			}
			return before, true
		}
	}
	return SocketSnapshot{SocketID: socketID}, false
}
