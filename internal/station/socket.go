package station

import (
	"sync"
	"time"
)

// SocketState is the charge socket state machine position.
type SocketState int

const (
	Idle SocketState = iota
	Connected
	Charging
)

func (s SocketState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case Charging:
		return "Charging"
	}
	return "Unknown"
}

// VehicleProfile describes the vehicle attached to a socket while it is
// connected or charging.
type VehicleProfile struct {
	ID               string  `json:"id"`
	CapacityKWh      float64 `json:"capacity"`
	RemainingKWh     float64 `json:"remaining"`
	MaxAcceptedPower float64 `json:"maxAcceptedPower"`
}

// ChargeSocket is the state machine for one physical socket on a device.
// All transitions are guarded: an operation attempted from any state other
// than its required source state fails with ErrInvalidTransition and leaves
// the socket untouched.
type ChargeSocket struct {
	mu sync.Mutex

	deviceID string
	id       int
	maxPower float64

	state        SocketState
	currentPower float64
	vehicle      *VehicleProfile
	requesterID  string
	startedAt    time.Time
	deadline     time.Time
	timeToFull   time.Duration

	timer *time.Timer
}

// NewChargeSocket builds an idle socket. The usable power ceiling is the
// lesser of the connector rating and the charge speed rating.
func NewChargeSocket(deviceID string, id int, connectorRating, speedRating float64) *ChargeSocket {
	maxPower := connectorRating
	if speedRating < maxPower {
		maxPower = speedRating
	}
	return &ChargeSocket{deviceID: deviceID, id: id, maxPower: maxPower}
}

func (s *ChargeSocket) ID() int          { return s.id }
func (s *ChargeSocket) DeviceID() string { return s.deviceID }
func (s *ChargeSocket) MaxPower() float64 {
	return s.maxPower
}

// State returns the current state machine position.
func (s *ChargeSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect attaches a vehicle. Valid only from Idle.
func (s *ChargeSocket) Connect(vehicle VehicleProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrInvalidTransition
	}
	v := vehicle
	s.vehicle = &v
	s.state = Connected
	return nil
}

// Disconnect detaches the vehicle. Valid only from Connected.
func (s *ChargeSocket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return ErrInvalidTransition
	}
	s.vehicle = nil
	s.currentPower = 0
	s.state = Idle
	return nil
}

// BeginCharge starts delivering power. Valid only from Connected, with a
// vehicle attached. The delivered power is capped by both the socket and
// the vehicle; completion is scheduled for whichever comes first, the
// battery filling or the requested deadline. onComplete fires on that
// schedule unless EndCharge cancels it first; it runs on its own goroutine
// and is the only transition in the system not driven by a request.
func (s *ChargeSocket) BeginCharge(deadline time.Time, requesterID string, onComplete func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.vehicle == nil {
		return ErrInvalidTransition
	}

	power := s.maxPower
	if s.vehicle.MaxAcceptedPower < power {
		power = s.vehicle.MaxAcceptedPower
	}

	now := time.Now()
	hoursToFull := (s.vehicle.CapacityKWh - s.vehicle.RemainingKWh) / power
	timeToFull := time.Duration(hoursToFull * 3600 * float64(time.Second))

	fireIn := timeToFull
	if untilDeadline := deadline.Sub(now); untilDeadline < fireIn {
		fireIn = untilDeadline
	}

	s.currentPower = power
	s.requesterID = requesterID
	s.startedAt = now
	s.deadline = deadline
	s.timeToFull = timeToFull
	s.state = Charging
	if onComplete != nil {
		s.timer = time.AfterFunc(fireIn, onComplete)
	}
	return nil
}

// EndCharge stops delivering power and cancels the pending completion
// timer. Valid only from Charging. After EndCharge no completion callback
// for this run will fire.
func (s *ChargeSocket) EndCharge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Charging {
		return ErrInvalidTransition
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.currentPower = 0
	s.requesterID = ""
	s.startedAt = time.Time{}
	s.deadline = time.Time{}
	s.timeToFull = 0
	s.state = Connected
	return nil
}

// RemainingMillis reports milliseconds until the charge deadline. Negative
// once the deadline has passed. Valid only while charging.
func (s *ChargeSocket) RemainingMillis() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Charging {
		return 0, ErrNotCharging
	}
	return time.Until(s.deadline).Milliseconds(), nil
}

// ProjectedFullCharge reports when the battery would be full at the current
// power. Valid only while charging.
func (s *ChargeSocket) ProjectedFullCharge() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Charging {
		return time.Time{}, ErrNotCharging
	}
	return s.startedAt.Add(s.timeToFull), nil
}

// Snapshot copies the socket into its wire form.
func (s *ChargeSocket) Snapshot() SocketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SocketSnapshot{
		SocketID:     s.id,
		State:        s.state,
		MaxPower:     s.maxPower,
		CurrentPower: s.currentPower,
		RequesterID:  s.requesterID,
	}
	if s.vehicle != nil {
		v := *s.vehicle
		snap.Vehicle = &v
	}
	if !s.startedAt.IsZero() {
		snap.StartedAtMs = s.startedAt.UnixMilli()
	}
	if !s.deadline.IsZero() {
		snap.DeadlineMs = s.deadline.UnixMilli()
	}
	return snap
}

// restore overwrites the socket from a device-pushed snapshot. The device
// is authoritative; no transition checks apply. A completion callback is
// re-armed when the snapshot shows an active charge, so the autonomous
// completion path keeps working across state syncs.
func (s *ChargeSocket) restore(snap SocketSnapshot, onComplete func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = snap.State
	s.currentPower = snap.CurrentPower
	s.requesterID = snap.RequesterID
	s.vehicle = nil
	if snap.Vehicle != nil {
		v := *snap.Vehicle
		s.vehicle = &v
	}
	s.startedAt = time.Time{}
	s.deadline = time.Time{}
	s.timeToFull = 0
	if snap.State != Charging {
		return
	}
	if snap.StartedAtMs > 0 {
		s.startedAt = time.UnixMilli(snap.StartedAtMs)
	} else {
		s.startedAt = time.Now()
	}
	if snap.DeadlineMs > 0 {
		s.deadline = time.UnixMilli(snap.DeadlineMs)
	}
	if s.vehicle != nil && s.currentPower > 0 {
		hoursToFull := (s.vehicle.CapacityKWh - s.vehicle.RemainingKWh) / s.currentPower
		s.timeToFull = time.Duration(hoursToFull * 3600 * float64(time.Second))
	}
	if onComplete == nil {
		return
	}
	fireIn := s.timeToFull
	if !s.deadline.IsZero() {
		if untilDeadline := time.Until(s.deadline); untilDeadline < fireIn {
			fireIn = untilDeadline
		}
	}
	if fireIn < 0 {
		fireIn = 0
	}
	s.timer = time.AfterFunc(fireIn, onComplete)
}

// cancelTimer drops any pending completion callback, used when the owning
// session discards the socket.
func (s *ChargeSocket) cancelTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
