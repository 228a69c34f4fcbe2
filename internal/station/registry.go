package station

import "sync"

// SessionRegistry is the process-wide table of connected device sessions,
// keyed by device id. At most one session per device.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*DeviceSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*DeviceSession)}
}

// Register adds the session under its device id. A device that already has
// a live session is rejected.
func (r *SessionRegistry) Register(s *DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.DeviceID()]; ok {
		return ErrSessionExists
	}
	r.sessions[s.DeviceID()] = s
	return nil
}

// Unregister removes the session by identity. A newer session registered
// under the same device id is left alone.
func (r *SessionRegistry) Unregister(s *DeviceSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.DeviceID()]; ok && cur == s {
		delete(r.sessions, s.DeviceID())
	}
}

// Lookup returns the live session for the device, or ErrNoActiveSession.
func (r *SessionRegistry) Lookup(deviceID string) (*DeviceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[deviceID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

// Sessions returns the live sessions at the time of the call, used to
// close them all on shutdown.
func (r *SessionRegistry) Sessions() []*DeviceSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DeviceSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports how many devices are currently connected.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
