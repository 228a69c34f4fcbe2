package station

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func registryTestSession(deviceID string) *DeviceSession {
	return NewDeviceSession(deviceID, deviceID, newPipeTransport(),
		[]*ChargeSocket{NewChargeSocket(deviceID, 0, 22, 22)}, newRecordingBiller(), time.Second)
}

func TestRegistryRejectsDuplicateDevice(t *testing.T) {
	r := NewSessionRegistry()
	first := registryTestSession("CS-1")
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(registryTestSession("CS-1")); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	got, err := r.Lookup("CS-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Error("duplicate registration displaced the original session")
	}
}

func TestRegistryUnregisterByIdentity(t *testing.T) {
	r := NewSessionRegistry()
	old := registryTestSession("CS-1")
	if err := r.Register(old); err != nil {
		t.Fatal(err)
	}
	r.Unregister(old)
	if _, err := r.Lookup("CS-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after unregister, got %v", err)
	}

	// A stale unregister must not evict a newer session for the same device.
	current := registryTestSession("CS-1")
	if err := r.Register(current); err != nil {
		t.Fatal(err)
	}
	r.Unregister(old)
	if got, err := r.Lookup("CS-1"); err != nil || got != current {
		t.Errorf("stale unregister evicted the live session (err=%v)", err)
	}
}

func TestRegistrySessionsSnapshot(t *testing.T) {
	r := NewSessionRegistry()
	a := registryTestSession("CS-1")
	b := registryTestSession("CS-2")
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(b); err != nil {
		t.Fatal(err)
	}

	sessions := r.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	seen := map[string]bool{}
	for _, s := range sessions {
		seen[s.DeviceID()] = true
	}
	if !seen["CS-1"] || !seen["CS-2"] {
		t.Errorf("sessions snapshot missing a device: %v", seen)
	}

	r.Unregister(a)
	if got := len(r.Sessions()); got != 1 {
		t.Errorf("after unregister got %d sessions, want 1", got)
	}
}

func TestRegistryConcurrentDevices(t *testing.T) {
	r := NewSessionRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := registryTestSession(fmt.Sprintf("CS-%d", i))
			if err := r.Register(s); err != nil {
				t.Errorf("register CS-%d: %v", i, err)
				return
			}
			if _, err := r.Lookup(s.DeviceID()); err != nil {
				t.Errorf("lookup CS-%d: %v", i, err)
			}
			r.Unregister(s)
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("registry has %d leftover sessions", r.Len())
	}
}
