package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureWriter struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (w *captureWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *captureWriter) last(t *testing.T) Frame {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("no frame was sent")
	}
	return w.frames[len(w.frames)-1]
}

func TestIssueStampsAndSends(t *testing.T) {
	w := &captureWriter{}
	table := NewPendingCallTable(w)

	id, err := table.Issue(Frame{Kind: KindStartCharge, SocketID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty correlation id")
	}
	sent := w.last(t)
	if sent.CallID != id {
		t.Errorf("sent frame carries call id %q, want %q", sent.CallID, id)
	}
	if sent.Kind != KindStartCharge || sent.SocketID != 1 {
		t.Errorf("payload not preserved: %+v", sent)
	}
}

func TestIssueWriteFailureCleansUp(t *testing.T) {
	w := &captureWriter{err: errors.New("broken pipe")}
	table := NewPendingCallTable(w)

	if _, err := table.Issue(Frame{Kind: KindStopCharge}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestResolveWakesWaiter(t *testing.T) {
	w := &captureWriter{}
	table := NewPendingCallTable(w)

	id, err := table.Issue(Frame{Kind: KindStopCharge})
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan Frame, 1)
	errs := make(chan error, 1)
	go func() {
		f, err := table.Await(context.Background(), id, 2*time.Second)
		errs <- err
		got <- f
	}()

	ok := false
	for i := 0; i < 50 && !ok; i++ {
		ok = table.Resolve(Frame{Kind: KindAck, CallID: id, Success: boolPtr(true)})
		if !ok {
			time.Sleep(time.Millisecond)
		}
	}
	if !ok {
		t.Fatal("resolve never found a live waiter")
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
	if f := <-got; !f.AckSuccess() {
		t.Errorf("waiter received %+v, want successful ack", f)
	}
}

func TestDistinctCallsDoNotCrossResolve(t *testing.T) {
	w := &captureWriter{}
	table := NewPendingCallTable(w)

	id1, _ := table.Issue(Frame{Kind: KindStartCharge})
	id2, _ := table.Issue(Frame{Kind: KindStartCharge})

	// Structurally identical payload, but correlated to id2 only.
	if !table.Resolve(Frame{Kind: KindAck, CallID: id2, Success: boolPtr(true)}) {
		t.Fatal("resolve for id2 found no waiter")
	}

	f, err := table.Await(context.Background(), id2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f.CallID != id2 {
		t.Errorf("await(id2) got frame for %q", f.CallID)
	}

	if _, err := table.Await(context.Background(), id1, 30*time.Millisecond); !errors.Is(err, ErrCallTimedOut) {
		t.Errorf("await(id1) = %v, want ErrCallTimedOut", err)
	}
}

func TestTimeoutDropsEntry(t *testing.T) {
	w := &captureWriter{}
	table := NewPendingCallTable(w)

	id, _ := table.Issue(Frame{Kind: KindStopCharge})
	if _, err := table.Await(context.Background(), id, 10*time.Millisecond); !errors.Is(err, ErrCallTimedOut) {
		t.Fatalf("expected ErrCallTimedOut, got %v", err)
	}

	// The late response finds no waiter and is dropped.
	if table.Resolve(Frame{Kind: KindAck, CallID: id}) {
		t.Error("late response resolved a dead entry")
	}
}

func TestFailAllWakesWaiters(t *testing.T) {
	w := &captureWriter{}
	table := NewPendingCallTable(w)

	id, _ := table.Issue(Frame{Kind: KindStopCharge})
	errs := make(chan error, 1)
	go func() {
		_, err := table.Await(context.Background(), id, 5*time.Second)
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	table.FailAll()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrCallTimedOut) {
			t.Errorf("waiter got %v, want ErrCallTimedOut", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was never woken")
	}

	if _, err := table.Issue(Frame{Kind: KindStartCharge}); !errors.Is(err, ErrCallTimedOut) {
		t.Errorf("issue after FailAll = %v, want ErrCallTimedOut", err)
	}
}

func boolPtr(b bool) *bool { return &b }
