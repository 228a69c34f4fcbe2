package station

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FrameWriter is the outbound half of a device transport.
type FrameWriter interface {
	WriteFrame(Frame) error
}

// PendingCallTable turns the transport's push-based delivery into blocking
// call semantics. Issue registers a correlation id and sends the tagged
// frame; Await blocks the caller on a single-slot channel that Resolve
// fulfils when the matching response arrives. Responses with no live waiter
// are not call responses and are left to the caller to handle.
type PendingCallTable struct {
	mu      sync.Mutex
	writer  FrameWriter
	waiting map[string]chan Frame
	closed  bool
}

func NewPendingCallTable(w FrameWriter) *PendingCallTable {
	return &PendingCallTable{writer: w, waiting: make(map[string]chan Frame)}
}

// Issue stamps the frame with a fresh correlation id, records a waiting
// entry and sends it. The returned id is what Await keys on.
func (t *PendingCallTable) Issue(f Frame) (string, error) {
	id := uuid.NewString()
	f.CallID = id

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrCallTimedOut
	}
	t.waiting[id] = make(chan Frame, 1)
	t.mu.Unlock()

	if err := t.writer.WriteFrame(f); err != nil {
		t.drop(id)
		return "", errors.Wrap(err, "sending call frame")
	}
	return id, nil
}

// Await blocks until the entry for id is resolved, the timeout elapses or
// ctx is cancelled. On timeout the entry is removed, so a late response is
// harmlessly dropped.
func (t *PendingCallTable) Await(ctx context.Context, id string, timeout time.Duration) (Frame, error) {
	t.mu.Lock()
	ch, ok := t.waiting[id]
	t.mu.Unlock()
	if !ok {
		return Frame{}, ErrCallTimedOut
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-ch:
		if !ok {
			// FailAll closed the channel: the transport is gone and no
			// response will ever arrive.
			return Frame{}, ErrCallTimedOut
		}
		return f, nil
	case <-timer.C:
		t.drop(id)
		return Frame{}, ErrCallTimedOut
	case <-ctx.Done():
		t.drop(id)
		return Frame{}, ctx.Err()
	}
}

// Resolve delivers a correlated frame to its waiter. It reports whether a
// live waiter existed; false means the frame is not a response to any
// outstanding call and should be treated as an unsolicited push.
func (t *PendingCallTable) Resolve(f Frame) bool {
	if f.CallID == "" {
		return false
	}
	t.mu.Lock()
	ch, ok := t.waiting[f.CallID]
	if ok {
		delete(t.waiting, f.CallID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f
	return true
}

// FailAll wakes every waiter with a failure and refuses further calls.
// Called when the transport closes under outstanding calls.
func (t *PendingCallTable) FailAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.waiting {
		close(ch)
		delete(t.waiting, id)
	}
}

func (t *PendingCallTable) drop(id string) {
	t.mu.Lock()
	delete(t.waiting, id)
	t.mu.Unlock()
}
