package fx

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Inflight shares one pending asynchronous operation between every caller
// that asks for the same request id. The first caller starts the work; later
// callers subscribe to the same result until it settles. Once settled the id
// is free again and the next caller starts a fresh run.
//
// It replaces passing success/failure callbacks through effect arguments:
// effects carry only the request id, and waiters meet here.
type Inflight struct {
	group singleflight.Group
}

// Outcome is the settled value of an in-flight operation.
type Outcome struct {
	Value  any
	Err    error
	Shared bool
}

// Do runs fn under id, or joins the run already in progress for id.
// It blocks until the operation settles or ctx is done.
func (f *Inflight) Do(ctx context.Context, id string, fn func() (any, error)) Outcome {
	select {
	case res := <-f.group.DoChan(id, fn):
		return Outcome{Value: res.Val, Err: res.Err, Shared: res.Shared}
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}
	}
}

// Subscribe is the non-blocking form of Do. The returned channel receives
// exactly one Outcome.
func (f *Inflight) Subscribe(id string, fn func() (any, error)) <-chan Outcome {
	out := make(chan Outcome, 1)
	ch := f.group.DoChan(id, fn)
	go func() {
		res := <-ch
		out <- Outcome{Value: res.Val, Err: res.Err, Shared: res.Shared}
	}()
	return out
}

// Forget drops id so the next caller starts a new run even if one is still
// pending.
func (f *Inflight) Forget(id string) {
	f.group.Forget(id)
}

// Mailbox hands one settled Outcome to the caller waiting on an id. The
// waiter opens its box before dispatching the action that will settle it;
// executors deliver from an effect.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[string]chan Outcome
}

// Open registers a box for id and returns the channel that receives its
// outcome. Opening an id twice replaces the earlier box.
func (m *Mailbox) Open(id string) <-chan Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.boxes == nil {
		m.boxes = make(map[string]chan Outcome)
	}
	ch := make(chan Outcome, 1)
	m.boxes[id] = ch
	return ch
}

// Deliver settles id. It reports false when nobody is waiting.
func (m *Mailbox) Deliver(id string, out Outcome) bool {
	m.mu.Lock()
	ch, ok := m.boxes[id]
	delete(m.boxes, id)
	m.mu.Unlock()
	if ok {
		ch <- out
	}
	return ok
}

// Close drops the box for id without settling it.
func (m *Mailbox) Close(id string) {
	m.mu.Lock()
	delete(m.boxes, id)
	m.mu.Unlock()
}

// Len returns the number of open boxes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}
