package rfid

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func usbReader(id, name string) Reader {
	return Reader{
		ID:          id,
		DisplayName: name,
		Transports:  []Transport{{Kind: TransportUSB, Address: "/dev/ttyACM" + id}},
	}
}

func btReader(id, name string) Reader {
	return Reader{
		ID:          id,
		DisplayName: name,
		Transports:  []Transport{{Kind: TransportBluetooth, Address: "/dev/rfcomm" + id}},
	}
}

func testEpoch() time.Time {
	return time.UnixMilli(1700000000000)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// eventRecorder collects dispatched events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(d *Dispatcher) *eventRecorder {
	rec := &eventRecorder{}
	d.Subscribe(func(ev Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, ev)
	})
	return rec
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) ofKind(kind EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// statuses returns the connection statuses emitted, in order.
func (r *eventRecorder) statuses() []ConnectionStatus {
	var out []ConnectionStatus
	for _, ev := range r.ofKind(EventConnection) {
		out = append(out, ev.Data.(ConnectionPayload).Status)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

type testHarness struct {
	t         *testing.T
	ctrl      *Controller
	commander *MockCommander
	discovery *MockDiscovery
	clock     *FakeClock
	events    *eventRecorder
}

func newHarness(t *testing.T, readers ...Reader) *testHarness {
	t.Helper()
	clock := NewFakeClock(testEpoch())
	commander := NewMockCommander()
	discovery := NewMockDiscovery(readers...)
	ctrl := NewController(Config{
		Commander: commander,
		Discovery: discovery,
		Clock:     clock,
		Logger:    discardLogger(),
	})
	h := &testHarness{
		t:         t,
		ctrl:      ctrl,
		commander: commander,
		discovery: discovery,
		clock:     clock,
		events:    recordEvents(ctrl.Events()),
	}
	t.Cleanup(func() { ctrl.Close() })
	return h
}

func (h *testHarness) ctx() context.Context {
	return context.Background()
}

// flush waits until the actor and the dispatcher have processed
// everything queued so far.
func (h *testHarness) flush() {
	h.t.Helper()
	if _, err := h.ctrl.Status(h.ctx()); err != nil {
		h.t.Fatalf("Status failed: %v", err)
	}
	h.ctrl.Events().Flush()
}

func (h *testHarness) status() ConnectionStatus {
	h.t.Helper()
	s, err := h.ctrl.Status(h.ctx())
	if err != nil {
		h.t.Fatalf("Status failed: %v", err)
	}
	return s
}

func (h *testHarness) state() ControllerState {
	h.t.Helper()
	s, err := h.ctrl.State(h.ctx())
	if err != nil {
		h.t.Fatalf("State failed: %v", err)
	}
	return s
}

// connect runs Connect and completes the link over kind.
func (h *testHarness) connect(id string, kind TransportKind) {
	h.t.Helper()
	if _, err := h.ctrl.Connect(h.ctx()); err != nil {
		h.t.Fatalf("Connect failed: %v", err)
	}
	h.commander.Notify(id, kind, TransportConnected)
	if got := h.status(); got != StatusConnected {
		h.t.Fatalf("Expected connected, got %s", got)
	}
}

// advance fires the pending inventory timer.
func (h *testHarness) advance() {
	h.t.Helper()
	waitFor(h.t, "pending inventory timer", func() bool { return h.clock.PendingTimers() > 0 })
	h.clock.Advance(DefaultInventoryInterval)
}
