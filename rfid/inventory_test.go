package rfid

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startedHarness(t *testing.T) *testHarness {
	t.Helper()
	h := newHarness(t, usbReader("1", "TSL 1128"))
	h.connect("1", TransportUSB)
	return h
}

func TestInventory_StopsAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, usbReader("1", "TSL 1128"))
	h.commander.InventoryError = errors.New("no response")
	h.connect("1", TransportUSB)

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	for i := 1; i < MaxInventoryFailures; i++ {
		h.advance()
	}

	waitFor(t, "session to stop itself", func() bool {
		running, _ := h.ctrl.IsInventorying(h.ctx())
		return !running
	})
	h.flush()

	if n := h.commander.CallCount("Inventory"); n != MaxInventoryFailures {
		t.Errorf("Expected %d inventory requests, got %d", MaxInventoryFailures, n)
	}
	if n := h.commander.CallCount("Abort"); n != 1 {
		t.Errorf("Expected one abort, got %d", n)
	}
	inventory := h.events.ofKind(EventInventory)
	if len(inventory) != 2 || inventory[1].Data.(InventoryPayload).Status != InventoryStopped {
		t.Errorf("Expected started then stopped, got %+v", inventory)
	}

	// The reader stays connected and a new session can start.
	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Errorf("Expected restart after failure stop, got %v", err)
	}
}

func TestInventory_StalledRequestCountsAsFailure(t *testing.T) {
	h := startedHarness(t)
	if err := h.ctrl.do(h.ctx(), func() { h.ctrl.inventory.timeout = 20 * time.Millisecond }); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	h.commander.InventoryFunc = func(ctx context.Context, deliver func(TagRead)) error {
		<-ctx.Done() // the reader never answers
		return ctx.Err()
	}

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	for i := 1; i < MaxInventoryFailures; i++ {
		h.advance()
	}

	waitFor(t, "stalled session to stop itself", func() bool {
		running, _ := h.ctrl.IsInventorying(h.ctx())
		return !running
	})
	h.flush()

	if n := h.commander.CallCount("Inventory"); n != MaxInventoryFailures {
		t.Errorf("Expected %d inventory requests, got %d", MaxInventoryFailures, n)
	}
	inventory := h.events.ofKind(EventInventory)
	if len(inventory) != 2 || inventory[1].Data.(InventoryPayload).Status != InventoryStopped {
		t.Errorf("Expected started then stopped, got %+v", inventory)
	}
}

func TestInventory_SuccessResetsFailureCount(t *testing.T) {
	h := startedHarness(t)
	var calls atomic.Int32
	h.commander.InventoryFunc = func(ctx context.Context, deliver func(TagRead)) error {
		// fail, fail, succeed, fail, fail, ...
		if calls.Add(1)%3 == 0 {
			return nil
		}
		return errors.New("no response")
	}

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.advance()
	}

	running, _ := h.ctrl.IsInventorying(h.ctx())
	if !running {
		t.Error("Expected the session to keep running")
	}
}

func TestInventory_RequestsNeverOverlap(t *testing.T) {
	h := startedHarness(t)

	var inFlight, maxInFlight atomic.Int32
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	h.commander.InventoryFunc = func(ctx context.Context, deliver func(TagRead)) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		entered <- struct{}{}
		<-release
		inFlight.Add(-1)
		return nil
	}

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	<-entered

	// While the first request is outstanding no timer is armed, so time
	// passing does not issue another request.
	h.clock.Advance(10 * DefaultInventoryInterval)
	h.flush()
	if n := h.commander.CallCount("Inventory"); n != 1 {
		t.Fatalf("Expected one request while the first is outstanding, got %d", n)
	}

	release <- struct{}{}
	h.advance()
	<-entered
	release <- struct{}{}

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("Expected at most one request in flight, got %d", got)
	}
	if _, err := h.ctrl.StopInventory(h.ctx()); err != nil {
		t.Fatalf("StopInventory failed: %v", err)
	}
	close(release)
}

func TestInventory_WaitsIntervalAfterCompletion(t *testing.T) {
	h := startedHarness(t)
	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}

	waitFor(t, "first timer", func() bool { return h.clock.PendingTimers() > 0 })
	h.clock.Advance(DefaultInventoryInterval - 1)
	h.flush()
	if n := h.commander.CallCount("Inventory"); n != 1 {
		t.Fatalf("Expected no request before the interval elapsed, got %d", n)
	}

	h.clock.Advance(1)
	waitFor(t, "second request", func() bool { return h.commander.CallCount("Inventory") == 2 })
}

func TestInventory_LateTagsAfterStopAreDropped(t *testing.T) {
	h := startedHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})
	h.commander.InventoryFunc = func(ctx context.Context, deliver func(TagRead)) error {
		close(entered)
		<-release
		deliver(TagRead{EPC: "E2899", RSSI: -60})
		close(returned)
		return nil
	}

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	<-entered
	if stopped, _ := h.ctrl.StopInventory(h.ctx()); !stopped {
		t.Fatal("Expected StopInventory to return true")
	}

	close(release)
	<-returned
	h.flush()

	if n := len(h.events.ofKind(EventTag)); n != 0 {
		t.Errorf("Expected no tag events after stop, got %d", n)
	}
	if n := h.clock.PendingTimers(); n != 0 {
		t.Errorf("Expected no timer after stop, got %d", n)
	}
}

func TestInventory_StopCancelsRequest(t *testing.T) {
	h := startedHarness(t)

	cancelled := make(chan struct{})
	h.commander.InventoryFunc = func(ctx context.Context, deliver func(TagRead)) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}

	if err := h.ctrl.StartInventory(h.ctx()); err != nil {
		t.Fatalf("StartInventory failed: %v", err)
	}
	waitFor(t, "request", func() bool { return h.commander.CallCount("Inventory") == 1 })
	if _, err := h.ctrl.StopInventory(h.ctx()); err != nil {
		t.Fatalf("StopInventory failed: %v", err)
	}
	<-cancelled
	h.flush()

	// The cancelled request's error is not counted against a new session.
	running, _ := h.ctrl.IsInventorying(h.ctx())
	if running {
		t.Error("Expected inventory to be stopped")
	}
}

func TestInventorySession_DefaultInterval(t *testing.T) {
	s := NewInventorySession(NewMockCommander(), NewFakeClock(testEpoch()), 0, func(func()) bool { return true }, discardLogger())
	if s.Interval() != DefaultInventoryInterval {
		t.Errorf("Expected %v, got %v", DefaultInventoryInterval, s.Interval())
	}
	if s.Stop(true) {
		t.Error("Expected Stop on an idle session to return false")
	}
}
