package rfid

import (
	"testing"
	"time"
)

func TestFakeClock_Timer(t *testing.T) {
	fc := NewFakeClock(testEpoch())
	timer := fc.NewTimer(100 * time.Millisecond)

	fc.Advance(99 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("Timer fired early")
	default:
	}
	if fc.PendingTimers() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", fc.PendingTimers())
	}

	fc.Advance(time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("Expected timer to fire")
	}
	if fc.PendingTimers() != 0 {
		t.Errorf("Expected no pending timers, got %d", fc.PendingTimers())
	}
	if timer.Stop() {
		t.Error("Expected Stop on a fired timer to return false")
	}
}

func TestFakeClock_StoppedTimerDoesNotFire(t *testing.T) {
	fc := NewFakeClock(testEpoch())
	timer := fc.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("Expected Stop to return true")
	}
	fc.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Error("Stopped timer fired")
	default:
	}
}

func TestFakeClock_Ticker(t *testing.T) {
	fc := NewFakeClock(testEpoch())
	ticker := fc.NewTicker(time.Second)
	defer ticker.Stop()

	fc.Advance(time.Second)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(testEpoch().Add(time.Second)) {
			t.Errorf("Unexpected tick time %v", tick)
		}
	default:
		t.Fatal("Expected a tick")
	}

	fc.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Error("Ticker fired early")
	default:
	}
	if !fc.Now().Equal(testEpoch().Add(1500 * time.Millisecond)) {
		t.Errorf("Unexpected clock time %v", fc.Now())
	}
}
