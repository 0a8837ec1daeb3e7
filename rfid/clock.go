package rfid

import (
	"sync"
	"time"
)

// Clock abstracts time so the inventory cadence and discovery polling can be
// driven by tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

// Ticker is the subset of time.Ticker the agent uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is the subset of time.Timer the agent uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock implements Clock using the time package.
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.ticker.C }
func (rt *realTicker) Stop()               { rt.ticker.Stop() }

type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time { return rt.timer.C }
func (rt *realTimer) Stop() bool          { return rt.timer.Stop() }

// FakeClock implements Clock for tests. Time only moves on Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{
		clock:    fc,
		interval: d,
		next:     fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{
		clock:    fc,
		deadline: fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.timers = append(fc.timers, ft)
	return ft
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (fc *FakeClock) PendingTimers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, t := range fc.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward and fires every ticker and timer whose
// deadline has passed.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ticker := range fc.tickers {
		if ticker.stopped || fc.now.Before(ticker.next) {
			continue
		}
		select {
		case ticker.c <- fc.now:
		default:
			// Channel full, skip
		}
		for !fc.now.Before(ticker.next) {
			ticker.next = ticker.next.Add(ticker.interval)
		}
	}

	pending := fc.timers[:0]
	for _, timer := range fc.timers {
		if timer.done {
			continue
		}
		if fc.now.Before(timer.deadline) {
			pending = append(pending, timer)
			continue
		}
		timer.done = true
		timer.c <- fc.now
	}
	fc.timers = pending
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.c }

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.stopped = true
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	c        chan time.Time
	done     bool
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.c }

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	if ft.done {
		return false
	}
	ft.done = true
	return true
}
