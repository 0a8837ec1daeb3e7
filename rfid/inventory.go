package rfid

import (
	"context"
	"log"
	"time"
)

// InventorySession runs the repeating inventory request for a connected
// reader. All methods must be called from the owning controller's actor;
// tag deliveries and timer ticks are marshalled back through post.
//
// Each request completes before the next interval starts, so requests never
// overlap. Stop bumps the generation, which detaches every callback that
// belongs to an earlier request.
type InventorySession struct {
	commander Commander
	clock     Clock
	interval  time.Duration
	timeout   time.Duration
	logger    *log.Logger

	post      func(func()) bool
	onTag     func(TagRead)
	onFailure func() // called after the session stopped itself

	active   bool
	gen      uint64
	cancel   context.CancelFunc
	timer    Timer
	stopCh   chan struct{}
	failures int
}

// NewInventorySession creates an idle session. post must run fn on the
// owning actor and report false once the actor is gone.
func NewInventorySession(commander Commander, clock Clock, interval time.Duration, post func(func()) bool, logger *log.Logger) *InventorySession {
	if interval <= 0 {
		interval = DefaultInventoryInterval
	}
	return &InventorySession{
		commander: commander,
		clock:     clock,
		interval:  interval,
		timeout:   DefaultInventoryTimeout,
		post:      post,
		logger:    logger,
		onTag:     func(TagRead) {},
		onFailure: func() {},
	}
}

// Active reports whether the session is running.
func (s *InventorySession) Active() bool {
	return s.active
}

// Interval returns the pause between requests.
func (s *InventorySession) Interval() time.Duration {
	return s.interval
}

// Start begins the session and issues the first request immediately.
func (s *InventorySession) Start() error {
	if s.active {
		return NewAlreadyRunningError("startInventory")
	}
	s.active = true
	s.gen++
	s.failures = 0
	s.stopCh = make(chan struct{})
	s.logger.Println("Inventory started")
	s.tick(s.gen)
	return nil
}

// Stop ends the session. It returns false, doing nothing, when the session
// is not running. With abort set the reader is told to abandon the current
// request; the abort is skipped when the link is already gone.
func (s *InventorySession) Stop(abort bool) bool {
	if !s.active {
		return false
	}
	s.active = false
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.stopCh)

	if abort {
		if err := s.commander.Abort(); err != nil {
			s.logger.Printf("Abort after inventory stop failed: %v", err)
		}
	}
	s.logger.Println("Inventory stopped")
	return true
}

func (s *InventorySession) current(gen uint64) bool {
	return s.active && s.gen == gen
}

func (s *InventorySession) tick(gen uint64) {
	if !s.current(gen) {
		return
	}
	s.timer = nil

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.cancel = cancel

	go func() {
		err := s.commander.Inventory(ctx, func(tag TagRead) {
			s.post(func() {
				if s.current(gen) {
					s.onTag(tag)
				}
			})
		})
		s.post(func() { s.finish(gen, err) })
	}()
}

func (s *InventorySession) finish(gen uint64, err error) {
	if !s.current(gen) {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if err != nil {
		s.failures++
		s.logger.Printf("Inventory request failed (%d/%d): %v", s.failures, MaxInventoryFailures, err)
		if s.failures >= MaxInventoryFailures {
			s.logger.Println("Too many failed inventory requests, stopping session")
			s.Stop(true)
			s.onFailure()
			return
		}
	} else {
		s.failures = 0
	}

	s.schedule(gen)
}

func (s *InventorySession) schedule(gen uint64) {
	timer := s.clock.NewTimer(s.interval)
	s.timer = timer
	stopCh := s.stopCh

	go func() {
		select {
		case <-timer.C():
			s.post(func() { s.tick(gen) })
		case <-stopCh:
		}
	}()
}
