package rfid

import (
	"log"
	"os"
	"sync"
)

// Listener receives dispatched events. Listeners run on the dispatcher's
// delivery goroutine and must not block for long.
type Listener func(Event)

// Dispatcher delivers events to listeners on a single goroutine, in the
// order they were emitted. Emit never blocks the caller.
type Dispatcher struct {
	clock  Clock
	logger *log.Logger

	mu        sync.Mutex
	queue     []dispatchItem
	listeners []*listenerEntry
	closed    bool
	wake      chan struct{}
	done      chan struct{}
}

type listenerEntry struct {
	fn Listener
}

// dispatchItem is either an event or a flush marker.
type dispatchItem struct {
	event   Event
	flushed chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
func NewDispatcher(clock Clock) *Dispatcher {
	if clock == nil {
		clock = NewRealClock()
	}
	d := &Dispatcher{
		clock:  clock,
		logger: log.New(os.Stderr, "[events] ", log.LstdFlags),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Subscribe adds a listener. The returned function removes it.
func (d *Dispatcher) Subscribe(fn Listener) (unsubscribe func()) {
	entry := &listenerEntry{fn: fn}
	d.mu.Lock()
	d.listeners = append(d.listeners, entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.listeners {
			if e == entry {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit stamps the event with the current time and queues it for delivery.
// Events emitted after Close are dropped.
func (d *Dispatcher) Emit(kind EventKind, data any) Event {
	ev := Event{
		Kind:      kind,
		Timestamp: d.clock.Now().UnixMilli(),
		Data:      data,
	}
	d.enqueue(dispatchItem{event: ev})
	return ev
}

func (d *Dispatcher) enqueue(item dispatchItem) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, item)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every event emitted before the call has been delivered.
func (d *Dispatcher) Flush() {
	flushed := make(chan struct{})
	if !d.enqueue(dispatchItem{flushed: flushed}) {
		<-d.done
		return
	}
	select {
	case <-flushed:
	case <-d.done:
	}
}

// Close delivers the remaining queue and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		listeners := make([]Listener, len(d.listeners))
		for i, e := range d.listeners {
			listeners[i] = e.fn
		}
		d.mu.Unlock()

		for _, item := range batch {
			if item.flushed != nil {
				close(item.flushed)
				continue
			}
			for _, fn := range listeners {
				d.deliver(fn, item.event)
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

func (d *Dispatcher) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("Listener panic recovered for %s event: %v", ev.Kind, r)
		}
	}()
	fn(ev)
}
