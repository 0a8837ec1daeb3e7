package rfid

import (
	"errors"
	"fmt"
	"sync"
)

// RegistryListener receives registry mutations in the order they happen.
// Callbacks run synchronously on the goroutine that mutated the registry.
type RegistryListener interface {
	ReaderAdded(r Reader)
	ReaderUpdated(r Reader)
	ReaderRemoved(id string)
}

var errEmptyReaderID = errors.New("reader id cannot be empty")

// Registry is the set of currently discoverable readers, keyed by id and
// kept in discovery order.
type Registry struct {
	mu        sync.RWMutex
	readers   map[string]*Reader
	order     []string
	listeners []*registryListenerEntry
}

type registryListenerEntry struct {
	l RegistryListener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]*Reader),
	}
}

// Subscribe registers l for mutation callbacks. The returned function
// removes the subscription.
func (g *Registry) Subscribe(l RegistryListener) (unsubscribe func()) {
	entry := &registryListenerEntry{l: l}

	g.mu.Lock()
	g.listeners = append(g.listeners, entry)
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, e := range g.listeners {
			if e == entry {
				g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

func (g *Registry) snapshotListeners() []RegistryListener {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ls := make([]RegistryListener, len(g.listeners))
	for i, e := range g.listeners {
		ls[i] = e.l
	}
	return ls
}

func validateReader(r Reader) error {
	if r.ID == "" {
		return errEmptyReaderID
	}
	if len(r.Transports) == 0 {
		return fmt.Errorf("reader %q has no transports", r.ID)
	}
	return nil
}

// OnDiscovered adds a reader. A reader whose id is already known is
// treated as an update.
func (g *Registry) OnDiscovered(r Reader) error {
	if err := validateReader(r); err != nil {
		return err
	}

	g.mu.Lock()
	if _, exists := g.readers[r.ID]; exists {
		g.mu.Unlock()
		return g.OnUpdated(r)
	}
	stored := r.Clone()
	g.readers[r.ID] = &stored
	g.order = append(g.order, r.ID)
	added := stored.Clone()
	g.mu.Unlock()

	for _, l := range g.snapshotListeners() {
		l.ReaderAdded(added)
	}
	return nil
}

// OnUpdated refreshes a reader's name, transports and flags. Connection
// bookkeeping owned by the controller (transport statuses, connect flags,
// remembered transport) survives the update. Unknown readers are added.
func (g *Registry) OnUpdated(r Reader) error {
	if err := validateReader(r); err != nil {
		return err
	}

	g.mu.Lock()
	existing, ok := g.readers[r.ID]
	if !ok {
		g.mu.Unlock()
		return g.OnDiscovered(r)
	}
	merged := r.Clone()
	for i, t := range merged.Transports {
		if prev, ok := existing.Transport(t.Kind); ok {
			merged.Transports[i].Status = prev.Status
		}
	}
	merged.LastSuccessfulTransport = existing.LastSuccessfulTransport
	merged.IsConnecting = existing.IsConnecting
	merged.LastConnectWasSuccessful = existing.LastConnectWasSuccessful
	*existing = merged
	updated := merged.Clone()
	g.mu.Unlock()

	for _, l := range g.snapshotListeners() {
		l.ReaderUpdated(updated)
	}
	return nil
}

// OnRemoved drops the reader with the given id. It reports whether the
// reader was present; listeners are only notified when it was.
func (g *Registry) OnRemoved(id string) bool {
	g.mu.Lock()
	if _, ok := g.readers[id]; !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.readers, id)
	for i, rid := range g.order {
		if rid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.mu.Unlock()

	for _, l := range g.snapshotListeners() {
		l.ReaderRemoved(id)
	}
	return true
}

// Get returns a copy of the reader with the given id.
func (g *Registry) Get(id string) (Reader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.readers[id]
	if !ok {
		return Reader{}, false
	}
	return r.Clone(), true
}

// Snapshot returns copies of all readers in discovery order.
func (g *Registry) Snapshot() []Reader {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Reader, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.readers[id].Clone())
	}
	return out
}

// Len returns the number of registered readers.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// mutate applies fn to the stored reader without notifying listeners. It is
// used for connection bookkeeping, which is not a discovery change.
func (g *Registry) mutate(id string, fn func(r *Reader)) (Reader, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.readers[id]
	if !ok {
		return Reader{}, false
	}
	fn(r)
	return r.Clone(), true
}

// Clear removes every reader, notifying listeners of each removal.
func (g *Registry) Clear() {
	for _, r := range g.Snapshot() {
		g.OnRemoved(r.ID)
	}
}
