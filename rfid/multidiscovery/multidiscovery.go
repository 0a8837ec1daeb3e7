// Package multidiscovery aggregates several reader discovery sources into a
// single rfid.Discovery.
package multidiscovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

// Runner is implemented by sources that watch for changes in the background.
type Runner interface {
	Start() error
	Stop()
}

// Entry is a named source for MultiDiscovery initialization.
type Entry struct {
	Name      string
	Discovery rfid.Discovery
}

type source struct {
	name        string
	discovery   rfid.Discovery
	unsubscribe func()
}

// MultiDiscovery forwards the readers of every registered source. A reader
// id belongs to the first source that reported it.
type MultiDiscovery struct {
	mu      sync.RWMutex
	sources []*source
	owners  map[string]string // reader id -> source name

	feeds rfid.FeedList
}

// New creates a MultiDiscovery over the given sources. Sources are refreshed
// in the order they are provided.
//
// Example:
//
//	md := multidiscovery.New(
//	    multidiscovery.Entry{Name: "usb", Discovery: usb},
//	    multidiscovery.Entry{Name: "bluetooth", Discovery: bt},
//	)
func New(entries ...Entry) *MultiDiscovery {
	md := &MultiDiscovery{owners: make(map[string]string)}
	for _, entry := range entries {
		if err := md.Add(entry.Name, entry.Discovery); err != nil {
			log.Printf("[multi] Skipping discovery: %v", err)
		}
	}
	return md
}

// Add registers a source.
func (md *MultiDiscovery) Add(name string, d rfid.Discovery) error {
	if name == "" {
		return fmt.Errorf("discovery name cannot be empty")
	}
	if d == nil {
		return fmt.Errorf("discovery %s cannot be nil", name)
	}

	md.mu.Lock()
	for _, s := range md.sources {
		if s.name == name {
			md.mu.Unlock()
			return fmt.Errorf("discovery with name '%s' already exists", name)
		}
	}
	s := &source{name: name, discovery: d}
	md.sources = append(md.sources, s)
	md.mu.Unlock()

	s.unsubscribe = d.Subscribe(&sourceFeed{md: md, name: name})
	log.Printf("[multi] Discovery registered: %s", name)
	return nil
}

// Remove unregisters a source and reports its readers as removed.
func (md *MultiDiscovery) Remove(name string) error {
	md.mu.Lock()
	var removed *source
	for i, s := range md.sources {
		if s.name == name {
			removed = s
			md.sources = append(md.sources[:i], md.sources[i+1:]...)
			break
		}
	}
	if removed == nil {
		md.mu.Unlock()
		return fmt.Errorf("discovery not found: %s", name)
	}
	var ids []string
	for id, owner := range md.owners {
		if owner == name {
			ids = append(ids, id)
			delete(md.owners, id)
		}
	}
	md.mu.Unlock()
	sort.Strings(ids)

	if removed.unsubscribe != nil {
		removed.unsubscribe()
	}
	md.feeds.Notify(nil, nil, ids)
	log.Printf("[multi] Discovery removed: %s", name)
	return nil
}

// Names returns the registered source names in order.
func (md *MultiDiscovery) Names() []string {
	md.mu.RLock()
	defer md.mu.RUnlock()
	names := make([]string, len(md.sources))
	for i, s := range md.sources {
		names[i] = s.name
	}
	return names
}

// Owner returns the name of the source that reported the reader.
func (md *MultiDiscovery) Owner(readerID string) (string, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	name, ok := md.owners[readerID]
	return name, ok
}

func (md *MultiDiscovery) snapshot() []*source {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return append([]*source(nil), md.sources...)
}

// Subscribe implements rfid.Discovery.
func (md *MultiDiscovery) Subscribe(feed rfid.DiscoveryFeed) func() {
	return md.feeds.Subscribe(feed)
}

// Refresh implements rfid.Discovery. A failing source is logged and skipped;
// an error is returned only when every source failed.
func (md *MultiDiscovery) Refresh(ctx context.Context) error {
	sources := md.snapshot()
	if len(sources) == 0 {
		return nil
	}

	var errs []error
	for _, s := range sources {
		if err := s.discovery.Refresh(ctx); err != nil {
			log.Printf("[multi] Discovery '%s' failed to refresh: %v", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) == len(sources) {
		return fmt.Errorf("all discoveries failed: %w", errors.Join(errs...))
	}
	return nil
}

// Start starts every source that runs in the background.
func (md *MultiDiscovery) Start() error {
	for _, s := range md.snapshot() {
		r, ok := s.discovery.(Runner)
		if !ok {
			continue
		}
		if err := r.Start(); err != nil {
			return fmt.Errorf("failed to start discovery '%s': %w", s.name, err)
		}
	}
	return nil
}

// Stop stops every background source.
func (md *MultiDiscovery) Stop() {
	for _, s := range md.snapshot() {
		if r, ok := s.discovery.(Runner); ok {
			r.Stop()
		}
	}
}

// Pause implements rfid.Discovery.
func (md *MultiDiscovery) Pause() {
	for _, s := range md.snapshot() {
		s.discovery.Pause()
	}
}

// Resume implements rfid.Discovery.
func (md *MultiDiscovery) Resume() {
	for _, s := range md.snapshot() {
		s.discovery.Resume()
	}
}

// DidCauseOnPause implements rfid.Discovery.
func (md *MultiDiscovery) DidCauseOnPause() bool {
	for _, s := range md.snapshot() {
		if s.discovery.DidCauseOnPause() {
			return true
		}
	}
	return false
}

// sourceFeed receives one source's notifications.
type sourceFeed struct {
	md   *MultiDiscovery
	name string
}

// claim records the source as owner of id. It reports false when another
// source already owns it.
func (f *sourceFeed) claim(id string) bool {
	f.md.mu.Lock()
	defer f.md.mu.Unlock()
	owner, ok := f.md.owners[id]
	if ok && owner != f.name {
		return false
	}
	f.md.owners[id] = f.name
	return true
}

func (f *sourceFeed) ReaderAdded(r rfid.Reader) {
	if !f.claim(r.ID) {
		log.Printf("[multi] Ignoring reader %s from '%s': already reported by another discovery", r.ID, f.name)
		return
	}
	f.md.feeds.Notify([]rfid.Reader{r}, nil, nil)
}

func (f *sourceFeed) ReaderUpdated(r rfid.Reader) {
	if !f.claim(r.ID) {
		return
	}
	f.md.feeds.Notify(nil, []rfid.Reader{r}, nil)
}

func (f *sourceFeed) ReaderRemoved(id string) {
	f.md.mu.Lock()
	owner, ok := f.md.owners[id]
	if !ok || owner != f.name {
		f.md.mu.Unlock()
		return
	}
	delete(f.md.owners, id)
	f.md.mu.Unlock()
	f.md.feeds.Notify(nil, nil, []string{id})
}
