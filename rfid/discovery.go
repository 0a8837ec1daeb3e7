package rfid

import "sync"

// DiscoverySet remembers what a discovery source reported last, so each
// enumeration can be turned into added/updated/removed notifications.
type DiscoverySet struct {
	known map[string]Reader
	order []string
}

// NewDiscoverySet creates an empty set.
func NewDiscoverySet() *DiscoverySet {
	return &DiscoverySet{known: make(map[string]Reader)}
}

// Apply replaces the set with next and returns the differences. removed is
// in the order the readers were first seen.
func (s *DiscoverySet) Apply(next []Reader) (added, updated []Reader, removed []string) {
	seen := make(map[string]bool, len(next))
	for _, r := range next {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		prev, ok := s.known[r.ID]
		switch {
		case !ok:
			added = append(added, r.Clone())
			s.order = append(s.order, r.ID)
		case !SameDiscovery(prev, r):
			updated = append(updated, r.Clone())
		}
		s.known[r.ID] = r.Clone()
	}

	kept := s.order[:0]
	for _, id := range s.order {
		if seen[id] {
			kept = append(kept, id)
			continue
		}
		removed = append(removed, id)
		delete(s.known, id)
	}
	s.order = kept
	return added, updated, removed
}

// Put records r without computing differences.
func (s *DiscoverySet) Put(r Reader) {
	if _, ok := s.known[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.known[r.ID] = r.Clone()
}

// Delete forgets the reader with the given id.
func (s *DiscoverySet) Delete(id string) bool {
	if _, ok := s.known[id]; !ok {
		return false
	}
	delete(s.known, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the last reported state of a reader.
func (s *DiscoverySet) Get(id string) (Reader, bool) {
	r, ok := s.known[id]
	return r, ok
}

// List returns the known readers in first-seen order.
func (s *DiscoverySet) List() []Reader {
	out := make([]Reader, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.known[id].Clone())
	}
	return out
}

// SameDiscovery compares the fields a discovery source reports: name,
// transport kinds and addresses, and the multiple-transport flag.
func SameDiscovery(a, b Reader) bool {
	if a.DisplayName != b.DisplayName || a.AllowMultipleTransports != b.AllowMultipleTransports {
		return false
	}
	if len(a.Transports) != len(b.Transports) {
		return false
	}
	for i := range a.Transports {
		if a.Transports[i].Kind != b.Transports[i].Kind || a.Transports[i].Address != b.Transports[i].Address {
			return false
		}
	}
	return true
}

// FeedList is a subscription list for Discovery implementations.
type FeedList struct {
	mu      sync.Mutex
	entries []*feedEntry
}

type feedEntry struct {
	feed DiscoveryFeed
}

// Subscribe adds feed and returns the function that removes it.
func (f *FeedList) Subscribe(feed DiscoveryFeed) func() {
	entry := &feedEntry{feed: feed}
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, e := range f.entries {
			if e == entry {
				f.entries = append(f.entries[:i], f.entries[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of subscribed feeds.
func (f *FeedList) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Notify delivers additions, then updates, then removals to every feed.
func (f *FeedList) Notify(added, updated []Reader, removed []string) {
	f.mu.Lock()
	feeds := make([]DiscoveryFeed, len(f.entries))
	for i, e := range f.entries {
		feeds[i] = e.feed
	}
	f.mu.Unlock()

	for _, feed := range feeds {
		for _, r := range added {
			feed.ReaderAdded(r.Clone())
		}
		for _, r := range updated {
			feed.ReaderUpdated(r.Clone())
		}
		for _, id := range removed {
			feed.ReaderRemoved(id)
		}
	}
}
