package rfid

import (
	"context"
	"sync"
)

// MockDiscovery is a test implementation of Discovery. Refresh reports the
// difference between Readers and what it reported last time.
type MockDiscovery struct {
	// Readers is the device list seen by the next Refresh()
	Readers []Reader

	// RefreshError, if set, will be returned by Refresh()
	RefreshError error

	// CausedPause is returned by DidCauseOnPause()
	CausedPause bool

	// Paused tracks Pause()/Resume()
	Paused bool

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	feeds FeedList
	set   *DiscoverySet
	mu    sync.Mutex
}

// NewMockDiscovery creates a MockDiscovery that will report readers.
func NewMockDiscovery(readers ...Reader) *MockDiscovery {
	return &MockDiscovery{
		Readers: readers,
		CallLog: make([]string, 0),
		set:     NewDiscoverySet(),
	}
}

func (m *MockDiscovery) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// Subscribe registers a feed.
func (m *MockDiscovery) Subscribe(feed DiscoveryFeed) func() {
	m.record("Subscribe")
	unsubscribe := m.feeds.Subscribe(feed)
	return func() {
		m.record("Unsubscribe")
		unsubscribe()
	}
}

// Subscribers returns the number of registered feeds.
func (m *MockDiscovery) Subscribers() int {
	return m.feeds.Len()
}

// Refresh diffs Readers against the previous refresh.
func (m *MockDiscovery) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "Refresh")
	if m.RefreshError != nil {
		err := m.RefreshError
		m.mu.Unlock()
		return err
	}
	added, updated, removed := m.set.Apply(m.Readers)
	m.mu.Unlock()

	m.feeds.Notify(added, updated, removed)
	return nil
}

// Add reports a newly discovered reader immediately.
func (m *MockDiscovery) Add(r Reader) {
	m.mu.Lock()
	m.Readers = append(m.Readers, r.Clone())
	m.set.Put(r)
	m.mu.Unlock()
	m.feeds.Notify([]Reader{r}, nil, nil)
}

// Update reports a changed reader immediately.
func (m *MockDiscovery) Update(r Reader) {
	m.mu.Lock()
	for i := range m.Readers {
		if m.Readers[i].ID == r.ID {
			m.Readers[i] = r.Clone()
		}
	}
	m.set.Put(r)
	m.mu.Unlock()
	m.feeds.Notify(nil, []Reader{r}, nil)
}

// Remove reports a reader as gone immediately.
func (m *MockDiscovery) Remove(id string) {
	m.mu.Lock()
	for i, r := range m.Readers {
		if r.ID == id {
			m.Readers = append(m.Readers[:i], m.Readers[i+1:]...)
			break
		}
	}
	m.set.Delete(id)
	m.mu.Unlock()
	m.feeds.Notify(nil, nil, []string{id})
}

func (m *MockDiscovery) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Pause")
	m.Paused = true
}

func (m *MockDiscovery) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Resume")
	m.Paused = false
}

func (m *MockDiscovery) DidCauseOnPause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CausedPause
}

// IsPaused reports whether Pause was called without a matching Resume.
func (m *MockDiscovery) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Paused
}

// GetCallLog returns a copy of the call log.
func (m *MockDiscovery) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}
