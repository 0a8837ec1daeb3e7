package rfid

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCommander is a test implementation of Commander that simulates a
// reader without hardware.
//
// Example:
//
//	cmd := NewMockCommander()
//	cmd.AutoConnect = true
//	cmd.InventoryRounds = [][]TagRead{{{EPC: "E2801", RSSI: -45}}}
type MockCommander struct {
	// AutoConnect makes Connect report Connecting then Connected
	AutoConnect bool

	// ConnectError, if set, will be returned by Connect()
	ConnectError error

	// DisconnectError, if set, will be returned by Disconnect()
	DisconnectError error

	// InventoryFunc allows custom inventory behavior for testing
	// If nil, delivers the next entry of InventoryRounds
	InventoryFunc func(ctx context.Context, deliver func(TagRead)) error

	// InventoryRounds holds the tags delivered by successive Inventory()
	// calls. Calls past the end deliver nothing.
	InventoryRounds [][]TagRead

	// InventoryError, if set, will be returned by Inventory()
	InventoryError error

	// Battery is the level returned by BatteryLevel()
	Battery int

	// BatteryError, if set, will be returned by BatteryLevel()
	BatteryError error

	// AbortError, if set, will be returned by Abort()
	AbortError error

	// TriggerError, if set, will be returned by ConfigureTriggerReporting()
	TriggerError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	listener       CommanderListener
	inventoryCalls int
	mu             sync.Mutex
}

// NewMockCommander creates a new MockCommander with default values.
func NewMockCommander() *MockCommander {
	return &MockCommander{
		Battery: 80,
		CallLog: make([]string, 0),
	}
}

func (m *MockCommander) log(call string) {
	m.CallLog = append(m.CallLog, call)
}

// Connect simulates starting a connection attempt.
func (m *MockCommander) Connect(reader Reader, kind TransportKind) error {
	m.mu.Lock()
	m.log(fmt.Sprintf("Connect(%s,%s)", reader.ID, kindName(kind)))
	if m.ConnectError != nil {
		err := m.ConnectError
		m.mu.Unlock()
		return err
	}
	auto := m.AutoConnect
	listener := m.listener
	m.mu.Unlock()

	if auto && listener != nil {
		connected := kind
		if connected == TransportAny && len(reader.Transports) > 0 {
			connected = reader.Transports[0].Kind
		}
		listener.ConnectionStateChanged(reader.ID, connected, TransportConnecting)
		listener.ConnectionStateChanged(reader.ID, connected, TransportConnected)
	}
	return nil
}

// Disconnect simulates closing the link.
func (m *MockCommander) Disconnect(reader Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("Disconnect(%s)", reader.ID))
	return m.DisconnectError
}

// Inventory simulates one inventory request.
func (m *MockCommander) Inventory(ctx context.Context, deliver func(TagRead)) error {
	m.mu.Lock()
	m.log("Inventory")
	fn := m.InventoryFunc
	err := m.InventoryError
	var tags []TagRead
	if m.inventoryCalls < len(m.InventoryRounds) {
		tags = m.InventoryRounds[m.inventoryCalls]
	}
	m.inventoryCalls++
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, deliver)
	}
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deliver(tag)
	}
	return nil
}

// BatteryLevel simulates a battery query.
func (m *MockCommander) BatteryLevel(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("BatteryLevel")
	return m.Battery, m.BatteryError
}

// Abort simulates aborting the current request.
func (m *MockCommander) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("Abort")
	return m.AbortError
}

// ConfigureTriggerReporting simulates the switch action setup.
func (m *MockCommander) ConfigureTriggerReporting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ConfigureTriggerReporting")
	return m.TriggerError
}

// SetListener records the listener that receives simulated notifications.
func (m *MockCommander) SetListener(l CommanderListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// Notify delivers a connection state notification to the listener.
func (m *MockCommander) Notify(readerID string, kind TransportKind, status TransportStatus) {
	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()
	if listener != nil {
		listener.ConnectionStateChanged(readerID, kind, status)
	}
}

// PressTrigger delivers a trigger notification to the listener.
func (m *MockCommander) PressTrigger(state SwitchState) {
	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()
	if listener != nil {
		listener.TriggerChanged(state)
	}
}

// GetCallLog returns a copy of the call log.
func (m *MockCommander) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CallCount returns how many logged calls start with prefix.
func (m *MockCommander) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.CallLog {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func kindName(kind TransportKind) string {
	if kind == TransportAny {
		return "any"
	}
	return string(kind)
}
