package mirror

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"sync"
	"testing"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

type recordingSink struct {
	mu      sync.Mutex
	keys    []Keys
	updates []Update
	err     error
	block   chan struct{}
	closed  bool
}

func (s *recordingSink) Write(ctx context.Context, keys Keys, u Update) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, keys)
	s.updates = append(s.updates, u)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.updates {
		out = append(out, u.Kind)
	}
	return out
}

func quietOptions() Options {
	return Options{Logger: log.New(io.Discard, "", 0)}
}

func TestKeysFor(t *testing.T) {
	if got := KeysFor(""); got != (Keys{Hash: "rfid", Stream: "rfid:events", Channel: "rfid"}) {
		t.Errorf("KeysFor(\"\") = %+v", got)
	}
	if got := KeysFor("dock-3"); got.Stream != "dock-3:events" || got.Hash != "dock-3" {
		t.Errorf("KeysFor(dock-3) = %+v", got)
	}
}

func TestBuildUpdate(t *testing.T) {
	battery := 64
	tests := []struct {
		name      string
		ev        rfid.Event
		wantState map[string]any
		wantClear []string
		wantEntry map[string]any
	}{
		{
			name: "connected",
			ev: rfid.Event{Kind: rfid.EventConnection, Timestamp: 1700000000000, Data: rfid.ConnectionPayload{
				Status: rfid.StatusConnected, ReaderName: "TSL 1128", BatteryLevel: &battery,
			}},
			wantState: map[string]any{
				"status": "connected", "reader-name": "TSL 1128", "battery-level": "64", "updated-at": "1700000000000",
			},
			wantEntry: map[string]any{
				"type": "connection", "timestamp": "1700000000000", "status": "connected",
				"reader-name": "TSL 1128", "battery-level": "64",
			},
		},
		{
			name: "connected without battery",
			ev: rfid.Event{Kind: rfid.EventConnection, Timestamp: 4, Data: rfid.ConnectionPayload{
				Status: rfid.StatusConnected, ReaderName: "TSL 1128",
			}},
			wantState: map[string]any{"status": "connected", "reader-name": "TSL 1128", "updated-at": "4"},
			wantClear: []string{"battery-level"},
			wantEntry: map[string]any{
				"type": "connection", "timestamp": "4", "status": "connected", "reader-name": "TSL 1128",
			},
		},
		{
			name: "disconnected clears reader fields",
			ev:   rfid.Event{Kind: rfid.EventConnection, Timestamp: 5, Data: rfid.ConnectionPayload{Status: rfid.StatusDisconnected}},
			wantState: map[string]any{
				"status": "disconnected", "inventorying": "false", "updated-at": "5",
			},
			wantClear: []string{"reader-name", "battery-level"},
			wantEntry: map[string]any{"type": "connection", "timestamp": "5", "status": "disconnected"},
		},
		{
			name:      "tag has no state",
			ev:        rfid.Event{Kind: rfid.EventTag, Timestamp: 6, Data: rfid.TagPayload{EPC: "E2801", RSSI: -45}},
			wantEntry: map[string]any{"type": "tag", "timestamp": "6", "epc": "E2801", "rssi": "-45"},
		},
		{
			name: "trigger",
			ev:   rfid.Event{Kind: rfid.EventTrigger, Timestamp: 7, Data: rfid.NewTriggerPayload(rfid.SwitchSingle)},
			wantEntry: map[string]any{
				"type": "trigger", "timestamp": "7", "state": "SINGLE", "mode": "single", "pressing": "true",
			},
		},
		{
			name:      "inventory started",
			ev:        rfid.Event{Kind: rfid.EventInventory, Timestamp: 8, Data: rfid.InventoryPayload{Status: rfid.InventoryStarted, IsRunning: true}},
			wantState: map[string]any{"inventorying": "true", "updated-at": "8"},
			wantEntry: map[string]any{"type": "inventory", "timestamp": "8", "status": "started"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := BuildUpdate(tt.ev)
			if u.Kind != string(tt.ev.Kind) {
				t.Errorf("Kind = %q", u.Kind)
			}
			if !reflect.DeepEqual(u.State, tt.wantState) {
				t.Errorf("State = %v, want %v", u.State, tt.wantState)
			}
			if !reflect.DeepEqual(u.Clear, tt.wantClear) {
				t.Errorf("Clear = %v, want %v", u.Clear, tt.wantClear)
			}
			if !reflect.DeepEqual(u.Entry, tt.wantEntry) {
				t.Errorf("Entry = %v, want %v", u.Entry, tt.wantEntry)
			}
		})
	}
}

func TestMirrorWritesInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	opts := quietOptions()
	opts.KeyPrefix = "bay"
	m := NewWithSink(sink, opts)

	m.Handle(rfid.Event{Kind: rfid.EventConnection, Data: rfid.ConnectionPayload{Status: rfid.StatusConnecting}})
	m.Handle(rfid.Event{Kind: rfid.EventTag, Data: rfid.TagPayload{EPC: "A"}})
	m.Handle(rfid.Event{Kind: rfid.EventInventory, Data: rfid.InventoryPayload{Status: rfid.InventoryStopped}})

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	want := []string{"connection", "tag", "inventory"}
	if got := sink.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("written kinds = %v, want %v", got, want)
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	if sink.keys[0].Stream != "bay:events" {
		t.Errorf("keys = %+v", sink.keys[0])
	}

	// Events after Close are ignored
	m.Handle(rfid.Event{Kind: rfid.EventTag, Data: rfid.TagPayload{EPC: "B"}})
	if n := len(sink.kinds()); n != 3 {
		t.Errorf("write after close: %d updates", n)
	}
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	opts := quietOptions()
	opts.QueueSize = 2
	m := NewWithSink(sink, opts)

	// One event is held by the blocked sink, two fill the queue.
	for i := 0; i < 10; i++ {
		m.Handle(rfid.Event{Kind: rfid.EventTag, Data: rfid.TagPayload{EPC: "E"}})
	}
	close(sink.block)
	m.Close()

	written := len(sink.kinds())
	if written+m.Dropped() != 10 {
		t.Fatalf("written %d + dropped %d != 10", written, m.Dropped())
	}
	if m.Dropped() < 7 {
		t.Errorf("Dropped() = %d, want at least 7", m.Dropped())
	}
}

func TestMirrorContinuesAfterSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("READONLY")}
	m := NewWithSink(sink, quietOptions())

	m.Handle(rfid.Event{Kind: rfid.EventTag, Data: rfid.TagPayload{EPC: "A"}})
	m.Handle(rfid.Event{Kind: rfid.EventTag, Data: rfid.TagPayload{EPC: "B"}})
	m.Close()

	if n := len(sink.kinds()); n != 2 {
		t.Fatalf("expected both writes attempted, got %d", n)
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), quietOptions()); err == nil {
		t.Fatal("expected error without address")
	}
}
