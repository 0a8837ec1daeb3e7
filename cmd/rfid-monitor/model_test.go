package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(command string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, command)
	return fmt.Sprintf("req-%d", len(f.sent)), nil
}

func newTestModel() (Model, *fakeSender) {
	fs := &fakeSender{}
	m := NewModel(fs, make(chan tea.Msg), "ws://localhost:18080/ws")
	m.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return m, fs
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runKey(t *testing.T, m Model, k string) Model {
	t.Helper()
	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	if cmd != nil {
		if sent, ok := cmd().(sentMsg); ok {
			m, _ = step(t, m, sent)
		}
	}
	return m
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestKeysSendCommands(t *testing.T) {
	m, fs := newTestModel()
	for _, k := range []string{"i", "c", "g", "l", "p", "r", "d", "s"} {
		m = runKey(t, m, k)
	}
	want := strings.Join([]string{
		protocol.CmdInitialize, protocol.CmdConnect, protocol.CmdCheckConnection, protocol.CmdListReaders,
		protocol.CmdPause, protocol.CmdResume, protocol.CmdDisconnect, protocol.CmdStartInventory,
	}, ",")
	if got := strings.Join(fs.sent, ","); got != want {
		t.Fatalf("sent %s, want %s", got, want)
	}
	if m.pending["req-2"] != protocol.CmdConnect {
		t.Fatalf("pending = %v", m.pending)
	}

	// Inventory key toggles to stop while running
	m.inventorying = true
	runKey(t, m, "s")
	if last := fs.sent[len(fs.sent)-1]; last != protocol.CmdStopInventory {
		t.Fatalf("last command = %s", last)
	}
}

func TestSendFailureIsLogged(t *testing.T) {
	m, fs := newTestModel()
	fs.err = fmt.Errorf("broken pipe")
	m = runKey(t, m, "c")
	if len(m.logs) != 1 || !strings.Contains(m.logs[0], "connect: send failed: broken pipe") {
		t.Fatalf("logs = %v", m.logs)
	}
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel()
	_, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestConnectionAndTagEvents(t *testing.T) {
	m, _ := newTestModel()
	battery := 80

	m, _ = step(t, m, eventMsg{Type: protocol.EventConnection, Data: protocol.ConnectionEventData{
		Status: protocol.StatusConnected, ReaderName: "1128 UHF", BatteryLevel: &battery,
	}})
	m, _ = step(t, m, eventMsg{Type: protocol.EventInventory, Data: protocol.InventoryEventData{Status: "started", IsRunning: true}})
	for i, epc := range []string{"E2801", "E2802", "E2801"} {
		m, _ = step(t, m, eventMsg{Type: protocol.EventTag, Timestamp: int64(1000 + i), Data: protocol.TagEventData{EPC: epc, RSSI: -50 - i}})
	}

	if m.status != protocol.StatusConnected || m.readerName != "1128 UHF" || *m.battery != 80 || !m.inventorying {
		t.Fatalf("state = %s %s %v %v", m.status, m.readerName, m.battery, m.inventorying)
	}
	if len(m.order) != 2 || m.tags["E2801"].Reads != 2 || m.tags["E2801"].RSSI != -52 {
		t.Fatalf("tags = %v %+v", m.order, m.tags["E2801"])
	}
	if rows := m.table.Rows(); len(rows) != 2 || rows[0][0] != "E2801" || rows[0][1] != "2" {
		t.Fatalf("rows = %v", rows)
	}
	if !strings.Contains(m.View(), "2 tags") {
		t.Fatal("view should show the tag count")
	}

	m, _ = step(t, m, eventMsg{Type: protocol.EventConnection, Data: protocol.ConnectionEventData{Status: protocol.StatusDisconnected}})
	if m.battery != nil || m.inventorying {
		t.Fatal("disconnect should clear battery and inventory")
	}

	m = runKey(t, m, "x")
	if len(m.order) != 0 || len(m.table.Rows()) != 0 {
		t.Fatal("clear should drop tags")
	}
}

func TestResponses(t *testing.T) {
	m, _ := newTestModel()
	m.pending["a"] = protocol.CmdConnect
	m.pending["b"] = protocol.CmdIsInventorying

	m, _ = step(t, m, responseMsg{ID: "a", Command: "connect", Success: true, Payload: payload(t, protocol.ConnectResultPayload{
		Status: protocol.StatusConnecting, ReaderName: "1128 UHF", RfidDevices: []string{"1128 UHF"}, IgnoredDevices: []string{"JBL Flip 5"},
	})})
	if m.status != protocol.StatusConnecting || m.readerName != "1128 UHF" {
		t.Fatalf("after connect: %s %s", m.status, m.readerName)
	}
	if _, ok := m.pending["a"]; ok {
		t.Fatal("answered request still pending")
	}

	m, _ = step(t, m, responseMsg{ID: "b", Command: "isInventorying", Success: true, Payload: payload(t, protocol.InventoryStatePayload{IsInventorying: true})})
	if !m.inventorying {
		t.Fatal("isInventorying response not applied")
	}

	m, _ = step(t, m, responseMsg{Command: "startInventory", Error: "inventory is already running", Code: protocol.ErrCodeAlreadyRunning})
	last := m.logs[len(m.logs)-1]
	if !strings.Contains(last, "startInventory failed [ALREADY_RUNNING]") {
		t.Fatalf("log = %q", last)
	}

	m, _ = step(t, m, responseMsg{Command: "connect", Error: "no RFID reader found", Code: protocol.ErrCodeNoReader, IgnoredDevices: []string{"JBL Flip 5"}})
	if last := m.logs[len(m.logs)-1]; !strings.Contains(last, "(ignored: JBL Flip 5)") {
		t.Fatalf("log = %q", last)
	}

	m, _ = step(t, m, responseMsg{Command: "listReaders", Success: true, Payload: payload(t, protocol.ListReadersPayload{Readers: []protocol.ReaderInfo{
		{ID: "usb-1", Name: "1128 UHF", Active: true, Transports: []protocol.TransportInfo{{Kind: "usb", Status: "connected"}}},
	}})})
	if last := m.logs[len(m.logs)-1]; last != "12:00:00  * 1128 UHF [usb:connected]" {
		t.Fatalf("log = %q", last)
	}
}

func TestBridgeClosed(t *testing.T) {
	m, fs := newTestModel()
	m.inventorying = true
	m, cmd := step(t, m, bridgeClosedMsg{Err: fmt.Errorf("EOF")})
	if cmd != nil || m.bridgeUp || m.inventorying {
		t.Fatal("closed bridge should stop listening and clear inventory")
	}

	// Commands are not sent once the bridge is gone
	runKey(t, m, "c")
	if len(fs.sent) != 0 {
		t.Fatalf("sent %v after close", fs.sent)
	}
	if !strings.Contains(m.View(), "(closed)") {
		t.Fatal("view should mark the bridge closed")
	}
}

func TestLogIsBounded(t *testing.T) {
	m, _ := newTestModel()
	for i := 0; i < maxLogLines+50; i++ {
		m.pushLog(fmt.Sprintf("line %d", i))
	}
	if len(m.logs) != maxLogLines || !strings.HasSuffix(m.logs[0], "line 50") {
		t.Fatalf("logs = %d, first %q", len(m.logs), m.logs[0])
	}
}
