package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
)

const maxLogLines = 200

type keyMap struct {
	Initialize key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Inventory  key.Binding
	Readers    key.Binding
	Status     key.Binding
	Pause      key.Binding
	Resume     key.Binding
	Clear      key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Inventory, k.Disconnect, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Initialize, k.Connect, k.Disconnect, k.Status},
		{k.Inventory, k.Readers, k.Clear},
		{k.Pause, k.Resume, k.Help, k.Quit},
	}
}

var keys = keyMap{
	Initialize: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "initialize")),
	Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
	Inventory:  key.NewBinding(key.WithKeys(" ", "s"), key.WithHelp("space", "start/stop inventory")),
	Readers:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "list readers")),
	Status:     key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "check connection")),
	Pause:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Resume:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
	Clear:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear tags")),
	Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// tagRow aggregates the reads of one EPC.
type tagRow struct {
	EPC      string
	Reads    int
	RSSI     int
	LastSeen time.Time
}

type Model struct {
	client   sender
	incoming <-chan tea.Msg
	address  string

	status       string
	readerName   string
	battery      *int
	inventorying bool
	trigger      string
	bridgeUp     bool

	tags    map[string]*tagRow
	order   []string
	table   table.Model
	pending map[string]string // request id -> command

	logs   []string
	help   help.Model
	width  int
	height int
	now    func() time.Time
}

func NewModel(client sender, incoming <-chan tea.Msg, address string) Model {
	t := table.New(
		table.WithColumns(tagColumns(80)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	return Model{
		client:   client,
		incoming: incoming,
		address:  address,
		status:   protocol.StatusDisconnected,
		bridgeUp: true,
		tags:     make(map[string]*tagRow),
		table:    t,
		pending:  make(map[string]string),
		help:     help.New(),
		now:      time.Now,
	}
}

func tagColumns(width int) []table.Column {
	epc := width - 36
	if epc < 24 {
		epc = 24
	}
	return []table.Column{
		{Title: "EPC", Width: epc},
		{Title: "Reads", Width: 7},
		{Title: "RSSI", Width: 6},
		{Title: "Last Seen", Width: 12},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitIncomingCmd(m.incoming),
		sendCmd(m.client, protocol.CmdInitialize),
		sendCmd(m.client, protocol.CmdGetReaderName),
		sendCmd(m.client, protocol.CmdIsInventorying),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.table.SetColumns(tagColumns(msg.Width))
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case sentMsg:
		if msg.Err != nil {
			m.pushLog(fmt.Sprintf("%s: send failed: %v", msg.Command, msg.Err))
			return m, nil
		}
		m.pending[msg.ID] = msg.Command
		return m, nil

	case responseMsg:
		m.onResponse(msg)
		return m, waitIncomingCmd(m.incoming)

	case eventMsg:
		m.onEvent(msg)
		return m, waitIncomingCmd(m.incoming)

	case decodeErrMsg:
		m.pushLog("bad frame: " + msg.Err.Error())
		return m, waitIncomingCmd(m.incoming)

	case bridgeClosedMsg:
		m.bridgeUp = false
		m.inventorying = false
		m.pushLog(fmt.Sprintf("bridge closed: %v", msg.Err))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, keys.Clear):
		m.tags = make(map[string]*tagRow)
		m.order = nil
		m.refreshRows()
		return m, nil
	}

	if !m.bridgeUp {
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Initialize):
		return m, sendCmd(m.client, protocol.CmdInitialize)
	case key.Matches(msg, keys.Connect):
		return m, sendCmd(m.client, protocol.CmdConnect)
	case key.Matches(msg, keys.Disconnect):
		return m, sendCmd(m.client, protocol.CmdDisconnect)
	case key.Matches(msg, keys.Status):
		return m, sendCmd(m.client, protocol.CmdCheckConnection)
	case key.Matches(msg, keys.Readers):
		return m, sendCmd(m.client, protocol.CmdListReaders)
	case key.Matches(msg, keys.Pause):
		return m, sendCmd(m.client, protocol.CmdPause)
	case key.Matches(msg, keys.Resume):
		return m, sendCmd(m.client, protocol.CmdResume)
	case key.Matches(msg, keys.Inventory):
		if m.inventorying {
			return m, sendCmd(m.client, protocol.CmdStopInventory)
		}
		return m, sendCmd(m.client, protocol.CmdStartInventory)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) onResponse(msg responseMsg) {
	command := msg.Command
	if pending, ok := m.pending[msg.ID]; ok {
		command = pending
		delete(m.pending, msg.ID)
	}
	if command == "" {
		command = "request"
	}

	if !msg.Success {
		line := fmt.Sprintf("%s failed: %s", command, msg.Error)
		if msg.Code != "" {
			line = fmt.Sprintf("%s failed [%s]: %s", command, msg.Code, msg.Error)
		}
		if len(msg.IgnoredDevices) > 0 {
			line += " (ignored: " + strings.Join(msg.IgnoredDevices, ", ") + ")"
		}
		m.pushLog(line)
		return
	}

	switch command {
	case protocol.CmdInitialize, protocol.CmdCheckConnection, protocol.CmdGetStatus,
		protocol.CmdDisconnect, protocol.CmdResume, protocol.CmdPause:
		var p protocol.StatusPayload
		if decodePayload(msg.Payload, &p) {
			m.status = p.Status
			m.pushLog(fmt.Sprintf("%s: %s", command, p.Status))
		}
	case protocol.CmdConnect:
		var p protocol.ConnectResultPayload
		if decodePayload(msg.Payload, &p) {
			m.status = p.Status
			if p.ReaderName != "" {
				m.readerName = p.ReaderName
			}
			m.pushLog(fmt.Sprintf("connect: %s %s (%d rfid, %d ignored)",
				p.Status, p.ReaderName, len(p.RfidDevices), len(p.IgnoredDevices)))
		}
	case protocol.CmdGetReaderName:
		var p protocol.ReaderNamePayload
		if decodePayload(msg.Payload, &p) {
			m.readerName = p.ReaderName
		}
	case protocol.CmdStartInventory, protocol.CmdIsInventorying:
		var p protocol.InventoryStatePayload
		if decodePayload(msg.Payload, &p) {
			m.inventorying = p.IsInventorying
		}
	case protocol.CmdStopInventory:
		var p protocol.StopInventoryPayload
		if decodePayload(msg.Payload, &p) && !p.Stopped {
			m.pushLog("stopInventory: no session was running")
		}
	case protocol.CmdListReaders:
		var p protocol.ListReadersPayload
		if decodePayload(msg.Payload, &p) {
			m.pushLog(fmt.Sprintf("%d reader(s) visible", len(p.Readers)))
			for _, r := range p.Readers {
				marker := " "
				if r.Active {
					marker = "*"
				}
				kinds := make([]string, 0, len(r.Transports))
				for _, t := range r.Transports {
					kinds = append(kinds, t.Kind+":"+t.Status)
				}
				m.pushLog(fmt.Sprintf(" %s %s [%s]", marker, r.Name, strings.Join(kinds, " ")))
			}
		}
	}
}

func decodePayload(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (m *Model) onEvent(ev eventMsg) {
	switch d := ev.Data.(type) {
	case protocol.ConnectionEventData:
		m.status = d.Status
		if d.Status == protocol.StatusConnected {
			m.readerName = d.ReaderName
			m.battery = d.BatteryLevel
		} else {
			m.battery = nil
		}
		if d.Status == protocol.StatusDisconnected {
			m.inventorying = false
			m.trigger = ""
		}
		m.pushLog("connection: " + d.Status)
	case protocol.TagEventData:
		row, ok := m.tags[d.EPC]
		if !ok {
			row = &tagRow{EPC: d.EPC}
			m.tags[d.EPC] = row
			m.order = append(m.order, d.EPC)
		}
		row.Reads++
		row.RSSI = d.RSSI
		row.LastSeen = time.UnixMilli(ev.Timestamp)
		m.refreshRows()
	case protocol.TriggerEventData:
		m.trigger = d.State
	case protocol.InventoryEventData:
		m.inventorying = d.IsRunning
		m.pushLog("inventory: " + d.Status)
	}
}

func (m *Model) refreshRows() {
	rows := make([]table.Row, 0, len(m.order))
	for _, epc := range m.order {
		r := m.tags[epc]
		rows = append(rows, table.Row{
			r.EPC,
			fmt.Sprintf("%d", r.Reads),
			fmt.Sprintf("%d", r.RSSI),
			r.LastSeen.Format("15:04:05.000"),
		})
	}
	m.table.SetRows(rows)
}

func (m *Model) pushLog(line string) {
	m.logs = append(m.logs, m.now().Format("15:04:05")+" "+line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}
