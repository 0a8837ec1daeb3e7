package serialport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

// Commands understood by the reader's ASCII protocol. Every command is
// answered by zero or more "XX: value" lines, then OK: or ER: <code>.
const (
	CmdInventory     = ".iv -r on" // inventory with RSSI reporting
	CmdAbort         = ".ab"
	CmdBattery       = ".bl"
	CmdSwitchAction  = ".sa -a on -s off -d off" // async trigger reports, press actions off
	CmdVersion       = ".vr"
	lineTerminator   = "\r\n"
	headerSeparator  = ":"
	maxResponseLines = 4096
)

// Response line headers.
const (
	HeaderOK      = "OK"
	HeaderError   = "ER"
	HeaderEPC     = "EP"
	HeaderRSSI    = "RI"
	HeaderBattery = "BP"
	HeaderSwitch  = "SW"
)

// Line is one parsed response line.
type Line struct {
	Header string
	Value  string
}

// FormatCommand renders cmd as it is written to the port.
func FormatCommand(cmd string) []byte {
	return []byte(cmd + lineTerminator)
}

// ParseLine splits a raw line into header and value. Lines without a
// header separator yield ok=false.
func ParseLine(raw string) (Line, bool) {
	raw = strings.TrimRight(raw, "\r\n")
	idx := strings.Index(raw, headerSeparator)
	if idx <= 0 {
		return Line{}, false
	}
	return Line{
		Header: strings.ToUpper(strings.TrimSpace(raw[:idx])),
		Value:  strings.TrimSpace(raw[idx+1:]),
	}, true
}

// IsTerminator reports whether l ends a command response.
func (l Line) IsTerminator() bool {
	return l.Header == HeaderOK || l.Header == HeaderError
}

// ResponseError is returned when the reader answers ER:.
type ResponseError struct {
	Command string
	Code    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("reader rejected %q: error %s", e.Command, e.Code)
}

// ParseBattery reads a battery line value such as "80%".
func ParseBattery(value string) (int, error) {
	v := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	level, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid battery level %q: %w", value, err)
	}
	if level < 0 || level > 100 {
		return 0, fmt.Errorf("battery level out of range: %d", level)
	}
	return level, nil
}

// ParseSwitch maps a switch report value to a switch state.
func ParseSwitch(value string) rfid.SwitchState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off":
		return rfid.SwitchOff
	case "single", "on":
		return rfid.SwitchSingle
	case "double":
		return rfid.SwitchDouble
	default:
		return rfid.SwitchUnknown
	}
}

// InventoryParser turns the EP:/RI: line pairs of an inventory response into
// tag reads. A tag is emitted once its RSSI line arrives, or with RSSI 0 when
// the next EPC or the end of the response comes first.
type InventoryParser struct {
	pending *rfid.TagRead
	emit    func(rfid.TagRead)
}

// NewInventoryParser creates a parser that calls emit for every tag.
func NewInventoryParser(emit func(rfid.TagRead)) *InventoryParser {
	return &InventoryParser{emit: emit}
}

// Feed consumes one response line.
func (p *InventoryParser) Feed(l Line) {
	switch l.Header {
	case HeaderEPC:
		p.Flush()
		if l.Value == "" {
			return
		}
		p.pending = &rfid.TagRead{EPC: strings.ToUpper(l.Value)}
	case HeaderRSSI:
		if p.pending == nil {
			return
		}
		if rssi, err := strconv.Atoi(l.Value); err == nil {
			p.pending.RSSI = rssi
		}
		p.Flush()
	}
}

// Flush emits the tag still waiting for its RSSI line.
func (p *InventoryParser) Flush() {
	if p.pending == nil {
		return
	}
	tag := *p.pending
	p.pending = nil
	p.emit(tag)
}
