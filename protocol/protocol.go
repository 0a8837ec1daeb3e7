// Package protocol provides the RFID agent's bridge message types for external tools.
// This package is designed to be importable without pulling in server dependencies.
package protocol

// Commands accepted over the bridge. The response to a command carries the
// command name with a "Response" suffix, see ResponseType.
const (
	CmdInitialize      = "initialize"
	CmdCheckConnection = "checkConnection"
	CmdConnect         = "connect"
	CmdDisconnect      = "disconnect"
	CmdGetStatus       = "getStatus"
	CmdGetReaderName   = "getReaderName"
	CmdStartInventory  = "startInventory"
	CmdStopInventory   = "stopInventory"
	CmdIsInventorying  = "isInventorying"
	CmdListReaders     = "listReaders"
	CmdResume          = "resume"
	CmdPause           = "pause"
)

// Commands lists every bridge command in presentation order.
var Commands = []string{
	CmdInitialize,
	CmdCheckConnection,
	CmdConnect,
	CmdDisconnect,
	CmdGetStatus,
	CmdGetReaderName,
	CmdStartInventory,
	CmdStopInventory,
	CmdIsInventorying,
	CmdListReaders,
	CmdResume,
	CmdPause,
}

// Error codes for failed responses. The first four come from the reader
// controller; the rest are produced by the bridge itself.
const (
	ErrCodeNoReader       = "NO_READER"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
	ErrCodeConnectFailed  = "CONNECT_FAILED"
	ErrCodeParseError     = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Connection status values.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
)

// ErrorPayload is the payload of a failed response.
type ErrorPayload struct {
	Code string `json:"code"`

	// Set for NO_READER only.
	IgnoredDevices []string `json:"ignoredDevices,omitempty"`
	TotalDevices   *int     `json:"totalDevices,omitempty"`
}

// ConnectResultPayload is the payload of a successful connect response.
// Connected is true once a reader was selected and its link is up or being
// brought up. A freshly started attempt reports Status "connecting" and
// completes with a connection event.
type ConnectResultPayload struct {
	Connected      bool     `json:"connected"`
	Status         string   `json:"status"`
	ReaderName     string   `json:"readerName"`
	RfidDevices    []string `json:"rfidDevices"`
	IgnoredDevices []string `json:"ignoredDevices"`
}

// StatusPayload answers getStatus and checkConnection.
type StatusPayload struct {
	Status string `json:"status"`
}

// ReaderNamePayload answers getReaderName.
type ReaderNamePayload struct {
	ReaderName string `json:"readerName"`
}

// InventoryStatePayload answers isInventorying and startInventory.
type InventoryStatePayload struct {
	IsInventorying bool `json:"isInventorying"`
}

// StopInventoryPayload answers stopInventory. Stopped is false when no
// session was running.
type StopInventoryPayload struct {
	Stopped bool `json:"stopped"`
}

// TransportInfo describes one transport of a reader.
type TransportInfo struct {
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

// ReaderInfo describes a discovered reader.
type ReaderInfo struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Active     bool            `json:"active"`
	Transports []TransportInfo `json:"transports"`
}

// ListReadersPayload answers listReaders.
type ListReadersPayload struct {
	Readers []ReaderInfo `json:"readers"`
}

// HealthResponse is the response body of GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"` // RFC3339 format
}

// AgentStatusResponse is the response body of GET /api/v1/status.
type AgentStatusResponse struct {
	Status       string `json:"status"`
	ReaderName   string `json:"readerName"`
	Inventorying bool   `json:"inventorying"`
	Clients      int    `json:"clients"`
	Version      string `json:"version"`
}
