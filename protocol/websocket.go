package protocol

// WebSocket message type constants
const (
	WSTypeRfidEvent = "rfidEvent"
	WSTypeError     = "error"

	responseSuffix = "Response"
)

// Event types carried in RfidEventPayload.Type.
const (
	EventConnection = "connection"
	EventTag        = "tag"
	EventTrigger    = "trigger"
	EventInventory  = "inventory"
)

// ResponseType returns the response type for a command, e.g.
// "connectResponse" for "connect".
func ResponseType(command string) string {
	return command + responseSuffix
}

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
type WebSocketRequest struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RfidEventPayload is the payload of every rfidEvent broadcast. Data holds
// one of the *EventData types below, matching Type.
type RfidEventPayload struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // milliseconds since the Unix epoch
	Data      any    `json:"data"`
}

// ConnectionEventData reports a connection status change. ReaderName and
// BatteryLevel are only present for "connected".
type ConnectionEventData struct {
	Status       string `json:"status"`
	ReaderName   string `json:"readerName,omitempty"`
	BatteryLevel *int   `json:"batteryLevel,omitempty"`
}

// TagEventData is a single tag read.
type TagEventData struct {
	EPC  string `json:"epc"`
	RSSI int    `json:"rssi"`
}

// TriggerEventData reports a trigger button change.
type TriggerEventData struct {
	State      string `json:"state"` // OFF, SINGLE, DOUBLE or UNKNOWN
	Mode       string `json:"mode"`  // none, single or double
	IsPressing bool   `json:"isPressing"`
}

// InventoryEventData reports an inventory session start or stop.
type InventoryEventData struct {
	Status    string `json:"status"` // started or stopped
	IsRunning bool   `json:"isRunning"`
}
