package rfid

// EventKind is the type tag of an outbound event.
type EventKind string

const (
	EventConnection EventKind = "connection"
	EventTag        EventKind = "tag"
	EventTrigger    EventKind = "trigger"
	EventInventory  EventKind = "inventory"
)

// Event is an immutable notification for the host. Data holds one of
// ConnectionPayload, TagPayload, TriggerPayload or InventoryPayload.
type Event struct {
	Kind      EventKind
	Timestamp int64 // milliseconds since the Unix epoch
	Data      any
}

// ConnectionPayload reports a connection status change. ReaderName and
// BatteryLevel are only set for StatusConnected.
type ConnectionPayload struct {
	Status       ConnectionStatus
	ReaderName   string
	BatteryLevel *int
}

// TagPayload is a single tag read.
type TagPayload struct {
	EPC  string
	RSSI int
}

// TagRead is what a commander delivers for each transponder seen during an
// inventory request.
type TagRead struct {
	EPC  string
	RSSI int
}

// SwitchState is the raw trigger state reported by the reader.
type SwitchState int

const (
	SwitchOff SwitchState = iota
	SwitchSingle
	SwitchDouble
	SwitchUnknown
)

type TriggerState string

const (
	TriggerOff     TriggerState = "OFF"
	TriggerSingle  TriggerState = "SINGLE"
	TriggerDouble  TriggerState = "DOUBLE"
	TriggerUnknown TriggerState = "UNKNOWN"
)

type TriggerMode string

const (
	TriggerModeNone   TriggerMode = "none"
	TriggerModeSingle TriggerMode = "single"
	TriggerModeDouble TriggerMode = "double"
)

// TriggerPayload reports a trigger button change.
type TriggerPayload struct {
	State      TriggerState
	Mode       TriggerMode
	IsPressing bool
}

// NewTriggerPayload maps a raw switch state to the host representation.
func NewTriggerPayload(s SwitchState) TriggerPayload {
	switch s {
	case SwitchOff:
		return TriggerPayload{State: TriggerOff, Mode: TriggerModeNone, IsPressing: false}
	case SwitchSingle:
		return TriggerPayload{State: TriggerSingle, Mode: TriggerModeSingle, IsPressing: true}
	case SwitchDouble:
		return TriggerPayload{State: TriggerDouble, Mode: TriggerModeDouble, IsPressing: true}
	default:
		return TriggerPayload{State: TriggerUnknown, Mode: TriggerModeNone, IsPressing: true}
	}
}

type InventoryStatus string

const (
	InventoryStarted InventoryStatus = "started"
	InventoryStopped InventoryStatus = "stopped"
)

// InventoryPayload reports an inventory session start or stop.
type InventoryPayload struct {
	Status    InventoryStatus
	IsRunning bool
}
