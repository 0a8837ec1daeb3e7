package rfid

import "time"

const (
	// DefaultInventoryInterval is the pause between the end of one inventory
	// request and the start of the next.
	DefaultInventoryInterval = 100 * time.Millisecond

	// MaxInventoryFailures is the number of consecutive failed inventory
	// requests after which the session stops itself.
	MaxInventoryFailures = 3

	// DefaultInventoryTimeout bounds a single inventory request. A request
	// that runs past it counts as failed.
	DefaultInventoryTimeout = 2 * time.Second

	// BatteryQueryTimeout bounds the battery query made when a connection
	// is established.
	BatteryQueryTimeout = 2 * time.Second
)

const (
	// NoReaderName is reported by ReaderName when no reader is active.
	NoReaderName = "No reader"

	// UnknownReaderName stands in for readers without a display name.
	UnknownReaderName = "Unknown"
)
