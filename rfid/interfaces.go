package rfid

import "context"

// Commander sends commands to the physical reader. Implementations own the
// wire protocol and the transport I/O.
//
// Connect starts an attempt and returns without waiting for the link; the
// outcome arrives later through CommanderListener.ConnectionStateChanged.
// An error from Connect means the attempt could not be started at all.
type Commander interface {
	Connect(reader Reader, kind TransportKind) error
	Disconnect(reader Reader) error

	// Inventory issues one inventory request and blocks until it completes
	// or ctx is done. deliver is called once per tag, in read order.
	Inventory(ctx context.Context, deliver func(TagRead)) error

	BatteryLevel(ctx context.Context) (int, error)
	Abort() error

	// ConfigureTriggerReporting enables asynchronous trigger reports with
	// the single and double press actions switched off.
	ConfigureTriggerReporting() error

	SetListener(l CommanderListener)
}

// CommanderListener receives asynchronous notifications from a Commander.
// Calls may come from any goroutine.
type CommanderListener interface {
	ConnectionStateChanged(readerID string, kind TransportKind, status TransportStatus)
	TriggerChanged(state SwitchState)
}

// DiscoveryFeed receives reader discovery notifications.
type DiscoveryFeed interface {
	ReaderAdded(r Reader)
	ReaderUpdated(r Reader)
	ReaderRemoved(id string)
}

// Discovery is a source of discovery notifications, such as USB serial
// enumeration or the BlueZ object manager.
type Discovery interface {
	// Subscribe registers feed. Known readers are not replayed; call
	// Refresh for that.
	Subscribe(feed DiscoveryFeed) (unsubscribe func())

	// Refresh re-enumerates devices and notifies subscribers of every
	// difference from the previous enumeration before returning.
	Refresh(ctx context.Context) error

	Pause()
	Resume()

	// DidCauseOnPause reports whether the discovery itself sent the host
	// to the background, e.g. by opening a pairing dialog.
	DidCauseOnPause() bool
}
