package rfid

// TransportKind identifies the channel through which commands reach a reader.
type TransportKind string

const (
	TransportUSB       TransportKind = "usb"
	TransportBluetooth TransportKind = "bluetooth"
	TransportOther     TransportKind = "other"

	// TransportAny asks the commander to let the reader race its transports.
	TransportAny TransportKind = ""
)

// TransportStatus is the connection status of a single transport.
type TransportStatus int

const (
	TransportDisconnected TransportStatus = iota
	TransportConnecting
	TransportConnected
)

func (s TransportStatus) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport describes one way of reaching a reader.
type Transport struct {
	Kind   TransportKind
	Status TransportStatus

	// Address is what the commander opens for this transport, e.g.
	// "/dev/ttyACM0" for USB or "/dev/rfcomm0" for a bound Bluetooth link.
	Address string
}

// Reader is a discoverable RFID interrogator. Readers are owned by the
// Registry; other components hold copies or ids.
type Reader struct {
	ID          string
	DisplayName string
	Transports  []Transport

	// LastSuccessfulTransport is empty until a connect has succeeded.
	LastSuccessfulTransport  TransportKind
	IsConnecting             bool
	LastConnectWasSuccessful bool

	// AllowMultipleTransports is set for readers that can race their
	// transports themselves, in which case reconnects are transport-agnostic.
	AllowMultipleTransports bool
}

// HasTransport reports whether the reader exposes a transport of the given kind.
func (r Reader) HasTransport(kind TransportKind) bool {
	_, ok := r.Transport(kind)
	return ok
}

// Transport returns the reader's transport of the given kind.
func (r Reader) Transport(kind TransportKind) (Transport, bool) {
	for _, t := range r.Transports {
		if t.Kind == kind {
			return t, true
		}
	}
	return Transport{}, false
}

// ActiveTransport returns the transport that is connected, or failing that
// the one that is connecting. ok is false when every transport is idle.
func (r Reader) ActiveTransport() (Transport, bool) {
	for _, t := range r.Transports {
		if t.Status == TransportConnected {
			return t, true
		}
	}
	for _, t := range r.Transports {
		if t.Status == TransportConnecting {
			return t, true
		}
	}
	return Transport{}, false
}

// Status derives the reader's connection status from its transports.
func (r Reader) Status() ConnectionStatus {
	if t, ok := r.ActiveTransport(); ok {
		if t.Status == TransportConnected {
			return StatusConnected
		}
		return StatusConnecting
	}
	if r.IsConnecting {
		return StatusConnecting
	}
	return StatusDisconnected
}

// Name returns the display name, or a placeholder for unnamed devices.
func (r Reader) Name() string {
	if r.DisplayName == "" {
		return UnknownReaderName
	}
	return r.DisplayName
}

// Clone returns a copy that shares no memory with r.
func (r Reader) Clone() Reader {
	c := r
	c.Transports = append([]Transport(nil), r.Transports...)
	return c
}

func (r *Reader) setTransportStatus(kind TransportKind, status TransportStatus) {
	for i := range r.Transports {
		if kind == TransportAny || r.Transports[i].Kind == kind {
			r.Transports[i].Status = status
			if kind != TransportAny {
				return
			}
		}
	}
}

// ConnectionStatus is the normalized status reported to the host.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ControllerState is the connection controller's state machine position.
type ControllerState int

const (
	StateNoReader ControllerState = iota
	StateDisconnected
	StateConnecting
	StateConnected
)

func (s ControllerState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "NoReader"
	}
}
