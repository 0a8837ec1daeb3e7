package rfid

// Selection is the outcome of running the selector over the registry.
type Selection struct {
	Reader Reader
	// Reason is a short log-friendly tag: "usb", "bluetooth", "first" or "current".
	Reason string
}

// SelectCandidate picks the best classifier-qualifying reader by transport
// priority: USB first, then Bluetooth, then the first qualifying reader on
// any transport. Devices that fail the classifier are never selected.
func SelectCandidate(readers []Reader) (Selection, bool) {
	var bluetooth, first *Reader
	for i := range readers {
		r := &readers[i]
		if !IsRfidReader(r.DisplayName) {
			continue
		}
		if r.HasTransport(TransportUSB) {
			return Selection{Reader: *r, Reason: "usb"}, true
		}
		if bluetooth == nil && r.HasTransport(TransportBluetooth) {
			bluetooth = r
		}
		if first == nil {
			first = r
		}
	}
	if bluetooth != nil {
		return Selection{Reader: *bluetooth, Reason: "bluetooth"}, true
	}
	if first != nil {
		return Selection{Reader: *first, Reason: "first"}, true
	}
	return Selection{}, false
}

// Select decides which reader should be active. current is the active
// reader, if any, and currentKind the kind of its active transport (empty
// when it has none).
//
// A present current reader is kept unless the candidate exposes USB while
// current is active on a non-USB transport; lower priority candidates never preempt it.
func Select(readers []Reader, current *Reader, currentKind TransportKind) (Selection, bool) {
	candidate, ok := SelectCandidate(readers)

	if current == nil || !containsReader(readers, current.ID) {
		return candidate, ok
	}
	if ok && ShouldUpgrade(*current, currentKind, candidate.Reader) {
		return candidate, true
	}
	for _, r := range readers {
		if r.ID == current.ID {
			return Selection{Reader: r, Reason: "current"}, true
		}
	}
	return candidate, ok
}

// ShouldUpgrade reports whether switching from current to candidate
// follows the USB upgrade rule: current has an active transport that is not
// USB and candidate exposes USB.
func ShouldUpgrade(current Reader, currentKind TransportKind, candidate Reader) bool {
	if candidate.ID == current.ID || currentKind == TransportAny {
		return false
	}
	return currentKind != TransportUSB && candidate.HasTransport(TransportUSB)
}

func containsReader(readers []Reader, id string) bool {
	for _, r := range readers {
		if r.ID == id {
			return true
		}
	}
	return false
}
