package server

import (
	"errors"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

// EventMessage converts a controller event into the rfidEvent envelope.
func EventMessage(ev rfid.Event) protocol.WebSocketMessage {
	return protocol.WebSocketMessage{
		Type: protocol.WSTypeRfidEvent,
		Payload: protocol.RfidEventPayload{
			Type:      string(ev.Kind),
			Timestamp: ev.Timestamp,
			Data:      EventData(ev.Data),
		},
	}
}

// EventData converts an event payload into its wire form. Unknown values
// are passed through unchanged.
func EventData(data any) any {
	switch d := data.(type) {
	case rfid.ConnectionPayload:
		out := protocol.ConnectionEventData{Status: string(d.Status)}
		if d.Status == rfid.StatusConnected {
			out.ReaderName = d.ReaderName
			out.BatteryLevel = d.BatteryLevel
		}
		return out
	case rfid.TagPayload:
		return protocol.TagEventData{EPC: d.EPC, RSSI: d.RSSI}
	case rfid.TriggerPayload:
		return protocol.TriggerEventData{
			State:      string(d.State),
			Mode:       string(d.Mode),
			IsPressing: d.IsPressing,
		}
	case rfid.InventoryPayload:
		return protocol.InventoryEventData{Status: string(d.Status), IsRunning: d.IsRunning}
	default:
		return data
	}
}

// ReaderInfoFrom converts a registry reader for listReaders.
func ReaderInfoFrom(r rfid.Reader, active bool) protocol.ReaderInfo {
	info := protocol.ReaderInfo{
		ID:         r.ID,
		Name:       r.Name(),
		Status:     string(r.Status()),
		Active:     active,
		Transports: make([]protocol.TransportInfo, 0, len(r.Transports)),
	}
	for _, t := range r.Transports {
		info.Transports = append(info.Transports, protocol.TransportInfo{
			Kind:    string(t.Kind),
			Status:  t.Status.String(),
			Address: t.Address,
		})
	}
	return info
}

// ErrorPayloadFrom maps a command error to its response payload.
func ErrorPayloadFrom(err error) protocol.ErrorPayload {
	var rerr *rfid.ReaderError
	if errors.As(err, &rerr) {
		payload := protocol.ErrorPayload{Code: string(rerr.Code)}
		if rerr.Code == rfid.ErrCodeNoReader {
			total := rerr.TotalDevices
			payload.IgnoredDevices = append([]string{}, rerr.IgnoredDevices...)
			payload.TotalDevices = &total
		}
		return payload
	}
	return protocol.ErrorPayload{Code: protocol.ErrCodeInternalError}
}
