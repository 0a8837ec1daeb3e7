package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
)

// envelope is any message the bridge sends.
type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

// eventMsg is a decoded rfidEvent. Data is one of the protocol *EventData
// types.
type eventMsg struct {
	Type      string
	Timestamp int64
	Data      any
}

// responseMsg is a decoded command response.
type responseMsg struct {
	ID      string
	Command string
	Success bool
	Error   string
	Code    string
	Payload json.RawMessage

	IgnoredDevices []string
}

// decodeMessage turns a raw bridge frame into an eventMsg or responseMsg.
func decodeMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	switch {
	case env.Type == protocol.WSTypeRfidEvent:
		return decodeEvent(env.Payload)
	case env.Type == protocol.WSTypeError || strings.HasSuffix(env.Type, "Response"):
		resp := responseMsg{
			ID:      env.ID,
			Command: strings.TrimSuffix(env.Type, "Response"),
			Success: env.Success,
			Error:   env.Error,
			Payload: env.Payload,
		}
		if env.Type == protocol.WSTypeError {
			resp.Command = ""
		}
		if !resp.Success && len(env.Payload) > 0 {
			var ep protocol.ErrorPayload
			if err := json.Unmarshal(env.Payload, &ep); err == nil {
				resp.Code = ep.Code
				resp.IgnoredDevices = ep.IgnoredDevices
			}
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func decodeEvent(payload json.RawMessage) (eventMsg, error) {
	var p struct {
		Type      string          `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return eventMsg{}, fmt.Errorf("invalid event: %w", err)
	}

	var data any
	switch p.Type {
	case protocol.EventConnection:
		data = &protocol.ConnectionEventData{}
	case protocol.EventTag:
		data = &protocol.TagEventData{}
	case protocol.EventTrigger:
		data = &protocol.TriggerEventData{}
	case protocol.EventInventory:
		data = &protocol.InventoryEventData{}
	default:
		return eventMsg{}, fmt.Errorf("unknown event type %q", p.Type)
	}
	if err := json.Unmarshal(p.Data, data); err != nil {
		return eventMsg{}, fmt.Errorf("invalid %s event: %w", p.Type, err)
	}

	ev := eventMsg{Type: p.Type, Timestamp: p.Timestamp}
	switch d := data.(type) {
	case *protocol.ConnectionEventData:
		ev.Data = *d
	case *protocol.TagEventData:
		ev.Data = *d
	case *protocol.TriggerEventData:
		ev.Data = *d
	case *protocol.InventoryEventData:
		ev.Data = *d
	}
	return ev, nil
}

// bridgeURL adds the API secret to a bridge address.
func bridgeURL(raw, secret string) (string, error) {
	u, err := parseURL(raw)
	if err != nil {
		return "", err
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
