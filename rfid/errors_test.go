package rfid

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReaderError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		check    func(error) bool
		code     ErrorCode
	}{
		{"no reader", NewNoReaderError("connect", nil, 0), ErrNoReader, IsNoReaderError, ErrCodeNoReader},
		{"not connected", NewNotConnectedError("startInventory"), ErrNotConnected, IsNotConnectedError, ErrCodeNotConnected},
		{"already running", NewAlreadyRunningError("startInventory"), ErrAlreadyRunning, IsAlreadyRunningError, ErrCodeAlreadyRunning},
		{"connect failed", NewConnectFailedError("connect", errors.New("busy")), ErrConnectFailed, IsConnectFailedError, ErrCodeConnectFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("bridge: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Error("Expected errors.Is to match through wrapping")
			}
			if !tt.check(wrapped) {
				t.Error("Expected predicate to match")
			}
			if GetErrorCode(wrapped) != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, GetErrorCode(wrapped))
			}
		})
	}

	if errors.Is(NewNotConnectedError("x"), ErrNoReader) {
		t.Error("Expected different codes not to match")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("Expected empty code for plain errors")
	}
	if IsNoReaderError(nil) {
		t.Error("Expected nil not to match")
	}
}

func TestReaderError_Messages(t *testing.T) {
	cause := errors.New("port busy")
	err := NewConnectFailedError("connect", cause)
	if err.Error() != "connect: connect failed: port busy" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be unwrapped")
	}

	empty := NewNoReaderError("connect", nil, 0)
	if !strings.Contains(empty.Error(), "no devices are visible") {
		t.Errorf("Expected pairing hint, got %q", empty.Error())
	}

	ignored := NewNoReaderError("connect", []string{"JBL Flip 5", "Pixel Buds"}, 2)
	if !strings.Contains(ignored.Error(), "ignored devices: JBL Flip 5, Pixel Buds") {
		t.Errorf("Expected ignored device list, got %q", ignored.Error())
	}
	if ignored.TotalDevices != 2 || len(ignored.IgnoredDevices) != 2 {
		t.Errorf("Unexpected diagnostics: %+v", ignored)
	}
}
