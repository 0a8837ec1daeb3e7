package rfid

import (
	"errors"
	"strings"
)

// ErrorCode identifies a reader error for programmatic handling. The values
// are the codes reported to the host.
type ErrorCode string

const (
	ErrCodeNoReader       ErrorCode = "NO_READER"
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	ErrCodeConnectFailed  ErrorCode = "CONNECT_FAILED"
)

// ReaderError provides structured error information for host commands.
type ReaderError struct {
	Code    ErrorCode
	Op      string // Command that failed (e.g., "connect", "startInventory")
	Message string // Human-readable message
	Cause   error  // Underlying error

	// Diagnostics for NO_READER
	IgnoredDevices []string
	TotalDevices   int
}

func (e *ReaderError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *ReaderError) Unwrap() error {
	return e.Cause
}

func (e *ReaderError) Is(target error) bool {
	if t, ok := target.(*ReaderError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNoReader       = &ReaderError{Code: ErrCodeNoReader, Message: "no RFID reader found"}
	ErrNotConnected   = &ReaderError{Code: ErrCodeNotConnected, Message: "reader not connected"}
	ErrAlreadyRunning = &ReaderError{Code: ErrCodeAlreadyRunning, Message: "inventory already running"}
	ErrConnectFailed  = &ReaderError{Code: ErrCodeConnectFailed, Message: "connect failed"}
)

// ErrControllerClosed is returned by commands issued after Close.
var ErrControllerClosed = errors.New("controller closed")

// NewNoReaderError creates an error for when no classifier-qualifying reader
// is discoverable. ignored lists the names of devices that were skipped.
func NewNoReaderError(op string, ignored []string, total int) *ReaderError {
	msg := "no RFID reader found"
	if total == 0 {
		msg += "; no devices are visible, pair or plug in the reader"
	} else if len(ignored) > 0 {
		msg += "; ignored devices: " + strings.Join(ignored, ", ")
	}
	return &ReaderError{
		Code:           ErrCodeNoReader,
		Op:             op,
		Message:        msg,
		IgnoredDevices: append([]string{}, ignored...),
		TotalDevices:   total,
	}
}

// NewNotConnectedError creates an error for commands that need a connection.
func NewNotConnectedError(op string) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeNotConnected,
		Op:      op,
		Message: "reader not connected",
	}
}

// NewAlreadyRunningError creates an error for a duplicate inventory start.
func NewAlreadyRunningError(op string) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeAlreadyRunning,
		Op:      op,
		Message: "inventory already running",
	}
}

// NewConnectFailedError creates an error for transport-level connect failures.
func NewConnectFailedError(op string, cause error) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeConnectFailed,
		Op:      op,
		Message: "connect failed",
		Cause:   cause,
	}
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var rErr *ReaderError
	if errors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// IsNoReaderError checks if an error indicates no reader was found.
func IsNoReaderError(err error) bool {
	return hasCode(err, ErrCodeNoReader)
}

// IsNotConnectedError checks if an error indicates a missing connection.
func IsNotConnectedError(err error) bool {
	return hasCode(err, ErrCodeNotConnected)
}

// IsAlreadyRunningError checks if an error indicates a duplicate start.
func IsAlreadyRunningError(err error) bool {
	return hasCode(err, ErrCodeAlreadyRunning)
}

// IsConnectFailedError checks if an error indicates a failed connect.
func IsConnectFailedError(err error) bool {
	return hasCode(err, ErrCodeConnectFailed)
}

// GetErrorCode extracts the ErrorCode from an error, or "" if it is not a
// ReaderError.
func GetErrorCode(err error) ErrorCode {
	var rErr *ReaderError
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return ""
}
