package ut330

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned by Discover when no serial port carries
	// the UT330 USB vendor/product ID. Replugging the logger is the only fix.
	ErrDeviceNotFound = errors.New("ut330: device not detected on any USB port")

	// ErrNotConnected is returned by every device operation issued while the
	// Device is disconnected. No I/O happens in that case.
	ErrNotConnected = errors.New("ut330: not connected")

	// ErrPortClosed is returned when the port was closed underneath an open
	// connection, after a write timeout. Reconnecting reopens it.
	ErrPortClosed = errors.New("ut330: port closed")
)

// ConnectionError reports a port that could not be opened or was unusable
// right after opening.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ut330: failed to open %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports a command frame that was not completely written.
type WriteError struct {
	Op      string
	Written int
	Want    int
	Err     error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ut330: %s: wrote %d/%d command bytes: %v", e.Op, e.Written, e.Want, e.Err)
	}
	return fmt.Sprintf("ut330: %s: wrote %d/%d command bytes", e.Op, e.Written, e.Want)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadTimeoutError reports a response that came back shorter than required
// within the read timeout. Partial frames are never decoded.
type ReadTimeoutError struct {
	Op   string
	Got  int
	Want int
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("ut330: %s: read timed out after %d/%d response bytes", e.Op, e.Got, e.Want)
}

// ProtocolError reports a response that does not match what the device
// sends on success.
type ProtocolError struct {
	Op     string
	Reason string
	Got    []byte
	Want   []byte
}

func (e *ProtocolError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("ut330: %s: %s (got % X, want % X)", e.Op, e.Reason, e.Got, e.Want)
	}
	return fmt.Sprintf("ut330: %s: %s (got % X)", e.Op, e.Reason, e.Got)
}

// ValidationError reports a caller-supplied value outside the range the
// device accepts. It is raised before any I/O.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ut330: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
