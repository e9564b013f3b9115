package fm

import (
	"fmt"
	"time"
)

// Fault groups raised locally by the master. Groups reported by slaves are passed through unchanged.
const (
	// FaultGroupTimeout marks a fault raised because a command was not acknowledged in time.
	// The fault code holds the command kind.
	FaultGroupTimeout uint8 = 0xF0
	// FaultGroupTransport marks a fault raised because the transport rejected a frame.
	FaultGroupTransport uint8 = 0xF1
)

// Fault is the snapshot of the last error condition of a module or device.
type Fault struct {
	Group     uint8
	Code      uint16
	Data      uint16
	Timestamp time.Time
}

// IsTimeout returns true if the fault was raised by a command timeout.
func (f Fault) IsTimeout() bool { return f.Group == FaultGroupTimeout }

func (f Fault) String() string {
	return fmt.Sprintf("group=0x%02X code=0x%04X data=0x%04X at %s", f.Group, f.Code, f.Data, f.Timestamp.Format(time.RFC3339Nano))
}

// FaultError wraps a Fault as an error. It matches ErrDeviceFault with errors.Is,
// or ErrProtocolTimeout when the fault was raised by a command timeout.
type FaultError struct {
	Handle Handle
	Fault  Fault
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("module %s fault: %s", e.Handle, e.Fault)
}

func (e *FaultError) Unwrap() error {
	if e.Fault.IsTimeout() {
		return ErrProtocolTimeout
	}

	return ErrDeviceFault
}

// ConfigError describes an invalid module parameter. It matches ErrConfigInvalid with errors.Is.
type ConfigError struct {
	Handle Handle
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("module %s: invalid %s: %s", e.Handle, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfigInvalid }
