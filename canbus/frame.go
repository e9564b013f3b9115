package canbus

import (
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	MaxStdID   = 0x7FF
	MaxExtID   = 0x1FFFFFFF
	MaxDataLen = 8
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// NewFrame creates an extended data frame carrying data.
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxDataLen {
		return f, ErrInvalidLen
	}
	f.ID = id
	f.Extended = true
	f.Len = uint8(len(data))
	copy(f.Data[:], data)

	return f, f.Validate()
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}

	return nil
}

// Payload returns the used data bytes of the frame.
// The returned slice aliases the frame copy it was called on.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}

	return f.Data[:n]
}

// String returns the candump-like representation of the frame, e.g. "0A1B2C3D#0102".
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X#", f.ID)
	}
	if f.RTR {
		sb.WriteByte('R')
		return sb.String()
	}
	for i := uint8(0); i < f.Len && i < MaxDataLen; i++ {
		fmt.Fprintf(&sb, "%02X", f.Data[i])
	}

	return sb.String()
}
