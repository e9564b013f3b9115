package adapter

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/fm"
)

// Command kinds of all adapters. Kinds are unique across adapters so a kind names
// one capability regardless of the module type.
const (
	KindSetOutput fm.CommandKind = fm.KindUser + iota
	KindReadOutput
	KindReadInput
	KindSetAnalogOutput
	KindReadAnalogOutput
	KindReadAnalogInput
	KindSetMotorState
	KindReferenceRun
	KindMovePosition
	KindReadPosition
	KindSetTemperature
	KindReadTemperature
	KindSetTempCtrlState
	KindSetPressure
	KindReadPressure
	KindSetValve
	KindReadUID
)

// CodeNotification is the function class code of unsolicited adapter frames.
const CodeNotification uint8 = 0x20

// maxMillis is the largest duration a 16-bit millisecond field can carry.
const maxMillis = 0xFFFF * time.Millisecond

type base struct {
	objectType string
	specs      []fm.CommandSpec
	faults     map[uint16]string
}

func (b *base) ObjectType() string { return b.objectType }

func (b *base) Commands() []fm.CommandSpec {
	out := make([]fm.CommandSpec, len(b.specs))
	copy(out, b.specs)

	return out
}

func (b *base) DescribeFault(f fm.Fault) string {
	if f.IsTimeout() {
		return "acknowledge timeout"
	}
	if f.Group == fm.FaultGroupTransport {
		return "transport error"
	}
	if desc, ok := b.faults[f.Code]; ok {
		return desc
	}

	return fmt.Sprintf("%s fault 0x%04X", b.objectType, f.Code)
}

func (b *base) DecodeNotification(uint8, []byte) (fm.Notification, bool) {
	return fm.Notification{}, false
}

// command declares a function class kind with request code req and acknowledge code req+1.
func command(kind fm.CommandKind, name string, req uint8, timeout time.Duration) fm.CommandSpec {
	return fm.CommandSpec{
		Kind:        kind,
		Name:        name,
		Class:       canbus.ClassFunction,
		RequestCode: req,
		AckCode:     req + 1,
		Timeout:     timeout,
	}
}

func configErr(field, format string, args ...any) error {
	return &fm.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func millis(d time.Duration, field string) (uint16, error) {
	if d < 0 || d > maxMillis {
		return 0, fmt.Errorf("adapter: %s %s out of range [0, %s]", field, d, maxMillis)
	}

	return uint16(d / time.Millisecond), nil
}

func needLen(payload []byte, n int, what string) error {
	if len(payload) < n {
		return fmt.Errorf("adapter: %s needs %d bytes, got %d", what, n, len(payload))
	}

	return nil
}

func be16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}

	return 0
}
