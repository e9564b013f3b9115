package fm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Configurable is implemented by adapters that validate their parameters and produce
// the configuration sequence sent while the module is Configuring.
type Configurable interface {
	// ValidateConfig checks the module specific parameters. It returns a *ConfigError on failure.
	ValidateConfig() error
	// ConfigFrames returns the configuration payloads, sent and acknowledged one by one.
	ConfigFrames() [][]byte
}

// Commandable is implemented by adapters that declare their command kinds and decode
// unsolicited frames.
type Commandable interface {
	// Commands returns the adapter specific command specs.
	Commands() []CommandSpec
	// DecodeNotification decodes an unsolicited function class frame. It returns false
	// if the code is not a notification of the adapter.
	DecodeNotification(code uint8, payload []byte) (Notification, bool)
}

// FaultReporting is implemented by adapters that describe their module fault codes.
type FaultReporting interface {
	DescribeFault(f Fault) string
}

// Adapter translates typed capability calls of one module type.
type Adapter interface {
	Configurable
	Commandable
	FaultReporting
	// ObjectType returns the configuration object type name, e.g. "digital_output".
	ObjectType() string
}

// Notification is an unsolicited event of a module delivered to device subscribers.
type Notification struct {
	Handle    Handle
	Event     string
	Value     int64
	Payload   []byte
	Timestamp time.Time
}

// Event names of generic notifications.
const (
	EventWarning = "warning"
	EventInfo    = "info"
)

// LifeCycleData holds the life-cycle counters reported by a module.
type LifeCycleData struct {
	OperationTime time.Duration
	Cycles        uint32
}

// DecodeLifeCycleData decodes the acknowledge payload of KindLifeCycleData:
// operation time in seconds followed by the cycle count, both big-endian uint32.
func DecodeLifeCycleData(payload []byte) (LifeCycleData, error) {
	if len(payload) < 8 {
		return LifeCycleData{}, fmt.Errorf("fm: life-cycle data needs 8 bytes, got %d", len(payload))
	}

	return LifeCycleData{
		OperationTime: time.Duration(binary.BigEndian.Uint32(payload[0:4])) * time.Second,
		Cycles:        binary.BigEndian.Uint32(payload[4:8]),
	}, nil
}

// EncodeLifeCycleData is the inverse of DecodeLifeCycleData.
func EncodeLifeCycleData(d LifeCycleData) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(d.OperationTime/time.Second))
	binary.BigEndian.PutUint32(buf[4:8], d.Cycles)

	return buf
}

// DecodeEvent decodes an event frame payload: group, code (big-endian), data (big-endian).
func DecodeEvent(payload []byte, ts time.Time) Fault {
	var p [5]byte
	copy(p[:], payload)

	return Fault{
		Group:     p[0],
		Code:      binary.BigEndian.Uint16(p[1:3]),
		Data:      binary.BigEndian.Uint16(p[3:5]),
		Timestamp: ts,
	}
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(f Fault) []byte {
	buf := make([]byte, 5)
	buf[0] = f.Group
	binary.BigEndian.PutUint16(buf[1:3], f.Code)
	binary.BigEndian.PutUint16(buf[3:5], f.Data)

	return buf
}

// DecodeModulesPresent decodes the reply to a module list query: the big-endian
// bitmask of the channels that carry a module.
func DecodeModulesPresent(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("fm: module list needs 4 bytes, got %d", len(payload))
	}

	return binary.BigEndian.Uint32(payload[0:4]), nil
}

// EncodeModulesPresent is the inverse of DecodeModulesPresent.
func EncodeModulesPresent(mask uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, mask)
}
