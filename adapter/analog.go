package adapter

import (
	"encoding/binary"
	"time"

	"github.com/arloliu/go-dcl/fm"
)

// AnalogOutputConfig holds the parameters of an analog output module.
type AnalogOutputConfig struct {
	// Resolution is the converter resolution in bits, 8 to 16.
	Resolution uint8 `param:"resolution"`
	// Default is the raw value applied after configuration.
	Default uint16 `param:"default"`
}

// AnalogOutput is the adapter of an analog output module.
type AnalogOutput struct {
	base
	cfg AnalogOutputConfig
}

var _ fm.Adapter = (*AnalogOutput)(nil)

// NewAnalogOutput creates an analog output adapter.
func NewAnalogOutput(cfg AnalogOutputConfig) *AnalogOutput {
	if cfg.Resolution == 0 {
		cfg.Resolution = 12
	}

	return &AnalogOutput{
		base: base{
			objectType: "analog_output",
			specs: []fm.CommandSpec{
				command(KindSetAnalogOutput, "set_analog_output", 0x10, fm.WriteTimeout),
				command(KindReadAnalogOutput, "read_analog_output", 0x12, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "output overload",
			},
		},
		cfg: cfg,
	}
}

func (a *AnalogOutput) ValidateConfig() error {
	if a.cfg.Resolution < 8 || a.cfg.Resolution > 16 {
		return configErr("resolution", "%d out of range [8, 16]", a.cfg.Resolution)
	}
	if uint32(a.cfg.Default) > maxValue(a.cfg.Resolution) {
		return configErr("default", "%d exceeds %d bit range", a.cfg.Default, a.cfg.Resolution)
	}

	return nil
}

// ConfigFrames returns one frame: enable flag, resolution and default value.
func (a *AnalogOutput) ConfigFrames() [][]byte {
	frame := []byte{0x01, a.cfg.Resolution}
	frame = binary.BigEndian.AppendUint16(frame, a.cfg.Default)

	return [][]byte{frame}
}

// SetValue sets the raw output value for duration after delay.
func (a *AnalogOutput) SetValue(value uint16, duration, delay time.Duration) (fm.Command, error) {
	if uint32(value) > maxValue(a.cfg.Resolution) {
		return fm.Command{}, configErr("value", "%d exceeds %d bit range", value, a.cfg.Resolution)
	}
	dur, err := millis(duration, "duration")
	if err != nil {
		return fm.Command{}, err
	}
	dly, err := millis(delay, "delay")
	if err != nil {
		return fm.Command{}, err
	}

	payload := be16(value)
	payload = binary.BigEndian.AppendUint16(payload, dur)
	payload = binary.BigEndian.AppendUint16(payload, dly)

	return fm.Command{Kind: KindSetAnalogOutput, Payload: payload}, nil
}

// ReadValue requests the current output value.
func (a *AnalogOutput) ReadValue() fm.Command {
	return fm.Command{Kind: KindReadAnalogOutput}
}

// DecodeValue decodes the raw value carried by a set or read acknowledge.
func (a *AnalogOutput) DecodeValue(payload []byte) (uint16, error) {
	if err := needLen(payload, 2, "analog value"); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(payload), nil
}

// AnalogInputConfig holds the parameters of an analog input module.
type AnalogInputConfig struct {
	// Resolution is the converter resolution in bits, 8 to 16.
	Resolution uint8 `param:"resolution"`
	// Interval is the sampling interval of the node.
	Interval time.Duration `param:"interval"`
	// LowLimit and HighLimit bound the window outside which a limit notification is sent.
	// Both zero disables limit notifications.
	LowLimit  uint16 `param:"low_limit"`
	HighLimit uint16 `param:"high_limit"`
}

// AnalogInput is the adapter of an analog input module.
type AnalogInput struct {
	base
	cfg AnalogInputConfig
}

var _ fm.Adapter = (*AnalogInput)(nil)

// EventLimitExceeded is the notification event of an analog input leaving its limit window.
const EventLimitExceeded = "limit_exceeded"

// NewAnalogInput creates an analog input adapter.
func NewAnalogInput(cfg AnalogInputConfig) *AnalogInput {
	if cfg.Resolution == 0 {
		cfg.Resolution = 12
	}
	if cfg.Interval == 0 {
		cfg.Interval = 100 * time.Millisecond
	}

	return &AnalogInput{
		base: base{
			objectType: "analog_input",
			specs: []fm.CommandSpec{
				command(KindReadAnalogInput, "read_analog_input", 0x10, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "sensor open circuit",
				0x0002: "converter failure",
			},
		},
		cfg: cfg,
	}
}

func (a *AnalogInput) ValidateConfig() error {
	if a.cfg.Resolution < 8 || a.cfg.Resolution > 16 {
		return configErr("resolution", "%d out of range [8, 16]", a.cfg.Resolution)
	}
	if a.cfg.Interval < time.Millisecond || a.cfg.Interval > maxMillis {
		return configErr("interval", "%s out of range [1ms, %s]", a.cfg.Interval, maxMillis)
	}
	if a.cfg.LowLimit > a.cfg.HighLimit {
		return configErr("low_limit", "%d above high limit %d", a.cfg.LowLimit, a.cfg.HighLimit)
	}

	return nil
}

// ConfigFrames returns two frames: sampling setup, then the limit window.
func (a *AnalogInput) ConfigFrames() [][]byte {
	interval, _ := millis(a.cfg.Interval, "interval")
	notify := a.cfg.LowLimit != 0 || a.cfg.HighLimit != 0

	setup := []byte{0x01 | boolByte(notify)<<1, a.cfg.Resolution}
	setup = binary.BigEndian.AppendUint16(setup, interval)

	limits := []byte{0x02}
	limits = binary.BigEndian.AppendUint16(limits, a.cfg.LowLimit)
	limits = binary.BigEndian.AppendUint16(limits, a.cfg.HighLimit)

	return [][]byte{setup, limits}
}

// ReadValue requests the current input value.
func (a *AnalogInput) ReadValue() fm.Command {
	return fm.Command{Kind: KindReadAnalogInput}
}

// DecodeValue decodes the raw value of a read acknowledge or limit notification.
func (a *AnalogInput) DecodeValue(payload []byte) (uint16, error) {
	if err := needLen(payload, 2, "analog value"); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(payload), nil
}

func (a *AnalogInput) DecodeNotification(code uint8, payload []byte) (fm.Notification, bool) {
	if code != CodeNotification {
		return fm.Notification{}, false
	}
	v, err := a.DecodeValue(payload)
	if err != nil {
		return fm.Notification{}, false
	}

	return fm.Notification{Event: EventLimitExceeded, Value: int64(v), Payload: payload}, true
}
