package adapter

import (
	"encoding/binary"
	"time"

	"github.com/arloliu/go-dcl/fm"
)

// DigitalOutputConfig holds the parameters of a digital output module.
type DigitalOutputConfig struct {
	// Width is the number of output bits, 1 to 16.
	Width uint8 `param:"width"`
	// Inverted inverts the output polarity.
	Inverted bool `param:"inverted"`
	// Default is the output value applied after configuration.
	Default uint16 `param:"default"`
	// LifeTimeLimit is the number of switching cycles after which a warning is raised. Zero disables it.
	LifeTimeLimit uint32 `param:"life_time_limit"`
}

// DigitalOutput is the adapter of a digital output module.
type DigitalOutput struct {
	base
	cfg DigitalOutputConfig
}

var _ fm.Adapter = (*DigitalOutput)(nil)

// NewDigitalOutput creates a digital output adapter.
func NewDigitalOutput(cfg DigitalOutputConfig) *DigitalOutput {
	if cfg.Width == 0 {
		cfg.Width = 1
	}

	return &DigitalOutput{
		base: base{
			objectType: "digital_output",
			specs: []fm.CommandSpec{
				command(KindSetOutput, "set_output", 0x10, fm.WriteTimeout),
				command(KindReadOutput, "read_output", 0x12, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "output short circuit",
				0x0002: "output open load",
				0x0003: "life time limit exceeded",
			},
		},
		cfg: cfg,
	}
}

func (d *DigitalOutput) ValidateConfig() error {
	if d.cfg.Width > 16 {
		return configErr("width", "%d exceeds 16 bits", d.cfg.Width)
	}
	if uint32(d.cfg.Default) > maxValue(d.cfg.Width) {
		return configErr("default", "%d does not fit %d bits", d.cfg.Default, d.cfg.Width)
	}

	return nil
}

// ConfigFrames returns one frame: flags, width, default value and life time limit.
func (d *DigitalOutput) ConfigFrames() [][]byte {
	frame := []byte{0x01 | boolByte(d.cfg.Inverted)<<1, d.cfg.Width}
	frame = binary.BigEndian.AppendUint16(frame, d.cfg.Default)
	frame = binary.BigEndian.AppendUint32(frame, d.cfg.LifeTimeLimit)

	return [][]byte{frame}
}

// SetOutput sets the output to value for duration after delay. A zero duration keeps
// the value until the next call.
func (d *DigitalOutput) SetOutput(value uint16, duration, delay time.Duration) (fm.Command, error) {
	if uint32(value) > maxValue(d.cfg.Width) {
		return fm.Command{}, configErr("value", "%d does not fit %d bits", value, d.cfg.Width)
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

	return fm.Command{Kind: KindSetOutput, Payload: payload}, nil
}

// ReadOutput requests the current output value.
func (d *DigitalOutput) ReadOutput() fm.Command {
	return fm.Command{Kind: KindReadOutput}
}

// DecodeValue decodes the value carried by a set or read acknowledge.
func (d *DigitalOutput) DecodeValue(payload []byte) (uint16, error) {
	if err := needLen(payload, 2, "output value"); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(payload), nil
}

// DigitalInputConfig holds the parameters of a digital input module.
type DigitalInputConfig struct {
	// Width is the number of input bits, 1 to 16.
	Width uint8 `param:"width"`
	// Interval is the sampling interval of the node.
	Interval time.Duration `param:"interval"`
	// NotifyChanges makes the node report every value change unsolicited.
	NotifyChanges bool `param:"notify_changes"`
	// Debounce is the number of equal samples required before a change is reported.
	Debounce uint8 `param:"debounce"`
}

// DigitalInput is the adapter of a digital input module.
type DigitalInput struct {
	base
	cfg DigitalInputConfig
}

var _ fm.Adapter = (*DigitalInput)(nil)

// EventInputChanged is the notification event of a digital input value change.
const EventInputChanged = "input_changed"

// NewDigitalInput creates a digital input adapter.
func NewDigitalInput(cfg DigitalInputConfig) *DigitalInput {
	if cfg.Width == 0 {
		cfg.Width = 1
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Millisecond
	}

	return &DigitalInput{
		base: base{
			objectType: "digital_input",
			specs: []fm.CommandSpec{
				command(KindReadInput, "read_input", 0x10, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "input supply failure",
			},
		},
		cfg: cfg,
	}
}

func (d *DigitalInput) ValidateConfig() error {
	if d.cfg.Width > 16 {
		return configErr("width", "%d exceeds 16 bits", d.cfg.Width)
	}
	if _, err := millis(d.cfg.Interval, "interval"); err != nil || d.cfg.Interval < time.Millisecond {
		return configErr("interval", "%s out of range [1ms, %s]", d.cfg.Interval, maxMillis)
	}

	return nil
}

// ConfigFrames returns one frame: flags, width, interval and debounce count.
func (d *DigitalInput) ConfigFrames() [][]byte {
	interval, _ := millis(d.cfg.Interval, "interval")
	frame := []byte{0x01 | boolByte(d.cfg.NotifyChanges)<<1, d.cfg.Width}
	frame = binary.BigEndian.AppendUint16(frame, interval)
	frame = append(frame, d.cfg.Debounce)

	return [][]byte{frame}
}

// ReadInput requests the current input value.
func (d *DigitalInput) ReadInput() fm.Command {
	return fm.Command{Kind: KindReadInput}
}

// DecodeValue decodes the value carried by a read acknowledge or change notification.
func (d *DigitalInput) DecodeValue(payload []byte) (uint16, error) {
	if err := needLen(payload, 2, "input value"); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(payload), nil
}

func (d *DigitalInput) DecodeNotification(code uint8, payload []byte) (fm.Notification, bool) {
	if code != CodeNotification {
		return fm.Notification{}, false
	}
	v, err := d.DecodeValue(payload)
	if err != nil {
		return fm.Notification{}, false
	}

	return fm.Notification{Event: EventInputChanged, Value: int64(v), Payload: payload}, true
}

func maxValue(width uint8) uint32 {
	return 1<<width - 1
}
