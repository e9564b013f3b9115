package adapter

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-dcl/fm"
)

// Temperature sensor types.
const (
	SensorPT100 uint8 = iota + 1
	SensorPT1000
	SensorTypeK
	SensorNTC
)

// TemperatureControlConfig holds the parameters of a temperature control module.
type TemperatureControlConfig struct {
	// Sensor is the sensor type, one of the Sensor constants.
	Sensor uint8 `param:"sensor"`
	// MaxTemperature is the highest accepted set point in degree Celsius.
	MaxTemperature float64 `param:"max_temperature"`
	// Tolerance is the band around the set point in which the level is reported as reached.
	Tolerance float64 `param:"tolerance"`
	// PID controller parameters; Kp is sent in hundredths, integral and derivative times in seconds.
	Kp float64       `param:"kp"`
	Ti time.Duration `param:"ti"`
	Td time.Duration `param:"td"`
}

// TemperatureStatus is the decoded acknowledge of a temperature read.
type TemperatureStatus struct {
	// Temperature is the actual temperature in degree Celsius.
	Temperature float64
	// Heating is true while the controller is switched on.
	Heating bool
	// Current is the heater current in milliampere.
	Current uint16
}

// EventLevelReached is the notification event of a temperature entering the tolerance band.
const EventLevelReached = "level_reached"

// TemperatureControl is the adapter of a temperature control module.
type TemperatureControl struct {
	base
	cfg TemperatureControlConfig
}

var _ fm.Adapter = (*TemperatureControl)(nil)

// NewTemperatureControl creates a temperature control adapter.
func NewTemperatureControl(cfg TemperatureControlConfig) *TemperatureControl {
	if cfg.Sensor == 0 {
		cfg.Sensor = SensorPT100
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 1
	}

	return &TemperatureControl{
		base: base{
			objectType: "temperature_control",
			specs: []fm.CommandSpec{
				command(KindSetTemperature, "set_temperature", 0x10, fm.WriteTimeout),
				command(KindReadTemperature, "read_temperature", 0x12, fm.StatusTimeout),
				command(KindSetTempCtrlState, "set_temp_ctrl_state", 0x14, fm.WriteTimeout),
			},
			faults: map[uint16]string{
				0x0001: "temperature sensor broken",
				0x0002: "over temperature",
				0x0003: "heater current out of range",
				0x0004: "heating too slow",
			},
		},
		cfg: cfg,
	}
}

func (t *TemperatureControl) ValidateConfig() error {
	switch {
	case t.cfg.Sensor < SensorPT100 || t.cfg.Sensor > SensorNTC:
		return configErr("sensor", "unknown sensor type %d", t.cfg.Sensor)
	case t.cfg.MaxTemperature <= 0 || t.cfg.MaxTemperature > 300:
		return configErr("max_temperature", "%.1f out of range (0, 300]", t.cfg.MaxTemperature)
	case t.cfg.Tolerance < 0 || t.cfg.Tolerance > 25:
		return configErr("tolerance", "%.1f out of range [0, 25]", t.cfg.Tolerance)
	case t.cfg.Kp < 0 || t.cfg.Kp > 655:
		return configErr("kp", "%.2f out of range [0, 655]", t.cfg.Kp)
	case t.cfg.Ti < 0 || t.cfg.Ti > math.MaxUint16*time.Second:
		return configErr("ti", "%s out of range", t.cfg.Ti)
	case t.cfg.Td < 0 || t.cfg.Td > math.MaxUint16*time.Second:
		return configErr("td", "%s out of range", t.cfg.Td)
	}

	return nil
}

// ConfigFrames returns the sensor frame and the controller frame.
func (t *TemperatureControl) ConfigFrames() [][]byte {
	sensor := []byte{0x01, t.cfg.Sensor}
	sensor = binary.BigEndian.AppendUint16(sensor, uint16(tenths(t.cfg.MaxTemperature)))
	sensor = binary.BigEndian.AppendUint16(sensor, uint16(tenths(t.cfg.Tolerance)))

	pid := []byte{0x02}
	pid = binary.BigEndian.AppendUint16(pid, uint16(math.Round(t.cfg.Kp*100)))
	pid = binary.BigEndian.AppendUint16(pid, uint16(t.cfg.Ti/time.Second))
	pid = binary.BigEndian.AppendUint16(pid, uint16(t.cfg.Td/time.Second))

	return [][]byte{sensor, pid}
}

// SetTemperature sets the set point in degree Celsius.
func (t *TemperatureControl) SetTemperature(celsius float64) (fm.Command, error) {
	if celsius < -40 || celsius > t.cfg.MaxTemperature {
		return fm.Command{}, fmt.Errorf("adapter: set point %.1f out of range [-40, %.1f]", celsius, t.cfg.MaxTemperature)
	}

	return fm.Command{Kind: KindSetTemperature, Payload: be16(uint16(tenths(celsius)))}, nil
}

// SetState switches the controller on or off.
func (t *TemperatureControl) SetState(on bool) fm.Command {
	return fm.Command{Kind: KindSetTempCtrlState, Payload: []byte{boolByte(on)}}
}

// ReadTemperature requests the actual temperature and controller status.
func (t *TemperatureControl) ReadTemperature() fm.Command {
	return fm.Command{Kind: KindReadTemperature}
}

// DecodeStatus decodes a read acknowledge: temperature in tenths, heating flag, heater current.
func (t *TemperatureControl) DecodeStatus(payload []byte) (TemperatureStatus, error) {
	if err := needLen(payload, 5, "temperature status"); err != nil {
		return TemperatureStatus{}, err
	}

	return TemperatureStatus{
		Temperature: float64(int16(binary.BigEndian.Uint16(payload[0:2]))) / 10,
		Heating:     payload[2] != 0,
		Current:     binary.BigEndian.Uint16(payload[3:5]),
	}, nil
}

// EncodeStatus is the inverse of DecodeStatus.
func EncodeStatus(s TemperatureStatus) []byte {
	buf := be16(uint16(tenths(s.Temperature)))
	buf = append(buf, boolByte(s.Heating))

	return binary.BigEndian.AppendUint16(buf, s.Current)
}

func (t *TemperatureControl) DecodeNotification(code uint8, payload []byte) (fm.Notification, bool) {
	if code != CodeNotification || len(payload) < 2 {
		return fm.Notification{}, false
	}

	v := int16(binary.BigEndian.Uint16(payload))

	return fm.Notification{Event: EventLevelReached, Value: int64(v), Payload: payload}, true
}

func tenths(v float64) int16 {
	return int16(math.Round(v * 10))
}
