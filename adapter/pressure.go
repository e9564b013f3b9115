package adapter

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-dcl/fm"
)

// PressureControlConfig holds the parameters of a pressure control module.
type PressureControlConfig struct {
	// MinPressure and MaxPressure bound the set point in millibar relative to ambient.
	MinPressure int16 `param:"min_pressure"`
	MaxPressure int16 `param:"max_pressure"`
	// Valves is the number of valves driven by the module, 1 to 4.
	Valves uint8 `param:"valves"`
	// PumpDuty is the maximum pump duty cycle in percent.
	PumpDuty uint8 `param:"pump_duty"`
}

// PressureControl is the adapter of a pressure control module.
type PressureControl struct {
	base
	cfg PressureControlConfig
}

var _ fm.Adapter = (*PressureControl)(nil)

// NewPressureControl creates a pressure control adapter.
func NewPressureControl(cfg PressureControlConfig) *PressureControl {
	if cfg.Valves == 0 {
		cfg.Valves = 1
	}
	if cfg.PumpDuty == 0 {
		cfg.PumpDuty = 100
	}

	return &PressureControl{
		base: base{
			objectType: "pressure_control",
			specs: []fm.CommandSpec{
				command(KindSetPressure, "set_pressure", 0x10, fm.WriteTimeout),
				command(KindReadPressure, "read_pressure", 0x12, fm.StatusTimeout),
				command(KindSetValve, "set_valve", 0x14, fm.WriteTimeout),
			},
			faults: map[uint16]string{
				0x0001: "pressure sensor failure",
				0x0002: "pressure not reached",
				0x0003: "pump overcurrent",
			},
		},
		cfg: cfg,
	}
}

func (p *PressureControl) ValidateConfig() error {
	switch {
	case p.cfg.MinPressure >= p.cfg.MaxPressure:
		return configErr("min_pressure", "%d not below max pressure %d", p.cfg.MinPressure, p.cfg.MaxPressure)
	case p.cfg.Valves > 4:
		return configErr("valves", "%d exceeds 4", p.cfg.Valves)
	case p.cfg.PumpDuty > 100:
		return configErr("pump_duty", "%d exceeds 100 percent", p.cfg.PumpDuty)
	}

	return nil
}

// ConfigFrames returns one frame: flags, valve count, pump duty and pressure range.
func (p *PressureControl) ConfigFrames() [][]byte {
	frame := []byte{0x01, p.cfg.Valves, p.cfg.PumpDuty}
	frame = binary.BigEndian.AppendUint16(frame, uint16(p.cfg.MinPressure))
	frame = binary.BigEndian.AppendUint16(frame, uint16(p.cfg.MaxPressure))

	return [][]byte{frame}
}

// SetPressure sets the pressure set point in millibar; zero switches the pump off.
func (p *PressureControl) SetPressure(mbar int16) (fm.Command, error) {
	if mbar != 0 && (mbar < p.cfg.MinPressure || mbar > p.cfg.MaxPressure) {
		return fm.Command{}, fmt.Errorf("adapter: pressure %d out of range [%d, %d]", mbar, p.cfg.MinPressure, p.cfg.MaxPressure)
	}

	return fm.Command{Kind: KindSetPressure, Payload: be16(uint16(mbar))}, nil
}

// SetValve opens or closes valve index.
func (p *PressureControl) SetValve(index uint8, open bool) (fm.Command, error) {
	if index >= p.cfg.Valves {
		return fm.Command{}, fmt.Errorf("adapter: valve %d not configured", index)
	}

	return fm.Command{Kind: KindSetValve, Payload: []byte{index, boolByte(open)}}, nil
}

// ReadPressure requests the actual pressure.
func (p *PressureControl) ReadPressure() fm.Command {
	return fm.Command{Kind: KindReadPressure}
}

// DecodePressure decodes the pressure in millibar carried by a read acknowledge.
func (p *PressureControl) DecodePressure(payload []byte) (int16, error) {
	if err := needLen(payload, 2, "pressure"); err != nil {
		return 0, err
	}

	return int16(binary.BigEndian.Uint16(payload)), nil
}
