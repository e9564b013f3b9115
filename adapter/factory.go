package adapter

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/arloliu/go-dcl/fm"
)

// Factory creates an adapter from the module specific parameters of the hardware description.
type Factory func(params map[string]any) (fm.Adapter, error)

var factories = map[string]Factory{
	"digital_output": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[DigitalOutputConfig](p)
		return NewDigitalOutput(cfg), err
	},
	"digital_input": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[DigitalInputConfig](p)
		return NewDigitalInput(cfg), err
	},
	"analog_output": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[AnalogOutputConfig](p)
		return NewAnalogOutput(cfg), err
	},
	"analog_input": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[AnalogInputConfig](p)
		return NewAnalogInput(cfg), err
	},
	"stepper_motor": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[StepperMotorConfig](p)
		return NewStepperMotor(cfg), err
	},
	"temperature_control": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[TemperatureControlConfig](p)
		return NewTemperatureControl(cfg), err
	},
	"pressure_control": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[PressureControlConfig](p)
		return NewPressureControl(cfg), err
	},
	"rfid11785": func(p map[string]any) (fm.Adapter, error) {
		cfg, err := decodeParams[RFID11785Config](p)
		return NewRFID11785(cfg), err
	},
}

// New creates the adapter for objectType from its parameters. Unknown object types and
// undecodable parameters are reported as *fm.ConfigError.
func New(objectType string, params map[string]any) (fm.Adapter, error) {
	factory, ok := factories[objectType]
	if !ok {
		return nil, &fm.ConfigError{Field: "object_type", Reason: fmt.Sprintf("unknown object type %q", objectType)}
	}

	a, err := factory(params)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// ObjectTypes returns the supported object types in sorted order.
func ObjectTypes() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

func decodeParams[T any](params map[string]any) (T, error) {
	var cfg T
	if len(params) == 0 {
		return cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(params); err != nil {
		return cfg, &fm.ConfigError{Field: "parameters", Reason: err.Error()}
	}

	return cfg, nil
}
