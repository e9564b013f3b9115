package device

import (
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/arloliu/go-dcl/fm"
)

// Device types.
const (
	TypeOven        = "oven"
	TypeRotaryValve = "rotary_valve"
	TypePeriphery   = "periphery"
)

// Factory creates a device from its configuration.
type Factory func(cfg Spec, env Env) (Device, error)

var factories = map[string]Factory{
	TypeOven: func(cfg Spec, env Env) (Device, error) {
		d, err := NewOven(cfg, env)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
	TypeRotaryValve: func(cfg Spec, env Env) (Device, error) {
		d, err := NewRotaryValve(cfg, env)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
	TypePeriphery: func(cfg Spec, env Env) (Device, error) {
		d, err := NewPeriphery(cfg, env)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
}

// New creates the device of cfg.Type. Unknown types are reported as *fm.ConfigError.
func New(cfg Spec, env Env) (Device, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: "unknown device type " + cfg.Type}
	}

	return factory(cfg, env)
}

// Types returns the supported device types in sorted order.
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

func decodeParams[T any](name string, params map[string]any) (T, error) {
	var cfg T
	if len(params) == 0 {
		return cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(params); err != nil {
		return cfg, &fm.ConfigError{Field: "device." + name, Reason: err.Error()}
	}

	return cfg, nil
}
