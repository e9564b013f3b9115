package kernel

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/canbus/slcan"
	"github.com/arloliu/go-dcl/config"
	"github.com/arloliu/go-dcl/device"
	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/logger"
)

// Build creates a kernel on bus with the modules and devices of the hardware description.
//
// A module whose adapter cannot be created from its object type and parameters is left
// out and reported in the Rejected list of every bring-up; devices using it are disabled,
// see Kernel.DisabledDevices. Unknown device types, unresolvable roles and duplicate
// addresses fail with an error.
func Build(hw *config.Hardware, bus canbus.Bus, opts ...Option) (*Kernel, error) {
	if hw == nil {
		return nil, fmt.Errorf("%w: no hardware description", fm.ErrConfigInvalid)
	}

	k, err := New(bus, nil, opts...)
	if err != nil {
		return nil, err
	}

	rejected := make(map[string]error)
	for _, n := range hw.Nodes {
		for _, mc := range n.Modules {
			h := n.Handle(mc)

			a, err := adapter.New(mc.ObjectType, mc.Params)
			if err != nil {
				err = withHandle(err, h)
				rejected[mc.Key] = err
				k.service.Reject(h, err)
				k.logger.Error("module rejected", "module", mc.Key, "handle", h.String(), "object_type", mc.ObjectType, "error", err)
				continue
			}
			if _, err := k.AddModule(mc.Key, h, a); err != nil {
				return nil, fmt.Errorf("module %s: %w", mc.Key, err)
			}
		}
	}

	for _, dc := range hw.Devices {
		if err := rejectedRole(dc, rejected); err != nil {
			k.disableDevice(dc.Name, err)
			k.logger.Error("device disabled", "device", dc.Name, "error", err)
			continue
		}

		d, err := device.New(dc.DeviceSpec(), k.DeviceEnv())
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Name, err)
		}
		if err := k.AddDevice(d); err != nil {
			return nil, err
		}
	}

	k.logger.Info("kernel built", "nodes", len(hw.Nodes), "modules", k.registry.Len(),
		"rejected", len(rejected), "devices", len(k.Devices()))

	return k, nil
}

// rejectedRole returns the error of the first module of dc that was rejected.
func rejectedRole(dc config.Device, rejected map[string]error) error {
	for _, rb := range dc.Modules {
		if err, ok := rejected[rb.Module]; ok {
			return fmt.Errorf("role %s: module %s rejected: %w", rb.Role, rb.Module, err)
		}
	}

	return nil
}

// OptionsFrom converts kernel settings into kernel options.
func OptionsFrom(s *config.Settings, l logger.Logger) []Option {
	opts := []Option{
		WithTickPeriod(s.TickPeriod),
		WithInboxLimit(s.InboxLimit),
		WithBringUpOptions(
			bringup.WithPollBudget(s.BringUpPolls),
			bringup.WithShutdownBudget(s.ShutdownPolls),
			bringup.WithRequeryInterval(s.RequeryInterval),
		),
	}
	if l != nil {
		opts = append(opts, WithLogger(l))
	}

	return opts
}

// OpenBus opens the transport selected by s. The loopback transport opens a new endpoint
// of lb.
func OpenBus(s config.TransportSettings, lb *canbus.LoopbackBus, l logger.Logger) (canbus.Bus, error) {
	switch s.Kind {
	case config.TransportLoopback:
		if lb == nil {
			return nil, errors.New("kernel: loopback transport needs a loopback bus")
		}
		return lb.Open(), nil
	case config.TransportSLCAN:
		bus, err := slcan.Open(s.Port, s.BaudRate, s.Bitrate, l)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("kernel: unknown transport %q", s.Kind)
	}
}

func withHandle(err error, h fm.Handle) error {
	var cfgErr *fm.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Handle == 0 {
		cfgErr.Handle = h
	}

	return err
}
