package fm

import "github.com/arloliu/go-dcl/logger"

// EventSink receives module faults and notifications. The kernel implements it with
// subscription tables dispatched from the scheduling tick.
type EventSink interface {
	ModuleFault(h Handle, f Fault)
	ModuleNotification(n Notification)
}

type moduleConfig struct {
	logger        logger.Logger
	sink          EventSink
	stateHandlers []StateChangeHandler
	listener      DoneFunc
}

// ModuleOption is a functional option for configuring a Module.
type ModuleOption interface {
	apply(*moduleConfig) error
}

type moduleOptFunc func(*moduleConfig) error

func (f moduleOptFunc) apply(cfg *moduleConfig) error { return f(cfg) }

// WithLogger sets the logger of the module. The module adds its key and handle as fields.
func WithLogger(l logger.Logger) ModuleOption {
	return moduleOptFunc(func(cfg *moduleConfig) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	})
}

// WithEventSink sets the receiver of faults and notifications.
func WithEventSink(sink EventSink) ModuleOption {
	return moduleOptFunc(func(cfg *moduleConfig) error {
		cfg.sink = sink
		return nil
	})
}

// WithStateHandler adds life-cycle state change handlers.
func WithStateHandler(handlers ...StateChangeHandler) ModuleOption {
	return moduleOptFunc(func(cfg *moduleConfig) error {
		cfg.stateHandlers = append(cfg.stateHandlers, handlers...)
		return nil
	})
}

// WithOutcomeListener sets a function observing every command completion of the module,
// e.g. to notify an archival collaborator.
func WithOutcomeListener(fn DoneFunc) ModuleOption {
	return moduleOptFunc(func(cfg *moduleConfig) error {
		cfg.listener = fn
		return nil
	})
}
