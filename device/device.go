package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/logger"
)

// LifecycleState is the life-cycle state of a device. A device accepts operations only in Idle.
type LifecycleState uint8

const (
	// Start is the state of a constructed device.
	Start LifecycleState = iota
	// Init means the module roles were resolved.
	Init
	// Config means the task groups of the device were built.
	Config
	// FunctionModuleConfig means the device waits for all of its modules to become Idle.
	FunctionModuleConfig
	Idle
	Error
)

func (s LifecycleState) String() string {
	switch s {
	case Start:
		return "start"
	case Init:
		return "init"
	case Config:
		return "config"
	case FunctionModuleConfig:
		return "function_module_config"
	case Idle:
		return "idle"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("device_state(%d)", uint8(s))
	}
}

// Device is a composition of function modules exposing one logical instrument capability.
//
// The kernel subscribes a device to the modules it depends on and delivers their faults
// and notifications through the fm.EventSink methods during the scheduling tick.
type Device interface {
	fm.EventSink
	Name() string
	Type() string
	State() LifecycleState
	// Handles returns the modules the device depends on in configuration order.
	Handles() []fm.Handle
	LastFault() (fm.Fault, bool)
	// Tick advances the device life-cycle.
	Tick(now time.Time)
	// Reset returns a device in Error to Start.
	Reset() error
}

// ModuleRef assigns the module with configuration key Key to a device role.
type ModuleRef struct {
	Role string
	Key  string
}

// Spec is the in-memory description of one device.
type Spec struct {
	Name    string
	Type    string
	Modules []ModuleRef
	Params  map[string]any
}

// Env holds the collaborators shared by all devices of a kernel.
type Env struct {
	Resolver     fm.Resolver
	Orchestrator *Orchestrator
	Logger       logger.Logger
}

// Base implements the life-cycle, role resolution and fault tracking shared by all devices.
type Base struct {
	name   string
	typ    string
	env    Env
	logger logger.Logger

	roles   []ModuleRef
	handles map[string]fm.Handle
	byKey   map[fm.Handle]string

	// configure builds the task groups of the device when leaving Init.
	configure func() error
	// onNotify receives notifications of the device modules with their role.
	onNotify func(role string, n fm.Notification)

	mu          sync.Mutex
	state       LifecycleState
	fault       *fm.Fault
	faultModule fm.Handle
}

func newBase(cfg Spec, env Env) (*Base, error) {
	if cfg.Name == "" {
		return nil, &fm.ConfigError{Field: "device.name", Reason: "must not be empty"}
	}
	if env.Resolver == nil || env.Orchestrator == nil {
		return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: "no resolver or orchestrator"}
	}
	l := env.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	b := &Base{
		name:    cfg.Name,
		typ:     cfg.Type,
		env:     env,
		logger:  l.With("device", cfg.Name),
		handles: make(map[string]fm.Handle, len(cfg.Modules)),
		byKey:   make(map[fm.Handle]string, len(cfg.Modules)),
	}
	for _, ref := range cfg.Modules {
		if _, dup := b.handles[ref.Role]; dup {
			return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: fmt.Sprintf("role %q assigned twice", ref.Role)}
		}
		h, ok := env.Resolver.HandleOf(ref.Key)
		if !ok {
			return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: fmt.Sprintf("role %q references unknown module %q", ref.Role, ref.Key)}
		}
		b.roles = append(b.roles, ref)
		b.handles[ref.Role] = h
		b.byKey[h] = ref.Role
	}

	return b, nil
}

// resolveRole returns the handle and typed adapter of the module assigned to role.
func resolveRole[T fm.Adapter](b *Base, role string) (fm.Handle, T, error) {
	var zero T

	h, ok := b.handles[role]
	if !ok {
		return 0, zero, &fm.ConfigError{Field: "device." + b.name, Reason: fmt.Sprintf("required role %q not configured", role)}
	}
	m, ok := b.env.Resolver.Module(h)
	if !ok {
		return 0, zero, &fm.ConfigError{Handle: h, Field: "device." + b.name, Reason: fmt.Sprintf("module of role %q not registered", role)}
	}
	a, ok := m.Adapter().(T)
	if !ok {
		return 0, zero, &fm.ConfigError{Handle: h, Field: "device." + b.name, Reason: fmt.Sprintf("role %q has object type %s", role, m.ObjectType())}
	}

	return h, a, nil
}

func (b *Base) Name() string { return b.name }

func (b *Base) Type() string { return b.typ }

func (b *Base) State() LifecycleState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *Base) Handles() []fm.Handle {
	out := make([]fm.Handle, 0, len(b.roles))
	for _, ref := range b.roles {
		out = append(out, b.handles[ref.Role])
	}

	return out
}

// Roles returns the configured roles in configuration order.
func (b *Base) Roles() []string {
	out := make([]string, 0, len(b.roles))
	for _, ref := range b.roles {
		out = append(out, ref.Role)
	}

	return out
}

// LastFault returns the module fault that moved the device to Error.
func (b *Base) LastFault() (fm.Fault, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fault == nil {
		return fm.Fault{}, false
	}

	return *b.fault, true
}

// FaultModule returns the handle of the module that reported the last fault.
func (b *Base) FaultModule() fm.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.faultModule
}

// ModuleFault moves the device to Error.
func (b *Base) ModuleFault(h fm.Handle, f fm.Fault) {
	b.mu.Lock()
	b.fault = &f
	b.faultModule = h
	prev := b.state
	b.state = Error
	b.mu.Unlock()

	b.logger.Error("device fault", "role", b.byKey[h], "handle", h.String(), "fault", f.String(), "prev_state", prev)
}

// ModuleNotification forwards n to the device with the role of its module.
func (b *Base) ModuleNotification(n fm.Notification) {
	role, ok := b.byKey[n.Handle]
	if !ok || b.onNotify == nil {
		return
	}
	b.onNotify(role, n)
}

// Tick advances Start -> Init -> Config -> FunctionModuleConfig -> Idle. An Idle device
// whose modules leave Idle, e.g. on shutdown, waits in FunctionModuleConfig again.
func (b *Base) Tick(time.Time) {
	switch b.State() {
	case Start:
		for _, h := range b.Handles() {
			if _, ok := b.env.Resolver.Module(h); !ok {
				b.fail(&fm.ConfigError{Handle: h, Field: "device." + b.name, Reason: "module not registered"})
				return
			}
		}
		b.setState(Init)

	case Init:
		if b.configure != nil {
			if err := b.configure(); err != nil {
				b.fail(err)
				return
			}
		}
		b.setState(Config)

	case Config:
		b.setState(FunctionModuleConfig)

	case FunctionModuleConfig:
		if b.modulesIn(fm.Idle) {
			b.setState(Idle)
		}

	case Idle:
		if !b.modulesIn(fm.Idle) {
			b.setState(FunctionModuleConfig)
		}

	case Error:
	}
}

// Reset returns a device in Error to Start. The last fault stays available.
func (b *Base) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Error {
		return fmt.Errorf("%w: device %s is %s", fm.ErrInvalidTransition, b.name, b.state)
	}
	b.state = Start

	return nil
}

// run activates g for one device operation. It fails with fm.ErrNotReady outside Idle.
func (b *Base) run(g *TaskGroup, done GroupDoneFunc, bindings ...Binding) error {
	if state := b.State(); state != Idle {
		return fmt.Errorf("%w: device %s is %s", fm.ErrNotReady, b.name, state)
	}

	return b.env.Orchestrator.Activate(g, done, bindings...)
}

func (b *Base) modulesIn(state fm.LifecycleState) bool {
	for _, h := range b.Handles() {
		m, ok := b.env.Resolver.Module(h)
		if !ok || m.State() != state {
			return false
		}
	}

	return true
}

func (b *Base) setState(s LifecycleState) {
	b.mu.Lock()
	if b.state == Error {
		b.mu.Unlock()
		return
	}
	prev := b.state
	b.state = s
	b.mu.Unlock()

	b.logger.Debug("device state changed", "prev", prev, "state", s)
	if s == Idle {
		b.logger.Info("device idle", "type", b.typ)
	}
}

func (b *Base) fail(err error) {
	b.mu.Lock()
	b.state = Error
	b.mu.Unlock()

	b.logger.Error("device configuration failed", "error", err)
}

// errDone adapts a func(error) callback to a group callback.
func errDone(done func(error)) GroupDoneFunc {
	return func(res GroupResult) {
		if done != nil {
			done(res.Err)
		}
	}
}
