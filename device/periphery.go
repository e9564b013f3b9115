package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/fm"
)

// InputChangedFunc receives digital input changes of a periphery role.
type InputChangedFunc func(role string, value uint16)

type peripheryOutput struct {
	out   *adapter.DigitalOutput
	group *TaskGroup
}

type peripheryInput struct {
	in    *adapter.DigitalInput
	group *TaskGroup
}

// Periphery groups the digital inputs and outputs of an instrument panel. Every role
// maps to one digital output or digital input module.
type Periphery struct {
	*Base

	outputs map[string]*peripheryOutput
	inputs  map[string]*peripheryInput

	mu       sync.Mutex
	values   map[string]uint16
	onChange InputChangedFunc
}

var _ Device = (*Periphery)(nil)

// NewPeriphery creates a periphery device from its configuration.
func NewPeriphery(cfg Spec, env Env) (*Periphery, error) {
	base, err := newBase(cfg, env)
	if err != nil {
		return nil, err
	}
	if len(cfg.Modules) == 0 {
		return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: "periphery without modules"}
	}

	p := &Periphery{
		Base:    base,
		outputs: make(map[string]*peripheryOutput),
		inputs:  make(map[string]*peripheryInput),
		values:  make(map[string]uint16),
	}
	for _, role := range base.Roles() {
		m, ok := env.Resolver.Module(base.handles[role])
		if !ok {
			return nil, &fm.ConfigError{Handle: base.handles[role], Field: "device." + cfg.Name, Reason: "module not registered"}
		}
		switch a := m.Adapter().(type) {
		case *adapter.DigitalOutput:
			p.outputs[role] = &peripheryOutput{out: a}
		case *adapter.DigitalInput:
			p.inputs[role] = &peripheryInput{in: a}
		default:
			return nil, &fm.ConfigError{Handle: m.Handle(), Field: "device." + cfg.Name, Reason: fmt.Sprintf("role %q has unsupported object type %s", role, m.ObjectType())}
		}
	}
	base.configure = p.configure
	base.onNotify = p.notification

	return p, nil
}

func (p *Periphery) configure() error {
	for _, role := range p.Roles() {
		h := p.handles[role]

		var err error
		if o, ok := p.outputs[role]; ok {
			o.group, err = NewTaskGroup(p.name+".set_"+role,
				TaskSpec{Name: "set_output", Module: h, Kind: adapter.KindSetOutput, Trigger: Immediate()})
		} else {
			in := p.inputs[role]
			in.group, err = NewTaskGroup(p.name+".read_"+role,
				TaskSpec{Name: "read_input", Module: h, Kind: adapter.KindReadInput, Trigger: Immediate()})
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// SetOutput sets the output of role to value for duration after delay.
func (p *Periphery) SetOutput(role string, value uint16, duration, delay time.Duration, done func(error)) error {
	o, ok := p.outputs[role]
	if !ok {
		return fmt.Errorf("%w: %s has no output %q", ErrUnknownRole, p.name, role)
	}
	cmd, err := o.out.SetOutput(value, duration, delay)
	if err != nil {
		return err
	}

	return p.run(o.group, func(res GroupResult) {
		if res.OK() {
			p.mu.Lock()
			p.values[role] = value
			p.mu.Unlock()
		}
		errDone(done)(res)
	}, Bind(0, cmd))
}

// ReadInput reads the input of role.
func (p *Periphery) ReadInput(role string, done func(uint16, error)) error {
	in, ok := p.inputs[role]
	if !ok {
		return fmt.Errorf("%w: %s has no input %q", ErrUnknownRole, p.name, role)
	}

	return p.run(in.group, func(res GroupResult) {
		if !res.OK() {
			if done != nil {
				done(0, res.Err)
			}
			return
		}
		t, _ := res.Task(0)
		v, err := in.in.DecodeValue(t.Result.Payload)
		if err == nil {
			p.mu.Lock()
			p.values[role] = v
			p.mu.Unlock()
		}
		if done != nil {
			done(v, err)
		}
	}, Bind(0, in.in.ReadInput()))
}

// Value returns the last known value of role.
func (p *Periphery) Value(role string) (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.values[role]

	return v, ok
}

// OnInputChanged registers fn for unsolicited input changes.
func (p *Periphery) OnInputChanged(fn InputChangedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Periphery) notification(role string, n fm.Notification) {
	if n.Event != adapter.EventInputChanged {
		return
	}

	p.mu.Lock()
	p.values[role] = uint16(n.Value)
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		fn(role, uint16(n.Value))
	}
}
