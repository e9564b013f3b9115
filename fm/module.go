package fm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/logger"
)

// Module is one function module instance: identity, life-cycle and command engine.
type Module struct {
	key     string
	handle  Handle
	adapter Adapter
	state   *StateMgr
	engine  *Engine
	logger  logger.Logger
	sink    EventSink

	mu           sync.Mutex
	fault        *Fault
	configFrames [][]byte
	configStep   int
}

// NewModule creates a module in the Boot state.
//
// key is the configuration key devices use to resolve the module. sender transmits the
// module's request frames.
func NewModule(key string, h Handle, adapter Adapter, sender Sender, opts ...ModuleOption) (*Module, error) {
	if adapter == nil {
		return nil, &ConfigError{Handle: h, Field: "object_type", Reason: "no adapter"}
	}
	if sender == nil {
		return nil, &ConfigError{Handle: h, Field: "transport", Reason: "no sender"}
	}

	cfg := &moduleConfig{logger: logger.GetLogger()}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	m := &Module{
		key:     key,
		handle:  h,
		adapter: adapter,
		logger:  cfg.logger.With("module", key, "handle", h.String()),
		sink:    cfg.sink,
	}
	m.state = NewStateMgr(h, m.logger, cfg.stateHandlers...)

	specs := append(genericSpecs(), adapter.Commands()...)
	engine, err := NewEngine(h, specs, sender, m.state, m.logger)
	if err != nil {
		return nil, err
	}
	engine.SetListener(cfg.listener)
	m.engine = engine

	return m, nil
}

// Key returns the configuration key of the module.
func (m *Module) Key() string { return m.key }

// Handle returns the module handle.
func (m *Module) Handle() Handle { return m.handle }

// ObjectType returns the adapter object type.
func (m *Module) ObjectType() string { return m.adapter.ObjectType() }

// Adapter returns the module adapter.
func (m *Module) Adapter() Adapter { return m.adapter }

// Engine returns the command engine of the module.
func (m *Module) Engine() *Engine { return m.engine }

// State returns the current life-cycle state.
func (m *Module) State() LifecycleState { return m.state.State() }

// WaitState blocks until the module reaches state or ctx is done.
func (m *Module) WaitState(ctx context.Context, state LifecycleState) error {
	return m.state.WaitState(ctx, state)
}

// AddStateHandler registers life-cycle state change handlers.
func (m *Module) AddStateHandler(handlers ...StateChangeHandler) {
	m.state.AddHandler(handlers...)
}

// SetEventSink replaces the receiver of faults and notifications.
func (m *Module) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Initialize validates addressing and parameters and transitions Boot to Initialized.
// On invalid configuration it returns a *ConfigError and the module stays in Boot.
func (m *Module) Initialize() error {
	switch m.State() {
	case Initialized:
		return nil
	case Boot:
	default:
		return ErrInvalidTransition
	}

	if err := m.handle.Validate(); err != nil {
		return err
	}
	if err := m.adapter.ValidateConfig(); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Handle == 0 {
			cfgErr.Handle = m.handle
		}
		return err
	}

	return m.state.ToInitialized()
}

// Confirm records that the owning node reported the module as present.
// It transitions Initialized to Confirmed and is a no-op if already Confirmed. From any
// other state the call is logged and ignored.
func (m *Module) Confirm() error {
	err := m.state.ToConfirmed()
	if err != nil {
		m.logger.Warn("ignore module present report", "state", m.State())
	}

	return err
}

// Configure transitions Confirmed to Configuring and starts the configuration sequence.
// The module enters Idle once every configuration frame has been acknowledged.
func (m *Module) Configure() error {
	if m.State() == Configuring {
		return nil
	}
	if err := m.state.ToConfiguring(); err != nil {
		return err
	}

	frames := m.adapter.ConfigFrames()

	m.mu.Lock()
	m.configFrames = frames
	m.configStep = 0
	m.mu.Unlock()

	if len(frames) == 0 {
		return m.EnterIdle()
	}

	_, err := m.engine.Submit(KindConfigure, frames[0], m.onConfigAck)

	return err
}

// EnterIdle transitions Configuring to Idle.
func (m *Module) EnterIdle() error {
	if err := m.state.ToIdle(); err != nil {
		return err
	}
	m.logger.Info("module idle", "object_type", m.adapter.ObjectType())

	return nil
}

func (m *Module) onConfigAck(cmd PendingCommand) {
	if !cmd.Outcome.OK() {
		return
	}

	m.mu.Lock()
	m.configStep++
	step, frames := m.configStep, m.configFrames
	m.mu.Unlock()

	if step >= len(frames) {
		if err := m.EnterIdle(); err != nil {
			m.logger.Warn("enter idle failed", "state", m.State(), "error", err)
		}
		return
	}

	if _, err := m.engine.Submit(KindConfigure, frames[step], m.onConfigAck); err != nil {
		m.logger.Error("submit configuration frame failed", "step", step, "error", err)
	}
}

// Submit queues a capability command. It fails with ErrNotReady outside Idle and with
// ErrBusy while a command of the same kind is outstanding.
func (m *Module) Submit(cmd Command, done DoneFunc) (RequestID, error) {
	return m.engine.Submit(cmd.Kind, cmd.Payload, done)
}

// RequestStandby asks the module to enter Standby. The transition happens when the
// request is acknowledged. It is a no-op if the module is already in Standby.
func (m *Module) RequestStandby() error {
	if m.State() == Standby {
		return nil
	}

	_, err := m.engine.Submit(KindModuleState, []byte{ModuleStateStandby}, func(cmd PendingCommand) {
		if !cmd.Outcome.OK() {
			return
		}
		if err := m.state.ToStandby(); err != nil {
			m.logger.Warn("enter standby failed", "state", m.State(), "error", err)
		}
	})

	return err
}

// RequestLifeCycleData queries the module's life-cycle counters. done receives the decoded
// counters or the command error.
func (m *Module) RequestLifeCycleData(done func(LifeCycleData, error)) (RequestID, error) {
	return m.engine.Submit(KindLifeCycleData, nil, func(cmd PendingCommand) {
		if done == nil {
			return
		}
		if err := cmd.Outcome.Err(); err != nil {
			done(LifeCycleData{}, err)
			return
		}
		done(DecodeLifeCycleData(cmd.Outcome.Payload))
	})
}

// HandleFrame dispatches an inbound frame addressed to the module: error events raise a
// fault, acknowledges complete commands and unsolicited frames become notifications.
// Frames that match nothing are dropped.
func (m *Module) HandleFrame(id canbus.MessageID, payload []byte, now time.Time) {
	if id.Class == canbus.ClassSystem {
		switch id.Code {
		case CodeEventError:
			f := DecodeEvent(payload, now)
			m.ReportFault(f.Group, f.Code, f.Data, now)
			return
		case CodeEventWarning, CodeEventInfo:
			event := EventInfo
			if id.Code == CodeEventWarning {
				event = EventWarning
			}
			f := DecodeEvent(payload, now)
			m.logger.Info("module event", "event", event, "group", f.Group, "code", f.Code, "data", f.Data)
			m.notify(Notification{Handle: m.handle, Event: event, Value: int64(f.Code), Payload: payload, Timestamp: now})
			return
		}
	}

	if m.engine.OnFrame(id, payload) {
		return
	}

	if id.Class == canbus.ClassFunction {
		if n, ok := m.adapter.DecodeNotification(id.Code, payload); ok {
			n.Handle = m.handle
			n.Timestamp = now
			m.notify(n)
			return
		}
	}

	m.engine.metrics.incDroppedCount()
	m.logger.Debug("drop unmatched frame", "id", id.String(), "len", len(payload))
}

// ReportFault moves the module to Error, records the fault snapshot and completes every
// outstanding command with DeviceError(code).
func (m *Module) ReportFault(group uint8, code, data uint16, ts time.Time) {
	f := Fault{Group: group, Code: code, Data: data, Timestamp: ts}

	m.mu.Lock()
	m.fault = &f
	sink := m.sink
	m.mu.Unlock()

	m.state.ToError()
	m.logger.Error("module fault", "fault", f.String(), "description", m.adapter.DescribeFault(f))
	m.engine.FailAll(code)

	if sink != nil {
		sink.ModuleFault(m.handle, f)
	}
}

// LastFault returns the snapshot of the last reported fault.
func (m *Module) LastFault() (Fault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fault == nil {
		return Fault{}, false
	}

	return *m.fault, true
}

// Tick transmits queued commands and checks timeouts. A timeout raises a module fault.
func (m *Module) Tick(ctx context.Context, now time.Time) {
	m.engine.DrainQueued(ctx, now)

	expired := m.engine.TickTimeouts(now)
	if len(expired) > 0 {
		m.ReportFault(FaultGroupTimeout, uint16(expired[0].Kind), uint16(len(expired)), now)
	}
}

// Reset returns a module in Error or Standby to Boot and forgets its commands.
// The last fault stays available through LastFault.
func (m *Module) Reset() error {
	if err := m.state.ToBoot(); err != nil {
		return err
	}
	m.engine.Reset()

	m.mu.Lock()
	m.configFrames = nil
	m.configStep = 0
	m.mu.Unlock()

	return nil
}

func (m *Module) notify(n Notification) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()

	if sink != nil {
		sink.ModuleNotification(n)
	}
}
