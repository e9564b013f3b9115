package fm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/internal/util"
	"github.com/arloliu/go-dcl/logger"
)

// Sender transmits request frames. canbus.Bus implements it.
type Sender interface {
	Send(ctx context.Context, frame canbus.Frame) error
}

// StateSource reports the life-cycle state used to gate submissions.
type StateSource interface {
	State() LifecycleState
}

type ackKey struct {
	class canbus.Class
	code  uint8
}

// Engine makes the commands of one module awaitable with bounded latency.
//
// Submit may be called from any goroutine. DrainQueued, OnFrame, TickTimeouts and
// FailAll are driven by the scheduling tick; completion callbacks are invoked from
// those calls after the engine lock is released.
type Engine struct {
	mu       sync.Mutex
	handle   Handle
	sender   Sender
	gate     StateSource
	logger   logger.Logger
	metrics  EngineMetrics
	specs    map[CommandKind]CommandSpec
	order    []CommandKind
	acks     map[ackKey]CommandKind
	entries  map[CommandKind]*PendingCommand
	listener DoneFunc
}

// NewEngine creates the engine of module h for the declared command specs. l is expected
// to carry the module context; a nil l selects the default logger tagged with the handle.
func NewEngine(h Handle, specs []CommandSpec, sender Sender, gate StateSource, l logger.Logger) (*Engine, error) {
	if l == nil {
		l = logger.GetLogger().With("handle", h.String())
	}

	e := &Engine{
		handle:  h,
		sender:  sender,
		gate:    gate,
		logger:  l,
		specs:   make(map[CommandKind]CommandSpec, len(specs)),
		order:   make([]CommandKind, 0, len(specs)),
		acks:    make(map[ackKey]CommandKind, len(specs)),
		entries: make(map[CommandKind]*PendingCommand, len(specs)),
	}

	for _, spec := range specs {
		if _, ok := e.specs[spec.Kind]; ok {
			return nil, &ConfigError{Handle: h, Field: "command", Reason: fmt.Sprintf("kind %d declared twice", spec.Kind)}
		}
		key := ackKey{class: spec.Class, code: spec.AckCode}
		if other, ok := e.acks[key]; ok {
			return nil, &ConfigError{Handle: h, Field: "command", Reason: fmt.Sprintf("%s shares acknowledge code 0x%02X with kind %d", spec.Name, spec.AckCode, other)}
		}
		if spec.Timeout <= 0 {
			return nil, &ConfigError{Handle: h, Field: "command", Reason: spec.Name + " has no timeout"}
		}
		if spec.RequestCode > canbus.MaxCode || spec.AckCode > canbus.MaxCode {
			return nil, &ConfigError{Handle: h, Field: "command", Reason: spec.Name + " code out of range"}
		}

		e.specs[spec.Kind] = spec
		e.order = append(e.order, spec.Kind)
		e.acks[key] = spec.Kind
	}

	return e, nil
}

// Handle returns the module handle the engine serves.
func (e *Engine) Handle() Handle { return e.handle }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *EngineMetrics { return &e.metrics }

// Spec returns the declared spec of kind.
func (e *Engine) Spec(kind CommandKind) (CommandSpec, bool) {
	spec, ok := e.specs[kind]
	return spec, ok
}

// SetListener registers a function observing every completion after the per-command callback.
func (e *Engine) SetListener(fn DoneFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// Submit appends a Queued command of kind.
//
// It returns ErrBusy if a command of the same kind is Queued or Sent, and ErrNotReady if
// the module is not Idle (or not Configuring for configuration kinds). done, if not nil,
// is invoked exactly once when the command completes.
func (e *Engine) Submit(kind CommandKind, payload []byte, done DoneFunc) (RequestID, error) {
	spec, ok := e.specs[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if len(payload) > canbus.MaxDataLen {
		return 0, fmt.Errorf("%w: %s carries %d bytes", ErrPayloadTooLong, spec.Name, len(payload))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	want := Idle
	if spec.Config {
		want = Configuring
	}
	if state := e.gate.State(); state != want {
		e.metrics.incRejectedCount()
		return 0, fmt.Errorf("%w: %s requires %s, module is %s", ErrNotReady, spec.Name, want, state)
	}

	if cur, ok := e.entries[kind]; ok && cur.State != Completed {
		e.metrics.incRejectedCount()
		return 0, fmt.Errorf("%w: %s", ErrBusy, spec.Name)
	}

	cmd := &PendingCommand{
		ID:          GenerateRequestID(),
		Kind:        kind,
		Name:        spec.Name,
		State:       Queued,
		Payload:     util.CloneSlice(payload, 0),
		Timeout:     spec.Timeout,
		Correlation: e.handle,
		done:        done,
	}
	e.entries[kind] = cmd
	e.metrics.incSubmittedCount()

	return cmd.ID, nil
}

// DrainQueued transmits every Queued command, records now as its issue time and
// marks it Sent. A frame the transport rejects stays Sent and completes by timeout.
// It returns the number of frames handed to the transport.
func (e *Engine) DrainQueued(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	frames := make([]canbus.Frame, 0, 2)
	names := make([]string, 0, 2)
	for _, kind := range e.order {
		cmd, ok := e.entries[kind]
		if !ok || cmd.State != Queued {
			continue
		}

		spec := e.specs[kind]
		frame, err := e.requestFrame(spec, cmd.Payload)
		cmd.State = Sent
		cmd.IssuedAt = now
		if err != nil {
			e.logger.Error("encode request frame failed", "kind", spec.Name, "error", err)
			continue
		}
		frames = append(frames, frame)
		names = append(names, spec.Name)
	}
	e.mu.Unlock()

	for i, frame := range frames {
		if err := e.sender.Send(ctx, frame); err != nil {
			e.metrics.incSendErrCount()
			e.logger.Warn("send request frame failed", "kind", names[i], "error", err)
			continue
		}
		e.metrics.incSentCount()
	}

	return len(frames)
}

// OnFrame matches an acknowledge frame against the Sent command of the kind it answers
// and completes it with Success. It returns false if no Sent command matched.
func (e *Engine) OnFrame(id canbus.MessageID, payload []byte) bool {
	e.mu.Lock()
	kind, ok := e.acks[ackKey{class: id.Class, code: id.Code}]
	cmd := e.entries[kind]
	if !ok || cmd == nil || cmd.State != Sent {
		e.mu.Unlock()
		return false
	}

	e.complete(cmd, Success(util.CloneSlice(payload, 0)))
	e.metrics.incAckCount()
	snapshot, done, listener := *cmd, cmd.done, e.listener
	e.mu.Unlock()

	notify(snapshot, done, listener)

	return true
}

// TickTimeouts completes every Sent command whose age reached its timeout with Timeout.
// It returns the commands that timed out.
func (e *Engine) TickTimeouts(now time.Time) []PendingCommand {
	e.mu.Lock()
	var expired []PendingCommand
	for _, kind := range e.order {
		cmd, ok := e.entries[kind]
		if !ok || cmd.State != Sent || now.Sub(cmd.IssuedAt) < cmd.Timeout {
			continue
		}

		e.complete(cmd, TimeoutOutcome())
		e.metrics.incTimeoutCount()
		expired = append(expired, *cmd)
	}
	listener := e.listener
	e.mu.Unlock()

	for _, cmd := range expired {
		notify(cmd, cmd.done, listener)
	}

	return expired
}

// FailAll completes every Queued or Sent command with DeviceError(code).
// It returns the commands it completed.
func (e *Engine) FailAll(code uint16) []PendingCommand {
	e.mu.Lock()
	var failed []PendingCommand
	for _, kind := range e.order {
		cmd, ok := e.entries[kind]
		if !ok || cmd.State == Completed {
			continue
		}

		e.complete(cmd, DeviceError(code))
		e.metrics.incFaultCount()
		failed = append(failed, *cmd)
	}
	listener := e.listener
	e.mu.Unlock()

	for _, cmd := range failed {
		notify(cmd, cmd.done, listener)
	}

	return failed
}

// Reset forgets all commands. Outstanding commands are completed with DeviceError first.
func (e *Engine) Reset() {
	e.FailAll(0)

	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.entries)
}

// Pending returns a snapshot of the latest command of kind.
func (e *Engine) Pending(kind CommandKind) (PendingCommand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd, ok := e.entries[kind]
	if !ok {
		return PendingCommand{}, false
	}

	return *cmd, true
}

// Outstanding returns the number of Queued or Sent commands.
func (e *Engine) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, cmd := range e.entries {
		if cmd.State != Completed {
			n++
		}
	}

	return n
}

// complete must be called with mu held. It is the single transition into Completed.
func (e *Engine) complete(cmd *PendingCommand, outcome Outcome) {
	cmd.State = Completed
	cmd.Outcome = outcome

	if outcome.Kind != OutcomeSuccess {
		e.logger.Warn("command failed", "kind", cmd.Name, "id", cmd.ID, "outcome", outcome.String())
	}
}

func (e *Engine) requestFrame(spec CommandSpec, payload []byte) (canbus.Frame, error) {
	id, err := e.handle.MessageID(spec.Class, spec.RequestCode).Encode()
	if err != nil {
		return canbus.Frame{}, err
	}

	return canbus.NewFrame(id, payload)
}

func notify(cmd PendingCommand, done DoneFunc, listener DoneFunc) {
	cmd.done = nil
	if done != nil {
		done(cmd)
	}
	if listener != nil {
		listener(cmd)
	}
}
