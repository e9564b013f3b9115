package fm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-dcl/logger"
)

// LifecycleState represents the life-cycle stages of a function module.
type LifecycleState uint32

// Function module life-cycle states.
const (
	// Boot is the initial state; the module has no addressing or configuration yet.
	Boot LifecycleState = iota
	// Initialized indicates addressing and configuration were validated.
	Initialized
	// Confirmed indicates the owning node reported the module as present.
	Confirmed
	// Configuring indicates the configuration frames are being sent and acknowledged.
	Configuring
	// Idle indicates the module accepts capability requests.
	Idle
	// Standby indicates the module was shut down on request.
	Standby
	// Error indicates a fault was reported; only Reset leaves this state.
	Error
)

// String returns string representation of the state.
func (s LifecycleState) String() string {
	switch s {
	case Boot:
		return "boot"
	case Initialized:
		return "initialized"
	case Confirmed:
		return "confirmed"
	case Configuring:
		return "configuring"
	case Idle:
		return "idle"
	case Standby:
		return "standby"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked after a module changed its life-cycle state.
//
// Note: the handler is invoked synchronously while the state manager lock is held;
// it must not call back into the same state manager.
type StateChangeHandler func(h Handle, prevState LifecycleState, newState LifecycleState)

// StateMgr manages the life-cycle state of one module.
//
// Transitions are serialized by a mutex while the current state can be read lock-free.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	handle   Handle
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a state manager in the Boot state. A nil l selects the default
// logger tagged with the handle.
func NewStateMgr(h Handle, l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger().With("handle", h.String())
	}

	sm := &StateMgr{handle: h, logger: l}
	sm.cond = sync.NewCond(&sm.mu)
	sm.handlers = append(sm.handlers, handlers...)
	sm.state.Store(uint32(Boot))

	return sm
}

// State returns the current state.
func (sm *StateMgr) State() LifecycleState {
	return LifecycleState(sm.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on state changes.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handlers...)
}

// WaitState waits for the module to reach state or until the context is done.
func (sm *StateMgr) WaitState(ctx context.Context, state LifecycleState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stop()

	for sm.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

// ToInitialized transitions Boot to Initialized. It is a no-op if already Initialized.
func (sm *StateMgr) ToInitialized() error {
	return sm.transition(Initialized, Boot)
}

// ToConfirmed transitions Initialized to Confirmed. It is a no-op if already Confirmed.
func (sm *StateMgr) ToConfirmed() error {
	return sm.transition(Confirmed, Initialized)
}

// ToConfiguring transitions Confirmed to Configuring. It is a no-op if already Configuring.
func (sm *StateMgr) ToConfiguring() error {
	return sm.transition(Configuring, Confirmed)
}

// ToIdle transitions Configuring to Idle. It is a no-op if already Idle.
func (sm *StateMgr) ToIdle() error {
	return sm.transition(Idle, Configuring)
}

// ToStandby transitions Idle to Standby. It is a no-op if already Standby.
func (sm *StateMgr) ToStandby() error {
	return sm.transition(Standby, Idle)
}

// ToError transitions any state to Error.
func (sm *StateMgr) ToError() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == Error {
		return
	}
	sm.setState(cur, Error)
}

// ToBoot resets an Error or Standby module to Boot. It is a no-op if already Boot.
func (sm *StateMgr) ToBoot() error {
	return sm.transition(Boot, Error, Standby)
}

func (sm *StateMgr) transition(target LifecycleState, from ...LifecycleState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == target {
		return nil
	}

	for _, s := range from {
		if cur == s {
			sm.setState(cur, target)
			return nil
		}
	}

	sm.logger.Debug("reject life-cycle transition", "cur_state", cur, "desired_state", target)

	return ErrInvalidTransition
}

// setState must be called with mu held.
func (sm *StateMgr) setState(prev, next LifecycleState) {
	sm.state.Store(uint32(next))
	sm.cond.Broadcast()

	sm.logger.Debug("life-cycle state changed", "prev_state", prev, "state", next)
	for _, handler := range sm.handlers {
		if handler != nil {
			handler(sm.handle, prev, next)
		}
	}
}
