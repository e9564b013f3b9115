package kernel

import "sync/atomic"

// RunState is the run state of a kernel.
type RunState uint32

const (
	StoppedState RunState = iota
	StoppingState
	StartingState
	RunningState
)

func (s RunState) String() string {
	switch s {
	case StoppedState:
		return "Stopped"
	case StoppingState:
		return "Stopping"
	case StartingState:
		return "Starting"
	case RunningState:
		return "Running"
	default:
		return "Unknown"
	}
}

// AtomicRunState is a RunState with compare-and-swap transitions.
type AtomicRunState struct {
	state atomic.Uint32
}

func (st *AtomicRunState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicRunState) Get() RunState {
	return RunState(st.state.Load())
}

func (st *AtomicRunState) IsStopped() bool {
	return st.Get() == StoppedState
}

func (st *AtomicRunState) IsRunning() bool {
	return st.Get() == RunningState
}

func (st *AtomicRunState) ToStarting() bool {
	return st.state.CompareAndSwap(uint32(StoppedState), uint32(StartingState))
}

func (st *AtomicRunState) ToRunning() bool {
	if st.IsRunning() {
		return true
	}

	return st.state.CompareAndSwap(uint32(StartingState), uint32(RunningState))
}

func (st *AtomicRunState) ToStopping() bool {
	result := st.state.CompareAndSwap(uint32(RunningState), uint32(StoppingState))
	if !result {
		return st.state.CompareAndSwap(uint32(StartingState), uint32(StoppingState))
	}

	return result
}

func (st *AtomicRunState) ToStopped() bool {
	if st.IsStopped() {
		return true
	}

	return st.state.CompareAndSwap(uint32(StoppingState), uint32(StoppedState))
}
