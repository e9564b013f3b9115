package kernel

import "errors"

var (
	// ErrRunning is returned when starting a kernel that is not stopped.
	ErrRunning = errors.New("kernel: already running")
	// ErrUnknownModule is returned for handles no module is registered under.
	ErrUnknownModule = errors.New("kernel: unknown module")
	// ErrUnknownDevice is returned for device names no device is registered under.
	ErrUnknownDevice = errors.New("kernel: unknown device")
	// ErrDuplicateDevice is returned when adding a device whose name is taken.
	ErrDuplicateDevice = errors.New("kernel: duplicate device")
	// ErrCallTimeout is returned by Call when no completion arrived within the call timeout.
	ErrCallTimeout = errors.New("kernel: call timeout")
	// ErrTaskExists is returned when a task with the same name is already running.
	ErrTaskExists = errors.New("kernel: task already running")
	// ErrTaskStopped is returned when a task is started on a stopped manager before Wait.
	ErrTaskStopped = errors.New("kernel: task manager stopped")
)
