package fm

import "errors"

var (
	// ErrBusy indicates a command of the same kind is already queued or sent for the module.
	ErrBusy = errors.New("fm: command of the same kind is outstanding")

	// ErrNotReady indicates a capability was invoked while the module is not in a state that accepts it.
	ErrNotReady = errors.New("fm: module is not ready")

	// ErrUnknownKind indicates the module does not declare the requested command kind.
	ErrUnknownKind = errors.New("fm: unknown command kind")

	// ErrPayloadTooLong indicates a command payload that does not fit a single frame.
	ErrPayloadTooLong = errors.New("fm: payload exceeds frame length")
)

var (
	// ErrInvalidTransition is returned when a life-cycle transition is not allowed from the current state.
	ErrInvalidTransition = errors.New("fm: invalid state transition")

	// ErrConfigInvalid indicates missing or contradictory module or device wiring.
	ErrConfigInvalid = errors.New("fm: configuration invalid")

	// ErrDuplicateModule indicates a module handle or key registered twice.
	ErrDuplicateModule = errors.New("fm: duplicate module")
)

var (
	// ErrProtocolTimeout indicates no acknowledge arrived within the command's timeout.
	ErrProtocolTimeout = errors.New("fm: protocol timeout")

	// ErrDeviceFault indicates the module signalled an error condition over the bus.
	ErrDeviceFault = errors.New("fm: device reported fault")
)
