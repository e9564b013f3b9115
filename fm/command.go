package fm

import (
	"fmt"
	"time"

	"github.com/arloliu/go-dcl/canbus"
)

// CommandKind identifies one command type of a module. Kinds are scoped to a module;
// at most one command per kind is outstanding at a time.
type CommandKind uint8

// Generic command kinds handled by every module. Adapter specific kinds start at KindUser.
const (
	KindConfigure CommandKind = iota + 1
	KindModuleState
	KindLifeCycleData

	KindUser CommandKind = 0x10
)

// Default command timeouts.
const (
	StatusTimeout = 750 * time.Millisecond  // status and telemetry reads
	WriteTimeout  = 1000 * time.Millisecond // set values and configuration writes
	MotionTimeout = 5000 * time.Millisecond // motion commands
)

// System class message codes.
const (
	// CodeQueryModules asks a node for its module list; the reply carries a channel bitmask.
	CodeQueryModules uint8 = 0x01
	// CodeEventError is an unsolicited error event of a module.
	CodeEventError uint8 = 0x10
	// CodeEventWarning is an unsolicited warning event of a module.
	CodeEventWarning uint8 = 0x11
	// CodeEventInfo is an unsolicited info event of a module.
	CodeEventInfo uint8 = 0x12
	// CodeModuleState requests a module state change, standby only.
	CodeModuleState uint8 = 0x20
	// CodeLifeCycleData requests the module's operation time and cycle counters.
	CodeLifeCycleData uint8 = 0x22
)

// CodeConfigure is the function class code of configuration frames.
const CodeConfigure uint8 = 0x01

// ModuleStateStandby is the payload of a standby request.
const ModuleStateStandby byte = 0x01

// CommandSpec declares how a command kind is carried on the bus.
type CommandSpec struct {
	Kind CommandKind
	Name string
	// Class is the message class of both request and acknowledge.
	Class canbus.Class
	// RequestCode is the code of the master-to-slave request frame.
	RequestCode uint8
	// AckCode is the code of the slave-to-master acknowledge frame.
	AckCode uint8
	// Timeout is the fixed acknowledge budget of the kind.
	Timeout time.Duration
	// Config marks kinds that are only accepted while the module is Configuring.
	Config bool
}

func genericSpecs() []CommandSpec {
	return []CommandSpec{
		{Kind: KindConfigure, Name: "configure", Class: canbus.ClassFunction, RequestCode: CodeConfigure, AckCode: CodeConfigure, Timeout: WriteTimeout, Config: true},
		{Kind: KindModuleState, Name: "module_state", Class: canbus.ClassSystem, RequestCode: CodeModuleState, AckCode: CodeModuleState, Timeout: WriteTimeout},
		{Kind: KindLifeCycleData, Name: "life_cycle_data", Class: canbus.ClassSystem, RequestCode: CodeLifeCycleData, AckCode: CodeLifeCycleData, Timeout: StatusTimeout},
	}
}

// Command is a typed capability call translated into a kind and payload.
type Command struct {
	Kind    CommandKind
	Payload []byte
}

// CommandState is the progress of a PendingCommand.
type CommandState uint8

const (
	Queued CommandState = iota
	Sent
	Completed
)

func (s CommandState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sent:
		return "sent"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// OutcomeKind discriminates an Outcome.
type OutcomeKind uint8

const (
	// OutcomeSuccess means the command was acknowledged.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeDeviceError means the module reported a fault while the command was outstanding.
	OutcomeDeviceError
	// OutcomeTimeout means no acknowledge arrived within the command's timeout.
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeDeviceError:
		return "device_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is the single result of a PendingCommand.
type Outcome struct {
	Kind OutcomeKind
	// Payload is the acknowledge payload of a successful command.
	Payload []byte
	// Code is the fault code of a device error.
	Code uint16
}

// Success creates a successful outcome carrying the acknowledge payload.
func Success(payload []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// DeviceError creates an outcome for a fault reported by the module.
func DeviceError(code uint16) Outcome {
	return Outcome{Kind: OutcomeDeviceError, Code: code}
}

// TimeoutOutcome creates an outcome for a missing acknowledge.
func TimeoutOutcome() Outcome {
	return Outcome{Kind: OutcomeTimeout}
}

// OK returns true for a successful outcome.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// Err converts the outcome into an error; it returns nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return ErrProtocolTimeout
	default:
		return fmt.Errorf("%w: code 0x%04X", ErrDeviceFault, o.Code)
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("success(% X)", o.Payload)
	case OutcomeDeviceError:
		return fmt.Sprintf("device_error(0x%04X)", o.Code)
	default:
		return o.Kind.String()
	}
}

// PendingCommand is one request of a module on its way through the engine.
type PendingCommand struct {
	ID          RequestID
	Kind        CommandKind
	Name        string
	State       CommandState
	Payload     []byte
	IssuedAt    time.Time
	Timeout     time.Duration
	Correlation Handle
	// Outcome is valid once State is Completed.
	Outcome Outcome

	done DoneFunc
}

// DoneFunc is invoked exactly once from the scheduling tick when a command completes.
type DoneFunc func(cmd PendingCommand)
