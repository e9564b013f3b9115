package device

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/fm"
)

// Rotary valve roles. The temperature control is optional.
const (
	RoleValveMotor  = "motor"
	RoleValveHeater = "temp_ctrl"
)

// RotaryValveParams holds the device parameters of a rotary valve.
type RotaryValveParams struct {
	// Tubes is the number of tube positions.
	Tubes int `param:"tubes"`
	// StepsPerTube is the motor distance between two tube positions.
	StepsPerTube int32 `param:"steps_per_tube"`
	// Offset is the motor position of tube 0.
	Offset int32 `param:"offset"`
	// Profile is the motion profile used for tube movements.
	Profile uint8 `param:"profile"`
}

// RotaryValve routes a common port to one of several tubes by rotating a valve disc.
type RotaryValve struct {
	*Base
	params RotaryValveParams

	motorHandle fm.Handle
	motor       *adapter.StepperMotor
	heatHandle  fm.Handle
	heater      *adapter.TemperatureControl

	reference *TaskGroup
	move      *TaskGroup
	heat      *TaskGroup

	mu         sync.Mutex
	referenced bool
	tube       int
}

var _ Device = (*RotaryValve)(nil)

// NewRotaryValve creates a rotary valve from its configuration.
func NewRotaryValve(cfg Spec, env Env) (*RotaryValve, error) {
	base, err := newBase(cfg, env)
	if err != nil {
		return nil, err
	}
	params, err := decodeParams[RotaryValveParams](cfg.Name, cfg.Params)
	if err != nil {
		return nil, err
	}
	if params.Tubes <= 0 || params.StepsPerTube <= 0 {
		return nil, &fm.ConfigError{Field: "device." + cfg.Name, Reason: "tubes and steps_per_tube must be positive"}
	}

	v := &RotaryValve{Base: base, params: params, tube: -1}
	if v.motorHandle, v.motor, err = resolveRole[*adapter.StepperMotor](base, RoleValveMotor); err != nil {
		return nil, err
	}
	if _, ok := base.handles[RoleValveHeater]; ok {
		if v.heatHandle, v.heater, err = resolveRole[*adapter.TemperatureControl](base, RoleValveHeater); err != nil {
			return nil, err
		}
	}
	base.configure = v.configure

	return v, nil
}

func (v *RotaryValve) configure() error {
	var err error

	v.reference, err = NewTaskGroup(v.name+".reference_run",
		TaskSpec{Name: "enable_motor", Module: v.motorHandle, Kind: adapter.KindSetMotorState, Trigger: Immediate()},
		TaskSpec{Name: "reference_run", Module: v.motorHandle, Kind: adapter.KindReferenceRun, Trigger: AfterTaskFinished(0)},
	)
	if err != nil {
		return err
	}

	v.move, err = NewTaskGroup(v.name+".move_to_tube",
		TaskSpec{Name: "move", Module: v.motorHandle, Kind: adapter.KindMovePosition, Trigger: Immediate()},
	)
	if err != nil || v.heater == nil {
		return err
	}

	v.heat, err = NewTaskGroup(v.name+".heat",
		TaskSpec{Name: "set_temperature", Module: v.heatHandle, Kind: adapter.KindSetTemperature, Trigger: Immediate()},
		TaskSpec{Name: "switch_on", Module: v.heatHandle, Kind: adapter.KindSetTempCtrlState, Trigger: AfterTaskFinished(0)},
	)

	return err
}

// ReferenceRun enables the motor and runs a reference run. Tube movements require a
// successful reference run.
func (v *RotaryValve) ReferenceRun(done func(error)) error {
	v.mu.Lock()
	v.referenced = false
	v.mu.Unlock()

	return v.run(v.reference, func(res GroupResult) {
		if res.OK() {
			v.mu.Lock()
			v.referenced = true
			v.tube = -1
			v.mu.Unlock()
		}
		errDone(done)(res)
	},
		Bind(0, v.motor.SetState(true)),
		Bind(1, v.motor.ReferenceRun()),
	)
}

// MoveToTube rotates the valve to tube, 0 based.
func (v *RotaryValve) MoveToTube(tube int, done func(error)) error {
	if tube < 0 || tube >= v.params.Tubes {
		return fmt.Errorf("device: tube %d out of range [0, %d)", tube, v.params.Tubes)
	}

	v.mu.Lock()
	referenced := v.referenced
	v.mu.Unlock()
	if !referenced {
		return fmt.Errorf("%w: rotary valve %s is not referenced", fm.ErrNotReady, v.name)
	}

	cmd, err := v.motor.DrivePosition(v.params.Offset+int32(tube)*v.params.StepsPerTube, v.params.Profile)
	if err != nil {
		return err
	}

	return v.run(v.move, func(res GroupResult) {
		v.mu.Lock()
		if res.OK() {
			v.tube = tube
		} else {
			v.tube = -1
		}
		v.mu.Unlock()
		errDone(done)(res)
	}, Bind(0, cmd))
}

// SetTemperature heats the valve body. It fails with ErrUnknownRole if the valve has no heater.
func (v *RotaryValve) SetTemperature(celsius float64, done func(error)) error {
	if v.heater == nil {
		return fmt.Errorf("%w: %s has no %s", ErrUnknownRole, v.name, RoleValveHeater)
	}
	set, err := v.heater.SetTemperature(celsius)
	if err != nil {
		return err
	}

	return v.run(v.heat, errDone(done), Bind(0, set), Bind(1, v.heater.SetState(true)))
}

// Referenced returns true after a successful reference run.
func (v *RotaryValve) Referenced() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.referenced
}

// Tube returns the current tube, or -1 if unknown.
func (v *RotaryValve) Tube() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.tube
}
