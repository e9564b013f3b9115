package device

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/fm"
)

// Oven roles.
const (
	RoleCoverMotor = "cover_motor"
	RoleTempCtrl   = "temp_ctrl"
)

// OvenParams holds the device parameters of an oven.
type OvenParams struct {
	CoverOpenPosition   int32 `param:"cover_open_position"`
	CoverClosedPosition int32 `param:"cover_closed_position"`
	// CoverProfile is the motion profile used for cover movements.
	CoverProfile uint8 `param:"cover_profile"`
}

// Task ids of the oven groups.
const (
	taskEnableMotor TaskID = iota
	taskReferenceRun
	taskMoveCover
)

// Oven is a heated chamber with a motor driven cover.
type Oven struct {
	*Base
	params OvenParams

	motorHandle fm.Handle
	motor       *adapter.StepperMotor
	tempHandle  fm.Handle
	temp        *adapter.TemperatureControl

	moveCover *TaskGroup
	heat      *TaskGroup
	stopHeat  *TaskGroup
	readTemp  *TaskGroup

	mu           sync.Mutex
	coverOpen    bool
	coverPos     int32
	levelReached bool
}

var _ Device = (*Oven)(nil)

// NewOven creates an oven from its configuration.
func NewOven(cfg Spec, env Env) (*Oven, error) {
	base, err := newBase(cfg, env)
	if err != nil {
		return nil, err
	}
	params, err := decodeParams[OvenParams](cfg.Name, cfg.Params)
	if err != nil {
		return nil, err
	}

	o := &Oven{Base: base, params: params}
	if o.motorHandle, o.motor, err = resolveRole[*adapter.StepperMotor](base, RoleCoverMotor); err != nil {
		return nil, err
	}
	if o.tempHandle, o.temp, err = resolveRole[*adapter.TemperatureControl](base, RoleTempCtrl); err != nil {
		return nil, err
	}
	base.configure = o.configure
	base.onNotify = o.notification

	return o, nil
}

func (o *Oven) configure() error {
	var err error

	o.moveCover, err = NewTaskGroup(o.name+".move_cover",
		TaskSpec{Name: "enable_motor", Module: o.motorHandle, Kind: adapter.KindSetMotorState, Trigger: Immediate()},
		TaskSpec{Name: "reference_run", Module: o.motorHandle, Kind: adapter.KindReferenceRun, Trigger: AfterTaskFinished(taskEnableMotor)},
		TaskSpec{Name: "move_cover", Module: o.motorHandle, Kind: adapter.KindMovePosition, Trigger: AfterTaskFinished(taskReferenceRun)},
	)
	if err != nil {
		return err
	}

	o.heat, err = NewTaskGroup(o.name+".heat",
		TaskSpec{Name: "set_temperature", Module: o.tempHandle, Kind: adapter.KindSetTemperature, Trigger: Immediate()},
		TaskSpec{Name: "switch_on", Module: o.tempHandle, Kind: adapter.KindSetTempCtrlState, Trigger: AfterTaskFinished(0)},
	)
	if err != nil {
		return err
	}

	o.stopHeat, err = NewTaskGroup(o.name+".stop_heating",
		TaskSpec{Name: "switch_off", Module: o.tempHandle, Kind: adapter.KindSetTempCtrlState, Trigger: Immediate()},
	)
	if err != nil {
		return err
	}

	o.readTemp, err = NewTaskGroup(o.name+".read_temperature",
		TaskSpec{Name: "read_temperature", Module: o.tempHandle, Kind: adapter.KindReadTemperature, Trigger: Immediate()},
	)

	return err
}

// OpenCover enables the cover motor, runs a reference run and moves the cover to the open position.
func (o *Oven) OpenCover(done func(error)) error {
	return o.driveCover(true, done)
}

// CloseCover enables the cover motor, runs a reference run and moves the cover to the closed position.
func (o *Oven) CloseCover(done func(error)) error {
	return o.driveCover(false, done)
}

func (o *Oven) driveCover(open bool, done func(error)) error {
	pos := o.params.CoverClosedPosition
	if open {
		pos = o.params.CoverOpenPosition
	}
	move, err := o.motor.DrivePosition(pos, o.params.CoverProfile)
	if err != nil {
		return err
	}

	return o.run(o.moveCover, func(res GroupResult) {
		if res.OK() {
			o.mu.Lock()
			o.coverOpen = open
			o.coverPos = pos
			o.mu.Unlock()
		}
		errDone(done)(res)
	},
		Bind(taskEnableMotor, o.motor.SetState(true)),
		Bind(taskReferenceRun, o.motor.ReferenceRun()),
		Bind(taskMoveCover, move),
	)
}

// SetTemperature sets the chamber set point and switches the controller on.
func (o *Oven) SetTemperature(celsius float64, done func(error)) error {
	set, err := o.temp.SetTemperature(celsius)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.levelReached = false
	o.mu.Unlock()

	return o.run(o.heat, errDone(done), Bind(0, set), Bind(1, o.temp.SetState(true)))
}

// StopHeating switches the temperature controller off.
func (o *Oven) StopHeating(done func(error)) error {
	return o.run(o.stopHeat, errDone(done), Bind(0, o.temp.SetState(false)))
}

// ReadTemperature reads the chamber temperature and controller status.
func (o *Oven) ReadTemperature(done func(adapter.TemperatureStatus, error)) error {
	return o.run(o.readTemp, func(res GroupResult) {
		if done == nil {
			return
		}
		if !res.OK() {
			done(adapter.TemperatureStatus{}, res.Err)
			return
		}
		t, _ := res.Task(0)
		done(o.temp.DecodeStatus(t.Result.Payload))
	}, Bind(0, o.temp.ReadTemperature()))
}

// CoverOpen returns true if the last cover movement opened the cover.
func (o *Oven) CoverOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.coverOpen
}

// CoverPosition returns the last reported cover motor position.
func (o *Oven) CoverPosition() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.coverPos
}

// TemperatureReached returns true once the controller reported the set point since the last SetTemperature.
func (o *Oven) TemperatureReached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.levelReached
}

func (o *Oven) notification(role string, n fm.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case role == RoleCoverMotor && n.Event == adapter.EventPositionReached:
		o.coverPos = int32(n.Value)
	case role == RoleTempCtrl && n.Event == adapter.EventLevelReached:
		o.levelReached = true
	default:
		return
	}
	o.logger.Debug("oven notification", "role", role, "event", n.Event, "value", n.Value)
}

func (o *Oven) String() string {
	return fmt.Sprintf("oven %s (%s)", o.name, o.State())
}
