package adapter

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-dcl/fm"
)

// MotionProfile is one speed profile of a stepper motor. Speeds are in half-steps per
// second, acceleration and deceleration in half-steps per second squared and carried on
// the bus in units of 256.
type MotionProfile struct {
	MinSpeed     uint16 `param:"min_speed"`
	MaxSpeed     uint16 `param:"max_speed"`
	Acceleration uint16 `param:"acceleration"`
	Deceleration uint16 `param:"deceleration"`
}

// StepperMotorConfig holds the parameters of a stepper motor module.
type StepperMotorConfig struct {
	// StepsPerRevolution is the number of half-steps of one revolution.
	StepsPerRevolution uint16 `param:"steps_per_revolution"`
	// MinPosition and MaxPosition bound the travel in half-steps.
	MinPosition int32 `param:"min_position"`
	MaxPosition int32 `param:"max_position"`
	// ReferenceProfile is the profile index used for reference runs.
	ReferenceProfile uint8 `param:"reference_profile"`
	// ReferenceOffset is the position set after the reference switch was found.
	ReferenceOffset int32 `param:"reference_offset"`
	// Rotatory marks endless axes, positions wrap at StepsPerRevolution.
	Rotatory bool `param:"rotatory"`
	// Profiles are the motion profiles; index 0 is the default profile.
	Profiles []MotionProfile `param:"profiles"`
}

// Motor states used with SetState.
const (
	MotorDisabled byte = 0
	MotorEnabled  byte = 1
)

// maxProfiles is the number of profile slots of a stepper motor node.
const maxProfiles = 8

// EventPositionReached is the notification event of a finished movement.
const EventPositionReached = "position_reached"

// StepperMotor is the adapter of a stepper motor module.
type StepperMotor struct {
	base
	cfg StepperMotorConfig
}

var _ fm.Adapter = (*StepperMotor)(nil)

// NewStepperMotor creates a stepper motor adapter.
func NewStepperMotor(cfg StepperMotorConfig) *StepperMotor {
	return &StepperMotor{
		base: base{
			objectType: "stepper_motor",
			specs: []fm.CommandSpec{
				command(KindSetMotorState, "set_motor_state", 0x10, fm.WriteTimeout),
				command(KindReferenceRun, "reference_run", 0x12, fm.MotionTimeout),
				command(KindMovePosition, "move_position", 0x14, fm.MotionTimeout),
				command(KindReadPosition, "read_position", 0x16, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "motor stalled",
				0x0002: "limit switch reached",
				0x0003: "reference switch not found",
				0x0004: "motor driver overtemperature",
				0x0005: "motor not enabled",
			},
		},
		cfg: cfg,
	}
}

func (s *StepperMotor) ValidateConfig() error {
	switch {
	case s.cfg.StepsPerRevolution == 0:
		return configErr("steps_per_revolution", "must not be zero")
	case s.cfg.MinPosition >= s.cfg.MaxPosition:
		return configErr("min_position", "%d not below max position %d", s.cfg.MinPosition, s.cfg.MaxPosition)
	case len(s.cfg.Profiles) == 0:
		return configErr("profiles", "at least one motion profile required")
	case len(s.cfg.Profiles) > maxProfiles:
		return configErr("profiles", "%d profiles exceed %d slots", len(s.cfg.Profiles), maxProfiles)
	case int(s.cfg.ReferenceProfile) >= len(s.cfg.Profiles):
		return configErr("reference_profile", "profile %d not defined", s.cfg.ReferenceProfile)
	}

	for i, p := range s.cfg.Profiles {
		if p.MinSpeed == 0 || p.MinSpeed > p.MaxSpeed {
			return configErr("profiles", "profile %d: speed range [%d, %d] invalid", i, p.MinSpeed, p.MaxSpeed)
		}
		if p.Acceleration < 256 || p.Deceleration < 256 {
			return configErr("profiles", "profile %d: acceleration and deceleration must be at least 256", i)
		}
	}

	return nil
}

// ConfigFrames returns the axis frame, the travel range frame and one frame per motion profile.
func (s *StepperMotor) ConfigFrames() [][]byte {
	axis := []byte{0x01, boolByte(s.cfg.Rotatory), s.cfg.ReferenceProfile}
	axis = binary.BigEndian.AppendUint16(axis, s.cfg.StepsPerRevolution)

	travel := binary.BigEndian.AppendUint32(nil, uint32(s.cfg.MinPosition))
	travel = binary.BigEndian.AppendUint32(travel, uint32(s.cfg.MaxPosition))

	frames := [][]byte{axis, travel}
	for i, p := range s.cfg.Profiles {
		frame := []byte{0x10 | byte(i)}
		frame = binary.BigEndian.AppendUint16(frame, p.MinSpeed)
		frame = binary.BigEndian.AppendUint16(frame, p.MaxSpeed)
		frame = append(frame, byte(p.Acceleration>>8), byte(p.Deceleration>>8))
		frames = append(frames, frame)
	}

	return frames
}

// SetState enables or disables the motor driver.
func (s *StepperMotor) SetState(enabled bool) fm.Command {
	return fm.Command{Kind: KindSetMotorState, Payload: []byte{boolByte(enabled)}}
}

// ReferenceRun starts a reference run with the configured reference profile and offset.
func (s *StepperMotor) ReferenceRun() fm.Command {
	payload := []byte{s.cfg.ReferenceProfile}
	payload = binary.BigEndian.AppendUint32(payload, uint32(s.cfg.ReferenceOffset))

	return fm.Command{Kind: KindReferenceRun, Payload: payload}
}

// DrivePosition moves the motor to pos using the motion profile with index profile.
func (s *StepperMotor) DrivePosition(pos int32, profile uint8) (fm.Command, error) {
	if int(profile) >= len(s.cfg.Profiles) {
		return fm.Command{}, fmt.Errorf("adapter: motion profile %d not defined", profile)
	}
	if !s.cfg.Rotatory && (pos < s.cfg.MinPosition || pos > s.cfg.MaxPosition) {
		return fm.Command{}, fmt.Errorf("adapter: position %d out of range [%d, %d]", pos, s.cfg.MinPosition, s.cfg.MaxPosition)
	}
	if s.cfg.Rotatory {
		pos %= int32(s.cfg.StepsPerRevolution)
		if pos < 0 {
			pos += int32(s.cfg.StepsPerRevolution)
		}
	}

	payload := binary.BigEndian.AppendUint32(nil, uint32(pos))
	payload = append(payload, profile)

	return fm.Command{Kind: KindMovePosition, Payload: payload}, nil
}

// ReadPosition requests the actual position.
func (s *StepperMotor) ReadPosition() fm.Command {
	return fm.Command{Kind: KindReadPosition}
}

// DecodePosition decodes the position carried by a movement, reference run or read acknowledge.
func (s *StepperMotor) DecodePosition(payload []byte) (int32, error) {
	if err := needLen(payload, 4, "motor position"); err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(payload)), nil
}

func (s *StepperMotor) DecodeNotification(code uint8, payload []byte) (fm.Notification, bool) {
	if code != CodeNotification {
		return fm.Notification{}, false
	}
	pos, err := s.DecodePosition(payload)
	if err != nil {
		return fm.Notification{}, false
	}

	return fm.Notification{Event: EventPositionReached, Value: int64(pos), Payload: payload}, true
}
