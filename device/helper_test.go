package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/fm"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []canbus.Frame
}

func (s *fakeSender) Send(_ context.Context, f canbus.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

// rig is a registry of Idle modules driven by an explicit clock.
type rig struct {
	t      *testing.T
	ctx    context.Context
	now    time.Time
	reg    *fm.Registry
	sender *fakeSender
	orch   *Orchestrator
}

var (
	out1Handle  = fm.NewHandle(1, 0, 0)
	out2Handle  = fm.NewHandle(1, 0, 1)
	out3Handle  = fm.NewHandle(1, 0, 2)
	inHandle    = fm.NewHandle(1, 0, 3)
	motorHandle = fm.NewHandle(2, 1, 0)
	tempHandle  = fm.NewHandle(2, 1, 1)
)

func newRig(t *testing.T) *rig {
	reg := fm.NewRegistry()
	return &rig{
		t:      t,
		ctx:    context.Background(),
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		reg:    reg,
		sender: &fakeSender{},
		orch:   NewOrchestrator(reg, nil),
	}
}

func (r *rig) env() Env {
	return Env{Resolver: r.reg, Orchestrator: r.orch}
}

// addModule registers a module and walks it to Idle, acknowledging every configuration frame.
func (r *rig) addModule(key string, h fm.Handle, a fm.Adapter) *fm.Module {
	require := require.New(r.t)

	m, err := fm.NewModule(key, h, a, r.sender)
	require.NoError(err)
	require.NoError(r.reg.Add(m))
	require.NoError(m.Initialize())
	require.NoError(m.Confirm())
	require.NoError(m.Configure())
	for i := 0; i < 16 && m.State() == fm.Configuring; i++ {
		m.Tick(r.ctx, r.now)
		m.HandleFrame(ackOf(h, canbus.ClassFunction, fm.CodeConfigure), nil, r.now)
	}
	require.Equal(fm.Idle, m.State())

	return m
}

func (r *rig) addOutputs() {
	r.addModule("out1", out1Handle, adapter.NewDigitalOutput(adapter.DigitalOutputConfig{Width: 8}))
	r.addModule("out2", out2Handle, adapter.NewDigitalOutput(adapter.DigitalOutputConfig{Width: 8}))
	r.addModule("out3", out3Handle, adapter.NewDigitalOutput(adapter.DigitalOutputConfig{Width: 8}))
}

func (r *rig) addOvenModules() {
	r.addModule("cover", motorHandle, adapter.NewStepperMotor(adapter.StepperMotorConfig{
		StepsPerRevolution: 400,
		MinPosition:        0,
		MaxPosition:        4000,
		Profiles:           []adapter.MotionProfile{{MinSpeed: 100, MaxSpeed: 800, Acceleration: 1024, Deceleration: 1024}},
	}))
	r.addModule("chamber", tempHandle, adapter.NewTemperatureControl(adapter.TemperatureControlConfig{MaxTemperature: 200}))
}

func (r *rig) module(h fm.Handle) *fm.Module {
	m, ok := r.reg.Module(h)
	require.True(r.t, ok)
	return m
}

// tick runs one scheduling tick: modules first, then the orchestrator.
func (r *rig) tick() {
	r.now = r.now.Add(10 * time.Millisecond)
	for _, m := range r.reg.Modules() {
		m.Tick(r.ctx, r.now)
	}
	r.orch.PumpAll()
}

// ack answers the function request reqCode of module h.
func (r *rig) ack(h fm.Handle, reqCode uint8, payload []byte) {
	r.module(h).HandleFrame(ackOf(h, canbus.ClassFunction, reqCode+1), payload, r.now)
}

// requests returns the function class requests sent to h, configuration frames excluded.
func (r *rig) requests(h fm.Handle) []canbus.Frame {
	r.sender.mu.Lock()
	defer r.sender.mu.Unlock()

	var out []canbus.Frame
	for _, f := range r.sender.frames {
		id := canbus.DecodeID(f.ID)
		if fm.HandleOf(id) == h && id.Class == canbus.ClassFunction && id.Code != fm.CodeConfigure {
			out = append(out, f)
		}
	}
	return out
}

func requestCodes(frames []canbus.Frame) []uint8 {
	codes := make([]uint8, 0, len(frames))
	for _, f := range frames {
		codes = append(codes, canbus.DecodeID(f.ID).Code)
	}
	return codes
}

// tickUntilIdle ticks until d is Idle.
func (r *rig) tickUntilIdle(d Device) {
	for i := 0; i < 8 && d.State() != Idle; i++ {
		d.Tick(r.now)
	}
	require.Equal(r.t, Idle, d.State())
}

func ackOf(h fm.Handle, class canbus.Class, code uint8) canbus.MessageID {
	id := h.MessageID(class, code)
	id.Direction = canbus.SlaveToMaster
	return id
}

type resultRecorder struct {
	mu      sync.Mutex
	results []GroupResult
}

func (r *resultRecorder) done(res GroupResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultRecorder) all() []GroupResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GroupResult, len(r.results))
	copy(out, r.results)
	return out
}

func setOutput(t *testing.T, value uint16) fm.Command {
	cmd, err := adapter.NewDigitalOutput(adapter.DigitalOutputConfig{Width: 8}).SetOutput(value, 0, 0)
	require.NoError(t, err)
	return cmd
}

func taskStates(tasks []Task) []TaskState {
	out := make([]TaskState, len(tasks))
	for i, t := range tasks {
		out[i] = t.State
	}
	return out
}
