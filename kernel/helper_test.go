package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/config"
	"github.com/arloliu/go-dcl/device"
	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/internal/simnode"
)

const testHardware = `
nodes:
  - name: oven_node
    type: 2
    index: 1
    modules:
      - key: cover_motor
        channel: 0
        object_type: stepper_motor
        params:
          steps_per_revolution: 400
          min_position: 0
          max_position: 2000
          profiles:
            - {min_speed: 50, max_speed: 800, acceleration: 1024, deceleration: 1024}
      - key: oven_heater
        channel: 1
        object_type: temperature_control
        params:
          max_temperature: 150
  - name: io_node
    type: 1
    index: 0
    modules:
      - key: lamp
        channel: 0
        object_type: digital_output
        params:
          width: 1
      - key: door
        channel: 1
        object_type: digital_input
        params:
          width: 1
devices:
  - name: oven
    type: oven
    modules:
      - {role: cover_motor, module: cover_motor}
      - {role: temp_ctrl, module: oven_heater}
    params:
      cover_open_position: 1200
      cover_closed_position: 0
  - name: io
    type: periphery
    modules:
      - {role: lamp, module: lamp}
      - {role: door, module: door}
`

var (
	motorHandle = fm.NewHandle(2, 1, 0)
	heatHandle  = fm.NewHandle(2, 1, 1)
	lampHandle  = fm.NewHandle(1, 0, 0)
	doorHandle  = fm.NewHandle(1, 0, 1)
)

func loadHardware(t *testing.T) *config.Hardware {
	t.Helper()

	hw, err := config.ParseHardware([]byte(testHardware))
	require.NoError(t, err)

	return hw
}

// newNodes creates the simulated nodes of testHardware on bus.
func newNodes(t *testing.T, bus canbus.Bus, hw *config.Hardware) []*simnode.Node {
	t.Helper()

	nodes := make([]*simnode.Node, 0, len(hw.Nodes))
	for _, n := range hw.Nodes {
		node := simnode.New(bus, fm.NodeKey{Type: n.Type, Index: n.Index}, nil)
		for _, m := range n.Modules {
			a, err := adapter.New(m.ObjectType, m.Params)
			require.NoError(t, err)
			require.NoError(t, node.AddModule(m.Channel, a))
		}
		nodes = append(nodes, node)
	}

	return nodes
}

// harness drives a kernel tick by tick. After every tick the simulated nodes answer the
// frames the kernel sent and their answers are queued for the next tick.
type harness struct {
	t     *testing.T
	k     *Kernel
	kbus  canbus.Bus
	nbus  canbus.Bus
	nodes []*simnode.Node
	now   time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	return newHarnessFor(t, loadHardware(t), opts...)
}

// newHarnessFor builds the kernel from hw. The simulated nodes always follow testHardware.
func newHarnessFor(t *testing.T, hw *config.Hardware, opts ...Option) *harness {
	t.Helper()

	lb := canbus.NewLoopbackBus()
	t.Cleanup(func() { _ = lb.Close() })

	h := &harness{
		t:    t,
		kbus: lb.Open(),
		nbus: lb.Open(),
		now:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	k, err := Build(hw, h.kbus, opts...)
	require.NoError(t, err)
	h.k = k
	h.nodes = newNodes(t, h.nbus, loadHardware(t))

	return h
}

func (h *harness) node(key fm.NodeKey) *simnode.Node {
	for _, n := range h.nodes {
		if n.Key() == key {
			return n
		}
	}
	h.t.Fatalf("no node %s", key)

	return nil
}

func (h *harness) oven() *device.Oven {
	d, ok := h.k.Device("oven")
	require.True(h.t, ok)

	return d.(*device.Oven)
}

func (h *harness) io() *device.Periphery {
	d, ok := h.k.Device("io")
	require.True(h.t, ok)

	return d.(*device.Periphery)
}

func tryReceive(bus canbus.Bus) (canbus.Frame, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()

	f, err := bus.Receive(ctx)

	return f, err == nil
}

func (h *harness) step() {
	h.now = h.now.Add(DefaultTickPeriod)
	h.k.Tick(h.now)

	for {
		f, ok := tryReceive(h.nbus)
		if !ok {
			break
		}
		for _, n := range h.nodes {
			require.NoError(h.t, n.Handle(context.Background(), f))
		}
	}

	for {
		f, ok := tryReceive(h.kbus)
		if !ok {
			break
		}
		h.k.Enqueue(f)
	}
}

// stepUntil steps until cond holds, at most n times.
func (h *harness) stepUntil(n int, cond func() bool) {
	h.t.Helper()

	for i := 0; i < n && !cond(); i++ {
		h.step()
	}
	require.True(h.t, cond(), "condition not reached after %d steps", n)
}

// bringUp runs a bring-up and steps until the devices are Idle.
func (h *harness) bringUp() bringup.Result {
	h.t.Helper()

	results := make(chan bringup.Result, 1)
	require.NoError(h.t, h.k.BringUpService().Start(bringup.ModeBringUp, func(res bringup.Result) {
		results <- res
	}))
	h.stepUntil(60, func() bool { return len(results) == 1 })
	res := <-results

	h.stepUntil(10, func() bool {
		return h.oven().State() == device.Idle && h.io().State() == device.Idle
	})

	return res
}

// errRecorder records the error of one asynchronous device operation.
type errRecorder struct {
	done chan error
}

func newErrRecorder() *errRecorder {
	return &errRecorder{done: make(chan error, 1)}
}

func (r *errRecorder) fn(err error) { r.done <- err }

func (r *errRecorder) finished() bool { return len(r.done) == 1 }

func (r *errRecorder) err() error { return <-r.done }

type sinkRecorder struct {
	faults []fm.Handle
	notes  []fm.Notification
}

func (s *sinkRecorder) ModuleFault(h fm.Handle, _ fm.Fault) { s.faults = append(s.faults, h) }

func (s *sinkRecorder) ModuleNotification(n fm.Notification) { s.notes = append(s.notes, n) }

func requestCodes(n *simnode.Node, ch uint8, class canbus.Class) []uint8 {
	var codes []uint8
	for _, id := range n.Requests() {
		if id.Channel == ch && id.Class == class {
			codes = append(codes, id.Code)
		}
	}

	return codes
}
