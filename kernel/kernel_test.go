package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/device"
	"github.com/arloliu/go-dcl/fm"
)

var (
	ovenNode = fm.NodeKey{Type: 2, Index: 1}
	ioNode   = fm.NodeKey{Type: 1, Index: 0}
)

func TestKernel_BringUp(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	require.Equal(4, h.k.Registry().Len())
	require.Len(h.k.Devices(), 2)

	res := h.bringUp()
	require.Equal(bringup.PhaseFinished, res.Phase)
	require.NoError(res.Err())
	require.False(res.Degraded())
	require.Len(res.Converged, 4)

	for _, m := range h.k.Registry().Modules() {
		require.Equal(fm.Idle, m.State(), m.Key())
	}

	// one module list query per node, configuration frames per module
	oven := h.node(ovenNode)
	require.Len(requestCodes(oven, 0, canbus.ClassSystem), 1)
	require.Equal([]uint8{fm.CodeConfigure, fm.CodeConfigure, fm.CodeConfigure}, requestCodes(oven, 0, canbus.ClassFunction))
	require.Equal([]uint8{fm.CodeConfigure, fm.CodeConfigure}, requestCodes(oven, 1, canbus.ClassFunction))

	metrics := h.k.Metrics()
	require.Positive(metrics.TickCount.Load())
	require.Equal(metrics.FrameRecvCount.Load(), metrics.FrameDispatchCount.Load())
	require.Zero(metrics.FrameUnmatchedCount.Load())
}

func TestKernel_OvenOperations(t *testing.T) {
	t.Run("open cover", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		rec := newErrRecorder()
		require.NoError(h.oven().OpenCover(rec.fn))
		h.stepUntil(20, rec.finished)
		require.NoError(rec.err())

		require.True(h.oven().CoverOpen())
		require.Equal(int32(1200), h.oven().CoverPosition())

		// enable, reference run, move; after the three configuration frames
		codes := requestCodes(h.node(ovenNode), 0, canbus.ClassFunction)
		require.Equal([]uint8{0x10, 0x12, 0x14}, codes[3:])
	})

	t.Run("read temperature", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		require.NoError(h.node(ovenNode).Respond(1, adapter.KindReadTemperature, func([]byte) ([]byte, bool) {
			return adapter.EncodeStatus(adapter.TemperatureStatus{Temperature: 79.5, Heating: true, Current: 1200}), true
		}))

		var got adapter.TemperatureStatus
		var gotErr error
		finished := false
		require.NoError(h.oven().ReadTemperature(func(s adapter.TemperatureStatus, err error) {
			got, gotErr, finished = s, err, true
		}))
		h.stepUntil(10, func() bool { return finished })
		require.NoError(gotErr)
		require.InDelta(79.5, got.Temperature, 0.01)
		require.True(got.Heating)
		require.Equal(uint16(1200), got.Current)
	})

	t.Run("notifications", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		sink := &sinkRecorder{}
		h.k.Subscribe(sink)

		require.NoError(h.node(ovenNode).Notify(context.Background(), 1, adapter.CodeNotification, []byte{0x03, 0x20}))
		require.NoError(h.node(ovenNode).Notify(context.Background(), 0, adapter.CodeNotification, []byte{0, 0, 0x01, 0xF4}))
		h.step()
		h.step()

		require.True(h.oven().TemperatureReached())
		require.Equal(int32(500), h.oven().CoverPosition())
		require.Len(sink.notes, 2)
		require.Equal(heatHandle, sink.notes[0].Handle)
		require.Equal(adapter.EventLevelReached, sink.notes[0].Event)
		require.Equal(motorHandle, sink.notes[1].Handle)
	})
}

func TestKernel_Faults(t *testing.T) {
	t.Run("device error", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		sink := &sinkRecorder{}
		h.k.Subscribe(sink, motorHandle)

		require.NoError(h.node(ovenNode).FailOn(0, adapter.KindReferenceRun, fm.Fault{Group: 1, Code: 0x0003, Data: 7}))

		rec := newErrRecorder()
		require.NoError(h.oven().OpenCover(rec.fn))
		h.stepUntil(20, rec.finished)

		err := rec.err()
		require.ErrorIs(err, fm.ErrDeviceFault)
		var faultErr *fm.FaultError
		require.ErrorAs(err, &faultErr)
		require.Equal(uint16(0x0003), faultErr.Fault.Code)

		h.step()
		require.Equal(fm.Error, h.k.Registry().Modules()[0].State())
		require.Equal(device.Error, h.oven().State())
		require.Equal(motorHandle, h.oven().FaultModule())
		require.Equal(device.Idle, h.io().State())
		require.Equal([]fm.Handle{motorHandle}, sink.faults)

		f, ok := h.oven().LastFault()
		require.True(ok)
		require.Equal(uint16(7), f.Data)
		require.False(h.oven().CoverOpen())
	})

	t.Run("timeout", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		h.node(ovenNode).SetSilent(true)

		rec := newErrRecorder()
		require.NoError(h.oven().SetTemperature(80, rec.fn))

		// write timeout of 1s at 50ms per tick
		h.stepUntil(30, rec.finished)
		require.ErrorIs(rec.err(), fm.ErrProtocolTimeout)

		h.step()
		m, ok := h.k.Registry().Module(heatHandle)
		require.True(ok)
		require.Equal(fm.Error, m.State())
		f, ok := m.LastFault()
		require.True(ok)
		require.True(f.IsTimeout())
		require.Equal(uint16(adapter.KindSetTemperature), f.Code)
		require.Equal(device.Error, h.oven().State())
	})

	t.Run("recovery by bring-up", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.bringUp()

		require.NoError(h.node(ovenNode).EmitFault(context.Background(), 1, fm.Fault{Group: 2, Code: 0x0002}))
		h.step()
		h.step()
		require.Equal(device.Error, h.oven().State())

		// a module in Error fails the bring-up until it is reset
		results := make(chan bringup.Result, 1)
		require.NoError(h.k.BringUpService().Start(bringup.ModeBringUp, func(res bringup.Result) { results <- res }))
		h.stepUntil(5, func() bool { return len(results) == 1 })
		res := <-results
		require.ErrorIs(res.Err(), bringup.ErrInternal)
		require.Equal([]fm.Handle{heatHandle}, res.Failed)

		m, _ := h.k.Registry().Module(heatHandle)
		require.NoError(m.Reset())
		require.NoError(h.oven().Reset())

		res = h.bringUp()
		require.NoError(res.Err())
		require.Equal(device.Idle, h.oven().State())
	})
}

func TestKernel_Shutdown(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.bringUp()

	results := make(chan bringup.Result, 1)
	require.NoError(h.k.BringUpService().Start(bringup.ModeShutdown, func(res bringup.Result) { results <- res }))
	h.stepUntil(10, func() bool { return len(results) == 1 })

	res := <-results
	require.NoError(res.Err())
	require.Len(res.Converged, 4)
	for _, m := range h.k.Registry().Modules() {
		require.Equal(fm.Standby, m.State(), m.Key())
	}

	h.step()
	require.Equal(device.FunctionModuleConfig, h.oven().State())

	rec := newErrRecorder()
	require.ErrorIs(h.oven().OpenCover(rec.fn), fm.ErrNotReady)
}

func TestKernel_Dispatch(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	frame := func(id canbus.MessageID, payload []byte) canbus.Frame {
		raw, err := id.Encode()
		require.NoError(err)
		f, err := canbus.NewFrame(raw, payload)
		require.NoError(err)
		return f
	}

	unknown := fm.NewHandle(9, 9, 0).MessageID(canbus.ClassFunction, 0x11).Reply()
	h.k.Enqueue(frame(unknown, nil))
	h.k.Enqueue(frame(motorHandle.MessageID(canbus.ClassFunction, 0x10), nil))
	h.k.Enqueue(canbus.Frame{ID: 0x123, Len: 1})
	// a module list for a node whose modules are still in Boot confirms nothing
	h.k.Enqueue(frame(ovenNode.MessageID(fm.CodeQueryModules).Reply(), fm.EncodeModulesPresent(0b11)))
	h.k.Tick(h.now)

	metrics := h.k.Metrics()
	require.Equal(uint64(4), metrics.FrameRecvCount.Load())
	require.Equal(uint64(3), metrics.FrameUnmatchedCount.Load())
	require.Equal(uint64(1), metrics.FrameDispatchCount.Load())
	m, _ := h.k.Registry().Module(motorHandle)
	require.Equal(fm.Boot, m.State())

	require.NoError(m.Initialize())
	h.k.Enqueue(frame(ovenNode.MessageID(fm.CodeQueryModules).Reply(), fm.EncodeModulesPresent(0b101)))
	h.k.Tick(h.now)
	require.Equal(fm.Confirmed, m.State())
}

func TestKernel_InboxLimit(t *testing.T) {
	require := require.New(t)
	h := newHarness(t, WithInboxLimit(2))

	for i := 0; i < 5; i++ {
		h.k.Enqueue(canbus.Frame{ID: 0x100, Len: 0})
	}
	require.Equal(uint64(3), h.k.Metrics().FrameDropCount.Load())

	h.k.Tick(h.now)
	require.Equal(uint64(2), h.k.Metrics().FrameUnmatchedCount.Load())
}

func TestKernel_Running(t *testing.T) {
	require := require.New(t)

	lb := canbus.NewLoopbackBus()
	defer lb.Close()

	hw := loadHardware(t)
	k, err := Build(hw, lb.Open(), WithTickPeriod(5*time.Millisecond), WithCallTimeout(2*time.Second))
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nbus := lb.Open()
	nodes := newNodes(t, nbus, hw)
	require.NoError(nodes[1].Respond(0, adapter.KindReadOutput, func([]byte) ([]byte, bool) {
		return []byte{0, 1}, true
	}))
	served := make(chan struct{})
	go func() {
		defer close(served)
		for {
			f, err := nbus.Receive(ctx)
			if err != nil {
				return
			}
			for _, n := range nodes {
				_ = n.Handle(ctx, f)
			}
		}
	}()

	require.NoError(k.Start())
	require.ErrorIs(k.Start(), ErrRunning)
	require.Equal(RunningState, k.RunState())

	res, err := k.BringUp(ctx)
	require.NoError(err)
	require.Len(res.Converged, 4)

	_, err = k.BringUp(ctx)
	require.NoError(err)

	d, ok := k.Device("io")
	require.True(ok)
	require.Eventually(func() bool { return d.State() == device.Idle }, 2*time.Second, 5*time.Millisecond)

	outcome, err := k.Call(ctx, lampHandle, adapter.KindReadOutput, nil)
	require.NoError(err)
	require.Equal([]byte{0, 1}, outcome.Payload)

	_, err = k.Call(ctx, fm.NewHandle(7, 7, 7), adapter.KindReadOutput, nil)
	require.ErrorIs(err, ErrUnknownModule)

	io := d.(*device.Periphery)
	err = k.Await(ctx, func(done func(error)) error {
		return io.SetOutput("lamp", 1, 0, 0, done)
	})
	require.NoError(err)
	v, ok := io.Value("lamp")
	require.True(ok)
	require.Equal(uint16(1), v)

	res, err = k.Shutdown(ctx)
	require.NoError(err)
	require.Len(res.Converged, 4)

	_, err = k.Call(ctx, lampHandle, adapter.KindReadOutput, nil)
	require.ErrorIs(err, fm.ErrNotReady)

	require.NoError(k.Close())
	require.Equal(StoppedState, k.RunState())

	cancel()
	<-served
}

func TestBuild(t *testing.T) {
	t.Run("invalid hardware", func(t *testing.T) {
		require := require.New(t)
		bus := canbus.NewLoopbackBus().Open()

		_, err := Build(nil, bus)
		require.ErrorIs(err, fm.ErrConfigInvalid)

		hw := loadHardware(t)
		hw.Nodes[1].Modules[1].Channel = 0
		_, err = Build(hw, bus)
		require.ErrorIs(err, fm.ErrDuplicateModule)

		hw = loadHardware(t)
		hw.Devices[0].Modules = hw.Devices[0].Modules[:1]
		_, err = Build(hw, bus)
		require.ErrorIs(err, fm.ErrConfigInvalid)

		hw = loadHardware(t)
		hw.Devices[1].Name = "oven"
		_, err = Build(hw, bus)
		require.ErrorIs(err, ErrDuplicateDevice)
	})

	t.Run("rejected modules", func(t *testing.T) {
		require := require.New(t)

		hw := loadHardware(t)
		hw.Nodes[0].Modules[0].ObjectType = "laser"
		hw.Nodes[1].Modules[0].Params = map[string]any{"colour": "red"}
		k, err := Build(hw, canbus.NewLoopbackBus().Open())
		require.NoError(err)

		_, ok := k.Registry().Module(motorHandle)
		require.False(ok)
		_, ok = k.Registry().Module(lampHandle)
		require.False(ok)
		require.Equal(2, k.Registry().Len())

		require.Empty(k.Devices())
		disabled := k.DisabledDevices()
		require.Len(disabled, 2)
		require.ErrorIs(disabled["oven"], fm.ErrConfigInvalid)
		require.ErrorIs(disabled["io"], fm.ErrConfigInvalid)
	})

	t.Run("bring-up reports rejected module", func(t *testing.T) {
		require := require.New(t)

		hw := loadHardware(t)
		hw.Nodes[1].Modules[0].Params = map[string]any{"colour": "red"}
		h := newHarnessFor(t, hw)

		_, ok := h.k.Device("oven")
		require.True(ok)
		_, ok = h.k.Device("io")
		require.False(ok)

		results := make(chan bringup.Result, 1)
		require.NoError(h.k.BringUpService().Start(bringup.ModeBringUp, func(res bringup.Result) {
			results <- res
		}))
		h.stepUntil(60, func() bool { return len(results) == 1 })
		res := <-results

		require.NoError(res.Err())
		require.True(res.Degraded())
		require.ElementsMatch([]fm.Handle{motorHandle, heatHandle, doorHandle}, res.Converged)
		require.Len(res.Rejected, 1)
		require.Equal(lampHandle, res.Rejected[0].Handle)
		var cfgErr *fm.ConfigError
		require.ErrorAs(res.Rejected[0].Err, &cfgErr)
		require.Equal(lampHandle, cfgErr.Handle)

		h.stepUntil(10, func() bool { return h.oven().State() == device.Idle })
	})

	t.Run("options", func(t *testing.T) {
		require := require.New(t)
		bus := canbus.NewLoopbackBus().Open()

		_, err := New(nil, nil)
		require.Error(err)
		_, err = New(bus, nil, WithTickPeriod(0))
		require.Error(err)
		_, err = New(bus, nil, WithInboxLimit(0))
		require.Error(err)
		_, err = New(bus, nil, WithCallTimeout(-time.Second))
		require.Error(err)
		_, err = New(bus, nil, WithLogger(nil))
		require.Error(err)
		_, err = New(bus, nil, WithBringUpOptions(bringup.WithPollBudget(0)))
		require.Error(err)

		k, err := New(bus, nil, WithFrameLogging(true))
		require.NoError(err)
		require.Zero(k.Registry().Len())
	})
}
