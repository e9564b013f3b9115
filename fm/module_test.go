package fm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/logger"
)

func TestModule_BringUpWithConfiguration(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sender := &fakeSender{}

	adapter := &testAdapter{configFrames: [][]byte{{0x01, 0xAA}, {0x02, 0xBB}}}
	m, err := NewModule("out1", testHandle, adapter, sender)
	require.NoError(err)
	require.Equal(Boot, m.State())
	require.Equal("test", m.ObjectType())

	// present report before initialization is ignored
	require.ErrorIs(m.Confirm(), ErrInvalidTransition)

	require.NoError(m.Initialize())
	require.NoError(m.Initialize())
	require.NoError(m.Confirm())
	require.NoError(m.Confirm())
	require.NoError(m.Configure())
	require.Equal(Configuring, m.State())

	// capability calls are rejected until Idle
	_, err = m.Submit(Command{Kind: kindSetOutput, Payload: []byte{1}}, nil)
	require.ErrorIs(err, ErrNotReady)

	m.Tick(ctx, t0)
	require.Len(sender.sent(), 1)
	m.HandleFrame(ackID(CodeConfigure), nil, t0)
	require.Equal(Configuring, m.State())

	m.Tick(ctx, t0.Add(50*time.Millisecond))
	require.Len(sender.sent(), 2)
	m.HandleFrame(ackID(CodeConfigure), nil, t0)
	require.Equal(Idle, m.State())

	_, err = m.Submit(Command{Kind: kindSetOutput, Payload: []byte{1}}, nil)
	require.NoError(err)

	// present report in Idle is ignored
	require.ErrorIs(m.Confirm(), ErrInvalidTransition)
	require.Equal(Idle, m.State())
}

func TestModule_InitializeInvalidConfig(t *testing.T) {
	require := require.New(t)

	m, err := NewModule("bad", testHandle, &testAdapter{invalid: true}, &fakeSender{})
	require.NoError(err)

	err = m.Initialize()
	require.ErrorIs(err, ErrConfigInvalid)
	var cfgErr *ConfigError
	require.ErrorAs(err, &cfgErr)
	require.Equal(testHandle, cfgErr.Handle)
	require.Equal(Boot, m.State())

	m2, err := NewModule("bad-addr", NewHandle(1, 0, 40), &testAdapter{}, &fakeSender{})
	require.NoError(err)
	require.ErrorIs(m2.Initialize(), ErrConfigInvalid)

	_, err = NewModule("nil", testHandle, nil, &fakeSender{})
	require.ErrorIs(err, ErrConfigInvalid)
}

func TestModule_FaultFanOut(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sink := &recordingSink{}

	m, err := newIdleModule(&fakeSender{}, WithEventSink(sink))
	require.NoError(err)

	var got []Outcome
	done := func(cmd PendingCommand) { got = append(got, cmd.Outcome) }
	_, err = m.Submit(Command{Kind: kindSetOutput, Payload: []byte{1}}, done)
	require.NoError(err)
	_, err = m.Submit(Command{Kind: kindMove, Payload: []byte{1}}, done)
	require.NoError(err)
	m.Tick(ctx, t0)

	event := EncodeEvent(Fault{Group: 0x05, Code: 0x0102, Data: 0x0304})
	m.HandleFrame(sysID(CodeEventError), event, t0.Add(time.Second))

	require.Equal(Error, m.State())
	require.Equal([]Outcome{DeviceError(0x0102), DeviceError(0x0102)}, got)

	f, ok := m.LastFault()
	require.True(ok)
	require.Equal(Fault{Group: 0x05, Code: 0x0102, Data: 0x0304, Timestamp: t0.Add(time.Second)}, f)
	require.Len(sink.faults, 1)

	_, err = m.Submit(Command{Kind: kindSetOutput}, nil)
	require.ErrorIs(err, ErrNotReady)

	require.NoError(m.Reset())
	require.Equal(Boot, m.State())
	_, ok = m.LastFault()
	require.True(ok)
}

func TestModule_TimeoutRaisesFault(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sink := &recordingSink{}

	m, err := newIdleModule(&fakeSender{}, WithEventSink(sink))
	require.NoError(err)

	var got []Outcome
	done := func(cmd PendingCommand) { got = append(got, cmd.Outcome) }
	_, err = m.Submit(Command{Kind: kindReadInput}, done)
	require.NoError(err)
	_, err = m.Submit(Command{Kind: kindMove, Payload: []byte{1}}, done)
	require.NoError(err)
	m.Tick(ctx, t0)

	m.Tick(ctx, t0.Add(StatusTimeout))
	require.Equal(Error, m.State())
	require.Equal([]Outcome{TimeoutOutcome(), DeviceError(uint16(kindReadInput))}, got)

	f, ok := m.LastFault()
	require.True(ok)
	require.True(f.IsTimeout())
	require.ErrorIs(&FaultError{Handle: m.Handle(), Fault: f}, ErrProtocolTimeout)
	require.Len(sink.faults, 1)
}

func TestModule_NotificationsAndDrops(t *testing.T) {
	require := require.New(t)
	sink := &recordingSink{}

	m, err := newIdleModule(&fakeSender{}, WithEventSink(sink))
	require.NoError(err)

	m.HandleFrame(ackID(0x20), []byte{3}, t0)
	m.HandleFrame(sysID(CodeEventWarning), EncodeEvent(Fault{Code: 9}), t0)
	require.Len(sink.notifications, 2)
	require.Equal("input_changed", sink.notifications[0].Event)
	require.Equal(int64(3), sink.notifications[0].Value)
	require.Equal(testHandle, sink.notifications[0].Handle)
	require.Equal(EventWarning, sink.notifications[1].Event)

	// acknowledge without a sent command
	m.HandleFrame(ackID(0x11), []byte{1}, t0)
	require.Equal(uint64(1), m.Engine().Metrics().DroppedCount.Load())
	require.Equal(Idle, m.State())
}

func TestModule_StandbyAndLifeCycleData(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, err := newIdleModule(&fakeSender{})
	require.NoError(err)

	var data LifeCycleData
	_, err = m.RequestLifeCycleData(func(d LifeCycleData, err error) {
		require.NoError(err)
		data = d
	})
	require.NoError(err)
	require.NoError(m.RequestStandby())
	m.Tick(ctx, t0)

	m.HandleFrame(sysID(CodeLifeCycleData), EncodeLifeCycleData(LifeCycleData{OperationTime: time.Hour, Cycles: 12}), t0)
	require.Equal(LifeCycleData{OperationTime: time.Hour, Cycles: 12}, data)

	m.HandleFrame(sysID(CodeModuleState), []byte{ModuleStateStandby}, t0)
	require.Equal(Standby, m.State())
	require.NoError(m.RequestStandby())

	require.NoError(m.Reset())
	require.Equal(Boot, m.State())
}

func TestModule_StateHandlerAndWait(t *testing.T) {
	require := require.New(t)

	var states []LifecycleState
	m, err := newIdleModule(&fakeSender{}, WithStateHandler(func(_ Handle, _, next LifecycleState) {
		states = append(states, next)
	}))
	require.NoError(err)
	require.Equal([]LifecycleState{Initialized, Confirmed, Configuring, Idle}, states)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(m.WaitState(ctx, Idle))
}

func TestModule_OutcomeListener(t *testing.T) {
	require := require.New(t)

	var seen []CommandKind
	m, err := newIdleModule(&fakeSender{}, WithOutcomeListener(func(cmd PendingCommand) {
		seen = append(seen, cmd.Kind)
	}))
	require.NoError(err)

	_, err = m.Submit(Command{Kind: kindSetOutput, Payload: []byte{1}}, nil)
	require.NoError(err)
	m.Tick(context.Background(), t0)
	m.HandleFrame(ackID(0x11), nil, t0)
	require.Equal([]CommandKind{kindSetOutput}, seen)
	require.Equal(canbus.ClassFunction, ackID(0x11).Class)
}

func TestModule_LogContext(t *testing.T) {
	require := require.New(t)
	t.Setenv("ENV", "")
	ctx := context.Background()

	var buf bytes.Buffer
	m, err := newIdleModule(&fakeSender{}, WithLogger(logger.NewSlogWriter(&buf, logger.DebugLevel, false)))
	require.NoError(err)

	_, err = m.Submit(Command{Kind: kindReadInput}, nil)
	require.NoError(err)
	m.Tick(ctx, t0)
	m.Tick(ctx, t0.Add(StatusTimeout))

	var failed map[string]any
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(lines)
	for _, line := range lines {
		require.Equal(1, strings.Count(line, `"module":`), line)
		require.Equal(1, strings.Count(line, `"handle":`), line)

		var rec map[string]any
		require.NoError(json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "command failed" {
			failed = rec
		}
	}

	require.NotNil(failed)
	require.Equal("test", failed["module"])
	require.Equal(testHandle.String(), failed["handle"])
	require.Equal("read_input", failed["kind"])
}
