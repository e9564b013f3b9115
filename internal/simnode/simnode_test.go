package simnode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/adapter"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/fm"
)

var nodeKey = fm.NodeKey{Type: 3, Index: 2}

type rig struct {
	master canbus.Bus
	node   *Node
}

func newRig(t *testing.T) *rig {
	t.Helper()

	lb := canbus.NewLoopbackBus()
	t.Cleanup(func() { _ = lb.Close() })

	r := &rig{master: lb.Open(), node: New(lb.Open(), nodeKey, nil)}
	require.NoError(t, r.node.AddModule(0, adapter.NewDigitalOutput(adapter.DigitalOutputConfig{Width: 8})))
	require.NoError(t, r.node.AddModule(2, adapter.NewDigitalInput(adapter.DigitalInputConfig{Width: 4})))

	return r
}

func (r *rig) request(t *testing.T, id canbus.MessageID, payload []byte) {
	t.Helper()

	raw, err := id.Encode()
	require.NoError(t, err)
	f, err := canbus.NewFrame(raw, payload)
	require.NoError(t, err)
	require.NoError(t, r.node.Handle(context.Background(), f))
}

// reply returns the next frame the node sent, or false if none arrives in time.
func (r *rig) reply(t *testing.T) (canbus.MessageID, []byte, bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f, err := r.master.Receive(ctx)
	if err != nil {
		return canbus.MessageID{}, nil, false
	}

	return canbus.DecodeID(f.ID), append([]byte(nil), f.Payload()...), true
}

func moduleID(class canbus.Class, code, channel uint8) canbus.MessageID {
	return fm.NewHandle(nodeKey.Type, nodeKey.Index, channel).MessageID(class, code)
}

func TestNode_Answers(t *testing.T) {
	t.Run("module list", func(t *testing.T) {
		require := require.New(t)
		r := newRig(t)

		r.request(t, nodeKey.MessageID(fm.CodeQueryModules), nil)

		id, payload, ok := r.reply(t)
		require.True(ok)
		require.Equal(canbus.SlaveToMaster, id.Direction)
		require.Equal(fm.CodeQueryModules, id.Code)
		mask, err := fm.DecodeModulesPresent(payload)
		require.NoError(err)
		require.Equal(uint32(0b101), mask)
	})

	t.Run("generic commands", func(t *testing.T) {
		require := require.New(t)
		r := newRig(t)
		require.NoError(r.node.SetLifeCycleData(2, fm.LifeCycleData{OperationTime: time.Hour, Cycles: 12}))

		r.request(t, moduleID(canbus.ClassFunction, fm.CodeConfigure, 0), []byte{1, 8})
		id, payload, ok := r.reply(t)
		require.True(ok)
		require.Equal(moduleID(canbus.ClassFunction, fm.CodeConfigure, 0).Reply(), id)
		require.Empty(payload)

		r.request(t, moduleID(canbus.ClassSystem, fm.CodeModuleState, 0), []byte{fm.ModuleStateStandby})
		id, payload, ok = r.reply(t)
		require.True(ok)
		require.Equal(fm.CodeModuleState, id.Code)
		require.Equal([]byte{fm.ModuleStateStandby}, payload)

		r.request(t, moduleID(canbus.ClassSystem, fm.CodeLifeCycleData, 2), nil)
		_, payload, ok = r.reply(t)
		require.True(ok)
		data, err := fm.DecodeLifeCycleData(payload)
		require.NoError(err)
		require.Equal(fm.LifeCycleData{OperationTime: time.Hour, Cycles: 12}, data)
	})

	t.Run("adapter commands", func(t *testing.T) {
		require := require.New(t)
		r := newRig(t)

		r.request(t, moduleID(canbus.ClassFunction, 0x10, 0), []byte{0, 5, 0, 0, 0, 0})
		id, payload, ok := r.reply(t)
		require.True(ok)
		require.Equal(uint8(0x11), id.Code)
		require.Equal(uint8(0), id.Channel)
		require.Equal([]byte{0, 5, 0, 0, 0, 0}, payload)

		require.NoError(r.node.Respond(0, adapter.KindReadOutput, func([]byte) ([]byte, bool) {
			return []byte{0, 0x2A}, true
		}))
		r.request(t, moduleID(canbus.ClassFunction, 0x12, 0), nil)
		id, payload, ok = r.reply(t)
		require.True(ok)
		require.Equal(uint8(0x13), id.Code)
		require.Equal([]byte{0, 0x2A}, payload)

		require.NoError(r.node.Respond(0, adapter.KindSetOutput, func([]byte) ([]byte, bool) {
			return nil, false
		}))
		r.request(t, moduleID(canbus.ClassFunction, 0x10, 0), []byte{0, 1, 0, 0, 0, 0})
		_, _, ok = r.reply(t)
		require.False(ok)

		// unknown code on a hosted channel and a channel without module
		r.request(t, moduleID(canbus.ClassFunction, 0x7E, 0), nil)
		r.request(t, moduleID(canbus.ClassFunction, 0x10, 5), nil)
		_, _, ok = r.reply(t)
		require.False(ok)

		require.ErrorIs(r.node.Respond(5, adapter.KindSetOutput, nil), ErrUnknownChannel)
		require.Error(r.node.AddModule(0, adapter.NewDigitalOutput(adapter.DigitalOutputConfig{})))
	})

	t.Run("failure and events", func(t *testing.T) {
		require := require.New(t)
		r := newRig(t)

		require.NoError(r.node.FailOn(0, adapter.KindSetOutput, fm.Fault{Group: 1, Code: 0x0001, Data: 3}))
		r.request(t, moduleID(canbus.ClassFunction, 0x10, 0), []byte{0, 1, 0, 0, 0, 0})

		id, payload, ok := r.reply(t)
		require.True(ok)
		require.Equal(canbus.ClassSystem, id.Class)
		require.Equal(fm.CodeEventError, id.Code)
		f := fm.DecodeEvent(payload, time.Time{})
		require.Equal(uint16(0x0001), f.Code)
		require.Equal(uint16(3), f.Data)

		require.NoError(r.node.Notify(context.Background(), 2, adapter.CodeNotification, []byte{0, 9}))
		id, payload, ok = r.reply(t)
		require.True(ok)
		require.Equal(canbus.ClassFunction, id.Class)
		require.Equal(uint8(2), id.Channel)
		require.Equal([]byte{0, 9}, payload)
	})

	t.Run("silent and foreign frames", func(t *testing.T) {
		require := require.New(t)
		r := newRig(t)

		r.node.SetSilent(true)
		r.request(t, nodeKey.MessageID(fm.CodeQueryModules), nil)
		_, _, ok := r.reply(t)
		require.False(ok)
		require.Len(r.node.Requests(), 1)

		r.node.SetSilent(false)
		r.request(t, fm.NodeKey{Type: 3, Index: 1}.MessageID(fm.CodeQueryModules), nil)
		r.request(t, nodeKey.MessageID(fm.CodeQueryModules).Reply(), nil)
		_, _, ok = r.reply(t)
		require.False(ok)
		require.Len(r.node.Requests(), 1)
	})
}

func TestNode_Serve(t *testing.T) {
	require := require.New(t)
	r := newRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.node.Serve(ctx) }()

	raw, err := nodeKey.MessageID(fm.CodeQueryModules).Encode()
	require.NoError(err)
	f, err := canbus.NewFrame(raw, nil)
	require.NoError(err)
	require.NoError(r.master.Send(ctx, f))

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	reply, err := r.master.Receive(rctx)
	require.NoError(err)
	require.Equal(fm.CodeQueryModules, canbus.DecodeID(reply.ID).Code)

	cancel()
	select {
	case err := <-served:
		require.NoError(err)
	case <-time.After(time.Second):
		require.Fail("serve did not return")
	}
}
