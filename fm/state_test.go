package fm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateMgr_Transitions(t *testing.T) {
	require := require.New(t)

	var changes [][2]LifecycleState
	sm := NewStateMgr(testHandle, nil, func(_ Handle, prev, next LifecycleState) {
		changes = append(changes, [2]LifecycleState{prev, next})
	})
	require.Equal(Boot, sm.State())

	require.ErrorIs(sm.ToConfirmed(), ErrInvalidTransition)
	require.ErrorIs(sm.ToIdle(), ErrInvalidTransition)

	require.NoError(sm.ToInitialized())
	require.NoError(sm.ToConfirmed())
	require.NoError(sm.ToConfirmed()) // no-op
	require.NoError(sm.ToConfiguring())
	require.NoError(sm.ToIdle())
	require.ErrorIs(sm.ToConfirmed(), ErrInvalidTransition)
	require.ErrorIs(sm.ToBoot(), ErrInvalidTransition)

	sm.ToError()
	sm.ToError()
	require.Equal(Error, sm.State())
	require.ErrorIs(sm.ToIdle(), ErrInvalidTransition)
	require.NoError(sm.ToBoot())

	require.Equal([][2]LifecycleState{
		{Boot, Initialized},
		{Initialized, Confirmed},
		{Confirmed, Configuring},
		{Configuring, Idle},
		{Idle, Error},
		{Error, Boot},
	}, changes)
}

func TestStateMgr_Standby(t *testing.T) {
	require := require.New(t)

	sm := NewStateMgr(testHandle, nil)
	require.ErrorIs(sm.ToStandby(), ErrInvalidTransition)
	require.NoError(sm.ToInitialized())
	require.NoError(sm.ToConfirmed())
	require.NoError(sm.ToConfiguring())
	require.NoError(sm.ToIdle())
	require.NoError(sm.ToStandby())
	require.Equal("standby", sm.State().String())
	require.NoError(sm.ToBoot())
}

func TestStateMgr_WaitState(t *testing.T) {
	require := require.New(t)

	sm := NewStateMgr(testHandle, nil)
	require.NoError(sm.WaitState(context.Background(), Boot))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = sm.ToInitialized()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(sm.WaitState(ctx, Initialized))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.ErrorIs(sm.WaitState(ctx2, Idle), context.DeadlineExceeded)
}
