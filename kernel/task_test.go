package kernel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dcl/logger"
)

func TestTaskManager_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, logger.NewPermissiveMockLogger())

	var runs atomic.Int32
	err := taskMgr.Start("receiver", func(ctx context.Context) bool {
		runs.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() > 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, taskMgr.TaskCount())
	require.ErrorIs(t, taskMgr.Start("receiver", func(context.Context) bool { return false }), ErrTaskExists)

	cancel()
	require.Eventually(t, func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTaskManager_StartInterval(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), logger.NewPermissiveMockLogger())

	var runs atomic.Int32
	var last atomic.Int64
	err := taskMgr.StartInterval("tick", 5*time.Millisecond, func(now time.Time) bool {
		runs.Add(1)
		last.Store(now.UnixNano())
		return true
	})
	require.NoError(err)

	require.Eventually(func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NotZero(last.Load())

	err = taskMgr.StartInterval("tick", time.Millisecond, func(time.Time) bool { return true })
	require.ErrorIs(err, ErrTaskExists)

	err = taskMgr.StartInterval("bad", 0, func(time.Time) bool { return true })
	require.ErrorContains(err, "invalid interval")

	taskMgr.Stop()
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_Panic(t *testing.T) {
	l := logger.NewPermissiveMockLogger()
	taskMgr := NewTaskManager(context.Background(), l)

	require.NoError(t, taskMgr.Start("panicky", func(context.Context) bool {
		panic("boom")
	}))

	require.Eventually(t, func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	l.AssertCalled(t, "Error", "panic in task", mock.Anything)
}

func TestTaskManager_Restart(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), logger.NewPermissiveMockLogger())
	require.NoError(taskMgr.Start("first", func(ctx context.Context) bool {
		<-ctx.Done()
		return false
	}))

	taskMgr.Stop()
	require.ErrorIs(taskMgr.Start("stopped", func(context.Context) bool { return false }), ErrTaskStopped)
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())

	done := make(chan struct{})
	require.NoError(taskMgr.Start("first", func(context.Context) bool {
		close(done)
		return false
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail("restarted task did not run")
	}
}

func TestAtomicRunState(t *testing.T) {
	require := require.New(t)

	var st AtomicRunState
	require.True(st.IsStopped())
	require.Equal("Stopped", st.String())

	require.False(st.ToRunning())
	require.True(st.ToStarting())
	require.False(st.ToStarting())
	require.True(st.ToRunning())
	require.True(st.ToRunning())
	require.True(st.IsRunning())

	require.True(st.ToStopping())
	require.Equal(StoppingState, st.Get())
	require.True(st.ToStopped())
	require.True(st.ToStopped())

	require.True(st.ToStarting())
	require.True(st.ToStopping())
	require.Equal("Stopping", st.String())
}
