package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-dcl/logger"
)

// LoopFunc is the body of a loop task. It is called repeatedly with the manager context
// until it returns false or the context is canceled.
type LoopFunc func(ctx context.Context) bool

// TickFunc is the body of an interval task. It is called with the tick instant and
// returns false to end the task.
type TickFunc func(now time.Time) bool

// TaskManager runs the goroutines of a kernel: the bus receiver loop and the tick.
//
// All tasks share a context derived from the parent context. Stop cancels it, and Wait
// waits for the tasks to exit and prepares a fresh context so the manager can be
// started again.
type TaskManager struct {
	pctx   context.Context
	logger logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[string]struct{}
	wg     sync.WaitGroup
	count  atomic.Int32
}

// NewTaskManager creates a TaskManager with ctx as parent context.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l, names: make(map[string]struct{})}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *TaskManager) Context() context.Context {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	return mgr.ctx
}

// Start runs fn in a new goroutine until it returns false or the manager stops.
func (mgr *TaskManager) Start(name string, fn LoopFunc) error {
	ctx, err := mgr.register(name)
	if err != nil {
		return err
	}
	mgr.logger.Debug("start loop task", "name", name)

	go mgr.run(name, func() {
		for ctx.Err() == nil {
			if !mgr.call(name, func() bool { return fn(ctx) }) {
				return
			}
		}
	})

	return nil
}

// StartInterval runs fn every interval in a new goroutine until it returns false or the
// manager stops.
func (mgr *TaskManager) StartInterval(name string, interval time.Duration, fn TickFunc) error {
	if interval <= 0 {
		return fmt.Errorf("kernel: invalid interval %v for task %s", interval, name)
	}
	ctx, err := mgr.register(name)
	if err != nil {
		return err
	}
	mgr.logger.Debug("start interval task", "name", name, "interval", interval)

	go mgr.run(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if !mgr.call(name, func() bool { return fn(now) }) {
					return
				}
			}
		}
	})

	return nil
}

// Stop cancels the task context.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	mgr.cancel()
	mgr.mu.Unlock()
}

// Wait waits for all tasks to exit and renews the task context.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	}
}

// TaskCount returns the number of running tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *TaskManager) register(name string) (context.Context, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() != nil {
		return nil, ErrTaskStopped
	}
	if _, ok := mgr.names[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	mgr.names[name] = struct{}{}
	mgr.wg.Add(1)
	mgr.count.Add(1)

	return mgr.ctx, nil
}

func (mgr *TaskManager) run(name string, body func()) {
	defer func() {
		mgr.mu.Lock()
		delete(mgr.names, name)
		mgr.mu.Unlock()

		mgr.count.Add(-1)
		mgr.wg.Done()
		mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
	}()

	body()
}

// call runs one iteration of a task and reports a panic as false.
func (mgr *TaskManager) call(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
