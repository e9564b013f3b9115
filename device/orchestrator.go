package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/logger"
)

// Binding assigns the command of one invocation to a task.
type Binding struct {
	Task    TaskID
	Command fm.Command
}

// Bind binds cmd to task id.
func Bind(id TaskID, cmd fm.Command) Binding {
	return Binding{Task: id, Command: cmd}
}

// Orchestrator runs task groups to completion.
//
// Activate may be called from any goroutine. Pump and PumpAll are driven by the
// scheduling tick after the modules were ticked, so completions produced in a tick are
// observed in the same tick. Group callbacks run after the orchestrator lock is released.
type Orchestrator struct {
	mu       sync.Mutex
	resolver fm.Resolver
	logger   logger.Logger
	active   []*TaskGroup
}

// NewOrchestrator creates an orchestrator submitting commands to modules resolved through r.
func NewOrchestrator(r fm.Resolver, l logger.Logger) *Orchestrator {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Orchestrator{resolver: r, logger: l}
}

// Activate starts a new invocation of g. Tasks with an Immediate trigger become Started,
// all others stay Init. bindings supply the commands of this invocation; a task without a
// binding sends an empty payload. done, if not nil, receives the result exactly once.
//
// It fails with ErrAlreadyActive if g is still running.
func (o *Orchestrator) Activate(g *TaskGroup, done GroupDoneFunc, bindings ...Binding) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if g.active {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, g.name)
	}
	for _, t := range g.tasks {
		switch t.State {
		case TaskUnused, TaskInit, TaskFinished:
		default:
			return fmt.Errorf("%w: %s task %q is %s", ErrAlreadyActive, g.name, t.Name, t.State)
		}
	}

	payloads := make(map[TaskID][]byte, len(bindings))
	for _, b := range bindings {
		if b.Task < 0 || int(b.Task) >= len(g.tasks) {
			return fmt.Errorf("%w: %s has no task %d", ErrUnknownTask, g.name, b.Task)
		}
		if t := g.tasks[b.Task]; t.Kind != b.Command.Kind {
			return fmt.Errorf("%w: %s task %q is bound to kind %d, got %d", ErrInvalidGroup, g.name, t.Name, t.Kind, b.Command.Kind)
		}
		payloads[b.Task] = b.Command.Payload
	}

	g.active = true
	g.run++
	g.runID = uuid.New()
	g.done = done
	clear(g.completed)
	for _, t := range g.tasks {
		t.reset(TaskInit)
		t.Payload = payloads[t.ID]
		if t.Trigger.IsImmediate() {
			t.State = TaskStarted
		}
	}
	o.active = append(o.active, g)

	o.logger.Debug("task group activated", "group", g.name, "run_id", g.runID)

	return nil
}

// Active returns true while g is running.
func (o *Orchestrator) Active(g *TaskGroup) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return g.active
}

// Tasks returns snapshots of the tasks of g.
func (o *Orchestrator) Tasks(g *TaskGroup) []Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	return g.snapshot()
}

// Pump advances g once: completed commands finish or fail their tasks and start the
// tasks waiting for them, then Started tasks are submitted in declaration order.
// It returns true while g is still running.
func (o *Orchestrator) Pump(g *TaskGroup) bool {
	o.mu.Lock()
	if !g.active {
		o.mu.Unlock()
		return false
	}

	res, terminated := o.pumpLocked(g)
	var done GroupDoneFunc
	if terminated {
		done = o.finishLocked(g)
	}
	o.mu.Unlock()

	if terminated && done != nil {
		done(res)
	}

	return !terminated
}

// PumpAll pumps every active group in activation order and returns the number of groups
// still running.
func (o *Orchestrator) PumpAll() int {
	o.mu.Lock()
	groups := slices.Clone(o.active)
	o.mu.Unlock()

	running := 0
	for _, g := range groups {
		if o.Pump(g) {
			running++
		}
	}

	return running
}

func (o *Orchestrator) pumpLocked(g *TaskGroup) (GroupResult, bool) {
	for _, t := range g.tasks {
		if t.State != TaskInProgress {
			continue
		}
		outcome, ok := g.completed[t.ID]
		if !ok {
			continue
		}
		delete(g.completed, t.ID)

		t.Result = outcome
		if !outcome.OK() {
			o.failTask(g, t, &outcome, outcomeErr(t, outcome))
			continue
		}

		t.State = TaskFinished
		if g.hasState(TaskError) {
			// a failed group starts no new dependents
			continue
		}
		for _, next := range g.tasks {
			if next.State == TaskInit && !next.Trigger.IsImmediate() && next.Trigger.After() == t.ID {
				next.State = TaskStarted
			}
		}
	}

	failed := g.hasState(TaskError)
	for _, t := range g.tasks {
		if failed {
			break
		}
		if t.State != TaskStarted {
			continue
		}
		failed = !o.submit(g, t)
	}

	switch {
	case failed && !g.hasState(TaskInProgress):
		return o.resultLocked(g), true
	case g.allFinished():
		return o.resultLocked(g), true
	default:
		return GroupResult{}, false
	}
}

// submit hands task t to its module. It returns false if the task failed.
func (o *Orchestrator) submit(g *TaskGroup, t *Task) bool {
	m, ok := o.resolver.Module(t.Module)
	if !ok {
		o.failTask(g, t, nil, &fm.ConfigError{Handle: t.Module, Field: "module", Reason: "not registered"})
		return false
	}

	run, id := g.run, t.ID
	req, err := m.Submit(fm.Command{Kind: t.Kind, Payload: t.Payload}, func(cmd fm.PendingCommand) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if g.active && g.run == run {
			g.completed[id] = cmd.Outcome
		}
	})

	switch {
	case err == nil:
		t.State = TaskInProgress
		t.Request = req
		return true
	case errors.Is(err, fm.ErrBusy):
		o.logger.Debug("module busy, retry task on next pump", "group", g.name, "task", t.Name, "handle", t.Module.String())
		return true
	default:
		o.failTask(g, t, nil, err)
		return false
	}
}

func (o *Orchestrator) failTask(g *TaskGroup, t *Task, outcome *fm.Outcome, err error) {
	t.State = TaskError
	t.ErrorInfo = outcome
	t.Err = err
	o.logger.Warn("task failed", "group", g.name, "run_id", g.runID, "task", t.Name, "handle", t.Module.String(), "error", err)
}

func (o *Orchestrator) resultLocked(g *TaskGroup) GroupResult {
	res := GroupResult{Group: g.name, RunID: g.runID, Tasks: g.snapshot()}
	for _, t := range g.tasks {
		if t.State == TaskError {
			res.Err = fmt.Errorf("task group %s: task %s: %w", g.name, t.Name, t.Err)
			break
		}
	}

	return res
}

// finishLocked tears the group down and returns its callback.
func (o *Orchestrator) finishLocked(g *TaskGroup) GroupDoneFunc {
	if g.hasState(TaskError) {
		o.logger.Warn("task group failed", "group", g.name, "run_id", g.runID)
	} else {
		o.logger.Info("task group finished", "group", g.name, "run_id", g.runID)
	}

	for _, t := range g.tasks {
		t.reset(TaskUnused)
	}
	g.active = false
	done := g.done
	g.done = nil
	o.active = slices.DeleteFunc(o.active, func(other *TaskGroup) bool { return other == g })

	return done
}

func (g *TaskGroup) hasState(s TaskState) bool {
	for _, t := range g.tasks {
		if t.State == s {
			return true
		}
	}

	return false
}

func (g *TaskGroup) allFinished() bool {
	for _, t := range g.tasks {
		if t.State != TaskFinished {
			return false
		}
	}

	return true
}

func outcomeErr(t *Task, outcome fm.Outcome) error {
	f := fm.Fault{Code: outcome.Code}
	if outcome.Kind == fm.OutcomeTimeout {
		f = fm.Fault{Group: fm.FaultGroupTimeout, Code: uint16(t.Kind)}
	}

	return &fm.FaultError{Handle: t.Module, Fault: f}
}
