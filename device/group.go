package device

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/internal/util"
)

// GroupDoneFunc receives the result of a finished or failed task group.
type GroupDoneFunc func(res GroupResult)

// TaskGroup is an ordered set of trigger linked tasks realizing one device operation.
//
// A group is created once per device configuration and activated for every invocation.
// All task state is owned by the Orchestrator; callers observe it through snapshots.
type TaskGroup struct {
	name  string
	tasks []*Task

	// guarded by the orchestrator mutex
	active    bool
	run       uint64
	runID     uuid.UUID
	done      GroupDoneFunc
	completed map[TaskID]fm.Outcome
}

// NewTaskGroup validates specs and creates a group with all tasks unused.
//
// Exactly one task must be Immediate and every other trigger must reference a task
// declared before it, which rules out cycles.
func NewTaskGroup(name string, specs ...TaskSpec) (*TaskGroup, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s has no tasks", ErrInvalidGroup, name)
	}

	immediate := 0
	tasks := make([]*Task, len(specs))
	for i, spec := range specs {
		if spec.Trigger.IsImmediate() {
			immediate++
		} else if after := spec.Trigger.After(); after < 0 || int(after) >= i {
			return nil, fmt.Errorf("%w: %s task %q waits for task %d which does not precede it", ErrInvalidGroup, name, spec.Name, after)
		}
		if spec.Module == 0 {
			return nil, fmt.Errorf("%w: %s task %q has no module", ErrInvalidGroup, name, spec.Name)
		}

		tasks[i] = &Task{
			ID:      TaskID(i),
			Name:    spec.Name,
			Module:  spec.Module,
			Kind:    spec.Kind,
			Trigger: spec.Trigger,
		}
	}
	if immediate != 1 {
		return nil, fmt.Errorf("%w: %s has %d immediate tasks, want 1", ErrInvalidGroup, name, immediate)
	}

	return &TaskGroup{name: name, tasks: tasks, completed: make(map[TaskID]fm.Outcome)}, nil
}

// Name returns the group name.
func (g *TaskGroup) Name() string { return g.name }

// Len returns the number of tasks.
func (g *TaskGroup) Len() int { return len(g.tasks) }

// GroupResult is the aggregate result of one group invocation.
type GroupResult struct {
	Group string
	RunID uuid.UUID
	// Tasks are snapshots of the tasks in declaration order taken when the group terminated.
	Tasks []Task
	// Err is nil if every task finished, otherwise the error of the first failed task.
	Err error
}

// OK returns true if every task finished.
func (r GroupResult) OK() bool { return r.Err == nil }

// Task returns the snapshot of task id.
func (r GroupResult) Task(id TaskID) (Task, bool) {
	if id < 0 || int(id) >= len(r.Tasks) {
		return Task{}, false
	}

	return r.Tasks[id], true
}

// Failed returns the snapshots of the tasks in Error.
func (r GroupResult) Failed() []Task {
	var out []Task
	for _, t := range r.Tasks {
		if t.State == TaskError {
			out = append(out, t)
		}
	}

	return out
}

// Fault returns the module fault of the first failed task, if the failure was a device
// error or a timeout.
func (r GroupResult) Fault() (*fm.FaultError, bool) {
	var fe *fm.FaultError
	if errors.As(r.Err, &fe) {
		return fe, true
	}

	return nil, false
}

func (g *TaskGroup) snapshot() []Task {
	out := make([]Task, len(g.tasks))
	for i, t := range g.tasks {
		out[i] = *t
		out[i].Payload = util.CloneSlice(t.Payload, 0)
	}

	return out
}
