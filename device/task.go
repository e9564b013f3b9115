package device

import (
	"fmt"

	"github.com/arloliu/go-dcl/fm"
)

// TaskID identifies a task by its declaration index within its group.
type TaskID int

// TaskState is the progress of a Task.
type TaskState uint8

const (
	// TaskUnused is the state of a task whose group is not running.
	TaskUnused TaskState = iota
	TaskInit
	TaskStarted
	TaskInProgress
	TaskFinished
	TaskError
)

func (s TaskState) String() string {
	switch s {
	case TaskUnused:
		return "unused"
	case TaskInit:
		return "init"
	case TaskStarted:
		return "started"
	case TaskInProgress:
		return "in_progress"
	case TaskFinished:
		return "finished"
	case TaskError:
		return "error"
	default:
		return fmt.Sprintf("task_state(%d)", uint8(s))
	}
}

// Trigger is the start condition of a task.
type Trigger struct {
	immediate bool
	after     TaskID
}

// Immediate returns the trigger of the task that starts on activation.
func Immediate() Trigger { return Trigger{immediate: true} }

// AfterTaskFinished returns the trigger of a task that starts when task id finished.
func AfterTaskFinished(id TaskID) Trigger { return Trigger{after: id} }

// IsImmediate returns true for the activation trigger.
func (t Trigger) IsImmediate() bool { return t.immediate }

// After returns the task this trigger waits for. It is meaningless for Immediate.
func (t Trigger) After() TaskID { return t.after }

func (t Trigger) String() string {
	if t.immediate {
		return "immediate"
	}

	return fmt.Sprintf("after(%d)", t.after)
}

// TaskSpec declares one task of a group: the module and command kind it is bound to and
// its start trigger.
type TaskSpec struct {
	Name    string
	Module  fm.Handle
	Kind    fm.CommandKind
	Trigger Trigger
}

// Task is one unit of device level work bound to one module and one command kind.
type Task struct {
	ID      TaskID
	Name    string
	Module  fm.Handle
	Kind    fm.CommandKind
	Trigger Trigger
	State   TaskState
	// Payload is the command payload of the current invocation.
	Payload []byte
	// Request is the engine request id once the task is InProgress.
	Request fm.RequestID
	// Result is the command outcome once the task is Finished or Error.
	Result fm.Outcome
	// ErrorInfo is set when the task ended with a failed outcome.
	ErrorInfo *fm.Outcome
	// Err describes why the task is in Error, including submissions the module refused.
	Err error
}

// Finished returns true if the task completed successfully.
func (t *Task) Finished() bool { return t.State == TaskFinished }

func (t *Task) reset(state TaskState) {
	t.State = state
	t.Request = 0
	t.Result = fm.Outcome{}
	t.ErrorInfo = nil
	t.Err = nil
}
