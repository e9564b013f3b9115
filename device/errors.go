package device

import "errors"

var (
	// ErrAlreadyActive indicates a task group that is still running was activated again.
	ErrAlreadyActive = errors.New("device: task group already active")

	// ErrInvalidGroup indicates a task group whose triggers violate the ordering rules.
	ErrInvalidGroup = errors.New("device: invalid task group")

	// ErrUnknownTask indicates a task id outside the group.
	ErrUnknownTask = errors.New("device: unknown task")

	// ErrUnknownRole indicates a device role that is not configured.
	ErrUnknownRole = errors.New("device: unknown role")
)
