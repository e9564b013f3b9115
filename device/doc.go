// Package device composes function modules into logical devices.
//
// A device operation is a TaskGroup: an ordered set of module commands linked by start
// triggers. The Orchestrator activates groups and advances them once per scheduling tick,
// starting a task only when the task it waits for has finished and stopping a group on
// the first failed task.
//
// Devices never own modules. They hold fm.Handle values resolved through an fm.Resolver
// and receive module faults and notifications through subscriptions dispatched by the kernel.
package device
