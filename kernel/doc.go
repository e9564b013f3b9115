// Package kernel wires the function modules, the bring-up service and the devices of one
// instrument to a bus transport and drives them from a single scheduling tick.
//
// Received frames are queued by a receiver goroutine and dispatched by the tick, so
// module state, command completions, faults and notifications are all processed in the
// tick context. One tick runs these steps in order:
//
//  1. dispatch received frames to their modules (acknowledges, events, notifications)
//     and node module lists to the modules they confirm
//  2. transmit queued commands and expire timed out ones
//  3. deliver faults and notifications to the subscribed devices
//  4. advance the bring-up or shutdown operation
//  5. advance the device life-cycles and pump the active task groups
//
// Tick is exported so tests can drive the kernel with explicit instants; Start runs it
// periodically together with the receiver.
//
// Completion callbacks run in the tick context and must not block on the kernel. The
// blocking helpers Call, Await, BringUp and Shutdown are meant for other goroutines.
package kernel
