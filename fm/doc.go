// Package fm implements the function module core of the device control layer.
//
// A function module is one channel of a slave node on the bus (a motor, a
// temperature controller, a digital output, ...). Each Module combines:
//
//   - an immutable Handle derived from node type, node index and channel,
//   - a life-cycle state machine (Boot, Initialized, Confirmed, Configuring, Idle,
//     Standby, Error) that gates every capability request,
//   - an Engine that makes each outgoing command awaitable with bounded latency and
//     produces exactly one Outcome per command,
//   - an Adapter that translates typed capability calls into command payloads.
//
// Engine.Submit is the only operation meant to be called from producer goroutines;
// draining, acknowledge matching and timeout checks run from the single scheduling
// tick (see the kernel package).
package fm
