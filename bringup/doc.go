// Package bringup coordinates the life-cycle of all modules of a session.
//
// A Service moves every module from Boot to Idle (bring-up) or from Idle to Standby
// (shutdown) as one operation with a global poll budget:
//
//	Init -> RequestState -> WaitForStates -> Finished | Error | Timeout
//
// RequestState issues the state change to every module whose state allows it.
// WaitForStates is polled once per scheduling tick. It finishes when every module
// reached the target state, fails as soon as a module reports Error, and ends with
// Timeout once the poll budget is spent, so a stuck module degrades the session
// instead of hanging it.
package bringup
