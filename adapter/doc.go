// Package adapter provides the function module adapters: digital and analog I/O,
// stepper motor, temperature control, pressure control and RFID ISO 11785.
//
// An adapter translates typed capability calls such as SetOutput or DrivePosition
// into an fm.Command (kind and payload) and decodes acknowledge payloads back into
// typed results. Adapters only encode and decode; timeouts and correlation belong
// to the fm.Engine.
//
// All adapter commands use the function class. Request codes are even and the
// matching acknowledge code is the request code plus one. Unsolicited notifications
// use code 0x20.
package adapter
