// Package canbus defines the transport collaborator used by the device control layer.
//
// A Bus moves classical CAN frames between the master and the slave nodes. The
// package provides an in-memory LoopbackBus for tests and simulation, a logging
// decorator, composable frame filters and the 29-bit message identifier layout
// used to address function modules:
//
//	bit 28..25  command class   (4 bits)
//	bit 24..18  command code    (7 bits)
//	bit 17..13  channel         (5 bits)
//	bit 12..5   node type       (8 bits)
//	bit  4..1   node index      (4 bits)
//	bit  0      direction       (0 = master to slave, 1 = slave to master)
//
// The serial-line adapter transport lives in the slcan sub-package.
package canbus
