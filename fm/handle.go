package fm

import (
	"fmt"

	"github.com/arloliu/go-dcl/canbus"
)

// Handle identifies a function module instance. It packs node type, node index and
// channel and is used as the correlation key for every acknowledge.
type Handle uint32

// NewHandle creates the handle of the module on channel of the given node.
func NewHandle(nodeType, nodeIndex, channel uint8) Handle {
	return Handle(uint32(nodeType)<<16 | uint32(nodeIndex)<<8 | uint32(channel))
}

// HandleOf returns the handle addressed by a decoded message identifier.
func HandleOf(id canbus.MessageID) Handle {
	return NewHandle(id.NodeType, id.NodeIndex, id.Channel)
}

// NodeType returns the node type part of the handle.
func (h Handle) NodeType() uint8 { return uint8(h >> 16) }

// NodeIndex returns the node index part of the handle.
func (h Handle) NodeIndex() uint8 { return uint8(h >> 8) }

// Channel returns the channel part of the handle.
func (h Handle) Channel() uint8 { return uint8(h) }

// Node returns the key of the node the module belongs to.
func (h Handle) Node() NodeKey {
	return NodeKey{Type: h.NodeType(), Index: h.NodeIndex()}
}

// MessageID returns the master-to-slave message identifier for class and code on this module.
func (h Handle) MessageID(class canbus.Class, code uint8) canbus.MessageID {
	return canbus.MessageID{
		Class:     class,
		Code:      code,
		Channel:   h.Channel(),
		NodeType:  h.NodeType(),
		NodeIndex: h.NodeIndex(),
		Direction: canbus.MasterToSlave,
	}
}

// Validate reports whether the handle fits the bus addressing layout.
func (h Handle) Validate() error {
	switch {
	case h.NodeType() == 0:
		return &ConfigError{Handle: h, Field: "node_type", Reason: "must not be zero"}
	case h.NodeIndex() > canbus.MaxNodeIndex:
		return &ConfigError{Handle: h, Field: "node_index", Reason: fmt.Sprintf("%d exceeds %d", h.NodeIndex(), canbus.MaxNodeIndex)}
	case h.Channel() > canbus.MaxChannel:
		return &ConfigError{Handle: h, Field: "channel", Reason: fmt.Sprintf("%d exceeds %d", h.Channel(), canbus.MaxChannel)}
	}

	return nil
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d/%d", h.NodeType(), h.NodeIndex(), h.Channel())
}

// NodeKey identifies a slave node by type and index.
type NodeKey struct {
	Type  uint8
	Index uint8
}

// MessageID returns the master-to-slave node level message identifier for code.
func (n NodeKey) MessageID(code uint8) canbus.MessageID {
	return canbus.MessageID{
		Class:     canbus.ClassSystem,
		Code:      code,
		NodeType:  n.Type,
		NodeIndex: n.Index,
		Direction: canbus.MasterToSlave,
	}
}

func (n NodeKey) String() string {
	return fmt.Sprintf("%d/%d", n.Type, n.Index)
}
