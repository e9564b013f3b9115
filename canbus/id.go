package canbus

import "fmt"

// Class is the command class of a message identifier.
type Class uint8

const (
	// ClassSystem carries node level and generic module management frames.
	ClassSystem Class = 0
	// ClassFunction carries function module specific commands and acknowledges.
	ClassFunction Class = 1
)

// Direction is the transfer direction of a frame.
type Direction uint8

const (
	MasterToSlave Direction = 0
	SlaveToMaster Direction = 1
)

// Field limits of the message identifier layout.
const (
	MaxClass     = 0x0F
	MaxCode      = 0x7F
	MaxChannel   = 0x1F
	MaxNodeType  = 0xFF
	MaxNodeIndex = 0x0F
)

const (
	classShift     = 25
	codeShift      = 18
	channelShift   = 13
	nodeTypeShift  = 5
	nodeIndexShift = 1
)

// MessageID is the decoded form of a 29-bit message identifier.
type MessageID struct {
	Class     Class
	Code      uint8
	Channel   uint8
	NodeType  uint8
	NodeIndex uint8
	Direction Direction
}

// Encode packs the message identifier into a 29-bit CAN identifier.
func (m MessageID) Encode() (uint32, error) {
	switch {
	case m.Class > MaxClass:
		return 0, fmt.Errorf("%w: class %d", ErrInvalidID, m.Class)
	case m.Code > MaxCode:
		return 0, fmt.Errorf("%w: code %d", ErrInvalidID, m.Code)
	case m.Channel > MaxChannel:
		return 0, fmt.Errorf("%w: channel %d", ErrInvalidID, m.Channel)
	case m.NodeIndex > MaxNodeIndex:
		return 0, fmt.Errorf("%w: node index %d", ErrInvalidID, m.NodeIndex)
	}

	id := uint32(m.Class)<<classShift |
		uint32(m.Code)<<codeShift |
		uint32(m.Channel)<<channelShift |
		uint32(m.NodeType)<<nodeTypeShift |
		uint32(m.NodeIndex)<<nodeIndexShift |
		uint32(m.Direction&1)

	return id, nil
}

// DecodeID unpacks a 29-bit CAN identifier.
func DecodeID(id uint32) MessageID {
	return MessageID{
		Class:     Class((id >> classShift) & MaxClass),
		Code:      uint8((id >> codeShift) & MaxCode),
		Channel:   uint8((id >> channelShift) & MaxChannel),
		NodeType:  uint8((id >> nodeTypeShift) & MaxNodeType),
		NodeIndex: uint8((id >> nodeIndexShift) & MaxNodeIndex),
		Direction: Direction(id & 1),
	}
}

// Reply returns the same identifier with the direction flipped.
func (m MessageID) Reply() MessageID {
	m.Direction ^= 1
	return m
}

func (m MessageID) String() string {
	dir := "m>s"
	if m.Direction == SlaveToMaster {
		dir = "s>m"
	}

	return fmt.Sprintf("class=%d code=%d node=%d/%d ch=%d %s", m.Class, m.Code, m.NodeType, m.NodeIndex, m.Channel, dir)
}
