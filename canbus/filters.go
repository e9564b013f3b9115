package canbus

// FrameFilter decides whether a frame should be accepted.
type FrameFilter func(Frame) bool

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// FromSlaves matches extended frames sent by slave nodes.
func FromSlaves() FrameFilter {
	return And(ExtendedOnly(), ByMask(uint32(SlaveToMaster), 1))
}

// ToNode matches extended frames sent by the master to the given node.
func ToNode(nodeType, nodeIndex uint8) FrameFilter {
	id := uint32(nodeType)<<nodeTypeShift | uint32(nodeIndex)<<nodeIndexShift
	mask := uint32(MaxNodeType)<<nodeTypeShift | uint32(MaxNodeIndex)<<nodeIndexShift | 1
	return And(ExtendedOnly(), ByMask(id, mask))
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not negates a filter. A nil filter negates to one that never matches.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}
