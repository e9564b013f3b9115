package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// MaskBits returns the positions of the set bits in mask, lowest first.
func MaskBits(mask uint32) []uint8 {
	bits := make([]uint8, 0, 4)
	for i := uint8(0); i < 32; i++ {
		if mask&(1<<i) != 0 {
			bits = append(bits, i)
		}
	}

	return bits
}
