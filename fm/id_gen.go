package fm

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
)

// RequestID identifies a submitted command. IDs are unique within a process.
type RequestID uint32

// requestIDGenerator generates request IDs starting from a random seed and
// increments atomically.
type requestIDGenerator struct {
	id atomic.Uint32
}

func newRequestIDGenerator() *requestIDGenerator {
	inst := &requestIDGenerator{}
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return inst
	}
	inst.id.Store(binary.LittleEndian.Uint32(buf[:]))

	return inst
}

func (g *requestIDGenerator) next() RequestID {
	for {
		if id := RequestID(g.id.Add(1)); id != 0 {
			return id
		}
	}
}

var (
	genInst *requestIDGenerator
	genOnce sync.Once
)

// GenerateRequestID returns a unique, non-zero request ID.
func GenerateRequestID() RequestID {
	genOnce.Do(func() {
		genInst = newRequestIDGenerator()
	})

	return genInst.next()
}
