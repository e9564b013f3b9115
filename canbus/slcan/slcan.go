// Package slcan implements canbus.Bus over a serial-line CAN adapter speaking
// the Lawicel SLCAN ASCII protocol.
//
// Frames are exchanged as carriage-return terminated lines:
//
//	tiiildd..   standard data frame
//	Tiiiiiiiildd..  extended data frame
//	riiil       standard remote frame
//	Riiiiiiiil  extended remote frame
package slcan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.bug.st/serial"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/logger"
)

var (
	// ErrMalformed indicates a line received from the adapter could not be parsed as a frame.
	ErrMalformed = errors.New("slcan: malformed frame")
	// ErrBitrate indicates an unsupported CAN bitrate.
	ErrBitrate = errors.New("slcan: unsupported bitrate")
)

var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// Bus is a canbus.Bus backed by an SLCAN adapter.
type Bus struct {
	port   io.ReadWriteCloser
	logger logger.Logger

	wmu    sync.Mutex
	frames chan canbus.Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

var _ canbus.Bus = (*Bus)(nil)

// Open opens the serial device portName at baudRate and starts the adapter with
// the given CAN bitrate.
func Open(portName string, baudRate int, bitrate int, l logger.Logger) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: open serial port %s: %w", portName, err)
	}

	bus, err := New(port, bitrate, l)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	return bus, nil
}

// New starts an SLCAN session on an already opened port.
func New(port io.ReadWriteCloser, bitrate int, l logger.Logger) (*Bus, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBitrate, bitrate)
	}
	if l == nil {
		l = logger.GetLogger()
	}

	b := &Bus{
		port:   port,
		logger: l.With("transport", "slcan"),
		frames: make(chan canbus.Frame, 256),
		done:   make(chan struct{}),
	}

	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			return nil, fmt.Errorf("slcan: init adapter: %w", err)
		}
	}

	go b.readLoop()

	return b, nil
}

// Send writes the frame to the adapter. The write itself is not cancellable.
func (b *Bus) Send(ctx context.Context, frame canbus.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := MarshalFrame(frame)
	if err != nil {
		return err
	}

	select {
	case <-b.done:
		return canbus.ErrClosed
	default:
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, err = b.port.Write(line)

	return err
}

// Receive waits for the next frame from the adapter.
func (b *Bus) Receive(ctx context.Context) (canbus.Frame, error) {
	select {
	case f, ok := <-b.frames:
		if !ok {
			return canbus.Frame{}, canbus.ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

// Close closes the adapter channel and the serial port.
func (b *Bus) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.wmu.Lock()
		_, _ = io.WriteString(b.port, "C\r")
		b.wmu.Unlock()
		b.err = b.port.Close()
	})

	return b.err
}

func (b *Bus) readLoop() {
	defer close(b.frames)

	r := bufio.NewReader(b.port)
	for {
		line, err := r.ReadBytes('\r')
		if err != nil {
			select {
			case <-b.done:
			default:
				b.logger.Error("serial read failed", "error", err)
			}
			return
		}

		line = line[:len(line)-1]
		if len(line) == 0 || line[0] == 0x07 {
			// empty line is an OK response, BEL an error response
			continue
		}

		f, err := ParseFrame(line)
		if err != nil {
			if line[0] != 'z' && line[0] != 'Z' {
				b.logger.Debug("ignore adapter line", "line", string(line), "error", err)
			}
			continue
		}

		select {
		case b.frames <- f:
		case <-b.done:
			return
		}
	}
}

// MarshalFrame encodes a frame as an SLCAN line including the trailing carriage return.
func MarshalFrame(f canbus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var kind byte
	var idDigits int
	switch {
	case f.Extended && f.RTR:
		kind, idDigits = 'R', 8
	case f.Extended:
		kind, idDigits = 'T', 8
	case f.RTR:
		kind, idDigits = 'r', 3
	default:
		kind, idDigits = 't', 3
	}

	buf := make([]byte, 0, 1+idDigits+1+2*canbus.MaxDataLen+1)
	buf = append(buf, kind)
	buf = appendHex(buf, uint64(f.ID), idDigits)
	buf = append(buf, '0'+f.Len)
	if !f.RTR {
		for i := uint8(0); i < f.Len; i++ {
			buf = appendHex(buf, uint64(f.Data[i]), 2)
		}
	}
	buf = append(buf, '\r')

	return buf, nil
}

// ParseFrame decodes an SLCAN frame line without the trailing carriage return.
func ParseFrame(line []byte) (canbus.Frame, error) {
	var f canbus.Frame
	if len(line) == 0 {
		return f, ErrMalformed
	}

	idDigits := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended, idDigits = true, 8
	case 'r':
		f.RTR = true
	case 'R':
		f.Extended, f.RTR, idDigits = true, true, 8
	default:
		return f, fmt.Errorf("%w: unknown type %q", ErrMalformed, line[0])
	}

	if len(line) < 1+idDigits+1 {
		return f, fmt.Errorf("%w: short line", ErrMalformed)
	}

	id, err := strconv.ParseUint(string(line[1:1+idDigits]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: identifier: %w", ErrMalformed, err)
	}
	f.ID = uint32(id)

	dlc := line[1+idDigits]
	if dlc < '0' || dlc > '8' {
		return f, fmt.Errorf("%w: length %q", ErrMalformed, dlc)
	}
	f.Len = dlc - '0'

	data := line[2+idDigits:]
	if !f.RTR {
		if len(data) < int(f.Len)*2 {
			return f, fmt.Errorf("%w: short data", ErrMalformed)
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(string(data[2*i:2*i+2]), 16, 8)
			if err != nil {
				return f, fmt.Errorf("%w: data: %w", ErrMalformed, err)
			}
			f.Data[i] = byte(v)
		}
	}

	return f, f.Validate()
}

const hexDigits = "0123456789ABCDEF"

func appendHex(buf []byte, v uint64, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		buf = append(buf, hexDigits[(v>>(4*uint(i)))&0xF])
	}

	return buf
}
