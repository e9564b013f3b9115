package fm

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/canbus"
)

const (
	kindSetOutput CommandKind = KindUser + iota
	kindReadInput
	kindMove
)

type testAdapter struct {
	configFrames [][]byte
	invalid      bool
}

func (a *testAdapter) ObjectType() string { return "test" }

func (a *testAdapter) ValidateConfig() error {
	if a.invalid {
		return &ConfigError{Field: "threshold", Reason: "out of range"}
	}
	return nil
}

func (a *testAdapter) ConfigFrames() [][]byte { return a.configFrames }

func (a *testAdapter) Commands() []CommandSpec {
	return []CommandSpec{
		{Kind: kindSetOutput, Name: "set_output", Class: canbus.ClassFunction, RequestCode: 0x10, AckCode: 0x11, Timeout: WriteTimeout},
		{Kind: kindReadInput, Name: "read_input", Class: canbus.ClassFunction, RequestCode: 0x12, AckCode: 0x13, Timeout: StatusTimeout},
		{Kind: kindMove, Name: "move", Class: canbus.ClassFunction, RequestCode: 0x14, AckCode: 0x15, Timeout: MotionTimeout},
	}
}

func (a *testAdapter) DecodeNotification(code uint8, payload []byte) (Notification, bool) {
	if code != 0x20 {
		return Notification{}, false
	}
	return Notification{Event: "input_changed", Value: int64(payload[0])}, true
}

func (a *testAdapter) DescribeFault(f Fault) string { return "test fault" }

type fakeSender struct {
	mu     sync.Mutex
	frames []canbus.Frame
	err    error
}

func (s *fakeSender) Send(_ context.Context, f canbus.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) sent() []canbus.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]canbus.MessageID, 0, len(s.frames))
	for _, f := range s.frames {
		ids = append(ids, canbus.DecodeID(f.ID))
	}
	return ids
}

type recordingSink struct {
	mu            sync.Mutex
	faults        []Fault
	notifications []Notification
}

func (s *recordingSink) ModuleFault(_ Handle, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

func (s *recordingSink) ModuleNotification(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

var testHandle = NewHandle(3, 1, 2)

func ackID(code uint8) canbus.MessageID {
	id := testHandle.MessageID(canbus.ClassFunction, code)
	id.Direction = canbus.SlaveToMaster
	return id
}

func sysID(code uint8) canbus.MessageID {
	id := testHandle.MessageID(canbus.ClassSystem, code)
	id.Direction = canbus.SlaveToMaster
	return id
}

// newIdleModule walks a module through bring-up without configuration frames.
func newIdleModule(sender Sender, opts ...ModuleOption) (*Module, error) {
	m, err := NewModule("test", testHandle, &testAdapter{}, sender, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	if err := m.Confirm(); err != nil {
		return nil, err
	}
	if err := m.Configure(); err != nil {
		return nil, err
	}
	return m, nil
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
