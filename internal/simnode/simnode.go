// Package simnode provides a simulated slave node for tests and examples.
//
// A Node listens on a canbus.Bus endpoint and answers the frames a master sends to it:
// module list queries, configuration frames, module state and life-cycle data requests,
// and the adapter commands of every module it hosts. Adapter requests are acknowledged
// with the acknowledge code of the adapter's command table.
package simnode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/internal/util"
	"github.com/arloliu/go-dcl/logger"
)

// Responder builds the acknowledge payload of a request. Returning false drops the
// request without acknowledge.
type Responder func(req []byte) (ack []byte, ok bool)

// ErrUnknownChannel is returned for operations on channels without a module.
var ErrUnknownChannel = errors.New("simnode: no module on channel")

type reqKey struct {
	class canbus.Class
	code  uint8
}

type module struct {
	channel    uint8
	specs      map[reqKey]fm.CommandSpec
	responders map[fm.CommandKind]Responder
	failures   map[fm.CommandKind]fm.Fault
	lifeCycle  fm.LifeCycleData
}

// Node is a simulated slave node.
type Node struct {
	key    fm.NodeKey
	bus    canbus.Bus
	logger logger.Logger

	mu       sync.Mutex
	modules  map[uint8]*module
	silent   bool
	requests []canbus.MessageID
}

// New creates a node with address key on bus.
func New(bus canbus.Bus, key fm.NodeKey, l logger.Logger) *Node {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Node{
		key:     key,
		bus:     bus,
		logger:  l.With("simnode", key.String()),
		modules: make(map[uint8]*module),
	}
}

// Key returns the node address.
func (n *Node) Key() fm.NodeKey { return n.key }

// AddModule hosts a module of adapter a on channel.
func (n *Node) AddModule(channel uint8, a fm.Adapter) error {
	if channel > canbus.MaxChannel {
		return fmt.Errorf("simnode: channel %d out of range", channel)
	}

	m := &module{
		channel:    channel,
		specs:      make(map[reqKey]fm.CommandSpec),
		responders: make(map[fm.CommandKind]Responder),
		failures:   make(map[fm.CommandKind]fm.Fault),
	}
	for _, spec := range a.Commands() {
		m.specs[reqKey{spec.Class, spec.RequestCode}] = spec
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.modules[channel]; ok {
		return fmt.Errorf("simnode: channel %d already has a module", channel)
	}
	n.modules[channel] = m

	return nil
}

// SetSilent makes the node ignore every frame while silent is true.
func (n *Node) SetSilent(silent bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent = silent
}

// Respond installs the responder for adapter command kind on channel. Requests of kinds
// without responder are acknowledged with their own payload.
func (n *Node) Respond(channel uint8, kind fm.CommandKind, fn Responder) error {
	return n.withModule(channel, func(m *module) {
		m.responders[kind] = fn
	})
}

// FailOn makes the module on channel answer requests of kind with an error event
// carrying f instead of an acknowledge.
func (n *Node) FailOn(channel uint8, kind fm.CommandKind, f fm.Fault) error {
	return n.withModule(channel, func(m *module) {
		m.failures[kind] = f
	})
}

// SetLifeCycleData sets the counters reported by the module on channel.
func (n *Node) SetLifeCycleData(channel uint8, d fm.LifeCycleData) error {
	return n.withModule(channel, func(m *module) {
		m.lifeCycle = d
	})
}

// Requests returns the identifiers of the frames received for this node.
func (n *Node) Requests() []canbus.MessageID {
	n.mu.Lock()
	defer n.mu.Unlock()

	return util.CloneSlice(n.requests, 0)
}

// EmitFault sends an error event of the module on channel.
func (n *Node) EmitFault(ctx context.Context, channel uint8, f fm.Fault) error {
	return n.send(ctx, n.moduleID(canbus.ClassSystem, fm.CodeEventError, channel), fm.EncodeEvent(f))
}

// Notify sends an unsolicited adapter frame of the module on channel.
func (n *Node) Notify(ctx context.Context, channel, code uint8, payload []byte) error {
	return n.send(ctx, n.moduleID(canbus.ClassFunction, code, channel), payload)
}

// Serve answers frames until ctx is done or the bus is closed.
func (n *Node) Serve(ctx context.Context) error {
	for {
		f, err := n.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, canbus.ErrClosed) || ctx.Err() != nil {
				return nil
			}

			return err
		}

		if err := n.Handle(ctx, f); err != nil {
			n.logger.Warn("answer frame failed", "frame", f.String(), "error", err)
		}
	}
}

// Handle answers one frame. Frames for other nodes and slave-to-master frames are ignored.
func (n *Node) Handle(ctx context.Context, f canbus.Frame) error {
	if !f.Extended {
		return nil
	}
	id := canbus.DecodeID(f.ID)
	if id.Direction != canbus.MasterToSlave || id.NodeType != n.key.Type || id.NodeIndex != n.key.Index {
		return nil
	}
	payload := util.CloneSlice(f.Payload(), 0)

	n.mu.Lock()
	n.requests = append(n.requests, id)
	if n.silent {
		n.mu.Unlock()
		return nil
	}

	if id.Class == canbus.ClassSystem && id.Code == fm.CodeQueryModules {
		var mask uint32
		for ch := range n.modules {
			mask |= 1 << ch
		}
		n.mu.Unlock()

		return n.send(ctx, id.Reply(), fm.EncodeModulesPresent(mask))
	}

	m, ok := n.modules[id.Channel]
	if !ok {
		n.mu.Unlock()
		n.logger.Debug("no module on channel", "id", id.String())
		return nil
	}
	reply, ackPayload, fault, ok := m.answer(id, payload)
	n.mu.Unlock()

	switch {
	case fault != nil:
		return n.EmitFault(ctx, id.Channel, *fault)
	case ok:
		return n.send(ctx, reply, ackPayload)
	default:
		return nil
	}
}

// answer returns the acknowledge of a module request, or the fault to report instead.
func (m *module) answer(id canbus.MessageID, payload []byte) (canbus.MessageID, []byte, *fm.Fault, bool) {
	reply := id.Reply()

	switch {
	case id.Class == canbus.ClassFunction && id.Code == fm.CodeConfigure:
		return reply, nil, nil, true
	case id.Class == canbus.ClassSystem && id.Code == fm.CodeModuleState:
		return reply, payload, nil, true
	case id.Class == canbus.ClassSystem && id.Code == fm.CodeLifeCycleData:
		return reply, fm.EncodeLifeCycleData(m.lifeCycle), nil, true
	}

	spec, ok := m.specs[reqKey{id.Class, id.Code}]
	if !ok {
		return reply, nil, nil, false
	}
	if f, ok := m.failures[spec.Kind]; ok {
		return reply, nil, &f, false
	}

	reply.Code = spec.AckCode
	if fn, ok := m.responders[spec.Kind]; ok {
		ack, ok := fn(payload)
		return reply, ack, nil, ok
	}

	return reply, payload, nil, true
}

func (n *Node) withModule(channel uint8, fn func(m *module)) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, ok := n.modules[channel]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	fn(m)

	return nil
}

func (n *Node) moduleID(class canbus.Class, code, channel uint8) canbus.MessageID {
	return canbus.MessageID{
		Class:     class,
		Code:      code,
		Channel:   channel,
		NodeType:  n.key.Type,
		NodeIndex: n.key.Index,
		Direction: canbus.SlaveToMaster,
	}
}

func (n *Node) send(ctx context.Context, id canbus.MessageID, payload []byte) error {
	raw, err := id.Encode()
	if err != nil {
		return err
	}
	f, err := canbus.NewFrame(raw, payload)
	if err != nil {
		return err
	}

	return n.bus.Send(ctx, f)
}
