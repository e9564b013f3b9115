package kernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/canbus"
	"github.com/arloliu/go-dcl/device"
	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/internal/queue"
	"github.com/arloliu/go-dcl/internal/util"
	"github.com/arloliu/go-dcl/logger"
)

// Kernel owns the module registry, the bus transport, the bring-up service, the task
// group orchestrator and the devices of one instrument.
type Kernel struct {
	cfg      *kernelConfig
	logger   logger.Logger
	bus      canbus.Bus
	registry *fm.Registry
	service  *bringup.Service
	orch     *device.Orchestrator
	taskMgr  *TaskManager
	state    AtomicRunState
	inbox    queue.Queue[canbus.Frame]
	metrics  Metrics

	tickMu sync.Mutex

	eventMu sync.Mutex
	events  []event

	subMu   sync.RWMutex
	subs    map[fm.Handle][]fm.EventSink
	global   []fm.EventSink
	devices  []device.Device
	disabled map[string]error
}

type event struct {
	handle fm.Handle
	fault  *fm.Fault
	note   *fm.Notification
}

var (
	_ fm.EventSink        = (*Kernel)(nil)
	_ bringup.NodeQuerier = (*Kernel)(nil)
)

// New creates a stopped kernel on bus. A nil registry creates an empty one.
func New(bus canbus.Bus, reg *fm.Registry, opts ...Option) (*Kernel, error) {
	if bus == nil {
		return nil, errors.New("kernel: bus is required")
	}
	if reg == nil {
		reg = fm.NewRegistry()
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.frameLogging {
		bus = canbus.NewLoggedBus(bus, cfg.logger, canbus.LogAll, nil)
	}

	k := &Kernel{
		cfg:      cfg,
		logger:   cfg.logger,
		bus:      bus,
		registry: reg,
		orch:     device.NewOrchestrator(reg, cfg.logger),
		taskMgr:  NewTaskManager(context.Background(), cfg.logger),
		inbox:    queue.NewLockFreeQueue[canbus.Frame](),
		subs:     make(map[fm.Handle][]fm.EventSink),
	}

	svcOpts := append([]bringup.Option{bringup.WithLogger(cfg.logger)}, cfg.bringupOpts...)
	svc, err := bringup.NewService(reg, k, svcOpts...)
	if err != nil {
		return nil, err
	}
	k.service = svc

	return k, nil
}

// Registry returns the module registry.
func (k *Kernel) Registry() *fm.Registry { return k.registry }

// BringUpService returns the bring-up service.
func (k *Kernel) BringUpService() *bringup.Service { return k.service }

// Orchestrator returns the task group orchestrator shared by the devices.
func (k *Kernel) Orchestrator() *device.Orchestrator { return k.orch }

// Metrics returns the kernel metrics.
func (k *Kernel) Metrics() *Metrics { return &k.metrics }

// RunState returns the run state of the kernel.
func (k *Kernel) RunState() RunState { return k.state.Get() }

// DeviceEnv returns the collaborators a device of this kernel is created with.
func (k *Kernel) DeviceEnv() device.Env {
	return device.Env{Resolver: k.registry, Orchestrator: k.orch, Logger: k.logger}
}

// AddModule creates a module of adapter a at handle h that transmits on the kernel bus
// and reports faults and notifications to the kernel, and registers it.
func (k *Kernel) AddModule(key string, h fm.Handle, a fm.Adapter, opts ...fm.ModuleOption) (*fm.Module, error) {
	opts = append([]fm.ModuleOption{fm.WithLogger(k.logger), fm.WithEventSink(k)}, opts...)

	m, err := fm.NewModule(key, h, a, k.bus, opts...)
	if err != nil {
		return nil, err
	}
	if err := k.registry.Add(m); err != nil {
		return nil, err
	}

	return m, nil
}

// AddDevice registers d and subscribes it to the modules it depends on.
func (k *Kernel) AddDevice(d device.Device) error {
	k.subMu.Lock()
	defer k.subMu.Unlock()

	for _, other := range k.devices {
		if other.Name() == d.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name())
		}
	}
	k.devices = append(k.devices, d)

	for _, h := range d.Handles() {
		k.subs[h] = append(k.subs[h], d)
	}

	return nil
}

// Device returns the device registered under name.
func (k *Kernel) Device(name string) (device.Device, bool) {
	k.subMu.RLock()
	defer k.subMu.RUnlock()

	for _, d := range k.devices {
		if d.Name() == name {
			return d, true
		}
	}

	return nil, false
}

// DisabledDevices returns the devices left out by Build with the reason, keyed by name.
func (k *Kernel) DisabledDevices() map[string]error {
	k.subMu.RLock()
	defer k.subMu.RUnlock()

	return maps.Clone(k.disabled)
}

func (k *Kernel) disableDevice(name string, err error) {
	k.subMu.Lock()
	defer k.subMu.Unlock()

	if k.disabled == nil {
		k.disabled = make(map[string]error)
	}
	k.disabled[name] = err
}

// Devices returns the registered devices in registration order.
func (k *Kernel) Devices() []device.Device {
	k.subMu.RLock()
	defer k.subMu.RUnlock()

	return util.CloneSlice(k.devices, 0)
}

// Subscribe delivers the faults and notifications of the modules at handles to sink.
// Without handles, sink receives the events of every module.
func (k *Kernel) Subscribe(sink fm.EventSink, handles ...fm.Handle) {
	k.subMu.Lock()
	defer k.subMu.Unlock()

	if len(handles) == 0 {
		k.global = append(k.global, sink)
		return
	}
	for _, h := range handles {
		k.subs[h] = append(k.subs[h], sink)
	}
}

// ModuleFault queues a module fault for delivery by the next tick.
func (k *Kernel) ModuleFault(h fm.Handle, f fm.Fault) {
	k.eventMu.Lock()
	k.events = append(k.events, event{handle: h, fault: &f})
	k.eventMu.Unlock()
}

// ModuleNotification queues a module notification for delivery by the next tick.
func (k *Kernel) ModuleNotification(n fm.Notification) {
	k.eventMu.Lock()
	k.events = append(k.events, event{handle: n.Handle, note: &n})
	k.eventMu.Unlock()
}

// QueryModules asks the node for its module list.
func (k *Kernel) QueryModules(ctx context.Context, node fm.NodeKey) error {
	raw, err := node.MessageID(fm.CodeQueryModules).Encode()
	if err != nil {
		return err
	}
	f, err := canbus.NewFrame(raw, nil)
	if err != nil {
		return err
	}

	return k.bus.Send(ctx, f)
}

// Start runs the bus receiver and the periodic tick.
func (k *Kernel) Start() error {
	if !k.state.ToStarting() {
		return fmt.Errorf("%w: %s", ErrRunning, k.state.String())
	}

	if err := k.taskMgr.Start("receiver", k.receiveTask); err != nil {
		k.abortStart()
		return err
	}
	if err := k.taskMgr.StartInterval("tick", k.cfg.tickPeriod, k.tickTask); err != nil {
		k.abortStart()
		return err
	}

	k.state.ToRunning()
	k.logger.Info("kernel started", "tick_period", k.cfg.tickPeriod, "modules", k.registry.Len())

	return nil
}

// Stop stops the receiver and the tick and waits for them to exit. The bus stays open.
func (k *Kernel) Stop() {
	if !k.state.ToStopping() {
		return
	}

	k.taskMgr.Stop()
	k.taskMgr.Wait()
	k.state.ToStopped()
	k.logger.Info("kernel stopped")
}

// Close stops the kernel and closes the bus.
func (k *Kernel) Close() error {
	k.Stop()
	return k.bus.Close()
}

func (k *Kernel) abortStart() {
	k.state.ToStopping()
	k.taskMgr.Stop()
	k.taskMgr.Wait()
	k.state.ToStopped()
}

func (k *Kernel) receiveTask(ctx context.Context) bool {
	f, err := k.bus.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, canbus.ErrClosed) {
			return false
		}
		k.metrics.incRecvErrCount()
		k.logger.Warn("receive frame failed", "error", err)

		return true
	}

	k.Enqueue(f)

	return true
}

func (k *Kernel) tickTask(now time.Time) bool {
	k.Tick(now)
	return true
}

// Enqueue hands a received frame to the next tick. It is called by the receiver and may
// be used to inject frames in tests.
func (k *Kernel) Enqueue(f canbus.Frame) {
	k.metrics.incFrameRecvCount()

	if k.inbox.Length() >= k.cfg.inboxLimit {
		k.metrics.incFrameDropCount()
		k.logger.Warn("inbox full, drop frame", "frame", f.String())

		return
	}
	k.inbox.Enqueue(f)
}

// Tick runs one scheduling step at instant now.
func (k *Kernel) Tick(now time.Time) {
	k.tickMu.Lock()
	defer k.tickMu.Unlock()

	k.metrics.incTickCount()
	ctx := k.taskMgr.Context()

	for {
		f, ok := k.inbox.Dequeue()
		if !ok {
			break
		}
		k.dispatchFrame(f, now)
	}

	modules := k.registry.Modules()
	for _, m := range modules {
		m.Tick(ctx, now)
	}

	k.dispatchEvents()

	k.service.Poll(ctx)

	for _, d := range k.Devices() {
		d.Tick(now)
	}
	k.orch.PumpAll()
}

func (k *Kernel) dispatchFrame(f canbus.Frame, now time.Time) {
	if !f.Extended || f.RTR {
		k.unmatched(f, "not an extended data frame")
		return
	}

	id := canbus.DecodeID(f.ID)
	if id.Direction != canbus.SlaveToMaster {
		k.unmatched(f, "master to slave frame")
		return
	}
	payload := util.CloneSlice(f.Payload(), 0)

	if id.Class == canbus.ClassSystem && id.Code == fm.CodeQueryModules {
		k.modulesPresent(fm.NodeKey{Type: id.NodeType, Index: id.NodeIndex}, payload)
		k.metrics.incFrameDispatchCount()

		return
	}

	m, ok := k.registry.Module(fm.HandleOf(id))
	if !ok {
		k.unmatched(f, "no module")
		return
	}

	m.HandleFrame(id, payload, now)
	k.metrics.incFrameDispatchCount()
}

// modulesPresent confirms the Initialized modules of node whose channels are in the
// reported module list.
func (k *Kernel) modulesPresent(node fm.NodeKey, payload []byte) {
	mask, err := fm.DecodeModulesPresent(payload)
	if err != nil {
		k.logger.Warn("invalid module list", "node", node.String(), "error", err)
		return
	}

	for _, ch := range util.MaskBits(mask) {
		h := fm.NewHandle(node.Type, node.Index, ch)
		m, ok := k.registry.Module(h)
		if !ok {
			k.logger.Debug("node reports unconfigured module", "handle", h.String())
			continue
		}
		if m.State() == fm.Initialized {
			_ = m.Confirm()
		}
	}
}

func (k *Kernel) unmatched(f canbus.Frame, reason string) {
	k.metrics.incFrameUnmatchedCount()
	k.logger.Debug("drop unmatched frame", "frame", f.String(), "reason", reason)
}

func (k *Kernel) dispatchEvents() {
	k.eventMu.Lock()
	events := k.events
	k.events = nil
	k.eventMu.Unlock()

	for _, ev := range events {
		for _, sink := range k.subscribers(ev.handle) {
			if ev.fault != nil {
				sink.ModuleFault(ev.handle, *ev.fault)
			} else {
				sink.ModuleNotification(*ev.note)
			}
			k.metrics.incEventCount()
		}
	}
}

func (k *Kernel) subscribers(h fm.Handle) []fm.EventSink {
	k.subMu.RLock()
	defer k.subMu.RUnlock()

	sinks := make([]fm.EventSink, 0, len(k.subs[h])+len(k.global))
	sinks = append(sinks, k.subs[h]...)

	return append(sinks, k.global...)
}
