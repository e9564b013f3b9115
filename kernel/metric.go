package kernel

import "sync/atomic"

// Metrics contains atomic metrics of a kernel.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// TickCount indicates the number of scheduling ticks.
	TickCount atomic.Uint64
	// FrameRecvCount indicates the number of frames received from the bus.
	FrameRecvCount atomic.Uint64
	// FrameDispatchCount indicates the number of frames dispatched to a module.
	FrameDispatchCount atomic.Uint64
	// FrameUnmatchedCount indicates the number of frames no module or node matched.
	FrameUnmatchedCount atomic.Uint64
	// FrameDropCount indicates the number of frames dropped because the inbox was full.
	FrameDropCount atomic.Uint64
	// RecvErrCount indicates the number of transport receive errors.
	RecvErrCount atomic.Uint64
	// EventCount indicates the number of faults and notifications delivered to subscribers.
	EventCount atomic.Uint64
}

func (m *Metrics) incTickCount() {
	m.TickCount.Add(1)
}

func (m *Metrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *Metrics) incFrameDispatchCount() {
	m.FrameDispatchCount.Add(1)
}

func (m *Metrics) incFrameUnmatchedCount() {
	m.FrameUnmatchedCount.Add(1)
}

func (m *Metrics) incFrameDropCount() {
	m.FrameDropCount.Add(1)
}

func (m *Metrics) incRecvErrCount() {
	m.RecvErrCount.Add(1)
}

func (m *Metrics) incEventCount() {
	m.EventCount.Add(1)
}
