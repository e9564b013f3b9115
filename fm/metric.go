package fm

import "sync/atomic"

// EngineMetrics contains atomic counters of one module's command engine.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type EngineMetrics struct {
	// SubmittedCount indicates the number of accepted submissions.
	SubmittedCount atomic.Uint64
	// RejectedCount indicates the number of submissions rejected as busy or not ready.
	RejectedCount atomic.Uint64
	// SentCount indicates the number of request frames handed to the transport.
	SentCount atomic.Uint64
	// SendErrCount indicates the number of request frames the transport rejected.
	SendErrCount atomic.Uint64
	// AckCount indicates the number of commands completed by an acknowledge.
	AckCount atomic.Uint64
	// TimeoutCount indicates the number of commands completed by a timeout.
	TimeoutCount atomic.Uint64
	// FaultCount indicates the number of commands completed by a module fault.
	FaultCount atomic.Uint64
	// DroppedCount indicates the number of inbound frames that matched no sent command.
	DroppedCount atomic.Uint64
}

func (m *EngineMetrics) incSubmittedCount() { m.SubmittedCount.Add(1) }

func (m *EngineMetrics) incRejectedCount() { m.RejectedCount.Add(1) }

func (m *EngineMetrics) incSentCount() { m.SentCount.Add(1) }

func (m *EngineMetrics) incSendErrCount() { m.SendErrCount.Add(1) }

func (m *EngineMetrics) incAckCount() { m.AckCount.Add(1) }

func (m *EngineMetrics) incTimeoutCount() { m.TimeoutCount.Add(1) }

func (m *EngineMetrics) incFaultCount() { m.FaultCount.Add(1) }

func (m *EngineMetrics) incDroppedCount() { m.DroppedCount.Add(1) }
