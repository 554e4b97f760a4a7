package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the pipeline.
// All methods are safe for concurrent use and never block the caller.
type Metrics struct {
	ticksPublished uint64
	ticksRejected  uint64
	ticksOrphaned  uint64
	quotesEmitted  uint64
	quotesRejected uint64
	brokerCalls    uint64
	brokerRetries  uint64
	symbolsHalted  uint64
	reportsDropped uint64

	tickToQuoteLatency LatencyStats
	brokerCallLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TicksPublished uint64
	TicksRejected  uint64
	TicksOrphaned  uint64
	QuotesEmitted  uint64
	QuotesRejected uint64
	BrokerCalls    uint64
	BrokerRetries  uint64
	SymbolsHalted  uint64
	ReportsDropped uint64

	TickToQuoteLatency LatencySnapshot
	BrokerCallLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveTickPublished counts a broadcast tick.
func (m *Metrics) ObserveTickPublished() {
	atomic.AddUint64(&m.ticksPublished, 1)
}

// ObserveTickRejected counts a tick refused by local validation.
func (m *Metrics) ObserveTickRejected() {
	atomic.AddUint64(&m.ticksRejected, 1)
}

// ObserveTickOrphaned counts a tick published with no subscriber present.
func (m *Metrics) ObserveTickOrphaned() {
	atomic.AddUint64(&m.ticksOrphaned, 1)
}

// ObserveQuoteEmitted counts an emitted quote and its tick-to-quote latency.
func (m *Metrics) ObserveQuoteEmitted(tickTsNano, nowNano int64) {
	atomic.AddUint64(&m.quotesEmitted, 1)
	if nowNano > tickTsNano && tickTsNano > 0 {
		m.tickToQuoteLatency.observe(uint64(nowNano - tickTsNano))
	}
}

// ObserveQuoteRejected counts a quote dropped by the bid<ask validation.
func (m *Metrics) ObserveQuoteRejected() {
	atomic.AddUint64(&m.quotesRejected, 1)
}

// ObserveBrokerCall counts a broker round trip and its duration.
func (m *Metrics) ObserveBrokerCall(elapsed time.Duration) {
	atomic.AddUint64(&m.brokerCalls, 1)
	if elapsed > 0 {
		m.brokerCallLatency.observe(uint64(elapsed))
	}
}

// ObserveBrokerRetry counts a retried transient broker failure.
func (m *Metrics) ObserveBrokerRetry() {
	atomic.AddUint64(&m.brokerRetries, 1)
}

// ObserveSymbolHalted counts a symbol state machine entering Halted.
func (m *Metrics) ObserveSymbolHalted() {
	atomic.AddUint64(&m.symbolsHalted, 1)
}

// ObserveReportDropped counts a stage report lost to a full supervisor inbox.
func (m *Metrics) ObserveReportDropped() {
	atomic.AddUint64(&m.reportsDropped, 1)
}

// Snapshot returns a consistent-enough copy for logging.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TicksPublished: atomic.LoadUint64(&m.ticksPublished),
		TicksRejected:  atomic.LoadUint64(&m.ticksRejected),
		TicksOrphaned:  atomic.LoadUint64(&m.ticksOrphaned),
		QuotesEmitted:  atomic.LoadUint64(&m.quotesEmitted),
		QuotesRejected: atomic.LoadUint64(&m.quotesRejected),
		BrokerCalls:    atomic.LoadUint64(&m.brokerCalls),
		BrokerRetries:  atomic.LoadUint64(&m.brokerRetries),
		SymbolsHalted:  atomic.LoadUint64(&m.symbolsHalted),
		ReportsDropped: atomic.LoadUint64(&m.reportsDropped),

		TickToQuoteLatency: m.tickToQuoteLatency.snapshot(),
		BrokerCallLatency:  m.brokerCallLatency.snapshot(),
	}
}

func (s *LatencyStats) observe(sample uint64) {
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, sample)

	for {
		current := atomic.LoadUint64(&s.min)
		if current != 0 && sample >= current {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, current, sample) {
			break
		}
	}
	for {
		current := atomic.LoadUint64(&s.max)
		if sample <= current {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, current, sample) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&s.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
		Avg:   time.Duration(sum / count),
	}
}
