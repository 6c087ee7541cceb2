package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records tick outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	tickDuration prometheus.Histogram
	ticks        *prometheus.CounterVec
	instruments  *prometheus.CounterVec
	halts        *prometheus.CounterVec
	events       *prometheus.CounterVec
	storeRetries *prometheus.CounterVec
	retired      *prometheus.CounterVec
	indexValue   *prometheus.GaugeVec
	marketHalted prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stanks_market_tick_duration_seconds",
			Help:    "Wall time of one market tick",
			Buckets: prometheus.DefBuckets,
		}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_ticks_total",
			Help: "Market ticks by result",
		}, []string{"result"}),
		instruments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_instrument_updates_total",
			Help: "Per-instrument tick outcomes",
		}, []string{"outcome"}),
		halts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_halts_total",
			Help: "Halts opened by cause",
		}, []string{"cause"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_events_total",
			Help: "Market events by transition",
		}, []string{"transition", "effect_type"}),
		storeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_store_retries_total",
			Help: "Store write retries by operation",
		}, []string{"op"}),
		retired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stanks_market_ipos_retired_total",
			Help: "Player IPOs retired",
		}, []string{"reason"}),
		indexValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stanks_market_index_value",
			Help: "Last committed index value in points",
		}, []string{"symbol"}),
		marketHalted: f.NewGauge(prometheus.GaugeOpts{
			Name: "stanks_market_halted",
			Help: "1 while a market-wide halt is active",
		}),
	}
}

func (m *Metrics) observeTick(seconds float64, result string) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
	m.ticks.WithLabelValues(result).Inc()
}

func (m *Metrics) instrument(outcome string) {
	if m == nil {
		return
	}
	m.instruments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) halt(cause HaltCause) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(string(cause)).Inc()
}

func (m *Metrics) event(transition string, t EffectType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(transition, string(t)).Inc()
}

func (m *Metrics) retries(op string, attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.storeRetries.WithLabelValues(op).Add(float64(attempts - 1))
}

func (m *Metrics) retiredIPO(delisted bool) {
	if m == nil {
		return
	}
	reason := "expired"
	if delisted {
		reason = "delisted"
	}
	m.retired.WithLabelValues(reason).Inc()
}

func (m *Metrics) index(symbol string, valueMicros int64) {
	if m == nil {
		return
	}
	m.indexValue.WithLabelValues(symbol).Set(MicrosToStonky(valueMicros))
}

func (m *Metrics) setMarketHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.marketHalted.Set(1)
		return
	}
	m.marketHalted.Set(0)
}
