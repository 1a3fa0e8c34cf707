package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for the WhatsApp webhook and
// the outbound gateway.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhooks",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound gateway sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound message processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(status).Observe(seconds)
}

// BookingMetrics covers slot generation, reservations and the LLM oracle.
type BookingMetrics struct {
	slotQueries   *prometheus.CounterVec
	slotsOffered  prometheus.Histogram
	reservations  *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "slot_queries_total",
			Help:      "Slot generation runs by source (calendar or mock)",
		}, []string{"source"}),
		slotsOffered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "slots_offered",
			Help:      "Number of slots returned per generation run",
			Buckets:   []float64{0, 1, 3, 5, 10, 15, 25},
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Reservation operations by outcome",
		}, []string{"operation", "outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM oracle calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM oracle latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotQueries, m.slotsOffered, m.reservations, m.oracleCalls, m.oracleLatency)
	return m
}

func (m *BookingMetrics) ObserveSlots(source string, count int) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(source).Inc()
	m.slotsOffered.Observe(float64(count))
}

func (m *BookingMetrics) ObserveReservation(operation, outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveOracle(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(provider, outcome).Inc()
	m.oracleLatency.WithLabelValues(provider).Observe(seconds)
}
