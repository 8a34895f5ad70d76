package metrics

import "github.com/prometheus/client_golang/prometheus"

// CampaignMetrics exposes counters/histograms for the outreach engine.
// All methods are safe on a nil receiver.
type CampaignMetrics struct {
	sendsTotal       *prometheus.CounterVec
	sendAttempts     *prometheus.CounterVec
	routingTotal     *prometheus.CounterVec
	bookingsTotal    *prometheus.CounterVec
	templateWarnings *prometheus.CounterVec
	inboundTotal     *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	dueEvents        prometheus.Gauge
}

func NewCampaignMetrics(reg prometheus.Registerer) *CampaignMetrics {
	m := &CampaignMetrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "sends_total",
			Help:      "Automation event dispatches by final outcome",
		}, []string{"channel", "status"}),
		sendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "send_attempts_total",
			Help:      "Individual provider send attempts, including retries",
		}, []string{"channel"}),
		routingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "routing_total",
			Help:      "Inbound replies by routed action",
		}, []string{"action"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "bookings_total",
			Help:      "Booking requests by result",
		}, []string{"result"}),
		templateWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "template_warnings_total",
			Help:      "Placeholders rendered without data",
		}, []string{"field"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "inbound_total",
			Help:      "Inbound messages by source and status",
		}, []string{"source", "status"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "tick_duration_seconds",
			Help:      "Duration of sequencer ticks",
			Buckets:   prometheus.DefBuckets,
		}),
		dueEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dental",
			Subsystem: "outreach",
			Name:      "due_events",
			Help:      "Automation events found due on the last tick",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendsTotal, m.sendAttempts, m.routingTotal, m.bookingsTotal,
		m.templateWarnings, m.inboundTotal, m.tickDuration, m.dueEvents)
	return m
}

func (m *CampaignMetrics) ObserveSend(channel, status string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(channel, status).Inc()
}

func (m *CampaignMetrics) ObserveSendAttempt(channel string) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(channel).Inc()
}

func (m *CampaignMetrics) ObserveRouting(action string) {
	if m == nil {
		return
	}
	m.routingTotal.WithLabelValues(action).Inc()
}

func (m *CampaignMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *CampaignMetrics) ObserveTemplateWarning(field string) {
	if m == nil {
		return
	}
	m.templateWarnings.WithLabelValues(field).Inc()
}

func (m *CampaignMetrics) ObserveInbound(source, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(source, status).Inc()
}

func (m *CampaignMetrics) ObserveTick(seconds float64, due int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
	m.dueEvents.Set(float64(due))
}
