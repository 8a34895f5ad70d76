package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCampaignMetrics(reg)
	m.ObserveSend("sms", "sent")
	m.ObserveSend("sms", "sent")
	m.ObserveSend("email", "failed")
	m.ObserveSendAttempt("sms")
	m.ObserveRouting("offer_times")
	m.ObserveBooking("created")
	m.ObserveTemplateWarning("FirstName")
	m.ObserveInbound("twilio", "routed")
	m.ObserveTick(0.25, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sendsTotal.WithLabelValues("sms", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendsTotal.WithLabelValues("email", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("created")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.dueEvents))

	metric := &dto.Metric{}
	require.NoError(t, m.tickDuration.Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestCampaignMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewCampaignMetrics(nil)
	m.ObserveRouting("book_appointment")
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCampaignMetricsNilSafe(t *testing.T) {
	var m *CampaignMetrics
	m.ObserveSend("sms", "sent")
	m.ObserveSendAttempt("sms")
	m.ObserveRouting("opt_out")
	m.ObserveBooking("existing")
	m.ObserveTemplateWarning("Service")
	m.ObserveInbound("sqs", "duplicate")
	m.ObserveTick(1, 0)
}
