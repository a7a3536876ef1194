package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("sla_audit").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("sla_audit").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sla_audit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sla_audit", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("sla_audit")))
}

func TestEscalationCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddEscalations("scrutiny-delay", 2)
	m.AddEscalations("scrutiny-delay", 0)
	m.SetBreaches("scrutiny-delay", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.escalations.WithLabelValues("scrutiny-delay")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.breaches.WithLabelValues("scrutiny-delay")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddEscalations("x", 1)
		m.SetBreaches("x", 1)
		_ = m.Track("x").End(nil)
	})
}
