package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRadarMetrics()

	require.NotPanics(t, func() { RegisterMetrics(reg, m) })

	m.AnalysesTotal.WithLabelValues("eth", "ok").Inc()
	m.CacheHits.Inc()
	m.CacheHits.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("eth", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))

	// A second registration of the same collectors must fail loudly.
	assert.Panics(t, func() { RegisterMetrics(reg, m) })
}
