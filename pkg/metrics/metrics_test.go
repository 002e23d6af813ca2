package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.TurnFinished("done")
	m.TurnFinished("done")
	m.ChannelDecided("signals", true, "trigger")
	m.ChannelCompleted("response", false)
	m.DecodeFailed("signals")
	m.Fragment(5)
	m.Fragment(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelRequests.WithLabelValues("signals", "true", "trigger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelCompletion.WithLabelValues("response", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeFailures.WithLabelValues("signals")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fragments))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.StreamBytes))

	assert.Error(t, m.Register(reg))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TurnFinished("done")
		m.ChannelDecided("signals", false, "idle")
		m.ChannelCompleted("response", true)
		m.DecodeFailed("signals")
		m.Fragment(3)
	})
}
