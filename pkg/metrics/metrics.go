// Package metrics exposes prometheus collectors for streamed turns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sectionstream"

// Metrics groups the collectors updated by the streaming engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Turns             *prometheus.CounterVec
	ChannelRequests   *prometheus.CounterVec
	ChannelCompletion *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	Fragments         prometheus.Counter
	StreamBytes       prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns run by the streaming engine, by outcome.",
		}, []string{"outcome"}),
		ChannelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_decisions_total",
			Help:      "Decisions taken for optional channels, by channel, requested flag and reason.",
		}, []string{"channel", "requested", "reason"}),
		ChannelCompletion: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_completions_total",
			Help:      "Channel completion events, by channel and whether the model closed the channel.",
		}, []string{"channel", "closed"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_decode_failures_total",
			Help:      "Buffered channels whose content did not decode and fell back to the default value.",
		}, []string{"channel"}),
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Text fragments received from model providers.",
		}),
		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes of model output received from providers.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Turns, m.ChannelRequests, m.ChannelCompletion, m.DecodeFailures, m.Fragments, m.StreamBytes,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChannelDecided(channel string, requested bool, reason string) {
	if m == nil {
		return
	}
	m.ChannelRequests.WithLabelValues(channel, boolLabel(requested), reason).Inc()
}

func (m *Metrics) ChannelCompleted(channel string, closed bool) {
	if m == nil {
		return
	}
	m.ChannelCompletion.WithLabelValues(channel, boolLabel(closed)).Inc()
}

func (m *Metrics) DecodeFailed(channel string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) Fragment(size int) {
	if m == nil {
		return
	}
	m.Fragments.Inc()
	m.StreamBytes.Add(float64(size))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
