package engine

import (
	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/decode"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/metrics"
	"github.com/pkg/errors"
)

// Option is a functional option for configuring an Engine.
type Option func(*Config) error

// Config holds everything about a turn that is not the provider, the prompt builder
// or the decision.
type Config struct {
	Table    *channels.Table
	Decode   decode.Options
	Metrics  *metrics.Metrics
	Metadata events.EventMetadata
	Tap      DebugTap
}

// NewConfig creates a configuration using the default channel table.
func NewConfig() *Config {
	return &Config{
		Table: channels.DefaultTable(),
	}
}

func WithTable(table *channels.Table) Option {
	return func(c *Config) error {
		if table == nil {
			return errors.New("channel table must not be nil")
		}
		c.Table = table
		return nil
	}
}

func WithDecodeOptions(opts decode.Options) Option {
	return func(c *Config) error {
		c.Decode = opts
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) error {
		c.Metrics = m
		return nil
	}
}

// WithMetadata sets the metadata copied into every event (session and turn ids,
// model). The sequence number is managed by the engine.
func WithMetadata(meta events.EventMetadata) Option {
	return func(c *Config) error {
		c.Metadata = meta
		return nil
	}
}

func WithDebugTap(tap DebugTap) Option {
	return func(c *Config) error {
		c.Tap = tap
		return nil
	}
}

// ApplyOptions applies a set of options to a configuration.
func ApplyOptions(config *Config, options ...Option) error {
	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}
	return nil
}
