package inference

import "github.com/go-go-golems/sectionstream/pkg/events"

// Option is a functional option for Drive.
type Option func(*Config) error

type Config struct {
	// EventSinks receive every event in order. Sinks attached to the context with
	// events.WithEventSinks are published to as well, after these.
	EventSinks []events.EventSink
	// StopOnSinkError aborts the turn when a sink fails (e.g. the SSE client went
	// away). By default sink failures are logged and the turn is driven to its end.
	StopOnSinkError bool
}

func NewConfig() *Config {
	return &Config{
		EventSinks: make([]events.EventSink, 0),
	}
}

// WithSink adds an EventSink. Multiple sinks receive events in the order they were
// added.
func WithSink(sink events.EventSink) Option {
	return func(c *Config) error {
		c.EventSinks = append(c.EventSinks, sink)
		return nil
	}
}

func WithStopOnSinkError() Option {
	return func(c *Config) error {
		c.StopOnSinkError = true
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
