// Package inference connects a running turn to the places its events go.
package inference

import (
	"context"
	"iter"

	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoDone is returned when an event sequence ends without a done event.
var ErrNoDone = errors.New("turn ended without a done event")

// Drive consumes a turn's event sequence to the end, publishing every event to the
// configured sinks and to the sinks attached to ctx. It returns the done event.
//
// Anything that must happen only for finished turns (persisting, advancing session
// state) should run after Drive returns without error.
func Drive(ctx context.Context, seq iter.Seq2[events.Event, error], options ...Option) (*events.EventDone, error) {
	config := NewConfig()
	if err := ApplyOptions(config, options...); err != nil {
		return nil, err
	}

	var done *events.EventDone
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		for _, sink := range config.EventSinks {
			if err := sink.PublishEvent(ev); err != nil {
				if config.StopOnSinkError {
					return nil, errors.Wrap(err, "event sink failed")
				}
				log.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("failed to publish event")
			}
		}
		events.PublishEventToContext(ctx, ev)

		if d, ok := ev.(*events.EventDone); ok {
			done = d
		}
	}

	if done == nil {
		return nil, ErrNoDone
	}
	return done, nil
}
