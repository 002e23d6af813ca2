package inference

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// WatermillSink publishes events to a watermill Publisher so that several
// subscribers (printer, recorder, ...) can follow one turn.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

// PublishEvent serializes the event to JSON and publishes it. The turn id, when set,
// travels as the message's correlation id.
func (w *WatermillSink) PublishEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if turnID := event.Metadata().TurnID; turnID != "" {
		msg.SetContext(helpers.ContextWithCorrelationID(context.Background(), turnID))
		msg.Metadata.Set(helpers.CorrelationIDMetadataKey, turnID)
	}

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ events.EventSink = (*WatermillSink)(nil)
