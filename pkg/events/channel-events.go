package events

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/decode"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeChannelDelta is a live content delta of a streaming channel.
	EventTypeChannelDelta EventType = "channel-delta"
	// EventTypeChannelText is the full text of a streaming channel once it completes.
	EventTypeChannelText EventType = "channel-text"
	// EventTypeChannelData is the decoded value of a buffered channel once it completes.
	EventTypeChannelData EventType = "channel-data"
	// EventTypeError reports an upstream failure. It is always the last event before
	// the turn returns its error.
	EventTypeError EventType = "error"
	// EventTypeDone terminates a turn and carries every channel's final value.
	EventTypeDone EventType = "done"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata is attached to every event of a turn.
type EventMetadata struct {
	ID        uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
	TurnID    string    `json:"turn_id,omitempty" yaml:"turn_id,omitempty" mapstructure:"turn_id"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	// Sequence numbers the events of one turn from 0, in emission order.
	Sequence int `json:"seq" yaml:"seq" mapstructure:"seq"`
	// Extra carries provider-specific/context values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	e.Int("seq", em.Sequence)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

var _ Event = &EventImpl{}

type EventChannelDelta struct {
	EventImpl
	Channel channels.Name `json:"channel"`
	Delta   string        `json:"delta"`
}

func NewChannelDeltaEvent(metadata EventMetadata, channel channels.Name, delta string) *EventChannelDelta {
	return &EventChannelDelta{
		EventImpl: EventImpl{Type_: EventTypeChannelDelta, Metadata_: metadata},
		Channel:   channel,
		Delta:     delta,
	}
}

var _ Event = &EventChannelDelta{}

type EventChannelText struct {
	EventImpl
	Channel channels.Name `json:"channel"`
	Text    string        `json:"text"`
	// Closed is false when the completion was synthesized at the end of the turn
	// because the model never closed (or never opened) the channel.
	Closed bool `json:"closed"`
}

func NewChannelTextEvent(metadata EventMetadata, channel channels.Name, text string, closed bool) *EventChannelText {
	return &EventChannelText{
		EventImpl: EventImpl{Type_: EventTypeChannelText, Metadata_: metadata},
		Channel:   channel,
		Text:      text,
		Closed:    closed,
	}
}

var _ Event = &EventChannelText{}

type EventChannelData struct {
	EventImpl
	Channel channels.Name `json:"channel"`
	Value   decode.Value  `json:"value"`
	Raw     string        `json:"raw"`
	// Error is set when Value is the channel default because Raw did not decode.
	Error     string `json:"error,omitempty"`
	Requested bool   `json:"requested"`
	Closed    bool   `json:"closed"`
}

func NewChannelDataEvent(metadata EventMetadata, channel channels.Name, value decode.Value, raw string) *EventChannelData {
	return &EventChannelData{
		EventImpl: EventImpl{Type_: EventTypeChannelData, Metadata_: metadata},
		Channel:   channel,
		Value:     value,
		Raw:       raw,
	}
}

var _ Event = &EventChannelData{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// ChannelResult is the final materialized state of one channel.
type ChannelResult struct {
	Value     decode.Value `json:"value"`
	Raw       string       `json:"raw"`
	Closed    bool         `json:"closed"`
	Requested bool         `json:"requested"`
	Error     string       `json:"error,omitempty"`
}

// Text returns the channel's text for streaming channels.
func (c ChannelResult) Text() string {
	return c.Value.Text
}

type EventDone struct {
	EventImpl
	Channels  map[channels.Name]ChannelResult `json:"channels"`
	Decision  rules.Decision                  `json:"decision"`
	Fragments int                             `json:"fragments"`
	Bytes     int                             `json:"bytes"`
}

func NewDoneEvent(metadata EventMetadata, results map[channels.Name]ChannelResult, decision rules.Decision) *EventDone {
	return &EventDone{
		EventImpl: EventImpl{Type_: EventTypeDone, Metadata_: metadata},
		Channels:  results,
		Decision:  decision,
	}
}

var _ Event = &EventDone{}

// NewEventFromJson decodes an event serialized with json.Marshal back into its
// concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeChannelDelta:
		return decodeTyped[EventChannelDelta](b)
	case EventTypeChannelText:
		return decodeTyped[EventChannelText](b)
	case EventTypeChannelData:
		return decodeTyped[EventChannelData](b)
	case EventTypeError:
		return decodeTyped[EventError](b)
	case EventTypeDone:
		return decodeTyped[EventDone](b)
	}

	return e, nil
}

type payloadSetter interface {
	Event
	SetPayload([]byte)
}

func decodeTyped[T any, PT interface {
	*T
	payloadSetter
}](b []byte) (Event, error) {
	var ret PT = new(T)
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, fmt.Errorf("could not decode %T: %w", ret, err)
	}
	ret.SetPayload(b)
	return ret, nil
}
