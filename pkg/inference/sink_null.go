package inference

import "github.com/go-go-golems/sectionstream/pkg/events"

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event events.Event) error {
	return nil
}

var _ events.EventSink = (*NullSink)(nil)
