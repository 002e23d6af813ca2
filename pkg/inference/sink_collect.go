package inference

import (
	"sync"

	"github.com/go-go-golems/sectionstream/pkg/events"
)

// CollectingSink keeps every event it receives in order.
type CollectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

func (c *CollectingSink) PublishEvent(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

var _ events.EventSink = (*CollectingSink)(nil)
