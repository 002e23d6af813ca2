package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/decode"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	list []Event
	err  error
}

func (r *recordingSink) PublishEvent(ev Event) error {
	r.list = append(r.list, ev)
	return r.err
}

func meta(seq int) EventMetadata {
	return EventMetadata{ID: uuid.New(), SessionID: "s-1", TurnID: "t-1", Sequence: seq}
}

func roundTrip(t *testing.T, ev Event) Event {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	out, err := NewEventFromJson(b)
	require.NoError(t, err)
	assert.Equal(t, b, out.Payload())
	return out
}

func TestNewEventFromJson_AllTypes(t *testing.T) {
	delta := roundTrip(t, NewChannelDeltaEvent(meta(0), channels.Response, "Hel"))
	d, ok := delta.(*EventChannelDelta)
	require.True(t, ok)
	assert.Equal(t, channels.Response, d.Channel)
	assert.Equal(t, "Hel", d.Delta)
	assert.Equal(t, "t-1", d.Metadata().TurnID)

	text := roundTrip(t, NewChannelTextEvent(meta(1), channels.Reflection, "Think", true))
	tx, ok := text.(*EventChannelText)
	require.True(t, ok)
	assert.Equal(t, "Think", tx.Text)
	assert.True(t, tx.Closed)
	assert.Equal(t, 1, tx.Metadata().Sequence)

	dataEv := NewChannelDataEvent(meta(2), channels.Signals, decode.Value{Shape: channels.ShapeList, List: []interface{}{}}, "not json")
	dataEv.Error = "boom"
	dataEv.Requested = true
	data := roundTrip(t, dataEv)
	dt, ok := data.(*EventChannelData)
	require.True(t, ok)
	assert.Equal(t, channels.ShapeList, dt.Value.Shape)
	assert.Equal(t, "not json", dt.Raw)
	assert.Equal(t, "boom", dt.Error)
	assert.True(t, dt.Requested)

	errEv := roundTrip(t, NewErrorEvent(meta(3), errors.New("network down")))
	ee, ok := errEv.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "network down", ee.ErrorString)

	decision := rules.Decision{Channels: map[channels.Name]rules.ChannelDecision{
		channels.Signals: {Request: true, Reason: rules.ReasonTrigger, Match: "deadline"},
	}}
	done := NewDoneEvent(meta(4), map[channels.Name]ChannelResult{
		channels.Response: {Value: decode.Text("Hello"), Raw: "Hello", Closed: true, Requested: true},
	}, decision)
	done.Fragments = 3
	out := roundTrip(t, done)
	dn, ok := out.(*EventDone)
	require.True(t, ok)
	assert.Equal(t, "Hello", dn.Channels[channels.Response].Text())
	assert.Equal(t, decision, dn.Decision)
	assert.Equal(t, 3, dn.Fragments)
}

func TestNewEventFromJson_Errors(t *testing.T) {
	_, err := NewEventFromJson([]byte("nope"))
	assert.Error(t, err)

	_, err = NewEventFromJson([]byte("null"))
	assert.Error(t, err)

	ev, err := NewEventFromJson([]byte(`{"type":"something-else"}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("something-else"), ev.Type())
}

func TestContextSinks(t *testing.T) {
	ctx := context.Background()
	PublishEventToContext(ctx, NewChannelDeltaEvent(meta(0), channels.Response, "x"))

	a := &recordingSink{}
	b := &recordingSink{err: errors.New("full")}
	ctx = WithEventSinks(ctx, a)
	ctx = WithEventSinks(ctx, b)
	assert.Len(t, GetEventSinks(ctx), 2)
	assert.Equal(t, ctx, WithEventSinks(ctx))

	PublishEventToContext(ctx, NewChannelDeltaEvent(meta(0), channels.Response, "x"))
	assert.Len(t, a.list, 1)
	assert.Len(t, b.list, 1)
}

func toMessage(t *testing.T, ev Event) *message.Message {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), b)
}

func TestPrinterFunc(t *testing.T) {
	var buf bytes.Buffer
	h := PrinterFunc(&buf, PrinterOptions{ShowData: true, ShowSummary: true})

	evs := []Event{
		NewChannelDeltaEvent(meta(0), channels.Reflection, "hidden"),
		NewChannelDeltaEvent(meta(1), channels.Response, "Hello"),
		NewChannelDeltaEvent(meta(2), channels.Response, " world"),
		NewChannelTextEvent(meta(3), channels.Response, "Hello world", true),
	}
	data := NewChannelDataEvent(meta(4), channels.Actions, decode.Value{Shape: channels.ShapeList, List: []interface{}{"call"}}, `["call"]`)
	data.Requested = true
	evs = append(evs, data, NewDoneEvent(meta(5), map[channels.Name]ChannelResult{
		channels.Response: {Raw: "Hello world", Closed: true, Requested: true},
		channels.Memory:   {Raw: "", Requested: false},
	}, rules.Decision{}))

	for _, ev := range evs {
		require.NoError(t, h(toMessage(t, ev)))
	}

	out := buf.String()
	assert.Contains(t, out, "Hello world\n")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[actions]\n- call\n")
	assert.Contains(t, out, "response     closed (11 bytes)")
	assert.Contains(t, out, "memory       unclosed, not requested (0 bytes)")
}

func TestPrinterFunc_RendersResponse(t *testing.T) {
	var buf bytes.Buffer
	h := PrinterFunc(&buf, PrinterOptions{RenderStyle: "notty"})

	done := NewDoneEvent(meta(0), map[channels.Name]ChannelResult{
		channels.Response: {Value: decode.Text("# Plan\n\nFirst step"), Raw: "# Plan\n\nFirst step", Closed: true},
	}, rules.Decision{})
	require.NoError(t, h(toMessage(t, done)))

	out := buf.String()
	assert.Contains(t, out, "--- rendered ---")
	assert.Contains(t, out, "Plan")
	assert.Contains(t, out, "First step")
	assert.NotContains(t, out, "--- done")
}

func TestPrinterFunc_NoRenderWithoutStyle(t *testing.T) {
	var buf bytes.Buffer
	h := PrinterFunc(&buf, PrinterOptions{})

	done := NewDoneEvent(meta(0), map[channels.Name]ChannelResult{
		channels.Response: {Value: decode.Text("hi"), Raw: "hi", Closed: true},
	}, rules.Decision{})
	require.NoError(t, h(toMessage(t, done)))
	assert.Empty(t, buf.String())
}

func TestDumpRawEvents(t *testing.T) {
	r, err := NewEventRouter()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.DumpRawEvents(&buf)(toMessage(t, NewChannelDeltaEvent(meta(7), channels.Response, "x"))))
	assert.Contains(t, buf.String(), `"seq": 7`)
	assert.Contains(t, buf.String(), `"delta": "x"`)
	assert.NotContains(t, buf.String(), "turn_id")
}
