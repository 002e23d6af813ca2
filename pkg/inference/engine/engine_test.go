package engine

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/metrics"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceStream struct {
	fragments []string
	failAfter int
	err       error
	closed    bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.err != nil && s.failAfter == 0 {
		return "", s.err
	}
	if len(s.fragments) == 0 {
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	s.failAfter--
	return f, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func streamOf(fragments ...string) *sliceStream {
	return &sliceStream{fragments: fragments, failAfter: -1}
}

func providerFor(s *sliceStream) Provider {
	return ProviderFunc(func(ctx context.Context, prompt Prompt) helpers.Result[FragmentStream] {
		return helpers.NewValueResult[FragmentStream](s)
	})
}

var staticPrompts = PromptBuilderFunc(func(ctx context.Context, req PromptRequest) (Prompt, error) {
	return Prompt{System: "system", Messages: []Message{{Role: RoleUser, Content: req.Input.Message}}}, nil
})

func textTable() *channels.Table {
	return channels.MustNewTable(
		channels.Spec{Name: channels.Response, Open: "<response>", Close: "</response>", Mode: channels.Streaming, Shape: channels.ShapeText},
		channels.Spec{Name: channels.Reflection, Open: "<reflection>", Close: "</reflection>", Mode: channels.Streaming, Shape: channels.ShapeText},
	)
}

func collect(t *testing.T, e *Engine) ([]events.Event, error) {
	t.Helper()
	var out []events.Event
	for ev, err := range e.Run(context.Background(), Input{Message: "hi"}) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func runTurn(t *testing.T, table *channels.Table, decision rules.Decision, fragments ...string) []events.Event {
	t.Helper()
	e, err := New(providerFor(streamOf(fragments...)), staticPrompts, decision, WithTable(table))
	require.NoError(t, err)
	evs, err := collect(t, e)
	require.NoError(t, err)
	assert.Equal(t, StateDone, e.State())
	return evs
}

// describe renders the logical shape of a turn: deltas of one channel are merged.
func describe(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		switch e := ev.(type) {
		case *events.EventChannelDelta:
			key := "delta:" + string(e.Channel) + ":"
			if n := len(out); n > 0 && strings.HasPrefix(out[n-1], key) {
				out[n-1] += e.Delta
				continue
			}
			out = append(out, key+e.Delta)
		case *events.EventChannelText:
			out = append(out, "text:"+string(e.Channel)+":"+e.Text)
		case *events.EventChannelData:
			out = append(out, "data:"+string(e.Channel))
		case *events.EventError:
			out = append(out, "error")
		case *events.EventDone:
			out = append(out, "done")
		}
	}
	return out
}

func lastDone(t *testing.T, evs []events.Event) *events.EventDone {
	t.Helper()
	require.NotEmpty(t, evs)
	done, ok := evs[len(evs)-1].(*events.EventDone)
	require.True(t, ok, "last event must be done, got %T", evs[len(evs)-1])
	return done
}

func TestSingleFragmentTurn(t *testing.T) {
	evs := runTurn(t, textTable(), rules.Decision{}, "<response>Hello</response><reflection>Think</reflection>")

	assert.Equal(t, []string{
		"delta:response:Hello",
		"text:response:Hello",
		"delta:reflection:Think",
		"text:reflection:Think",
		"done",
	}, describe(evs))

	done := lastDone(t, evs)
	assert.Equal(t, "Hello", done.Channels[channels.Response].Text())
	assert.Equal(t, "Think", done.Channels[channels.Reflection].Text())
	assert.True(t, done.Channels[channels.Response].Closed)
	assert.Equal(t, 1, done.Fragments)
}

func TestSplitFragmentsMatchSingleFragment(t *testing.T) {
	whole := runTurn(t, textTable(), rules.Decision{}, "<response>Hello</response><reflection>Think</reflection>")
	split := runTurn(t, textTable(), rules.Decision{}, "<resp", "onse>Hel", "lo</respon", "se>", "<reflection>Think</reflection>")

	assert.Equal(t, describe(whole), describe(split))
	assert.Equal(t, lastDone(t, whole).Channels, lastDone(t, split).Channels)
}

func TestSequenceNumbersAreOrdered(t *testing.T) {
	evs := runTurn(t, textTable(), rules.Decision{}, "<response>a", "b", "c</response>")
	for i, ev := range evs {
		assert.Equal(t, i, ev.Metadata().Sequence)
	}
}

func TestUnknownClosingMarkerIsContent(t *testing.T) {
	evs := runTurn(t, textTable(), rules.Decision{}, "<response>a</bo", "gus>b</response>")
	done := lastDone(t, evs)
	assert.Equal(t, "a</bogus>b", done.Channels[channels.Response].Text())
}

func TestMalformedBufferedChannelDegradesToDefault(t *testing.T) {
	decision := rules.Decision{Channels: map[channels.Name]rules.ChannelDecision{
		channels.Signals: {Request: true, Reason: rules.ReasonFirstTurn},
	}}
	evs := runTurn(t, channels.DefaultTable(), decision,
		"<response>Hi</response>", "<signals>not json</signals>")

	var data *events.EventChannelData
	for _, ev := range evs {
		if d, ok := ev.(*events.EventChannelData); ok && d.Channel == channels.Signals {
			data = d
		}
	}
	require.NotNil(t, data)
	assert.NotEmpty(t, data.Error)
	assert.Equal(t, "not json", data.Raw)
	assert.Equal(t, []interface{}{}, data.Value.List)
	assert.True(t, data.Requested)
	assert.True(t, data.Closed)

	done := lastDone(t, evs)
	assert.Equal(t, "Hi", done.Channels[channels.Response].Text())
	assert.NotEmpty(t, done.Channels[channels.Signals].Error)
}

func TestValidBufferedChannelDecodes(t *testing.T) {
	evs := runTurn(t, channels.DefaultTable(), rules.Decision{},
		`<response>ok</response><memory>{"topic": "go"}</memory>`)
	done := lastDone(t, evs)
	mem := done.Channels[channels.Memory]
	assert.Empty(t, mem.Error)
	assert.Equal(t, map[string]interface{}{"topic": "go"}, mem.Value.Object)
}

func TestBufferedChannelHasNoDeltas(t *testing.T) {
	evs := runTurn(t, channels.DefaultTable(), rules.Decision{}, `<actions>[`, `]</actions>`)
	for _, ev := range evs {
		if d, ok := ev.(*events.EventChannelDelta); ok {
			assert.NotEqual(t, channels.Actions, d.Channel)
		}
	}
}

func TestEveryChannelCompletesExactlyOnce(t *testing.T) {
	evs := runTurn(t, channels.DefaultTable(), rules.Decision{}, "<response>only the reply")

	counts := map[channels.Name]int{}
	for _, ev := range evs {
		switch e := ev.(type) {
		case *events.EventChannelText:
			counts[e.Channel]++
		case *events.EventChannelData:
			counts[e.Channel]++
		}
	}
	for _, name := range channels.DefaultTable().Names() {
		assert.Equal(t, 1, counts[name], "channel %s", name)
	}

	done := lastDone(t, evs)
	resp := done.Channels[channels.Response]
	assert.Equal(t, "only the reply", resp.Text())
	assert.False(t, resp.Closed)
	assert.False(t, done.Channels[channels.Signals].Closed)
	assert.Empty(t, done.Channels[channels.Signals].Error)
	assert.Equal(t, map[string]interface{}{}, done.Channels[channels.Memory].Value.Object)
}

func TestUnclosedBufferedChannelKeepsRaw(t *testing.T) {
	evs := runTurn(t, channels.DefaultTable(), rules.Decision{}, `<signals>[{"a":`)
	done := lastDone(t, evs)
	sig := done.Channels[channels.Signals]
	assert.Equal(t, `[{"a":`, sig.Raw)
	assert.Equal(t, []interface{}{}, sig.Value.List)
	assert.False(t, sig.Closed)
}

func TestReopenedChannelRestarts(t *testing.T) {
	evs := runTurn(t, textTable(), rules.Decision{}, "<response>A</response> <response>B</response>")
	assert.Equal(t, []string{
		"delta:response:A",
		"text:response:A",
		"delta:response:B",
		"text:response:B",
		"text:reflection:",
		"done",
	}, describe(evs))
	assert.Equal(t, "B", lastDone(t, evs).Channels[channels.Response].Text())
}

func TestReopenedBufferedChannelInOneFragment(t *testing.T) {
	text := `<signals>[{"kind":"a","text":"x"}]</signals><signals>not json</signals>`

	for _, fragments := range [][]string{
		{text},
		{text[:len(text)/2], text[len(text)/2:]},
	} {
		evs := runTurn(t, channels.DefaultTable(), rules.Decision{}, fragments...)

		var data []*events.EventChannelData
		for _, ev := range evs {
			if d, ok := ev.(*events.EventChannelData); ok && d.Channel == channels.Signals {
				data = append(data, d)
			}
		}
		require.Len(t, data, 2, "fragments %q", fragments)

		assert.Equal(t, `[{"kind":"a","text":"x"}]`, data[0].Raw)
		assert.Empty(t, data[0].Error)
		assert.Equal(t, []interface{}{
			map[string]interface{}{"kind": "a", "text": "x"},
		}, data[0].Value.List)

		assert.Equal(t, "not json", data[1].Raw)
		assert.NotEmpty(t, data[1].Error)
		assert.Equal(t, []interface{}{}, data[1].Value.List)

		assert.Equal(t, "not json", lastDone(t, evs).Channels[channels.Signals].Raw)
	}
}

func TestNotRequestedChannelIsReported(t *testing.T) {
	decision := rules.Decision{Channels: map[channels.Name]rules.ChannelDecision{
		channels.Actions: {Request: false, Reason: rules.ReasonCooldown},
	}}
	evs := runTurn(t, channels.DefaultTable(), decision, `<response>x</response><actions>[]</actions>`)
	done := lastDone(t, evs)
	assert.False(t, done.Channels[channels.Actions].Requested)
	assert.True(t, done.Channels[channels.Actions].Closed)
	assert.True(t, done.Channels[channels.Signals].Requested)
	assert.False(t, done.Decision.Requested(channels.Actions))
}

func TestProviderFailureEmitsErrorThenFails(t *testing.T) {
	s := streamOf("<response>par", "tial")
	s.failAfter = 1
	s.err = errors.New("connection reset")

	e, err := New(providerFor(s), staticPrompts, rules.Decision{}, WithTable(textTable()))
	require.NoError(t, err)
	evs, err := collect(t, e)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, []string{"error"}, describe(evs)[len(describe(evs))-1:])
	for _, ev := range evs {
		assert.NotEqual(t, events.EventTypeDone, ev.Type())
	}
	assert.True(t, s.closed)
}

func TestStreamOpenFailure(t *testing.T) {
	provider := ProviderFunc(func(ctx context.Context, prompt Prompt) helpers.Result[FragmentStream] {
		return helpers.NewErrorResult[FragmentStream](errors.New("401 unauthorized"))
	})
	e, err := New(provider, staticPrompts, rules.Decision{})
	require.NoError(t, err)

	evs, err := collect(t, e)
	require.Error(t, err)
	require.Len(t, evs, 1)
	ev, ok := evs[0].(*events.EventError)
	require.True(t, ok)
	assert.Contains(t, ev.ErrorString, "401 unauthorized")
}

func TestPromptFailure(t *testing.T) {
	prompts := PromptBuilderFunc(func(ctx context.Context, req PromptRequest) (Prompt, error) {
		return Prompt{}, errors.New("template error")
	})
	e, err := New(providerFor(streamOf()), prompts, rules.Decision{})
	require.NoError(t, err)

	evs, err := collect(t, e)
	require.Error(t, err)
	assert.Equal(t, []string{"error"}, describe(evs))
}

func TestRunIsNotRestartable(t *testing.T) {
	e, err := New(providerFor(streamOf("<response>x</response>")), staticPrompts, rules.Decision{}, WithTable(textTable()))
	require.NoError(t, err)
	_, err = collect(t, e)
	require.NoError(t, err)

	_, err = collect(t, e)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStoppingEarlyClosesStream(t *testing.T) {
	s := streamOf("<response>a", "b", "c</response>")
	e, err := New(providerFor(s), staticPrompts, rules.Decision{}, WithTable(textTable()))
	require.NoError(t, err)

	for ev, err := range e.Run(context.Background(), Input{}) {
		require.NoError(t, err)
		require.Equal(t, events.EventTypeChannelDelta, ev.Type())
		break
	}
	assert.True(t, s.closed)
	assert.Len(t, s.fragments, 2)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := New(providerFor(streamOf("<response>x</response>")), staticPrompts, rules.Decision{})
	require.NoError(t, err)

	var last error
	var types []events.EventType
	for ev, err := range e.Run(ctx, Input{}) {
		if err != nil {
			last = err
			break
		}
		types = append(types, ev.Type())
	}
	assert.ErrorIs(t, last, context.Canceled)
	assert.Equal(t, []events.EventType{events.EventTypeError}, types)
}

func TestMetadataAndTap(t *testing.T) {
	tap := &RecordingTap{}
	m := metrics.New()
	e, err := New(providerFor(streamOf("<response>", "hey", "</response>")), staticPrompts, rules.Decision{},
		WithTable(textTable()),
		WithMetadata(events.EventMetadata{SessionID: "s1", TurnID: "t1", Model: "m"}),
		WithDebugTap(tap),
		WithMetrics(m),
	)
	require.NoError(t, err)
	evs, err := collect(t, e)
	require.NoError(t, err)

	for _, ev := range evs {
		assert.Equal(t, "s1", ev.Metadata().SessionID)
		assert.Equal(t, "t1", ev.Metadata().TurnID)
	}
	assert.Equal(t, []string{"<response>", "hey", "</response>"}, tap.Fragments())
	assert.Equal(t, "hi", tap.Prompt().Messages[0].Content)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Turns.WithLabelValues("done")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Fragments))
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, staticPrompts, rules.Decision{})
	assert.Error(t, err)
	_, err = New(providerFor(streamOf()), nil, rules.Decision{})
	assert.Error(t, err)
	_, err = New(providerFor(streamOf()), staticPrompts, rules.Decision{}, WithTable(nil))
	assert.Error(t, err)
}
