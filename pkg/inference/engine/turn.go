package engine

import (
	"context"
	"io"
	"iter"
	"sync/atomic"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/decode"
	"github.com/go-go-golems/sectionstream/pkg/demux"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a turn.
type State int32

const (
	StateNotStarted State = iota
	StateStreaming
	StateFlushing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// ErrAlreadyStarted is returned when Run is called a second time. A new turn needs a
// new Engine.
var ErrAlreadyStarted = errors.New("engine: turn already started")

// Engine drives a single turn. It is not restartable and not safe for concurrent use,
// but independent engines share nothing and can run in parallel.
type Engine struct {
	provider Provider
	prompts  PromptBuilder
	decision rules.Decision
	config   *Config

	state   atomic.Int32
	started atomic.Bool
}

func New(provider Provider, prompts PromptBuilder, decision rules.Decision, options ...Option) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("engine: provider is required")
	}
	if prompts == nil {
		return nil, errors.New("engine: prompt builder is required")
	}
	config := NewConfig()
	if err := ApplyOptions(config, options...); err != nil {
		return nil, errors.Wrap(err, "engine: invalid option")
	}
	return &Engine{
		provider: provider,
		prompts:  prompts,
		decision: decision,
		config:   config,
	}, nil
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run starts the turn and returns its events in source order. Every successful turn
// ends with exactly one done event. If the prompt cannot be built or the provider
// fails, the sequence yields one error event followed by the error itself and stops.
// Malformed model output never produces an error.
//
// Stopping the iteration early closes the upstream stream and discards the turn.
func (e *Engine) Run(ctx context.Context, in Input) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		if !e.started.CompareAndSwap(false, true) {
			yield(nil, ErrAlreadyStarted)
			return
		}
		t := &turn{
			engine:  e,
			ctx:     ctx,
			yield:   yield,
			demux:   demux.New(e.config.Table),
			results: map[channels.Name]events.ChannelResult{},
		}
		t.run(in)
	}
}

type turn struct {
	engine *Engine
	ctx    context.Context
	yield  func(events.Event, error) bool
	demux  *demux.Demuxer

	seq       int
	fragments int
	bytes     int
	results   map[channels.Name]events.ChannelResult
	stopped   bool
}

func (t *turn) metadata() events.EventMetadata {
	meta := t.engine.config.Metadata
	meta.ID = uuid.New()
	meta.Sequence = t.seq
	t.seq++
	return meta
}

// emit hands an event to the consumer and records whether it wants more.
func (t *turn) emit(ev events.Event) bool {
	if t.stopped {
		return false
	}
	if !t.yield(ev, nil) {
		t.stopped = true
	}
	return !t.stopped
}

func (t *turn) fail(err error) {
	t.engine.setState(StateDone)
	t.engine.config.Metrics.TurnFinished("error")
	log.Warn().Err(err).Int("fragments", t.fragments).Msg("turn failed")
	if !t.emit(events.NewErrorEvent(t.metadata(), err)) {
		return
	}
	t.yield(nil, err)
}

func (t *turn) run(in Input) {
	cfg := t.engine.config
	for name, d := range t.engine.decision.Channels {
		cfg.Metrics.ChannelDecided(string(name), d.Request, string(d.Reason))
	}

	prompt, err := t.engine.prompts.Build(t.ctx, PromptRequest{
		Input:    in,
		Decision: t.engine.decision,
		Table:    cfg.Table,
	})
	if err != nil {
		t.fail(errors.Wrap(err, "could not build prompt"))
		return
	}
	if cfg.Tap != nil {
		cfg.Tap.OnPrompt(prompt)
	}

	res := t.engine.provider.Stream(t.ctx, prompt)
	stream, err := res.Value()
	if err != nil {
		t.fail(errors.Wrap(err, "could not open model stream"))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing model stream")
		}
	}()

	t.engine.setState(StateStreaming)
	for {
		if err := t.ctx.Err(); err != nil {
			t.fail(errors.Wrap(err, "turn cancelled"))
			return
		}
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.fail(errors.Wrap(err, "model stream failed"))
			return
		}
		t.fragments++
		t.bytes += len(fragment)
		cfg.Metrics.Fragment(len(fragment))
		if cfg.Tap != nil {
			cfg.Tap.OnFragment(fragment)
		}
		if !t.handle(t.demux.Feed(fragment)) {
			return
		}
	}

	t.engine.setState(StateFlushing)
	if !t.handle(t.demux.Flush()) {
		return
	}
	if !t.synthesize() {
		return
	}

	done := events.NewDoneEvent(t.metadata(), t.results, t.engine.decision)
	done.Fragments = t.fragments
	done.Bytes = t.bytes
	t.engine.setState(StateDone)
	cfg.Metrics.TurnFinished("done")
	log.Debug().
		Int("fragments", t.fragments).
		Int("bytes", t.bytes).
		Msg("turn done")
	t.emit(done)
}

func (t *turn) handle(results []demux.ParseResult) bool {
	for _, r := range results {
		if r.Channel == channels.None {
			// text outside any section is never surfaced
			log.Trace().Int("len", len(r.Content)).Msg("dropping text outside channels")
			continue
		}
		spec, ok := t.engine.config.Table.Lookup(r.Channel)
		if !ok {
			continue
		}
		switch {
		case r.Complete:
			if !t.complete(spec, true, r.Text) {
				return false
			}
		case spec.Streams():
			if !t.emit(events.NewChannelDeltaEvent(t.metadata(), r.Channel, r.Content)) {
				return false
			}
		}
	}
	return true
}

// complete emits the completion event for a channel whose accumulated text is raw.
func (t *turn) complete(spec channels.Spec, closed bool, raw string) bool {
	requested := t.engine.decision.Requested(spec.Name)
	t.engine.config.Metrics.ChannelCompleted(string(spec.Name), closed)

	if spec.Streams() {
		t.results[spec.Name] = events.ChannelResult{
			Value:     decode.Text(raw),
			Raw:       raw,
			Closed:    closed,
			Requested: requested,
		}
		return t.emit(events.NewChannelTextEvent(t.metadata(), spec.Name, raw, closed))
	}

	var value decode.Value
	var errString string
	if closed {
		res := decode.Decode(spec, raw, t.engine.config.Decode)
		if !res.Ok() {
			t.engine.config.Metrics.DecodeFailed(string(spec.Name))
			log.Debug().Err(res.Error()).Str("channel", string(spec.Name)).Msg("channel payload did not decode, using default")
			errString = res.ErrorString()
		}
		value = res.ValueOr(decode.Default(spec))
	} else {
		value = decode.Default(spec)
	}

	t.results[spec.Name] = events.ChannelResult{
		Value:     value,
		Raw:       raw,
		Closed:    closed,
		Requested: requested,
		Error:     errString,
	}
	ev := events.NewChannelDataEvent(t.metadata(), spec.Name, value, raw)
	ev.Error = errString
	ev.Requested = requested
	ev.Closed = closed
	return t.emit(ev)
}

// synthesize completes every channel that did not get a completion this turn, in
// table order.
func (t *turn) synthesize() bool {
	for _, spec := range t.engine.config.Table.Specs() {
		if t.demux.Closed(spec.Name) {
			continue
		}
		log.Debug().
			Str("channel", string(spec.Name)).
			Bool("opened", t.demux.Opened(spec.Name)).
			Msg("synthesizing completion for unclosed channel")
		if !t.complete(spec, false, t.demux.Buffer(spec.Name)) {
			return false
		}
	}
	return true
}
