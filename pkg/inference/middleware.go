package inference

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StreamFunc opens a model stream for a prompt.
type StreamFunc func(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream]

// Middleware wraps a StreamFunc with additional functionality.
// Middleware are applied in order: Chain(m1, m2, m3) results in m1(m2(m3(handler))).
type Middleware func(StreamFunc) StreamFunc

// Chain composes multiple middleware into a single StreamFunc.
func Chain(handler StreamFunc, middlewares ...Middleware) StreamFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// WithMiddleware returns a provider that runs the middleware chain before the
// wrapped provider opens its stream.
func WithMiddleware(provider engine.Provider, middlewares ...Middleware) engine.Provider {
	if len(middlewares) == 0 {
		return provider
	}
	return engine.ProviderFunc(Chain(provider.Stream, middlewares...))
}

// NewLoggingMiddleware logs stream opening, and once the stream is closed, how many
// fragments and bytes went through it.
func NewLoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream] {
			lg := logger
			// fall back to global if uninitialized
			if lg.GetLevel() == zerolog.NoLevel {
				lg = log.Logger
			}
			lg = lg.With().
				Int("system_len", len(prompt.System)).
				Int("message_count", len(prompt.Messages)).
				Logger()

			lg.Debug().Msg("provider: opening stream")
			start := time.Now()
			res := next(ctx, prompt)
			stream, err := res.Value()
			if err != nil {
				lg.Error().Err(err).Msg("provider: opening stream failed")
				return res
			}
			return helpers.NewValueResult[engine.FragmentStream](&loggedStream{
				FragmentStream: stream,
				logger:         lg,
				start:          start,
			})
		}
	}
}

type loggedStream struct {
	engine.FragmentStream
	logger    zerolog.Logger
	start     time.Time
	fragments int
	bytes     int
	err       error
}

func (s *loggedStream) Recv() (string, error) {
	f, err := s.FragmentStream.Recv()
	if err != nil {
		s.err = err
		return f, err
	}
	s.fragments++
	s.bytes += len(f)
	return f, nil
}

func (s *loggedStream) Close() error {
	ev := s.logger.Debug()
	if s.err != nil && !errors.Is(s.err, io.EOF) {
		ev = s.logger.Warn().Err(s.err)
	}
	ev.Int("fragments", s.fragments).
		Int("bytes", s.bytes).
		Dur("elapsed", time.Since(s.start)).
		Msg("provider: stream closed")
	return s.FragmentStream.Close()
}

// NewSystemPromptMiddleware appends a fixed text to the system prompt, separated by a
// blank line. If the prompt has no system text yet, the text becomes the system prompt.
func NewSystemPromptMiddleware(text string) Middleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream] {
			text := strings.TrimSpace(text)
			if text == "" {
				return next(ctx, prompt)
			}
			if prompt.System == "" {
				prompt.System = text
			} else {
				prompt.System = strings.TrimRight(prompt.System, "\n") + "\n\n" + text
			}
			log.Trace().Int("prompt_len", len(text)).Msg("systemprompt: appended text")
			return next(ctx, prompt)
		}
	}
}

// NewRetryOpenMiddleware retries opening a stream up to attempts times in total,
// waiting backoff between attempts. Failures after the stream is open are never
// retried, since fragments may already have been consumed.
func NewRetryOpenMiddleware(attempts int, backoff time.Duration) Middleware {
	if attempts < 1 {
		attempts = 1
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream] {
			var res helpers.Result[engine.FragmentStream]
			for i := 1; i <= attempts; i++ {
				res = next(ctx, prompt)
				if res.Ok() || i == attempts {
					break
				}
				log.Warn().Err(res.Error()).Int("attempt", i).Msg("provider: opening stream failed, retrying")
				select {
				case <-ctx.Done():
					return helpers.NewErrorResult[engine.FragmentStream](
						errors.Wrap(ctx.Err(), "waiting to retry stream open"))
				case <-time.After(backoff):
				}
			}
			return res
		}
	}
}
