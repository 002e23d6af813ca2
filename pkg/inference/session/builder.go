package session

import (
	"context"

	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/go-go-golems/sectionstream/pkg/rules"
)

// TurnRequest identifies the turn an engine is built for.
type TurnRequest struct {
	SessionID string
	TurnID    string
	Decision  rules.Decision
}

// EngineBuilder builds a fresh engine for every turn of a session.
//
// The builder is responsible for provider and prompt construction policy, the channel
// table, metrics and decode options.
type EngineBuilder interface {
	Build(ctx context.Context, req TurnRequest) (*engine.Engine, error)
}

type EngineBuilderFunc func(ctx context.Context, req TurnRequest) (*engine.Engine, error)

func (f EngineBuilderFunc) Build(ctx context.Context, req TurnRequest) (*engine.Engine, error) {
	return f(ctx, req)
}

// NewEngineBuilder returns a builder that creates engines from a fixed provider and
// prompt builder, tagging every event with the session and turn ids.
func NewEngineBuilder(provider engine.Provider, prompts engine.PromptBuilder, model string, options ...engine.Option) EngineBuilder {
	return EngineBuilderFunc(func(ctx context.Context, req TurnRequest) (*engine.Engine, error) {
		opts := append([]engine.Option{}, options...)
		opts = append(opts, engine.WithMetadata(events.EventMetadata{
			SessionID: req.SessionID,
			TurnID:    req.TurnID,
			Model:     model,
		}))
		return engine.New(provider, prompts, req.Decision, opts...)
	})
}
