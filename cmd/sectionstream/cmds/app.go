package cmds

import (
	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/inference"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/go-go-golems/sectionstream/pkg/inference/session"
	"github.com/go-go-golems/sectionstream/pkg/metrics"
	"github.com/go-go-golems/sectionstream/pkg/prompts"
	"github.com/go-go-golems/sectionstream/pkg/providers/openai"
	"github.com/go-go-golems/sectionstream/pkg/providers/scripted"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const demoAnswer = `<response>Here is a first take on your question. Tell me more about what matters most to you.</response>` +
	`<reflection>The user is early in the decision, ask about priorities before suggesting anything.</reflection>` +
	`<signals>[{"kind": "decision", "text": "The user is weighing a choice.", "confidence": 0.6}]</signals>` +
	`<actions>[{"title": "List the options", "priority": "medium"}]</actions>` +
	`<memory>{}</memory>`

// app is everything a command needs to run turns.
type app struct {
	settings *settings.Settings
	table    *channels.Table
	rules    *rules.Rules
	metrics  *metrics.Metrics
	builder  session.EngineBuilder
}

func newApp(s *settings.Settings, m *metrics.Metrics) (*app, error) {
	table := channels.DefaultTable()

	rulesConfig, err := s.Rules()
	if err != nil {
		return nil, err
	}
	r, err := rules.New(rulesConfig, table)
	if err != nil {
		return nil, errors.Wrap(err, "invalid rules")
	}

	provider, model, err := newProvider(s)
	if err != nil {
		return nil, err
	}
	provider = inference.WithMiddleware(provider,
		inference.NewLoggingMiddleware(log.Logger),
		inference.NewRetryOpenMiddleware(s.Stream.OpenAttempts, s.Stream.RetryBackoff),
		inference.NewSystemPromptMiddleware(s.Stream.ExtraSystemPrompt),
	)

	p, err := prompts.New(s.Prompts)
	if err != nil {
		return nil, err
	}

	builder := session.NewEngineBuilder(provider, p, model,
		engine.WithTable(table),
		engine.WithDecodeOptions(s.Decode),
		engine.WithMetrics(m),
	)

	return &app{
		settings: s,
		table:    table,
		rules:    r,
		metrics:  m,
		builder:  builder,
	}, nil
}

func newProvider(s *settings.Settings) (engine.Provider, string, error) {
	switch s.Provider {
	case settings.ProviderScripted:
		if s.Scripted.File == "" {
			log.Debug().Msg("no script configured, using the demo answer")
			return scripted.FromText(demoAnswer), "scripted", nil
		}
		script, err := scripted.LoadFile(s.Scripted.File)
		if err != nil {
			return nil, "", err
		}
		return scripted.New(script), "scripted", nil
	default:
		p, err := openai.New(s.OpenAI)
		if err != nil {
			return nil, "", err
		}
		return p, s.OpenAI.Model, nil
	}
}
