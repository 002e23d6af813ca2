// Package engine runs one streamed turn: it builds the prompt for the channels the
// decision rules requested, opens the model stream, pushes every fragment through the
// demultiplexer and turns parse results into an ordered sequence of events that ends
// with exactly one done event.
package engine

import (
	"context"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/rules"
)

// Message is one prior conversation message handed to the prompt builder.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Input is what a caller knows about the turn before it starts.
type Input struct {
	Message string                 `json:"message" yaml:"message"`
	History []Message              `json:"history,omitempty" yaml:"history,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Prompt is the provider-independent request sent to the model.
type Prompt struct {
	System   string    `json:"system" yaml:"system"`
	Messages []Message `json:"messages" yaml:"messages"`
}

// PromptRequest is everything a PromptBuilder may use.
type PromptRequest struct {
	Input    Input
	Decision rules.Decision
	Table    *channels.Table
}

// PromptBuilder writes the prompt that instructs the model to use the channel markers.
type PromptBuilder interface {
	Build(ctx context.Context, req PromptRequest) (Prompt, error)
}

// PromptBuilderFunc adapts a function to PromptBuilder.
type PromptBuilderFunc func(ctx context.Context, req PromptRequest) (Prompt, error)

func (f PromptBuilderFunc) Build(ctx context.Context, req PromptRequest) (Prompt, error) {
	return f(ctx, req)
}

// FragmentStream yields the raw text of a model completion in arbitrary pieces.
// Recv returns io.EOF once the completion is over; any other error is an upstream
// failure.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Provider opens model streams. Failing to open a stream is reported in the result,
// not by panicking or returning a nil stream.
type Provider interface {
	Stream(ctx context.Context, prompt Prompt) helpers.Result[FragmentStream]
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt Prompt) helpers.Result[FragmentStream]

func (f ProviderFunc) Stream(ctx context.Context, prompt Prompt) helpers.Result[FragmentStream] {
	return f(ctx, prompt)
}
