// Package openai streams chat completions from an OpenAI-compatible API.
package openai

import (
	"context"
	"io"

	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

type Settings struct {
	Model       string   `yaml:"model" mapstructure:"model"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	Temperature *float32 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:   "gpt-4o-mini",
		BaseURL: "https://api.openai.com/v1",
	}
}

// Provider implements engine.Provider on top of go-openai's streaming client.
type Provider struct {
	client   *go_openai.Client
	settings Settings
}

var _ engine.Provider = (*Provider)(nil)

func New(settings Settings) (*Provider, error) {
	if settings.APIKey == "" {
		return nil, errors.New("no API key for openai")
	}
	if settings.Model == "" {
		return nil, errors.New("no model for openai")
	}
	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		config.BaseURL = settings.BaseURL
	}
	return &Provider{
		client:   go_openai.NewClientWithConfig(config),
		settings: settings,
	}, nil
}

func (p *Provider) request(prompt engine.Prompt) go_openai.ChatCompletionRequest {
	messages := make([]go_openai.ChatCompletionMessage, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	for _, m := range prompt.Messages {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	req := go_openai.ChatCompletionRequest{
		Model:     p.settings.Model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: p.settings.MaxTokens,
	}
	if p.settings.Temperature != nil {
		req.Temperature = *p.settings.Temperature
	}
	return req
}

func (p *Provider) Stream(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream] {
	req := p.request(prompt)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("openai: opening stream")
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("OpenAI streaming request failed")
		return helpers.NewErrorResult[engine.FragmentStream](errors.Wrap(err, "openai"))
	}
	return helpers.NewValueResult[engine.FragmentStream](&fragmentStream{stream: stream})
}

type fragmentStream struct {
	stream *go_openai.ChatCompletionStream
	chunks int
}

// Recv returns the next non-empty content delta.
func (f *fragmentStream) Recv() (string, error) {
	for {
		response, err := f.stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Int("chunks_received", f.chunks).Msg("OpenAI stream completed")
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrap(err, "openai")
		}
		f.chunks++
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (f *fragmentStream) Close() error {
	f.stream.Close()
	return nil
}
