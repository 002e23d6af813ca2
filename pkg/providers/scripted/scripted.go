// Package scripted replays model output from a YAML fixture. It is used by tests,
// demos and the serve command's offline mode.
package scripted

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Script is one canned completion.
//
//	fragments: ["<resp", "onse>Hel", "lo</response>"]
//	delay: 20ms
//	fail_after: 2
//	error: connection reset by peer
type Script struct {
	Fragments []string `yaml:"fragments"`
	// Text is split into ChunkSize-rune fragments when Fragments is empty.
	Text      string        `yaml:"text,omitempty"`
	ChunkSize int           `yaml:"chunk_size,omitempty"`
	Delay     time.Duration `yaml:"delay,omitempty"`
	// FailAfter, when Error is set, fails the stream after that many fragments.
	FailAfter int    `yaml:"fail_after,omitempty"`
	Error     string `yaml:"error,omitempty"`
	// OpenError fails before any fragment is produced.
	OpenError string `yaml:"open_error,omitempty"`
}

func LoadFile(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read script %s", path)
	}
	return Parse(b)
}

func Parse(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "could not parse script")
	}
	return &s, nil
}

// Chunks returns the fragments the script produces, in order.
func (s *Script) Chunks() []string {
	if len(s.Fragments) > 0 || s.Text == "" {
		return s.Fragments
	}
	size := s.ChunkSize
	if size <= 0 {
		size = 4
	}
	runes := []rune(s.Text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// Provider serves the same script for every prompt.
type Provider struct {
	script *Script
}

var _ engine.Provider = (*Provider)(nil)

func New(script *Script) *Provider {
	return &Provider{script: script}
}

// FromText is a provider that streams text in small fragments.
func FromText(text string) *Provider {
	return New(&Script{Text: text})
}

func (p *Provider) Stream(ctx context.Context, prompt engine.Prompt) helpers.Result[engine.FragmentStream] {
	if p.script.OpenError != "" {
		return helpers.NewErrorResult[engine.FragmentStream](errors.New(p.script.OpenError))
	}
	return helpers.NewValueResult[engine.FragmentStream](&stream{
		ctx:    ctx,
		script: p.script,
		chunks: p.script.Chunks(),
	})
}

type stream struct {
	ctx    context.Context
	script *Script
	chunks []string
	sent   int
}

func (s *stream) Recv() (string, error) {
	if s.script.Error != "" && s.sent >= s.script.FailAfter {
		return "", errors.New(s.script.Error)
	}
	if s.sent >= len(s.chunks) {
		return "", io.EOF
	}
	if s.script.Delay > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.script.Delay):
		}
	}
	f := s.chunks[s.sent]
	s.sent++
	return f, nil
}

func (s *stream) Close() error {
	return nil
}

// String returns the full completion.
func (s *Script) String() string {
	return strings.Join(s.Chunks(), "")
}
