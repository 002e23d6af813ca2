// Package prompts renders the system prompt that teaches the model the channel
// markers, limited to the channels requested for the turn.
package prompts

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/pkg/errors"
)

const DefaultSystemTemplate = `{{ .Persona | trim }}

Structure your whole answer as the sections below. Wrap each section in its markers exactly as written, markers are case-sensitive. Do not nest sections and do not write anything outside of them.
{{ range .Channels }}
{{ .Open }}...{{ .Close }}
{{ .Description | indent 2 }}
{{- if .Buffered }}
  The content must be {{ if eq .Shape "list" }}a JSON array{{ else }}a JSON object{{ end }}, with no surrounding prose.
{{- if .Schema }}
  It must match this JSON schema:
{{ .Schema | indent 4 }}
{{- end }}
{{- end }}
{{- if .Kinds }}
  Only include these kinds: {{ join ", " .Kinds }}.
{{- end }}
{{ end -}}
{{ if .Skipped }}
Do not write the {{ join ", " .Skipped }} section{{ if gt (len .Skipped) 1 }}s{{ end }} this time.
{{ end -}}
`

const DefaultPersona = "You are a calm, practical assistant who helps people think through decisions."

// Config controls prompt rendering.
type Config struct {
	SystemTemplate string `yaml:"system_template" mapstructure:"system_template"`
	Persona        string `yaml:"persona" mapstructure:"persona"`
	// MaxHistory limits how many prior messages are sent; 0 sends all.
	MaxHistory int `yaml:"max_history" mapstructure:"max_history"`
}

func DefaultConfig() Config {
	return Config{
		SystemTemplate: DefaultSystemTemplate,
		Persona:        DefaultPersona,
		MaxHistory:     20,
	}
}

type channelData struct {
	Name        string
	Open        string
	Close       string
	Description string
	Buffered    bool
	Shape       string
	Schema      string
	Kinds       []string
}

type templateData struct {
	Persona  string
	Channels []channelData
	Skipped  []string
	Extra    map[string]interface{}
}

// Builder implements engine.PromptBuilder with a text/template system prompt.
type Builder struct {
	config Config
	tmpl   *template.Template
	types  map[channels.Name]interface{}
}

var _ engine.PromptBuilder = (*Builder)(nil)

type Option func(*Builder)

// WithType sets the Go type whose schema is shown for a buffered channel.
func WithType(name channels.Name, v interface{}) Option {
	return func(b *Builder) {
		b.types[name] = v
	}
}

func New(config Config, options ...Option) (*Builder, error) {
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}
	tmpl, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(config.SystemTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse system template")
	}
	b := &Builder{
		config: config,
		tmpl:   tmpl,
		types:  DefaultTypes(),
	}
	for _, o := range options {
		o(b)
	}
	return b, nil
}

func (b *Builder) Build(ctx context.Context, req engine.PromptRequest) (engine.Prompt, error) {
	table := req.Table
	if table == nil {
		table = channels.DefaultTable()
	}

	data := templateData{
		Persona: b.config.Persona,
		Extra:   req.Input.Extra,
	}
	for _, spec := range table.Specs() {
		if !req.Decision.Requested(spec.Name) {
			data.Skipped = append(data.Skipped, string(spec.Name))
			continue
		}
		cd := channelData{
			Name:        string(spec.Name),
			Open:        spec.Open,
			Close:       spec.Close,
			Description: spec.Description,
			Buffered:    !spec.Streams(),
			Shape:       spec.Shape.String(),
		}
		if cd.Buffered {
			schema, err := b.schema(spec)
			if err != nil {
				return engine.Prompt{}, err
			}
			cd.Schema = schema
		}
		if d, ok := req.Decision.For(spec.Name); ok && len(d.Kinds) > 0 {
			cd.Kinds = append([]string(nil), d.Kinds...)
			sort.Strings(cd.Kinds)
		}
		data.Channels = append(data.Channels, cd)
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return engine.Prompt{}, errors.Wrap(err, "could not render system prompt")
	}

	history := req.Input.History
	if n := b.config.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	messages := make([]engine.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, engine.Message{Role: engine.RoleUser, Content: req.Input.Message})

	return engine.Prompt{
		System:   strings.TrimSpace(buf.String()),
		Messages: messages,
	}, nil
}

func (b *Builder) schema(spec channels.Spec) (string, error) {
	if v, ok := b.types[spec.Name]; ok {
		s, err := SchemaFor(v)
		if err != nil {
			return "", errors.Wrapf(err, "channel %s", spec.Name)
		}
		return s, nil
	}
	return strings.TrimSpace(spec.Schema), nil
}
