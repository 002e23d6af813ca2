// Package settings is the typed configuration of the sectionstream commands. Values
// come from a YAML config file, SECTIONSTREAM_* environment variables and flags,
// layered by viper.
package settings

import (
	"strings"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/decode"
	"github.com/go-go-golems/sectionstream/pkg/prompts"
	"github.com/go-go-golems/sectionstream/pkg/providers/openai"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "sectionstream"

const (
	ProviderOpenAI   = "openai"
	ProviderScripted = "scripted"
)

type ScriptedSettings struct {
	// File is a YAML script (see providers/scripted). Empty serves a canned answer.
	File string `yaml:"file" mapstructure:"file"`
}

type ServerSettings struct {
	Address string `yaml:"address" mapstructure:"address"`
	// Topic is the watermill topic turns are mirrored to.
	Topic string `yaml:"topic" mapstructure:"topic"`
}

// StreamSettings configure the middleware put in front of the provider.
type StreamSettings struct {
	// OpenAttempts is how many times opening a model stream is tried.
	OpenAttempts int           `yaml:"open_attempts" mapstructure:"open_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// ExtraSystemPrompt is appended to every system prompt.
	ExtraSystemPrompt string `yaml:"extra_system_prompt" mapstructure:"extra_system_prompt"`
}

type Settings struct {
	Provider  string           `yaml:"provider" mapstructure:"provider"`
	OpenAI    openai.Settings  `yaml:"openai" mapstructure:"openai"`
	Scripted  ScriptedSettings `yaml:"scripted" mapstructure:"scripted"`
	Stream    StreamSettings   `yaml:"stream" mapstructure:"stream"`
	Prompts   prompts.Config   `yaml:"prompts" mapstructure:"prompts"`
	Decode    decode.Options   `yaml:"decode" mapstructure:"decode"`
	RulesFile string           `yaml:"rules_file" mapstructure:"rules_file"`
	Server    ServerSettings   `yaml:"server" mapstructure:"server"`
}

func Default() *Settings {
	return &Settings{
		Provider: ProviderOpenAI,
		OpenAI:   openai.DefaultSettings(),
		Stream: StreamSettings{
			OpenAttempts: 2,
			RetryBackoff: 500 * time.Millisecond,
		},
		Prompts: prompts.DefaultConfig(),
		Decode: decode.Options{
			Repair:   true,
			Validate: true,
		},
		Server: ServerSettings{
			Address: ":8080",
			Topic:   "turns",
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// NewViper returns a viper instance that reads SECTIONSTREAM_* variables, with the
// default settings registered so that every key can come from the environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	v.SetDefault("scripted.file", "")
	v.SetDefault("stream.open_attempts", d.Stream.OpenAttempts)
	v.SetDefault("stream.retry_backoff", d.Stream.RetryBackoff)
	v.SetDefault("stream.extra_system_prompt", "")
	v.SetDefault("prompts.system_template", d.Prompts.SystemTemplate)
	v.SetDefault("prompts.persona", d.Prompts.Persona)
	v.SetDefault("prompts.max_history", d.Prompts.MaxHistory)
	v.SetDefault("decode.repair", d.Decode.Repair)
	v.SetDefault("decode.validate", d.Decode.Validate)
	v.SetDefault("rules_file", "")
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.topic", d.Server.Topic)
	// the conventional variable works too
	_ = v.BindEnv("openai.api_key", "SECTIONSTREAM_OPENAI_API_KEY", "OPENAI_API_KEY")
	return v
}

// Load decodes the settings held by v over the defaults.
func Load(v *viper.Viper) (*Settings, error) {
	s := Default()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	switch s.Provider {
	case ProviderOpenAI, ProviderScripted:
	default:
		return errors.Errorf("unknown provider %q (want %s or %s)", s.Provider, ProviderOpenAI, ProviderScripted)
	}
	if s.Stream.OpenAttempts < 1 {
		return errors.Errorf("stream.open_attempts must be at least 1, got %d", s.Stream.OpenAttempts)
	}
	return nil
}

// Rules returns the decision rules configuration, from RulesFile when set.
func (s *Settings) Rules() (rules.Config, error) {
	if s.RulesFile == "" {
		return rules.DefaultConfig(), nil
	}
	return rules.LoadConfigFile(s.RulesFile)
}
