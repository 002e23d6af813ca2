package rules

import (
	"os"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ChannelRules configures the cadence heuristic for one optional channel.
type ChannelRules struct {
	Disabled bool `yaml:"disabled,omitempty" mapstructure:"disabled"`

	// CooldownTurns and CooldownChars: below either, the channel is skipped unless a
	// trigger matches or the ceiling is reached.
	CooldownTurns int `yaml:"cooldown_turns" mapstructure:"cooldown_turns"`
	CooldownChars int `yaml:"cooldown_chars" mapstructure:"cooldown_chars"`
	// CeilingTurns forces a request once that many turns passed without one.
	CeilingTurns int `yaml:"ceiling_turns" mapstructure:"ceiling_turns"`
	// BatchTurns and BatchChars: once both are reached, enough material accumulated.
	BatchTurns int `yaml:"batch_turns" mapstructure:"batch_turns"`
	BatchChars int `yaml:"batch_chars" mapstructure:"batch_chars"`

	// Triggers are matched case-insensitively as substrings of the newest message.
	Triggers []string `yaml:"triggers,omitempty" mapstructure:"triggers"`
	// Patterns are regular expressions matched against the newest message.
	Patterns []string `yaml:"patterns,omitempty" mapstructure:"patterns"`

	// Categories maps a sub-kind to the keywords that select it.
	Categories map[string][]string `yaml:"categories,omitempty" mapstructure:"categories"`
	// DefaultKinds is requested when no category keyword matches. Empty means all
	// categories, in sorted order.
	DefaultKinds []string `yaml:"default_kinds,omitempty" mapstructure:"default_kinds"`
}

// Config holds the rules of every optional channel, keyed by channel name.
type Config struct {
	Channels map[channels.Name]ChannelRules `yaml:"channels" mapstructure:"channels"`
}

// DefaultConfig is tuned for the default channel table.
func DefaultConfig() Config {
	return Config{
		Channels: map[channels.Name]ChannelRules{
			channels.Signals: {
				CooldownTurns: 2,
				CooldownChars: 200,
				CeilingTurns:  6,
				BatchTurns:    3,
				BatchChars:    600,
				Triggers: []string{
					"i decided", "i've decided", "i have decided", "i'm worried", "deadline",
					"i can't decide", "trade-off", "tradeoff",
				},
				Patterns: []string{
					`(?i)\bshould i\b`,
					`(?i)\b(pros?|cons?)\b.*\b(pros?|cons?)\b`,
					`\$\s?\d+`,
				},
				Categories: map[string][]string{
					"decision":   {"decide", "decided", "choose", "chose", "option"},
					"risk":       {"risk", "worried", "afraid", "concern", "danger"},
					"goal":       {"goal", "want to", "hope to", "plan to"},
					"constraint": {"budget", "deadline", "can't", "cannot", "must"},
					"assumption": {"assume", "probably", "i think", "i guess"},
				},
			},
			channels.Actions: {
				CooldownTurns: 1,
				CooldownChars: 80,
				CeilingTurns:  4,
				BatchTurns:    2,
				BatchChars:    300,
				Triggers:      []string{"what should i do", "next step", "next steps", "how do i", "help me plan"},
				Patterns:      []string{`(?i)\bwhat (now|next)\b`},
			},
			channels.Memory: {
				CooldownTurns: 3,
				CooldownChars: 400,
				CeilingTurns:  10,
				BatchTurns:    5,
				BatchChars:    1500,
				Triggers:      []string{"remember", "my name is", "i live in", "i work"},
			},
		},
	}
}

// LoadConfigFile reads a YAML rules file. Channels missing from the file keep their
// defaults.
func LoadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read rules file %s", path)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var fromFile Config
	if err := yaml.Unmarshal(b, &fromFile); err != nil {
		return Config{}, errors.Wrap(err, "parse rules")
	}
	cfg := DefaultConfig()
	for name, r := range fromFile.Channels {
		cfg.Channels[name] = r
	}
	return cfg, nil
}
