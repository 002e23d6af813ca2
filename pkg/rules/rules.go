// Package rules decides, before generation starts, which optional buffered channels
// the model is asked to fill this turn.
//
// The decision is a pure function of SessionState. Rules are evaluated per channel in
// priority order and the first match wins:
//
//  1. first turn of the session: request
//  2. inside the cooldown (too few turns or characters since the last request) and no
//     trigger in the newest message: skip
//  3. ceiling of turns since the last request reached: request
//  4. trigger phrase or pattern in the newest message: request
//  5. enough turns and characters accumulated: request
//  6. otherwise: skip
//
// The ceiling also lifts the cooldown, so a channel is never starved longer than
// CeilingTurns.
package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/pkg/errors"
)

// Reason names the rule that produced a channel decision.
type Reason string

const (
	ReasonFirstTurn   Reason = "first_turn"
	ReasonCooldown    Reason = "cooldown"
	ReasonCeiling     Reason = "ceiling"
	ReasonTrigger     Reason = "trigger"
	ReasonPattern     Reason = "pattern"
	ReasonAccumulated Reason = "accumulated"
	ReasonIdle        Reason = "idle"
	ReasonDisabled    Reason = "disabled"
	// ReasonUnconfigured: the channel has no rules and is requested every turn.
	ReasonUnconfigured Reason = "unconfigured"
)

// ChannelDecision is the outcome for one optional channel.
type ChannelDecision struct {
	Request bool   `json:"request" yaml:"request"`
	Reason  Reason `json:"reason" yaml:"reason"`
	// Match is the trigger phrase or pattern that fired, if any.
	Match string `json:"match,omitempty" yaml:"match,omitempty"`
	// Kinds are the sub-kinds to ask for. Only set for requested channels with categories.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// Decision carries one ChannelDecision per optional channel.
type Decision struct {
	Channels map[channels.Name]ChannelDecision `json:"channels" yaml:"channels"`
}

// Requested reports whether the channel was requested. Channels without a decision
// (the always-on ones) count as requested.
func (d Decision) Requested(name channels.Name) bool {
	cd, ok := d.Channels[name]
	if !ok {
		return true
	}
	return cd.Request
}

// For returns the decision of a channel, if there is one.
func (d Decision) For(name channels.Name) (ChannelDecision, bool) {
	cd, ok := d.Channels[name]
	return cd, ok
}

type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

type compiledRules struct {
	ChannelRules
	triggers []string
	patterns []compiledPattern
	keywords map[string][]string
	allKinds []string
}

// Rules is the compiled, read-only form of a Config. It is safe for concurrent use.
type Rules struct {
	byChannel map[channels.Name]*compiledRules
	order     []channels.Name
}

// New compiles cfg for the optional channels of table. Optional channels without an
// entry in cfg are requested on every turn.
func New(cfg Config, table *channels.Table) (*Rules, error) {
	r := &Rules{byChannel: map[channels.Name]*compiledRules{}}
	for _, spec := range table.Optional() {
		r.order = append(r.order, spec.Name)
		cr, ok := cfg.Channels[spec.Name]
		if !ok {
			continue
		}
		c := &compiledRules{ChannelRules: cr, keywords: map[string][]string{}}
		for _, t := range cr.Triggers {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				c.triggers = append(c.triggers, t)
			}
		}
		for _, p := range cr.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %s: invalid pattern %q", spec.Name, p)
			}
			c.patterns = append(c.patterns, compiledPattern{source: p, re: re})
		}
		for kind, words := range cr.Categories {
			c.allKinds = append(c.allKinds, kind)
			for _, w := range words {
				c.keywords[kind] = append(c.keywords[kind], strings.ToLower(w))
			}
		}
		sort.Strings(c.allKinds)
		r.byChannel[spec.Name] = c
	}
	for name := range cfg.Channels {
		if _, ok := table.Lookup(name); !ok {
			return nil, errors.Errorf("rules configured for unknown channel %q", name)
		}
	}
	return r, nil
}

// Decide evaluates the rules for every optional channel.
func (r *Rules) Decide(state SessionState) Decision {
	d := Decision{Channels: make(map[channels.Name]ChannelDecision, len(r.order))}
	lower := strings.ToLower(state.Message)
	for _, name := range r.order {
		c, ok := r.byChannel[name]
		if !ok {
			d.Channels[name] = ChannelDecision{Request: true, Reason: ReasonUnconfigured}
			continue
		}
		cd := c.decide(state, state.History(name), lower)
		if cd.Request {
			cd.Kinds = c.kinds(lower)
		}
		d.Channels[name] = cd
	}
	return d
}

func (c *compiledRules) decide(state SessionState, h ChannelHistory, lower string) ChannelDecision {
	if c.Disabled {
		return ChannelDecision{Reason: ReasonDisabled}
	}
	if state.Turn == 0 || !h.EverRequested {
		return ChannelDecision{Request: true, Reason: ReasonFirstTurn}
	}

	trigger := c.matchTrigger(state.Message, lower)
	ceiling := c.CeilingTurns > 0 && h.TurnsSince >= c.CeilingTurns

	inCooldown := h.TurnsSince < c.CooldownTurns || h.CharsSince < c.CooldownChars
	if inCooldown && trigger == nil && !ceiling {
		return ChannelDecision{Reason: ReasonCooldown}
	}
	if ceiling {
		return ChannelDecision{Request: true, Reason: ReasonCeiling}
	}
	if trigger != nil {
		return *trigger
	}
	if h.TurnsSince >= c.BatchTurns && h.CharsSince >= c.BatchChars {
		return ChannelDecision{Request: true, Reason: ReasonAccumulated}
	}
	return ChannelDecision{Reason: ReasonIdle}
}

func (c *compiledRules) matchTrigger(message string, lower string) *ChannelDecision {
	for _, t := range c.triggers {
		if strings.Contains(lower, t) {
			return &ChannelDecision{Request: true, Reason: ReasonTrigger, Match: t}
		}
	}
	for _, p := range c.patterns {
		if p.re.MatchString(message) {
			return &ChannelDecision{Request: true, Reason: ReasonPattern, Match: p.source}
		}
	}
	return nil
}

// kinds selects the sub-kinds whose keywords appear in the message, falling back to
// the default set rather than none.
func (c *compiledRules) kinds(lower string) []string {
	if len(c.allKinds) == 0 {
		return nil
	}
	var ret []string
	for _, kind := range c.allKinds {
		for _, w := range c.keywords[kind] {
			if strings.Contains(lower, w) {
				ret = append(ret, kind)
				break
			}
		}
	}
	if len(ret) > 0 {
		return ret
	}
	if len(c.DefaultKinds) > 0 {
		return append([]string(nil), c.DefaultKinds...)
	}
	return append([]string(nil), c.allKinds...)
}
