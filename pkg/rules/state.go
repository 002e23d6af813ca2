package rules

import (
	"unicode/utf8"

	"github.com/go-go-golems/sectionstream/pkg/channels"
)

// ChannelHistory is what the cadence heuristic remembers about one channel.
type ChannelHistory struct {
	EverRequested bool `json:"ever_requested" yaml:"ever_requested"`
	// TurnsSince counts completed turns since the channel was last requested.
	TurnsSince int `json:"turns_since" yaml:"turns_since"`
	// CharsSince counts user message characters since the channel was last requested,
	// including the newest message.
	CharsSince int `json:"chars_since" yaml:"chars_since"`
}

// SessionState is the input of Decide. Turn is zero for the first turn of a session.
type SessionState struct {
	Turn     int                              `json:"turn" yaml:"turn"`
	Message  string                           `json:"message" yaml:"message"`
	Channels map[channels.Name]ChannelHistory `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// History returns the channel's history, zero if it has none.
func (s SessionState) History(name channels.Name) ChannelHistory {
	return s.Channels[name]
}

// WithMessage returns a copy of s about to decide on message. The message's length
// counts towards every channel's character budget.
func (s SessionState) WithMessage(message string) SessionState {
	n := utf8.RuneCountInString(message)
	ret := SessionState{
		Turn:     s.Turn,
		Message:  message,
		Channels: make(map[channels.Name]ChannelHistory, len(s.Channels)),
	}
	for name, h := range s.Channels {
		h.CharsSince += n
		ret.Channels[name] = h
	}
	return ret
}

// Advance returns the state after a finished turn that used decision. Requested
// channels start counting again from zero, skipped ones age by one turn.
func (s SessionState) Advance(decision Decision) SessionState {
	ret := SessionState{
		Turn:     s.Turn + 1,
		Channels: make(map[channels.Name]ChannelHistory, len(decision.Channels)),
	}
	for name, h := range s.Channels {
		ret.Channels[name] = h
	}
	for name, cd := range decision.Channels {
		h := ret.Channels[name]
		if cd.Request {
			h = ChannelHistory{EverRequested: true}
		}
		h.TurnsSince++
		ret.Channels[name] = h
	}
	return ret
}
