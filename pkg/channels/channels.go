// Package channels holds the marker table: the closed set of output sections a model
// can write into, their literal open/close delimiters and how their content is consumed.
package channels

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Name identifies a channel. The empty name is the "no channel" region (preamble or
// stray text outside any recognized section).
type Name string

const None Name = ""

const (
	Response   Name = "response"
	Reflection Name = "reflection"
	Signals    Name = "signals"
	Actions    Name = "actions"
	Memory     Name = "memory"
)

// Mode tells whether a channel's partial content is useful on its own.
type Mode int

const (
	// Streaming channels forward every content delta as it arrives.
	Streaming Mode = iota
	// Buffered channels are only meaningful once closed and decoded.
	Buffered
)

func (m Mode) String() string {
	switch m {
	case Streaming:
		return "streaming"
	case Buffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// Shape is the expected structure of a channel's content.
type Shape int

const (
	ShapeText Shape = iota
	ShapeList
	ShapeObject
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeList:
		return "list"
	case ShapeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Spec describes one channel.
type Spec struct {
	Name  Name
	Open  string
	Close string
	Mode  Mode
	Shape Shape
	// Optional channels are only requested when the decision rules say so.
	Optional bool
	// Description is used by prompt builders to explain the section to the model.
	Description string
	// Schema is an optional JSON schema document the decoded value must satisfy.
	Schema string
}

// Default returns a fresh default value for the channel's shape.
func (s Spec) Default() interface{} {
	switch s.Shape {
	case ShapeList:
		return []interface{}{}
	case ShapeObject:
		return map[string]interface{}{}
	default:
		return ""
	}
}

// Streams reports whether content deltas of the channel are forwarded live.
func (s Spec) Streams() bool {
	return s.Mode == Streaming
}

// Marker is one literal delimiter as seen by the parser.
type Marker struct {
	Literal string
	Channel Name
	Closing bool
}

// Table is the immutable set of channels known to a turn. It is safe for concurrent use.
type Table struct {
	specs   []Spec
	byName  map[Name]int
	markers []Marker
}

// NewTable validates the channel specs and builds a table. Marker literals must be
// non-empty, unique across the table, and may only contain '<' as their first byte.
func NewTable(specs ...Spec) (*Table, error) {
	t := &Table{
		byName: make(map[Name]int, len(specs)),
	}
	seen := map[string]Name{}
	for _, s := range specs {
		if s.Name == None {
			return nil, errors.New("channel name must not be empty")
		}
		if _, ok := t.byName[s.Name]; ok {
			return nil, errors.Errorf("duplicate channel %q", s.Name)
		}
		for _, lit := range []string{s.Open, s.Close} {
			if lit == "" {
				return nil, errors.Errorf("channel %q has an empty marker", s.Name)
			}
			if strings.IndexByte(lit[1:], '<') >= 0 {
				return nil, errors.Errorf("marker %q of channel %q contains '<' after its first byte", lit, s.Name)
			}
			if other, ok := seen[lit]; ok {
				return nil, errors.Errorf("marker %q used by both %q and %q", lit, other, s.Name)
			}
			seen[lit] = s.Name
		}
		t.byName[s.Name] = len(t.specs)
		t.specs = append(t.specs, s)
		t.markers = append(t.markers,
			Marker{Literal: s.Open, Channel: s.Name},
			Marker{Literal: s.Close, Channel: s.Name, Closing: true},
		)
	}
	// longest first, so that at equal positions the longer literal wins
	sort.SliceStable(t.markers, func(i, j int) bool {
		return len(t.markers[i].Literal) > len(t.markers[j].Literal)
	})
	return t, nil
}

// MustNewTable is NewTable that panics on invalid specs.
func MustNewTable(specs ...Spec) *Table {
	t, err := NewTable(specs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Specs returns the channel specs in declaration order.
func (t *Table) Specs() []Spec {
	ret := make([]Spec, len(t.specs))
	copy(ret, t.specs)
	return ret
}

// Names returns the channel names in declaration order.
func (t *Table) Names() []Name {
	ret := make([]Name, 0, len(t.specs))
	for _, s := range t.specs {
		ret = append(ret, s.Name)
	}
	return ret
}

func (t *Table) Lookup(name Name) (Spec, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Spec{}, false
	}
	return t.specs[idx], true
}

// Markers returns every open and close literal, longest first.
func (t *Table) Markers() []Marker {
	ret := make([]Marker, len(t.markers))
	copy(ret, t.markers)
	return ret
}

// Optional returns the specs of channels gated by the decision rules.
func (t *Table) Optional() []Spec {
	var ret []Spec
	for _, s := range t.specs {
		if s.Optional {
			ret = append(ret, s)
		}
	}
	return ret
}
