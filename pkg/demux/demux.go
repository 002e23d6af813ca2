// Package demux splits one token-by-token model output stream into per-channel results.
//
// The text fed into a Demuxer is a concatenation of plain content and marker literals
// taken from a channels.Table. Fragment boundaries carry no meaning: a marker split
// across any number of Feed calls is recognized exactly as if it had arrived whole.
// Bytes that could still turn into a marker are held back until the next Feed (or
// Flush) disambiguates them, everything else is released immediately.
package demux

import (
	"strings"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/rs/zerolog/log"
)

// ParseResult is one unit of parser output. Content results carry a non-empty Content
// and Complete=false; a completion result has Complete=true and no content.
type ParseResult struct {
	Channel  channels.Name
	Content  string
	Complete bool
	// Text is, on a completion, everything the channel accumulated since its opening
	// marker. It is captured at the closing marker, so a later reopening within the same
	// Feed call does not affect it.
	Text string
}

// Demuxer is the incremental parser for one turn. It is not safe for concurrent use;
// every turn owns its own instance.
type Demuxer struct {
	markers []channels.Marker

	pending strings.Builder
	current channels.Name
	buffers map[channels.Name]*strings.Builder
	closed  map[channels.Name]bool
	flushed bool
}

func New(table *channels.Table) *Demuxer {
	return &Demuxer{
		markers: table.Markers(),
		current: channels.None,
		buffers: map[channels.Name]*strings.Builder{},
		closed:  map[channels.Name]bool{},
	}
}

// Current returns the channel that is open right now, or channels.None.
func (d *Demuxer) Current() channels.Name {
	return d.current
}

// Buffer returns everything accumulated for the channel since its last opening marker.
func (d *Demuxer) Buffer(name channels.Name) string {
	if b, ok := d.buffers[name]; ok {
		return b.String()
	}
	return ""
}

// Opened reports whether the channel's opening marker was seen during this turn.
func (d *Demuxer) Opened(name channels.Name) bool {
	_, ok := d.buffers[name]
	return ok
}

// Closed reports whether the channel's most recent opening marker was matched by its
// closing marker.
func (d *Demuxer) Closed(name channels.Name) bool {
	return d.closed[name]
}

// Feed consumes the next fragment. It never fails: malformed marker sequences are
// passed through as content of whichever channel is open.
func (d *Demuxer) Feed(fragment string) []ParseResult {
	if d.flushed {
		return nil
	}
	if fragment == "" {
		return nil
	}
	d.pending.WriteString(fragment)
	return d.scan()
}

// Flush releases any held-back bytes as content of the open channel (or of the "no
// channel" region). Afterwards the Demuxer ignores further input.
func (d *Demuxer) Flush() []ParseResult {
	if d.flushed {
		return nil
	}
	d.flushed = true
	rest := d.pending.String()
	d.pending.Reset()
	if rest == "" {
		return nil
	}
	log.Trace().Str("channel", string(d.current)).Int("len", len(rest)).Msg("demux: flushing held bytes")
	return []ParseResult{d.content(rest)}
}

func (d *Demuxer) scan() []ParseResult {
	var out []ParseResult
	buf := d.pending.String()

	for {
		idx, m, ok := d.earliestMarker(buf)
		if !ok {
			keep := d.heldSuffix(buf)
			if safe := buf[:len(buf)-keep]; safe != "" {
				out = append(out, d.content(safe))
			}
			buf = buf[len(buf)-keep:]
			break
		}

		if idx > 0 {
			out = append(out, d.content(buf[:idx]))
		}
		out = append(out, d.marker(m)...)
		buf = buf[idx+len(m.Literal):]
	}

	d.pending.Reset()
	d.pending.WriteString(buf)
	return out
}

// earliestMarker finds the complete marker literal starting at the lowest index.
// Markers are sorted longest first, so ties go to the longest literal.
func (d *Demuxer) earliestMarker(buf string) (int, channels.Marker, bool) {
	best := -1
	var found channels.Marker
	for _, m := range d.markers {
		i := strings.Index(buf, m.Literal)
		if i < 0 {
			continue
		}
		if best < 0 || i < best {
			best = i
			found = m
		}
	}
	return best, found, best >= 0
}

// heldSuffix returns the length of the longest suffix of buf that is a proper prefix
// of some marker literal.
func (d *Demuxer) heldSuffix(buf string) int {
	longest := 0
	for _, m := range d.markers {
		limit := len(m.Literal) - 1
		if limit > len(buf) {
			limit = len(buf)
		}
		for n := limit; n > longest; n-- {
			if strings.HasSuffix(buf, m.Literal[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

func (d *Demuxer) content(s string) ParseResult {
	if d.current != channels.None {
		d.buffers[d.current].WriteString(s)
	}
	return ParseResult{Channel: d.current, Content: s}
}

func (d *Demuxer) marker(m channels.Marker) []ParseResult {
	switch {
	case !m.Closing && (d.current == channels.None || d.current == m.Channel):
		if d.current == m.Channel {
			log.Debug().Str("channel", string(m.Channel)).Msg("demux: channel reopened while open, restarting buffer")
		}
		d.current = m.Channel
		d.buffers[m.Channel] = &strings.Builder{}
		d.closed[m.Channel] = false
		return nil

	case m.Closing && d.current != channels.None && d.current == m.Channel:
		d.current = channels.None
		d.closed[m.Channel] = true
		return []ParseResult{{Channel: m.Channel, Complete: true, Text: d.Buffer(m.Channel)}}

	default:
		log.Debug().
			Str("marker", m.Literal).
			Str("open", string(d.current)).
			Msg("demux: out-of-place marker kept as content")
		return []ParseResult{d.content(m.Literal)}
	}
}
