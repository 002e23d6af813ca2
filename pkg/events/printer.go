package events

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/sectionstream/pkg/channels"
	"gopkg.in/yaml.v3"
)

// PrinterOptions select what the terminal printer shows besides the reply.
type PrinterOptions struct {
	// ShowChannels lists the streaming channels echoed live. Empty means only response.
	ShowChannels []channels.Name
	// ShowData prints decoded buffered channels as YAML when they complete.
	ShowData bool
	// ShowSummary prints the done event's per-channel summary.
	ShowSummary bool
	// RenderStyle, when set, re-renders the finished response as markdown with this
	// glamour style ("dark", "light", "notty", ...).
	RenderStyle string
}

// PrinterFunc returns a watermill handler that renders turn events for a terminal.
func PrinterFunc(w io.Writer, opts PrinterOptions) func(msg *message.Message) error {
	show := map[channels.Name]bool{channels.Response: true}
	if len(opts.ShowChannels) > 0 {
		show = map[channels.Name]bool{}
		for _, c := range opts.ShowChannels {
			show[c] = true
		}
	}
	var current channels.Name

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventChannelDelta:
			if !show[p_.Channel] {
				return nil
			}
			if current != p_.Channel {
				current = p_.Channel
				if len(show) > 1 {
					if _, err := fmt.Fprintf(w, "\n[%s]\n", p_.Channel); err != nil {
						return err
					}
				}
			}
			_, err = fmt.Fprint(w, p_.Delta)
			return err

		case *EventChannelText:
			if show[p_.Channel] && !strings.HasSuffix(p_.Text, "\n") {
				_, err = fmt.Fprintln(w)
			}
			return err

		case *EventChannelData:
			if !opts.ShowData || !p_.Requested {
				return nil
			}
			v_, err := yaml.Marshal(p_.Value.Interface())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "\n[%s]\n%s", p_.Channel, v_); err != nil {
				return err
			}
			if p_.Error != "" {
				_, err = fmt.Fprintf(w, "(decode error: %s)\n", p_.Error)
			}
			return err

		case *EventError:
			_, err = fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString)
			return err

		case *EventDone:
			if opts.RenderStyle != "" {
				if err := renderResponse(w, p_, opts.RenderStyle); err != nil {
					return err
				}
			}
			if !opts.ShowSummary {
				return nil
			}
			names := make([]string, 0, len(p_.Channels))
			for name := range p_.Channels {
				names = append(names, string(name))
			}
			sort.Strings(names)
			if _, err := fmt.Fprintf(w, "\n--- done (%d fragments, %d bytes) ---\n", p_.Fragments, p_.Bytes); err != nil {
				return err
			}
			for _, name := range names {
				r := p_.Channels[channels.Name(name)]
				status := "closed"
				if !r.Closed {
					status = "unclosed"
				}
				if !r.Requested {
					status += ", not requested"
				}
				if _, err := fmt.Fprintf(w, "%-12s %s (%d bytes)\n", name, status, len(r.Raw)); err != nil {
					return err
				}
			}
		}

		return nil
	}
}

func renderResponse(w io.Writer, done *EventDone, style string) error {
	r := done.Channels[channels.Response]
	text := r.Text()
	if text == "" {
		text = r.Raw
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	rendered, err := glamour.Render(text, style)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\n--- rendered ---\n%s", rendered)
	return err
}
