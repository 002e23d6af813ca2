package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/inference"
	"github.com/go-go-golems/sectionstream/pkg/inference/session"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const runTopic = "turns"

func NewRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run turns in the terminal",
		Long: `With a message argument, runs a single turn.
Without, reads one message per line from stdin and runs them as consecutive turns
of one session, so that the channel decision rules see the conversation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			showReflection, _ := cmd.Flags().GetBool("show-reflection")
			showData, _ := cmd.Flags().GetBool("show-data")
			summary, _ := cmd.Flags().GetBool("summary")
			raw, _ := cmd.Flags().GetBool("raw")
			render, _ := cmd.Flags().GetString("render")
			style, _ := cmd.Flags().GetString("style")

			renderStyle, err := renderStyleFor(render, style, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			opts := events.PrinterOptions{
				ShowData:    showData,
				ShowSummary: summary,
				RenderStyle: renderStyle,
			}
			if showReflection {
				opts.ShowChannels = []channels.Name{channels.Response, channels.Reflection}
			}

			var messages <-chan string
			if len(args) > 0 {
				ch := make(chan string, 1)
				ch <- strings.Join(args, " ")
				close(ch)
				messages = ch
			} else {
				messages = readLines(cmd.Context(), cmd.InOrStdin())
			}

			return runTurns(cmd.Context(), s, cmd.OutOrStdout(), messages, opts, raw, v.GetBool("verbose"))
		},
	}
	cmd.Flags().Bool("show-reflection", false, "Also stream the reflection channel")
	cmd.Flags().Bool("show-data", true, "Print decoded buffered channels")
	cmd.Flags().Bool("summary", true, "Print a per-channel summary after each turn")
	cmd.Flags().Bool("raw", false, "Print the raw JSON events instead of rendering them")
	cmd.Flags().String("render", "auto", "Render the finished response as markdown (auto, always, never)")
	cmd.Flags().String("style", "dark", "Markdown style used when rendering (dark, light, notty)")
	return cmd
}

// renderStyleFor returns the glamour style to render finished responses with, or ""
// for none. In auto mode only terminals get rendered output.
func renderStyleFor(mode string, style string, w io.Writer) (string, error) {
	switch mode {
	case "always":
		return style, nil
	case "never":
		return "", nil
	case "auto":
		if isTerminal(w) {
			return style, nil
		}
		return "", nil
	default:
		return "", errors.Errorf("invalid --render value %q (want auto, always or never)", mode)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case ch <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("could not read input")
		}
	}()
	return ch
}

func runTurns(
	ctx context.Context,
	s *settings.Settings,
	w io.Writer,
	messages <-chan string,
	opts events.PrinterOptions,
	raw bool,
	verbose bool,
) error {
	a, err := newApp(s, nil)
	if err != nil {
		return err
	}

	routerOptions := []events.EventRouterOption{}
	if verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	if raw {
		router.AddHandler("raw", runTopic, router.DumpRawEvents(w))
	} else {
		router.AddHandler("printer", runTopic, events.PrinterFunc(w, opts))
	}
	sink := inference.NewWatermillSink(router.Publisher, runTopic)
	sess := session.NewSession(a.builder, a.rules)

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})

	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-messages:
				if !ok {
					return nil
				}
				if _, err := sess.RunTurn(ctx, msg, sink); err != nil {
					return errors.Wrap(err, "turn failed")
				}
				if !raw {
					_, _ = fmt.Fprintln(w)
				}
			}
		}
	})

	return eg.Wait()
}
