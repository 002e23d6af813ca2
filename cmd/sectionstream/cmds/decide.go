package cmds

import (
	"strings"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewDecideCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide [message]",
		Short: "Show which optional channels a message would request",
		Long: `Runs the channel decision rules for one message. By default the message is the
first turn of a session; use --turn, --turns-since and --chars-since to describe a
session in progress.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			cfg, err := s.Rules()
			if err != nil {
				return err
			}
			table := channels.DefaultTable()
			r, err := rules.New(cfg, table)
			if err != nil {
				return errors.Wrap(err, "invalid rules")
			}

			turn, _ := cmd.Flags().GetInt("turn")
			since, _ := cmd.Flags().GetInt("turns-since")
			chars, _ := cmd.Flags().GetInt("chars-since")

			state := rules.SessionState{Turn: turn}
			if turn > 0 {
				state.Channels = map[channels.Name]rules.ChannelHistory{}
				for _, spec := range table.Optional() {
					state.Channels[spec.Name] = rules.ChannelHistory{
						EverRequested: true,
						TurnsSince:    since,
						CharsSince:    chars,
					}
				}
			}
			decision := r.Decide(state.WithMessage(strings.Join(args, " ")))

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(decision)
		},
	}
	cmd.Flags().Int("turn", 0, "Turn number in the session (0 is the first turn)")
	cmd.Flags().Int("turns-since", 0, "Turns since each channel was last requested")
	cmd.Flags().Int("chars-since", 0, "Characters since each channel was last requested, before this message")
	return cmd
}
