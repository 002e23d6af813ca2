package cmds

import (
	"fmt"
	"text/tabwriter"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/go-go-golems/sectionstream/pkg/prompts"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewChannelsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the channels and their markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := channels.DefaultTable()

			if showPrompt, _ := cmd.Flags().GetBool("prompt"); showPrompt {
				s, err := settings.Load(v)
				if err != nil {
					return err
				}
				encoding, _ := cmd.Flags().GetString("encoding")
				return printPrompt(cmd, s, table, encoding)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tOPEN\tCLOSE\tMODE\tSHAPE\tOPTIONAL")
			for _, spec := range table.Specs() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
					spec.Name, spec.Open, spec.Close, spec.Mode, spec.Shape, spec.Optional)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("prompt", false, "Print the system prompt of a first turn instead")
	cmd.Flags().String("encoding", prompts.DefaultEncoding, "Tokenizer encoding used to size the printed prompt")
	return cmd
}

func printPrompt(cmd *cobra.Command, s *settings.Settings, table *channels.Table, encoding string) error {
	p, err := prompts.New(s.Prompts)
	if err != nil {
		return err
	}
	prompt, err := p.Build(cmd.Context(), engine.PromptRequest{Table: table})
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintln(cmd.OutOrStdout(), prompt.System); err != nil {
		return err
	}
	n, err := prompts.CountTokens(prompt.System, encoding)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "%d tokens (%s)\n", n, encoding)
	return err
}
