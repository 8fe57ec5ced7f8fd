package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/effect-quickstart/internal/app"
)

// NewEffectsCommand creates the effects command.
func NewEffectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "effects",
		Short: "List the effects available in the resource directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := app.New(rootOpts.Config).Effects(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
