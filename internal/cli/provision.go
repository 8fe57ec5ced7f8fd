package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/effect-quickstart/internal/app"
)

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Unpack bundled resources into the resource directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := app.New(rootOpts.Config).Provision(cmd.Context())
			if err != nil {
				return err
			}
			if rep.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already provisioned\n", rep.Target)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (%d files, %d bytes)\n", rep.Target, rep.Files, rep.Bytes)
			return nil
		},
	}
}
