// Package cli implements the fxquickstart commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/e7canasta/effect-quickstart/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Debug      bool

	// Config is loaded in the persistent pre-run.
	Config *config.Config
}

// NewRootCommand creates the root command for the fxquickstart CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fxquickstart",
		Short: "Apply a face effect to a photo",
		Long: `Unpack the bundled effect resources, initialize the effect engine and
run one photo through it on a dedicated render thread.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(cmd.ErrOrStderr(), opts.Debug)

			if opts.ConfigPath == "" {
				opts.Config = config.Default()
				return nil
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.Config = cfg
			slog.Debug("configuration loaded", "config", opts.ConfigPath, "instance_id", cfg.InstanceID)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (defaults apply when empty)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")

	cmd.AddCommand(NewProcessCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewEffectsCommand(opts))

	return cmd
}

// setupLogger installs the JSON slog handler. Logs go to w so stdout stays
// free for command output.
func setupLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}
