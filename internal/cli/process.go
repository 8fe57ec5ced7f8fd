package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e7canasta/effect-quickstart/internal/app"
	"github.com/e7canasta/effect-quickstart/internal/config"
	"github.com/e7canasta/effect-quickstart/internal/emitter"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	Output   string
	Effect   string
	Engine   string
	HostPath string
	NoWarmup bool
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{}

	cmd := &cobra.Command{
		Use:   "process <photo>",
		Short: "Run one photo through the effect engine",
		Long: `Process provisions resources when needed, initializes the engine,
renders the photo with the selected effect and writes the result.

The output format follows the extension of --output (.png or .jpg).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if err := opts.apply(cfg); err != nil {
				return err
			}

			output := opts.Output
			if output == "" {
				output = defaultOutput(args[0])
			}

			a := app.New(cfg)
			if cfg.MQTT.Broker != "" {
				em := emitter.NewMQTTEmitter(cfg)
				if err := em.Connect(cmd.Context()); err != nil {
					slog.Warn("mqtt unavailable, continuing without events", "error", err)
				} else {
					defer em.Disconnect()
					a.SetPublisher(em)
				}
			}

			rep, err := a.Process(cmd.Context(), app.Request{
				Input:  args[0],
				Output: output,
				Effect: opts.Effect,
			})
			if err != nil {
				return err
			}

			b := rep.Result.Image.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d, effect %s, %dms)\n",
				rep.Output, b.Dx(), b.Dy(), rep.Result.Effect, rep.Result.Latency.Milliseconds())
			if rep.Result.EffectErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: effect not applied: %v\n", rep.Result.EffectErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default <photo>_fx.png)")
	cmd.Flags().StringVarP(&opts.Effect, "effect", "e", "", "effect to apply (default from config, effects/Afro)")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine kind: soft or bridge")
	cmd.Flags().StringVar(&opts.HostPath, "host", "", "engine host binary for --engine=bridge")
	cmd.Flags().BoolVar(&opts.NoWarmup, "no-warmup", false, "skip the warm-up frame")

	return cmd
}

// apply overrides cfg with the flags that were set and re-validates it.
func (o *ProcessOptions) apply(cfg *config.Config) error {
	if o.Engine != "" {
		cfg.Engine.Kind = o.Engine
	}
	if o.HostPath != "" {
		cfg.Engine.HostPath = o.HostPath
	}
	if o.NoWarmup {
		off := false
		cfg.Pipeline.Warmup = &off
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func defaultOutput(input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), base+"_fx.png")
}
