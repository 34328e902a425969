package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerverhq/zerver/internal/config"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/runtime"
	"github.com/zerverhq/zerver/internal/tui/trace"
)

func newTraceCmd(app *AppContext) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Launch the interactive request trace timeline",
		Long:  `Launch the interactive TUI timeline showing live request/step/effect events as the runtime processes traffic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := app.CommandContext(cmd, "command.trace")

			cfg := config.Default()
			if configPath != "" {
				if err := validateConfigPath(configPath); err != nil {
					return err
				}
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}

			if logger != nil {
				logger.Info(ctx, "launching trace viewer")
			}

			rt, err := runtime.New(ctx, cfg, []effector.Effector{effector.NewCache()}, nil, nil)
			if err != nil {
				if logger != nil {
					logger.Error(ctx, "runtime construction failed", "error", err)
				}
				return fmt.Errorf("failed to construct runtime: %w", err)
			}
			defer rt.Shutdown(ctx) //nolint:errcheck

			err = trace.Run(rt.Events())
			if err != nil && logger != nil {
				logger.Error(ctx, "trace viewer failed", "error", err)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file whose runtime traffic to observe")

	return cmd
}
