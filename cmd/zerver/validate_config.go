package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerverhq/zerver/internal/config"
)

func newValidateConfigCmd(app *AppContext) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a runtime configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := app.CommandContext(cmd, "command.validate_config")

			if err := validateConfigPath(configPath); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				if logger != nil {
					logger.Error(ctx, "config validation failed", "error", err)
				}
				return err
			}

			if logger != nil {
				logger.Info(ctx, "config validated",
					"addr", cfg.Server.Addr,
					"compute_mode", string(cfg.Pools.ComputeMode),
				)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}
