package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
}

func newRootCmd(app *AppContext) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "zerver",
		Short:         "Zerver runs a cooperative step/effect HTTP runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newServeCmd(flags, app))
	cmd.AddCommand(newTraceCmd(app))
	cmd.AddCommand(newValidateConfigCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
