package main

import (
	"github.com/spf13/cobra"

	"facedesk/core"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command of facedeskctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "facedeskctl",
		Short:         "Operator tool for facedesk",
		Long:          `facedeskctl runs database migrations, creates the initial admin and helps with credentials and tokens.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (defaults to $CONFIG_FILE)")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewBootstrapCmd())
	cmd.AddCommand(NewIssueTokenCmd())
	return cmd
}

func loadConfig() (core.Config, error) {
	if configFile != "" {
		return core.LoadFile(configFile)
	}
	return core.Load()
}
