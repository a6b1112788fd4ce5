package main

import (
	"github.com/spf13/cobra"

	"github.com/msomdec/daily-report/internal/config"
)

// configFile is the optional YAML config path shared by all subcommands.
var configFile string

// NewRootCmd creates the root command for the daily-report CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "daily-report",
		Short:        "Daily report tracking backend",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
