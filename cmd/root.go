package cmd

import (
	"github.com/spf13/cobra"

	"recording-pipeline/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(worker(config))
	return rootCmd
}
