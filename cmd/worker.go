package cmd

import (
	"github.com/spf13/cobra"

	"recording-pipeline/config"
	server2 "recording-pipeline/server"
)

func worker(config *config.Config) *cobra.Command {
	var name string
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "start one pipeline stage worker",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunWorker(config, name)
		},
	}
	workerCmd.Flags().StringVar(&name, "name", "", "worker name (stitch, transcode, publish)")
	_ = workerCmd.MarkFlagRequired("name")
	return workerCmd
}
