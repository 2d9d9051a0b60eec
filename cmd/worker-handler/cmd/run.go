package cmd

import (
	"github.com/spf13/cobra"

	"github.com/prominence-eu/prominence/internal/workerhandler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the worker handler",
		RunE:  runWorkerHandler,
	}
	return cmd
}

func runWorkerHandler(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return workerhandler.Run(config)
}
