package cmd

import (
	"github.com/spf13/cobra"

	"github.com/prominence-eu/prominence/internal/heartbeat"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the heartbeat reaper",
		RunE:  runHeartbeat,
	}
	return cmd
}

func runHeartbeat(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return heartbeat.Run(config)
}
