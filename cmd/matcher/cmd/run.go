package cmd

import (
	"github.com/spf13/cobra"

	"github.com/prominence-eu/prominence/internal/matcher"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the matcher",
		RunE:  runMatcher,
	}
	return cmd
}

func runMatcher(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return matcher.Run(config)
}
