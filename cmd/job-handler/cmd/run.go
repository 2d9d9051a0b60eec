package cmd

import (
	"github.com/spf13/cobra"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/jobhandler"
)

const subjectSuffixFlag = "subject-suffix"

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the job handler",
		RunE:  runJobHandler,
	}
	cmd.Flags().String(subjectSuffixFlag, "events", "Consume job lifecycle events published on jobs.<id>.<suffix>; the suffix must start with \"events\"")
	return cmd
}

func runJobHandler(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	// The flag wins over configuration files when given explicitly.
	if cmd.Flags().Changed(subjectSuffixFlag) {
		config.SubjectSuffix, err = cmd.Flags().GetString(subjectSuffixFlag)
		if err != nil {
			return err
		}
		if err := commonconfig.Validate(config); err != nil {
			commonconfig.LogValidationErrors(err)
			return err
		}
	}
	return jobhandler.Run(config)
}
