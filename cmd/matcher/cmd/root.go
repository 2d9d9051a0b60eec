package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prominence-eu/prominence/internal/common"
	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/matcher"
)

const (
	CustomConfigLocation string = "config"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "matcher",
		SilenceUsage: true,
		Short:        "Assigns pending jobs to ready workers",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	if err := viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation)); err != nil {
		panic(err)
	}

	cmd.AddCommand(runCmd())

	return cmd
}

func loadConfig() (matcher.Configuration, error) {
	var config matcher.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if _, err := common.LoadConfig(&config, "./config/matcher", userSpecifiedConfigs); err != nil {
		return config, err
	}

	err := commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
