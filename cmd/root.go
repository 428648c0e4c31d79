package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schacon/git-glance/cmd/check"
	"github.com/schacon/git-glance/cmd/generate"
)

var (
	configFile string

	RootCmd = &cobra.Command{
		Use:          "git-glance",
		Short:        "git-glance writes a changelog from your commits, their pull requests and an AI summary",
		SilenceUsage: true,
	}
)

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./.gitglance.yaml)")
	RootCmd.PersistentFlags().String("repo", ".", "Path to the git repository")
	RootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	RootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file holding API keys")

	_ = viper.BindPFlag("repo.path", RootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("logging.level", RootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("env_file", RootCmd.PersistentFlags().Lookup("env-file"))

	RootCmd.AddCommand(generate.GenerateCmd)
	RootCmd.AddCommand(check.CheckCmd)
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".gitglance")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "❌ Could not read config: %v\n", err)
			os.Exit(1)
		}
	}
}
