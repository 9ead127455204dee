package main

import (
	"errors"
	"os"

	"github.com/db3-network/db3-go/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "db3ctl",
		Short:        "Submit signed mutations to a db3 storage node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newAccountCommand(),
		newDatabaseCommand(),
		newCollectionCommand(),
		newDocumentCommand(),
		newMutationCommand(),
		newStatusCommand(),
		newJournalCommand(),
		newDevnodeCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("node-url", defaults.GetString("node.url"), "Storage node base URL")
	cmd.PersistentFlags().String("private-key", "", "Hex Ed25519 private key (overrides env)")
	cmd.PersistentFlags().Int("timeout-seconds", defaults.GetInt("request.timeout_seconds"), "Per-command request timeout in seconds")
	cmd.PersistentFlags().String("journal-path", defaults.GetString("journal.path"), "SQLite submission journal path (empty disables journaling)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "node.url", "node-url")
	bindFlag(cmd, "account.private_key", "private-key")
	bindFlag(cmd, "request.timeout_seconds", "timeout-seconds")
	bindFlag(cmd, "journal.path", "journal-path")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
