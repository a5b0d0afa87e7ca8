package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "driverhelper",
		Short:         "Offline-first driver companion with background sync",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newProfileCommand(),
		newMoneyCommand("income", "Record earnings", false),
		newMoneyCommand("expense", "Record expenses", true),
		newNoteCommand(),
		newHealthCommand(),
		newPostCommand(),
		newReminderCommand(),
		newSOSCommand(),
		newStatusCommand(),
		newQueueCommand(),
		newSyncCommand(),
		newDaemonCommand(),
		newServeCommand(),
		newTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "Device SQLite database path")
	cmd.PersistentFlags().String("sync-endpoint", defaults.GetString("sync.endpoint"), "Remote sync endpoint")
	cmd.PersistentFlags().String("sync-api-key", "", "Bearer credential for the sync endpoint (overrides env)")
	cmd.PersistentFlags().Bool("strict-ack", false, "Treat a sync response without syncedIds as a failure")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Write JSON logs to a rotated file instead of stderr")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "sync.endpoint", "sync-endpoint")
	bindFlag(cmd, "sync.api_key", "sync-api-key")
	bindFlag(cmd, "sync.strict_ack", "strict-ack")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("driverhelper")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
