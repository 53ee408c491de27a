package cmd

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktracker/config"
)

var (
	// cfgFile is the optional YAML configuration file.
	cfgFile string
	// cfg is loaded before any subcommand runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:          "tasktracker",
	Short:        "Team task tracker API and maintenance commands",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env file is fine; existing variables are never overridden
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load(viper.GetViper(), cfgFile)
		return err
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML); environment variables take precedence")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag(config.KeyDebug, rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd, sweepCmd, initStorageCmd, tokenCmd)
}

func newLogger() *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	return logger
}
