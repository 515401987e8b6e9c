package main

import (
	"github.com/dkeye/meetclient/internal/config"
	"github.com/spf13/cobra"
)

var (
	settings = config.New()
	cfg      *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "meetclient",
	Short:        "Headless participant of a peer-to-peer video meeting",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(settings)
		if err != nil {
			return err
		}
		cfg = loaded
		config.ApplyLogLevel(cfg.LogLevel)
		config.Watch(settings)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config-env", "dev", "config profile, reads config/config.<env>.yaml")
	rootCmd.PersistentFlags().String("log-level", "info", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().String("media", "null", "local media source: devices, file or null")
	_ = settings.BindPFlag("config_env", rootCmd.PersistentFlags().Lookup("config-env"))
	_ = settings.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = settings.BindPFlag("media.source", rootCmd.PersistentFlags().Lookup("media"))
}
