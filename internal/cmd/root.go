// Package cmd implements the callcenter command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxorio/callcenter/internal/settings"
	"github.com/fluxorio/callcenter/pkg/core"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "callcenter",
	Short: "Call center task engine with live reconfiguration",
	Long: `callcenter accepts incoming calls over HTTP, queues them in a bounded
queue and lets a pool of operators answer them. The number of operators,
the queue size and the call duration bounds are reloaded from the engine
configuration file while the server keeps running.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initSettings)

	rootCmd.PersistentFlags().StringP("settings", "s", "", "settings file (default is ./settings.yaml or $HOME/.config/callcenter/settings.yaml)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "log level: DEBUG, INFO, WARN or ERROR")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	_ = viper.BindPFlag("settings", rootCmd.PersistentFlags().Lookup("settings"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initSettings() {
	settings.Init(viper.GetString("settings"))
}

func newLogger(s *settings.Settings) core.Logger {
	return core.NewLogger(core.LoggerConfig{Level: s.Log.Level, Format: s.Log.Format})
}
