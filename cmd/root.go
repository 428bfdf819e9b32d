// Package cmd assembles the turntable-relay command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/turntable-relay/cmd/config"
	"github.com/tphakala/turntable-relay/cmd/devices"
	"github.com/tphakala/turntable-relay/cmd/record"
	"github.com/tphakala/turntable-relay/cmd/serve"
	"github.com/tphakala/turntable-relay/internal/buildinfo"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// RootCommand creates and returns the root command. Without a subcommand it serves.
func RootCommand(info buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "turntable-relay",
		Short:        "Relay turntable audio from Bluetooth to HTTP listeners",
		Long:         "Capture PCM audio from a Bluetooth A2DP source and stream it as WAV to any number of HTTP clients.",
		Version:      info.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve.Run(cmd.Context(), settings, info)
		},
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	configCmd := config.Command(settings)
	rootCmd.AddCommand(
		serve.Command(settings, info),
		devices.Command(settings),
		record.Command(settings),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work even when the existing file is broken
		if cmd.Name() == config.InitName && cmd.Parent() == configCmd {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		// config subcommands write to stdout, keep it free of log lines
		if cmd.Parent() == configCmd {
			return nil
		}
		return initLogging(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/turntable-relay, /etc/turntable-relay)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Console log level (trace, debug, info, warn, error)")

	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("logging.console.level", flags.Lookup("log-level")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// initLogging installs the process-wide logger from settings.
func initLogging(settings *conf.Settings) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	log := central.Module("main")
	if settings.ConfigFile != "" {
		log.Info("configuration loaded", logger.String("file", settings.ConfigFile))
	} else {
		log.Debug("no config file found, using defaults and environment")
	}
	return nil
}
