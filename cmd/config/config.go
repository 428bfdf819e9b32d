// Package config prints and initializes configuration files.
package config

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/privacy"
)

// InitName is the subcommand that works without a readable config.
const InitName = "init"

const defaultInitPath = "config.yaml"

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Show(cmd.OutOrStdout(), settings)
		},
	}

	initCmd := &cobra.Command{
		Use:   InitName + " [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultInitPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(show, initCmd)
	return cmd
}

// Show writes settings as YAML with credentials removed.
func Show(w io.Writer, settings *conf.Settings) error {
	redacted := *settings
	if redacted.MQTT.Password != "" {
		redacted.MQTT.Password = privacy.Redacted
	}
	if redacted.Telemetry.DSN != "" {
		redacted.Telemetry.DSN = privacy.AnonymizeURL(redacted.Telemetry.DSN)
	}
	redacted.Notification.URLs = slices.Clone(settings.Notification.URLs)
	for i, u := range redacted.Notification.URLs {
		redacted.Notification.URLs[i] = privacy.AnonymizeURL(u)
	}

	if settings.ConfigFile != "" {
		fmt.Fprintf(w, "# loaded from %s\n", settings.ConfigFile)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}
	return enc.Close()
}
