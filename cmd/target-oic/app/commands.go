// Package app provides the command line of the OIC Singer target.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/oic-target/internal/versions"
)

// NewRootCmd creates the root command. Invoked without a subcommand it runs
// the target, reading Singer messages from --input or stdin.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "target-oic",
		DisableAutoGenTag: true,
		Short:             "Singer target for Oracle Integration Cloud",
		Long: `target-oic reads Singer messages and creates, updates or acts on Oracle Integration
Cloud resources: integrations, connections, lookups, packages, projects, libraries,
certificates, business events, schedules and monitoring configuration.

STATE messages are echoed to stdout once every record before them has been
processed. Logs and the run summary go to stderr.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
	addRunFlags(rootCmd)

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newKeyringCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			slog.Info("target-oic version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
			return nil
		},
	}
	versionCmd.Flags().String("format", "", "Output format (json)")
	return versionCmd
}
