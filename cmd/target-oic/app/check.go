package app

import (
	"fmt"

	"github.com/spf13/cobra"

	targetapp "github.com/stacklok/oic-target/internal/app"
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the configuration and OAuth2 credentials",
		Long: `Load the configuration and obtain an access token from the configured token
endpoint. No OIC resource is read or written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target, err := targetapp.NewTargetApp(cmd.Context(), targetapp.WithConfig(cfg))
			if err != nil {
				return fmt.Errorf("failed to create target: %w", err)
			}
			if err := target.Check(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Credentials for %s are valid\n", target.Instance())
			return err
		},
	}
	checkCmd.Flags().String("config", "", "Path to the configuration file (JSON or YAML, required)")
	_ = checkCmd.MarkFlagRequired("config")
	return checkCmd
}
