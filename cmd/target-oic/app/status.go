package app

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/report"
	"github.com/stacklok/oic-target/internal/status"
)

func newStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run against each OIC instance",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().String("config", "", "Configuration file whose state_dir is read")
	statusCmd.Flags().String("state-dir", "", "Directory holding run status (overrides --config)")
	statusCmd.Flags().String("format", string(report.FormatAuto), "Output format (auto, table, json)")
	return statusCmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	dir, err := stateDir(cmd)
	if err != nil {
		return err
	}
	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}

	all, err := status.NewFileStatusPersistence(dir).LoadAllStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load run status: %w", err)
	}
	if len(all) == 0 {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded in %s\n", dir)
		return err
	}

	instances := make([]string, 0, len(all))
	for instance := range all {
		instances = append(instances, instance)
	}
	slices.Sort(instances)
	for _, instance := range instances {
		if err := report.Write(cmd.OutOrStdout(), all[instance], format); err != nil {
			return err
		}
	}
	return nil
}

func stateDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("state-dir"); dir != "" {
		return dir, nil
	}
	cfg := &config.Config{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return "", err
		}
		cfg = loaded
	}
	return cfg.GetStateDir(), nil
}
