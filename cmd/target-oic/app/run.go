package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	targetapp "github.com/stacklok/oic-target/internal/app"
	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/report"
	"github.com/stacklok/oic-target/internal/telemetry"
)

const telemetryShutdownTimeout = 10 * time.Second

// errRunFailed is returned after the summary of a failed run was printed
var errRunFailed = errors.New("run failed")

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to the configuration file (JSON or YAML, required)")
	cmd.Flags().String("input", "-", "File with Singer messages, - for stdin")
	cmd.Flags().Bool("dry-run", false, "Check existence but send no mutating request")
	cmd.Flags().String("summary-format", string(report.FormatAuto), "Run summary format on stderr (auto, table, json)")

	if err := cmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

// loadConfig reads --config, honouring TARGET_ORACLE_OIC_* overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", path, "base_url", cfg.BaseURL, "import_mode", cfg.GetImportMode())
	return cfg, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.DryRunMode = true
	}
	formatName, _ := cmd.Flags().GetString("summary-format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}

	in, closeInput, err := openInput(cmd)
	if err != nil {
		return err
	}
	defer closeInput()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	target, err := targetapp.NewTargetApp(ctx,
		targetapp.WithConfig(cfg),
		targetapp.WithStateOutput(cmd.OutOrStdout()),
		targetapp.WithTracerProvider(tel.TracerProvider()),
		targetapp.WithMeterProvider(tel.MeterProvider()),
	)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	res, runErr := target.Run(ctx, in)
	if res == nil {
		return runErr
	}
	if err := report.Write(cmd.ErrOrStderr(), res.Status(target.Instance()), format); err != nil {
		slog.Error("Failed to write run summary", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if res.ExitCode() != 0 {
		return errRunFailed
	}
	return nil
}

func openInput(cmd *cobra.Command) (io.Reader, func(), error) {
	path, _ := cmd.Flags().GetString("input")
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
