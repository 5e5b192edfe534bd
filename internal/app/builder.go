package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/auth"
	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/httpclient"
	"github.com/stacklok/oic-target/internal/status"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
	"github.com/stacklok/oic-target/internal/sync/coordinator"
	"github.com/stacklok/oic-target/internal/sync/orchestrator"
	"github.com/stacklok/oic-target/internal/telemetry"
	"github.com/stacklok/oic-target/internal/versions"
)

// tracerName is the instrumentation scope of sync spans
const tracerName = "github.com/stacklok/oic-target/sync"

// TargetAppOptions is a function that configures the target app builder
type TargetAppOptions func(*targetAppConfig) error

// targetAppConfig collects the options of NewTargetApp. It supports
// dependency injection for testing while providing defaults for production.
type targetAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	authenticator     auth.Authenticator
	httpClient        *http.Client
	dispatcher        pkgsync.Dispatcher
	statusPersistence status.StatusPersistence

	// stateOutput receives STATE values, stdout by default
	stateOutput io.Writer

	// Telemetry components
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func baseConfig(opts ...TargetAppOptions) (*targetAppConfig, error) {
	cfg := &targetAppConfig{
		stateOutput: os.Stdout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return cfg, nil
}

// NewTargetApp wires the components of one run
func NewTargetApp(ctx context.Context, opts ...TargetAppOptions) (*TargetApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	metrics, err := telemetry.NewSyncMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	instance, err := instanceName(cfg.config.BaseURL)
	if err != nil {
		return nil, err
	}

	authenticator, client, err := buildClientComponents(ctx, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build client components: %w", err)
	}

	components, err := buildSyncComponents(ctx, cfg, client, metrics, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}
	components.Authenticator = authenticator
	components.Client = client

	return &TargetApp{
		config:     cfg.config,
		instance:   instance,
		components: components,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAuthenticator allows injecting a custom authenticator (for testing)
func WithAuthenticator(a auth.Authenticator) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.authenticator = a
		return nil
	}
}

// WithHTTPClient replaces the HTTP client shared by the token and API requests
func WithHTTPClient(c *http.Client) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithDispatcher allows injecting a custom dispatcher (for testing)
func WithDispatcher(d pkgsync.Dispatcher) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.dispatcher = d
		return nil
	}
}

// WithStatusPersistence allows injecting a custom status store (for testing)
func WithStatusPersistence(p status.StatusPersistence) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.statusPersistence = p
		return nil
	}
}

// WithStateOutput sets where STATE values are written
func WithStateOutput(w io.Writer) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		if w == nil {
			return fmt.Errorf("state output cannot be nil")
		}
		cfg.stateOutput = w
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for sync and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync metrics
func WithMeterProvider(mp metric.MeterProvider) TargetAppOptions {
	return func(cfg *targetAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// instanceName keys run status by the OIC host
func instanceName(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("base_url has no host: %s", baseURL)
	}
	return u.Hostname(), nil
}

// buildClientComponents builds the authenticator and the REST client. Both
// share one connection pool bounded by max_connections.
func buildClientComponents(
	_ context.Context,
	b *targetAppConfig,
	metrics *telemetry.SyncMetrics,
) (auth.Authenticator, httpclient.Client, error) {
	slog.Info("Initializing client components")
	cfg := b.config

	if b.httpClient == nil {
		b.httpClient = &http.Client{
			Transport: telemetry.WrapTransport(httpclient.NewTransport(cfg.GetMaxConnections()), b.tracerProvider),
			Timeout:   cfg.GetRequestTimeout(),
		}
	}

	if b.authenticator == nil {
		b.authenticator = auth.NewClientCredentials(
			auth.Credentials{
				ClientID:     cfg.OAuthClientID,
				ClientSecret: cfg.OAuthClientSecret,
				TokenURL:     cfg.OAuthTokenURL,
				Scope:        cfg.GetOAuthScope(),
			},
			auth.WithHTTPClient(b.httpClient),
			auth.WithTimeout(cfg.GetRequestTimeout()),
			auth.WithExpiryBuffer(cfg.GetTokenExpiryBuffer()),
			auth.WithDefaultLifetime(cfg.GetTokenDefaultLifetime()),
			auth.WithMetrics(metrics),
		)
	}

	client, err := httpclient.NewDefaultClient(cfg.BaseURL, b.authenticator,
		httpclient.WithHTTPClient(b.httpClient),
		httpclient.WithUserAgent(versions.UserAgent()),
		httpclient.WithMetrics(metrics),
		httpclient.WithRetryPolicy(httpclient.RetryPolicy{
			MaxRetries: cfg.GetMaxRetries(),
			BaseDelay:  cfg.GetRetryBaseDelay(),
			MaxDelay:   cfg.GetRetryMaxDelay(),
			Multiplier: cfg.GetRetryMultiplier(),
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OIC client: %w", err)
	}

	slog.Info("Client components initialized successfully",
		"base_url", cfg.BaseURL,
		"max_connections", cfg.GetMaxConnections(),
		"max_retries", cfg.GetMaxRetries())
	return b.authenticator, client, nil
}

// buildSyncComponents builds the dispatcher, coordinator and orchestrator
func buildSyncComponents(
	_ context.Context,
	b *targetAppConfig,
	client httpclient.Client,
	metrics *telemetry.SyncMetrics,
	instance string,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")
	cfg := b.config

	var tracer trace.Tracer
	if b.tracerProvider != nil {
		tracer = b.tracerProvider.Tracer(tracerName)
	}

	registry := entity.NewRegistry(entity.Options{
		ActivateIntegrations: cfg.ActivateIntegrations,
		IdentifierFields:     cfg.IdentifierFields,
	})

	if b.dispatcher == nil {
		b.dispatcher = pkgsync.NewDispatcher(registry, client,
			pkgsync.WithImportMode(cfg.GetImportMode()),
			pkgsync.WithDryRun(cfg.DryRunMode),
			pkgsync.WithIgnoreTransformationErrors(cfg.GetIgnoreTransformationErrors()),
			pkgsync.WithTracer(tracer),
			pkgsync.WithDispatchMetrics(metrics),
		)
	}

	coordOpts := append(coordinator.FromConfig(cfg),
		coordinator.WithIdentifier(registry.EntityID),
		coordinator.WithTracer(tracer),
		coordinator.WithSyncMetrics(metrics),
	)
	syncCoordinator := coordinator.New(b.dispatcher, coordOpts...)

	if b.statusPersistence == nil {
		b.statusPersistence = status.NewFileStatusPersistence(cfg.GetStateDir())
	}

	orchOpts := append(orchestrator.FromConfig(cfg),
		orchestrator.WithStateOutput(b.stateOutput),
		orchestrator.WithStatusPersistence(b.statusPersistence, instance),
		orchestrator.WithTracer(tracer),
	)
	runner := orchestrator.New(syncCoordinator, orchOpts...)

	slog.Info("Sync components initialized successfully",
		"streams", registry.Streams(),
		"import_mode", cfg.GetImportMode(),
		"dry_run", cfg.DryRunMode,
		"max_workers", cfg.GetMaxWorkers())

	return &AppComponents{
		Registry:          registry,
		Dispatcher:        b.dispatcher,
		Coordinator:       syncCoordinator,
		Orchestrator:      runner,
		StatusPersistence: b.statusPersistence,
	}, nil
}
