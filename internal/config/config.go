// Package config provides configuration loading and management for the OIC target.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"github.com/tailscale/hujson"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/oic-target/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables overriding file settings,
// e.g. TARGET_ORACLE_OIC_OAUTH_CLIENT_SECRET.
const EnvPrefix = "TARGET_ORACLE_OIC"

// KeyringService is the OS keyring service under which client secrets are
// stored, keyed by client id
const KeyringService = "target-oic"

// ImportMode controls how an existence check result maps to a remote operation.
type ImportMode string

const (
	// ImportModeCreateOnly creates absent entities and skips existing ones
	ImportModeCreateOnly ImportMode = "create_only"

	// ImportModeUpdateOnly updates existing entities and skips absent ones
	ImportModeUpdateOnly ImportMode = "update_only"

	// ImportModeCreateOrUpdate creates absent entities and updates existing ones
	ImportModeCreateOrUpdate ImportMode = "create_or_update"

	// ImportModeReplace is create_or_update, but archive-bearing entities are
	// re-imported in full instead of receiving a descriptive update
	ImportModeReplace ImportMode = "replace"
)

const (
	// DefaultBatchSize is the batch size for JSON-only streams
	DefaultBatchSize = 100

	// DefaultArchiveBatchSize is the batch size for archive-bearing streams
	DefaultArchiveBatchSize = 25

	// DefaultMaxErrors is the number of failed records that fails a batch
	DefaultMaxErrors = 10

	// DefaultMaxRetries is the retry budget of a single request
	DefaultMaxRetries = 3

	// DefaultRequestTimeout is the per-request timeout in seconds
	DefaultRequestTimeout = 30

	// DefaultTokenExpiryBuffer is the token renewal margin in seconds
	DefaultTokenExpiryBuffer = 300

	// DefaultTokenLifetime is assumed when the token endpoint reports no lifetime
	DefaultTokenLifetime = 3600

	// DefaultMaxWorkers bounds the number of batches executing concurrently
	DefaultMaxWorkers = 4

	// DefaultMaxConnections bounds the connections held against the OIC host
	DefaultMaxConnections = 10

	// DefaultMaxErrorMessages bounds the errors kept in the run summary
	DefaultMaxErrorMessages = 20

	// DefaultOAuthScope is used when no audience is configured
	DefaultOAuthScope = "urn:opc:resource:consumer::all"

	// DefaultRetryBaseDelay is the first backoff interval
	DefaultRetryBaseDelay = time.Second

	// DefaultRetryMaxDelay caps the backoff interval
	DefaultRetryMaxDelay = 30 * time.Second

	// DefaultRetryMultiplier is the exponential backoff factor
	DefaultRetryMultiplier = 2.0
)

// archiveStreams carry binary archives and get smaller default batches.
var archiveStreams = map[string]bool{
	"integrations": true,
	"packages":     true,
	"libraries":    true,
	"certificates": true,
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path           string
	envEnabled     bool
	keyringEnabled bool
}

// WithConfigPath loads configuration from a YAML or JSON file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithoutEnvOverrides disables TARGET_ORACLE_OIC_* environment overrides
func WithoutEnvOverrides() Option {
	return func(cfg *loaderConfig) error {
		cfg.envEnabled = false
		return nil
	}
}

// WithoutKeyring disables the OS keyring lookup of a missing client secret
func WithoutKeyring() Option {
	return func(cfg *loaderConfig) error {
		cfg.keyringEnabled = false
		return nil
	}
}

// Config represents the target configuration. Keys follow the Singer
// convention of snake_case names.
type Config struct {
	BaseURL           string `yaml:"base_url"`
	OAuthClientID     string `yaml:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret"`
	OAuthTokenURL     string `yaml:"oauth_token_url"`

	// OAuthClientAud is the IDCS audience; when set the scope is derived from it
	OAuthClientAud string `yaml:"oauth_client_aud,omitempty"`

	// OAuthScope is used verbatim when no audience is configured
	OAuthScope string `yaml:"oauth_scope,omitempty"`

	// TokenExpiryBuffer is the renewal margin in seconds
	TokenExpiryBuffer int `yaml:"token_expiry_buffer,omitempty"`

	// TokenDefaultLifetime in seconds, used when neither expires_in nor a JWT exp is present
	TokenDefaultLifetime int `yaml:"token_default_lifetime,omitempty"`

	ImportMode           ImportMode `yaml:"import_mode,omitempty"`
	ActivateIntegrations bool       `yaml:"activate_integrations,omitempty"`

	BatchSize int `yaml:"batch_size,omitempty"`

	// StreamBatchSizes overrides BatchSize per stream
	StreamBatchSizes map[string]int `yaml:"stream_batch_sizes,omitempty"`

	// MaxErrors is the number of failed records that fails a batch; 0 disables it
	MaxErrors *int `yaml:"max_errors,omitempty"`

	StopOnError                bool  `yaml:"stop_on_error,omitempty"`
	IgnoreTransformationErrors *bool `yaml:"ignore_transformation_errors,omitempty"`
	DryRunMode                 bool  `yaml:"dry_run_mode,omitempty"`

	MaxRetries      *int    `yaml:"max_retries,omitempty"`
	RetryBaseDelay  string  `yaml:"retry_base_delay,omitempty"`
	RetryMaxDelay   string  `yaml:"retry_max_delay,omitempty"`
	RetryMultiplier float64 `yaml:"retry_multiplier,omitempty"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `yaml:"request_timeout,omitempty"`

	MaxWorkers     int `yaml:"max_workers,omitempty"`
	MaxConnections int `yaml:"max_connections,omitempty"`

	// IdentifierFields maps a stream to the gjson path of its identity field
	IdentifierFields map[string]string `yaml:"identifier_fields,omitempty"`

	MaxErrorMessages int `yaml:"max_error_messages,omitempty"`

	// StateDir holds the run status file and lock
	StateDir string `yaml:"state_dir,omitempty"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// LoadConfig loads and validates the configuration
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{envEnabled: true, keyringEnabled: true}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if loaderCfg.envEnabled {
		applyEnvOverrides(config)
	}
	if loaderCfg.keyringEnabled {
		applyKeyringSecret(config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Parse decodes a YAML or JSON document. JSON may contain comments and
// trailing commas. Parse does not validate.
func Parse(data []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		std, err := hujson.Standardize(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		data = std
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// applyEnvOverrides lets deployments inject secrets without writing them to disk
func applyEnvOverrides(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	strs := map[string]*string{
		"base_url":            &c.BaseURL,
		"oauth_client_id":     &c.OAuthClientID,
		"oauth_client_secret": &c.OAuthClientSecret,
		"oauth_token_url":     &c.OAuthTokenURL,
		"oauth_client_aud":    &c.OAuthClientAud,
		"oauth_scope":         &c.OAuthScope,
		"state_dir":           &c.StateDir,
	}
	for key, dst := range strs {
		_ = v.BindEnv(key)
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	_ = v.BindEnv("import_mode")
	if v.IsSet("import_mode") {
		c.ImportMode = ImportMode(v.GetString("import_mode"))
	}

	_ = v.BindEnv("dry_run_mode")
	if v.IsSet("dry_run_mode") {
		c.DryRunMode = v.GetBool("dry_run_mode")
	}
}

// applyKeyringSecret fills a missing client secret from the OS keyring
func applyKeyringSecret(c *Config) {
	if c.OAuthClientSecret != "" || c.OAuthClientID == "" {
		return
	}
	secret, err := keyring.Get(KeyringService, c.OAuthClientID)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("OS keyring unavailable", "error", err)
		}
		return
	}
	c.OAuthClientSecret = secret
}

// StoreSecret saves a client secret in the OS keyring
func StoreSecret(clientID, secret string) error {
	if clientID == "" || secret == "" {
		return fmt.Errorf("client id and secret are required")
	}
	if err := keyring.Set(KeyringService, clientID, secret); err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return nil
}

// DeleteSecret removes a client secret from the OS keyring
func DeleteSecret(clientID string) error {
	if err := keyring.Delete(KeyringService, clientID); err != nil {
		return fmt.Errorf("failed to delete secret from keyring: %w", err)
	}
	return nil
}

// Validate checks required settings and value ranges
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL: %s", c.BaseURL)
	}

	if c.OAuthClientID == "" {
		return fmt.Errorf("oauth_client_id is required")
	}
	if c.OAuthClientSecret == "" {
		return fmt.Errorf("oauth_client_secret is required")
	}
	if c.OAuthTokenURL == "" {
		return fmt.Errorf("oauth_token_url is required")
	}
	if _, err := url.ParseRequestURI(c.OAuthTokenURL); err != nil {
		return fmt.Errorf("oauth_token_url is invalid: %w", err)
	}

	switch c.ImportMode {
	case "", ImportModeCreateOnly, ImportModeUpdateOnly, ImportModeCreateOrUpdate, ImportModeReplace:
	default:
		return fmt.Errorf("import_mode must be one of create_only, update_only, create_or_update, replace: got %q",
			c.ImportMode)
	}

	if err := validateNonNegative(map[string]int{
		"batch_size":             c.BatchSize,
		"request_timeout":        c.RequestTimeout,
		"max_workers":            c.MaxWorkers,
		"max_connections":        c.MaxConnections,
		"max_error_messages":     c.MaxErrorMessages,
		"token_expiry_buffer":    c.TokenExpiryBuffer,
		"token_default_lifetime": c.TokenDefaultLifetime,
	}); err != nil {
		return err
	}
	if c.MaxErrors != nil && *c.MaxErrors < 0 {
		return fmt.Errorf("max_errors must be non-negative")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.RetryMultiplier != 0 && c.RetryMultiplier < 1 {
		return fmt.Errorf("retry_multiplier must be at least 1")
	}

	for stream, size := range c.StreamBatchSizes {
		if size <= 0 {
			return fmt.Errorf("stream_batch_sizes[%s] must be positive", stream)
		}
	}
	for stream, path := range c.IdentifierFields {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("identifier_fields[%s] must not be empty", stream)
		}
	}

	if _, err := parseDuration("retry_base_delay", c.RetryBaseDelay); err != nil {
		return err
	}
	if _, err := parseDuration("retry_max_delay", c.RetryMaxDelay); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateNonNegative(values map[string]int) error {
	for name, v := range values {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// GetImportMode returns the import mode, defaulting to create_or_update
func (c *Config) GetImportMode() ImportMode {
	if c.ImportMode == "" {
		return ImportModeCreateOrUpdate
	}
	return c.ImportMode
}

// GetBatchSize returns the batch size for a stream. Explicit per-stream sizes
// win, then archive-bearing streams use the smaller archive default unless a
// global batch_size below it is configured.
func (c *Config) GetBatchSize(stream string) int {
	if size, ok := c.StreamBatchSizes[stream]; ok && size > 0 {
		return size
	}
	size := c.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if archiveStreams[stream] && size > DefaultArchiveBatchSize {
		return DefaultArchiveBatchSize
	}
	return size
}

// GetMaxErrors returns the batch failure threshold; 0 means unlimited
func (c *Config) GetMaxErrors() int {
	if c.MaxErrors == nil {
		return DefaultMaxErrors
	}
	return *c.MaxErrors
}

// GetMaxRetries returns the per-request retry budget
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// GetRetryBaseDelay returns the first backoff interval
func (c *Config) GetRetryBaseDelay() time.Duration {
	d, err := parseDuration("retry_base_delay", c.RetryBaseDelay)
	if err != nil || d == 0 {
		return DefaultRetryBaseDelay
	}
	return d
}

// GetRetryMaxDelay returns the backoff cap
func (c *Config) GetRetryMaxDelay() time.Duration {
	d, err := parseDuration("retry_max_delay", c.RetryMaxDelay)
	if err != nil || d == 0 {
		return DefaultRetryMaxDelay
	}
	return d
}

// GetRetryMultiplier returns the exponential backoff factor
func (c *Config) GetRetryMultiplier() float64 {
	if c.RetryMultiplier == 0 {
		return DefaultRetryMultiplier
	}
	return c.RetryMultiplier
}

// GetRequestTimeout returns the per-request timeout
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return DefaultRequestTimeout * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetTokenExpiryBuffer returns the token renewal margin
func (c *Config) GetTokenExpiryBuffer() time.Duration {
	if c.TokenExpiryBuffer == 0 {
		return DefaultTokenExpiryBuffer * time.Second
	}
	return time.Duration(c.TokenExpiryBuffer) * time.Second
}

// GetTokenDefaultLifetime returns the assumed token lifetime
func (c *Config) GetTokenDefaultLifetime() time.Duration {
	if c.TokenDefaultLifetime == 0 {
		return DefaultTokenLifetime * time.Second
	}
	return time.Duration(c.TokenDefaultLifetime) * time.Second
}

// GetMaxWorkers returns the worker pool size
func (c *Config) GetMaxWorkers() int {
	if c.MaxWorkers == 0 {
		return DefaultMaxWorkers
	}
	return c.MaxWorkers
}

// GetMaxConnections returns the connection pool size
func (c *Config) GetMaxConnections() int {
	if c.MaxConnections == 0 {
		return DefaultMaxConnections
	}
	return c.MaxConnections
}

// GetMaxErrorMessages returns how many error messages the summary keeps
func (c *Config) GetMaxErrorMessages() int {
	if c.MaxErrorMessages == 0 {
		return DefaultMaxErrorMessages
	}
	return c.MaxErrorMessages
}

// GetIgnoreTransformationErrors reports whether payload build failures stay record-scoped
func (c *Config) GetIgnoreTransformationErrors() bool {
	if c.IgnoreTransformationErrors == nil {
		return true
	}
	return *c.IgnoreTransformationErrors
}

// GetOAuthScope returns the scope requested from the token endpoint
func (c *Config) GetOAuthScope() string {
	if c.OAuthClientAud != "" {
		aud := strings.TrimRight(c.OAuthClientAud, "/")
		return aud + ":443urn:opc:resource:consumer:all " + aud + ":443/ic/api/"
	}
	if c.OAuthScope != "" {
		return c.OAuthScope
	}
	return DefaultOAuthScope
}

// GetStateDir returns the directory holding the run status file
func (c *Config) GetStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(xdg.StateHome, "target-oic")
}

// IsArchiveStream reports whether a stream carries binary archives
func IsArchiveStream(stream string) bool {
	return archiveStreams[stream]
}
