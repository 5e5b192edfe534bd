package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	// never touch the keyring of the machine running the tests
	keyring.MockInit()
	os.Exit(m.Run())
}

const minimalYAML = `base_url: https://oic.example.com
oauth_client_id: client
oauth_client_secret: secret
oauth_token_url: https://idcs.example.com/oauth2/v1/token
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func intPtr(i int) *int {
	return &i
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		fileName   string
		content    string
		wantConfig *Config
		wantErr    string
	}{
		{
			name:     "minimal_yaml",
			fileName: "config.yaml",
			content:  minimalYAML,
			wantConfig: &Config{
				BaseURL:           "https://oic.example.com",
				OAuthClientID:     "client",
				OAuthClientSecret: "secret",
				OAuthTokenURL:     "https://idcs.example.com/oauth2/v1/token",
			},
		},
		{
			name:     "json_with_comments_and_trailing_commas",
			fileName: "config.json",
			content: `{
  // Singer config
  "base_url": "https://oic.example.com",
  "oauth_client_id": "client",
  "oauth_client_secret": "secret",
  "oauth_token_url": "https://idcs.example.com/oauth2/v1/token",
  "import_mode": "replace",
  "max_errors": 0,
  "stream_batch_sizes": {"integrations": 5,},
}`,
			wantConfig: &Config{
				BaseURL:           "https://oic.example.com",
				OAuthClientID:     "client",
				OAuthClientSecret: "secret",
				OAuthTokenURL:     "https://idcs.example.com/oauth2/v1/token",
				ImportMode:        ImportModeReplace,
				MaxErrors:         intPtr(0),
				StreamBatchSizes:  map[string]int{"integrations": 5},
			},
		},
		{
			name:     "missing_base_url",
			fileName: "config.yaml",
			content: `oauth_client_id: client
oauth_client_secret: secret
oauth_token_url: https://idcs.example.com/oauth2/v1/token`,
			wantErr: "base_url is required",
		},
		{
			name:     "relative_base_url",
			fileName: "config.yaml",
			content:  "base_url: oic.example.com\n" + minimalYAML[len("base_url: https://oic.example.com\n"):],
			wantErr:  "base_url must be an absolute URL",
		},
		{
			name:     "missing_secret",
			fileName: "config.yaml",
			content: `base_url: https://oic.example.com
oauth_client_id: client
oauth_token_url: https://idcs.example.com/oauth2/v1/token`,
			wantErr: "oauth_client_secret is required",
		},
		{
			name:     "unknown_import_mode",
			fileName: "config.yaml",
			content:  minimalYAML + "import_mode: upsert\n",
			wantErr:  "import_mode must be one of",
		},
		{
			name:     "negative_batch_size",
			fileName: "config.yaml",
			content:  minimalYAML + "batch_size: -1\n",
			wantErr:  "batch_size must be non-negative",
		},
		{
			name:     "zero_stream_batch_size",
			fileName: "config.yaml",
			content:  minimalYAML + "stream_batch_sizes:\n  lookups: 0\n",
			wantErr:  "stream_batch_sizes[lookups] must be positive",
		},
		{
			name:     "invalid_retry_delay",
			fileName: "config.yaml",
			content:  minimalYAML + "retry_base_delay: soon\n",
			wantErr:  "retry_base_delay: invalid duration",
		},
		{
			name:     "retry_multiplier_below_one",
			fileName: "config.yaml",
			content:  minimalYAML + "retry_multiplier: 0.5\n",
			wantErr:  "retry_multiplier must be at least 1",
		},
		{
			name:     "invalid_telemetry_sampling",
			fileName: "config.yaml",
			content:  minimalYAML + "telemetry:\n  enabled: true\n  tracing:\n    enabled: true\n    sampling: 2\n",
			wantErr:  "telemetry:",
		},
		{
			name:     "invalid_yaml",
			fileName: "config.yaml",
			content:  "base_url: [unterminated",
			wantErr:  "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, tt.fileName, tt.content)

			cfg, err := LoadConfig(WithConfigPath(path), WithoutEnvOverrides())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, cfg)
		})
	}
}

func TestLoadConfig_PathErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	assert.EqualError(t, err, "path is required")

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)

	_, err = LoadConfig(WithConfigPath(""))
	assert.EqualError(t, err, "path is required")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `base_url: https://oic.example.com
oauth_client_id: client
oauth_token_url: https://idcs.example.com/oauth2/v1/token
`)
	t.Setenv("TARGET_ORACLE_OIC_OAUTH_CLIENT_SECRET", "from-env")
	t.Setenv("TARGET_ORACLE_OIC_IMPORT_MODE", "create_only")
	t.Setenv("TARGET_ORACLE_OIC_DRY_RUN_MODE", "true")

	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OAuthClientSecret)
	assert.Equal(t, ImportModeCreateOnly, cfg.GetImportMode())
	assert.True(t, cfg.DryRunMode)

	_, err = LoadConfig(WithConfigPath(path), WithoutEnvOverrides())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oauth_client_secret is required")
}

// the mock keyring is not safe for concurrent use, so this test is not parallel
func TestLoadConfig_KeyringSecret(t *testing.T) {
	const clientID = "keyring-client"
	path := writeFile(t, "config.yaml", `base_url: https://oic.example.com
oauth_client_id: `+clientID+`
oauth_token_url: https://idcs.example.com/oauth2/v1/token
`)

	_, err := LoadConfig(WithConfigPath(path), WithoutEnvOverrides())
	require.Error(t, err, "no secret anywhere")

	require.NoError(t, StoreSecret(clientID, "from-keyring"))
	t.Cleanup(func() { _ = DeleteSecret(clientID) })

	cfg, err := LoadConfig(WithConfigPath(path), WithoutEnvOverrides())
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", cfg.OAuthClientSecret)

	_, err = LoadConfig(WithConfigPath(path), WithoutEnvOverrides(), WithoutKeyring())
	assert.Error(t, err)

	assert.Error(t, StoreSecret("", "secret"))
}

func TestGetBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config Config
		stream string
		want   int
	}{
		{name: "default", stream: "lookups", want: DefaultBatchSize},
		{name: "archive default", stream: "integrations", want: DefaultArchiveBatchSize},
		{name: "global", config: Config{BatchSize: 40}, stream: "lookups", want: 40},
		{name: "global below archive default", config: Config{BatchSize: 10}, stream: "packages", want: 10},
		{name: "global above archive default", config: Config{BatchSize: 500}, stream: "libraries", want: DefaultArchiveBatchSize},
		{
			name:   "per stream wins",
			config: Config{BatchSize: 10, StreamBatchSizes: map[string]int{"certificates": 60}},
			stream: "certificates",
			want:   60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.config.GetBatchSize(tt.stream))
		})
	}
}

func TestGetOAuthScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{name: "default", want: DefaultOAuthScope},
		{name: "explicit scope", config: Config{OAuthScope: "custom"}, want: "custom"},
		{
			name:   "audience wins",
			config: Config{OAuthScope: "custom", OAuthClientAud: "https://ABC.integration.ocp.oraclecloud.com/"},
			want: "https://ABC.integration.ocp.oraclecloud.com:443urn:opc:resource:consumer:all " +
				"https://ABC.integration.ocp.oraclecloud.com:443/ic/api/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.config.GetOAuthScope())
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	var c Config
	assert.Equal(t, ImportModeCreateOrUpdate, c.GetImportMode())
	assert.Equal(t, DefaultMaxErrors, c.GetMaxErrors())
	assert.Equal(t, DefaultMaxRetries, c.GetMaxRetries())
	assert.Equal(t, DefaultRetryBaseDelay, c.GetRetryBaseDelay())
	assert.Equal(t, DefaultRetryMaxDelay, c.GetRetryMaxDelay())
	assert.Equal(t, DefaultRetryMultiplier, c.GetRetryMultiplier())
	assert.Equal(t, 30*time.Second, c.GetRequestTimeout())
	assert.Equal(t, 5*time.Minute, c.GetTokenExpiryBuffer())
	assert.Equal(t, time.Hour, c.GetTokenDefaultLifetime())
	assert.Equal(t, DefaultMaxWorkers, c.GetMaxWorkers())
	assert.Equal(t, DefaultMaxConnections, c.GetMaxConnections())
	assert.Equal(t, DefaultMaxErrorMessages, c.GetMaxErrorMessages())
	assert.True(t, c.GetIgnoreTransformationErrors())
	assert.Equal(t, "target-oic", filepath.Base(c.GetStateDir()))

	disabled := false
	c = Config{
		MaxErrors:                  intPtr(0),
		MaxRetries:                 intPtr(0),
		RetryBaseDelay:             "250ms",
		IgnoreTransformationErrors: &disabled,
		StateDir:                   "/tmp/oic",
	}
	assert.Equal(t, 0, c.GetMaxErrors())
	assert.Equal(t, 0, c.GetMaxRetries())
	assert.Equal(t, 250*time.Millisecond, c.GetRetryBaseDelay())
	assert.False(t, c.GetIgnoreTransformationErrors())
	assert.Equal(t, "/tmp/oic", c.GetStateDir())
}

func TestIsArchiveStream(t *testing.T) {
	t.Parallel()

	for _, stream := range []string{"integrations", "packages", "libraries", "certificates"} {
		assert.True(t, IsArchiveStream(stream), stream)
	}
	for _, stream := range []string{"lookups", "connections", "schedules"} {
		assert.False(t, IsArchiveStream(stream), stream)
	}
}
