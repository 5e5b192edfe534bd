package app

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/oictest"
	"github.com/stacklok/oic-target/internal/status"
)

func testConfig(t *testing.T, s *oictest.Server) *config.Config {
	t.Helper()
	retries := 1
	return &config.Config{
		BaseURL:           s.BaseURL(),
		OAuthClientID:     oictest.ClientID,
		OAuthClientSecret: oictest.ClientSecret,
		OAuthTokenURL:     s.TokenURL(),
		MaxRetries:        &retries,
		RetryBaseDelay:    "1ms",
		RetryMaxDelay:     "5ms",
		StateDir:          t.TempDir(),
	}
}

func input(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func newApp(t *testing.T, cfg *config.Config, out *bytes.Buffer) *TargetApp {
	t.Helper()
	app, err := NewTargetApp(context.Background(), WithConfig(cfg), WithStateOutput(out))
	require.NoError(t, err)
	return app
}

func TestNewTargetApp_Options(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)

	tests := []struct {
		name    string
		opts    []TargetAppOptions
		wantErr string
	}{
		{
			name:    "missing config",
			opts:    nil,
			wantErr: "config cannot be nil",
		},
		{
			name:    "nil state output",
			opts:    []TargetAppOptions{WithConfig(testConfig(t, s)), WithStateOutput(nil)},
			wantErr: "state output cannot be nil",
		},
		{
			name: "base url without host",
			opts: []TargetAppOptions{WithConfig(&config.Config{
				BaseURL:       "not-a-url",
				OAuthTokenURL: s.TokenURL(),
			})},
			wantErr: "base_url has no host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTargetApp(context.Background(), tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewTargetApp_Wiring(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	app := newApp(t, testConfig(t, s), &bytes.Buffer{})

	assert.Equal(t, "127.0.0.1", app.Instance())
	c := app.Components()
	require.NotNil(t, c)
	assert.NotNil(t, c.Authenticator)
	assert.NotNil(t, c.Client)
	assert.NotNil(t, c.Dispatcher)
	assert.NotNil(t, c.Coordinator)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.StatusPersistence)
	assert.Contains(t, c.Registry.Streams(), "integrations")
	assert.Contains(t, c.Registry.Streams(), "lookups")
}

func TestTargetApp_Check(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	require.NoError(t, newApp(t, testConfig(t, s), &bytes.Buffer{}).Check(context.Background()))
	assert.Equal(t, 1, s.TokenRequests())

	cfg := testConfig(t, s)
	cfg.OAuthClientSecret = "wrong"
	assert.Error(t, newApp(t, cfg, &bytes.Buffer{}).Check(context.Background()))
}

func TestTargetApp_Run(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	s.Seed("lookups", "COUNTRIES", map[string]any{"name": "COUNTRIES", "description": "old"})

	cfg := testConfig(t, s)
	cfg.ActivateIntegrations = true
	var out bytes.Buffer
	app := newApp(t, cfg, &out)

	res, err := app.Run(context.Background(), input(
		`{"type":"SCHEMA","stream":"lookups","schema":{"type":"object","properties":{"name":{"type":"string"}}},"key_properties":["name"]}`,
		`{"type":"RECORD","stream":"lookups","record":{"name":"COUNTRIES","description":"new"}}`,
		`{"type":"RECORD","stream":"lookups","record":{"name":"CURRENCIES","columns":["code"]}}`,
		`{"type":"RECORD","stream":"connections","record":{"id":"REST_CONN","name":"Rest","adapter_type":"REST"}}`,
		`{"type":"RECORD","stream":"integrations","record":{"code":"ORDERS","version":"01.00.0000"}}`,
		`{"type":"STATE","value":{"bookmarks":{"lookups":2,"connections":1}}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode())

	assert.Equal(t, status.Counts{Processed: 4, Created: 3, Updated: 1, Activated: 1}, res.Totals)
	assert.JSONEq(t, `{"bookmarks":{"lookups":2,"connections":1}}`, strings.TrimSpace(out.String()))

	lookup, ok := s.Entity("lookups", "COUNTRIES")
	require.True(t, ok)
	assert.Equal(t, "new", lookup["description"])
	_, ok = s.Entity("lookups", "CURRENCIES")
	assert.True(t, ok)
	_, ok = s.Entity("connections", "REST_CONN")
	assert.True(t, ok)
	integration, ok := s.Entity("integrations", "ORDERS|01.00.0000")
	require.True(t, ok)
	assert.Equal(t, "ACTIVATED", integration["status"])

	for _, c := range s.Calls() {
		assert.True(t, strings.HasPrefix(c.Header.Get("User-Agent"), "target-oic/"), "user agent of %s %s", c.Method, c.Path)
	}

	saved, err := status.NewFileStatusPersistence(cfg.StateDir).LoadStatus(context.Background(), app.Instance())
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseCompleted, saved.Phase)
	assert.Equal(t, 4, saved.Totals.Processed)
	assert.JSONEq(t, `{"bookmarks":{"lookups":2,"connections":1}}`, string(saved.LastCheckpoint))
}

func TestTargetApp_RunRefreshesRevokedToken(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	var out bytes.Buffer
	app := newApp(t, testConfig(t, s), &out)
	require.NoError(t, app.Check(context.Background()))
	s.RevokeTokens()

	res, err := app.Run(context.Background(), input(
		`{"type":"RECORD","stream":"projects","record":{"id":"FINANCE","name":"Finance"}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Totals.Created)
	assert.Equal(t, 2, s.TokenRequests())
}

func TestTargetApp_RunAbortsOnPersistentUnauthorized(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	s.RejectTokens(true)
	app := newApp(t, testConfig(t, s), &bytes.Buffer{})

	res, err := app.Run(context.Background(), input(
		`{"type":"RECORD","stream":"projects","record":{"id":"FINANCE"}}`,
		`{"type":"RECORD","stream":"projects","record":{"id":"SALES"}}`,
	))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Error(t, res.Aborted)
	assert.Equal(t, 1, res.ExitCode())
	assert.Equal(t, 0, s.Len("projects"))
}

func TestTargetApp_DryRun(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	cfg := testConfig(t, s)
	cfg.DryRunMode = true
	app := newApp(t, cfg, &bytes.Buffer{})

	res, err := app.Run(context.Background(), input(
		`{"type":"RECORD","stream":"lookups","record":{"name":"COUNTRIES"}}`,
	))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 0, s.Len("lookups"))
	assert.Equal(t, 1, s.Count(http.MethodGet, "/lookups/COUNTRIES"))
	assert.Zero(t, s.Count(http.MethodPost, "/lookups"))
}

func TestTargetApp_RunRecordsRemoteFailures(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	s.Fail(http.MethodPost, "/lookups", http.StatusBadRequest, 1)
	app := newApp(t, testConfig(t, s), &bytes.Buffer{})

	res, err := app.Run(context.Background(), input(
		`{"type":"RECORD","stream":"lookups","record":{"name":"COUNTRIES"}}`,
		`{"type":"RECORD","stream":"lookups","record":{"name":"CURRENCIES"}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, status.Counts{Processed: 2, Created: 1, Failed: 1}, res.Totals)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "lookups/COUNTRIES CREATE (HTTP 400)")
	assert.Equal(t, 0, res.ExitCode())
}
