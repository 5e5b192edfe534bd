package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/oic-target/internal/oictest"
	"github.com/stacklok/oic-target/internal/status"
)

func writeConfig(t *testing.T, s *oictest.Server, stateDir string) string {
	t.Helper()

	content := `{
  // local fake instance
  "base_url": "` + s.BaseURL() + `",
  "oauth_client_id": "` + oictest.ClientID + `",
  "oauth_client_secret": "` + oictest.ClientSecret + `",
  "oauth_token_url": "` + s.TokenURL() + `",
  "max_retries": 0,
  "state_dir": "` + stateDir + `",
}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd_JSON(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(t, "", "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestRootCmd_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestRootCmd_Run(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	stateDir := t.TempDir()
	cfgPath := writeConfig(t, s, stateDir)

	stdin := strings.Join([]string{
		`{"type":"RECORD","stream":"projects","record":{"id":"FINANCE","name":"Finance"}}`,
		`{"type":"STATE","value":{"bookmarks":{"projects":"2026-01-01"}}}`,
	}, "\n")

	stdout, stderr, err := execute(t, stdin, "--config", cfgPath, "--summary-format", "json")
	require.NoError(t, err)

	assert.JSONEq(t, `{"bookmarks":{"projects":"2026-01-01"}}`, strings.TrimSpace(stdout))

	var summary status.RunStatus
	require.NoError(t, json.Unmarshal([]byte(stderr), &summary))
	assert.Equal(t, status.RunPhaseCompleted, summary.Phase)
	assert.Equal(t, 1, summary.Totals.Created)

	_, ok := s.Entity("projects", "FINANCE")
	assert.True(t, ok)
}

func TestRootCmd_DryRunFlag(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	cfgPath := writeConfig(t, s, t.TempDir())

	_, stderr, err := execute(t, `{"type":"RECORD","stream":"projects","record":{"id":"FINANCE"}}`,
		"--config", cfgPath, "--dry-run", "--summary-format", "json")
	require.NoError(t, err)

	var summary status.RunStatus
	require.NoError(t, json.Unmarshal([]byte(stderr), &summary))
	assert.True(t, summary.DryRun)
	assert.Equal(t, 0, s.Len("projects"))
}

func TestRootCmd_FailedRunReturnsError(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	cfgPath := writeConfig(t, s, t.TempDir())

	_, stderr, err := execute(t, `{"type":"RECORD","stream":"projects","record":{"id":"FINANCE"}}`+"\nnot json\n",
		"--config", cfgPath, "--summary-format", "json")
	require.Error(t, err)

	// cobra appends the error after the summary
	var summary status.RunStatus
	require.NoError(t, json.NewDecoder(strings.NewReader(stderr)).Decode(&summary))
	assert.Equal(t, status.RunPhaseFailed, summary.Phase)
}

func TestCheckCmd(t *testing.T) {
	t.Parallel()

	s := oictest.New(t)
	cfgPath := writeConfig(t, s, t.TempDir())

	stdout, _, err := execute(t, "", "check", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Credentials for 127.0.0.1 are valid")
	assert.Equal(t, 1, s.TokenRequests())
}

func TestStatusCmd(t *testing.T) {
	t.Parallel()

	t.Run("no runs", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		stdout, _, err := execute(t, "", "status", "--state-dir", dir)
		require.NoError(t, err)
		assert.Contains(t, stdout, "No runs recorded in "+dir)
	})

	t.Run("last run", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		completed := time.Now()
		require.NoError(t, status.NewFileStatusPersistence(dir).SaveStatus(context.Background(), "demo.example.com",
			&status.RunStatus{
				RunID:       "run-1",
				Instance:    "demo.example.com",
				Phase:       status.RunPhaseCompleted,
				StartedAt:   completed.Add(-time.Minute),
				CompletedAt: &completed,
				Totals:      status.Counts{Processed: 3, Created: 3},
			}))

		stdout, _, err := execute(t, "", "status", "--state-dir", dir, "--format", "table")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Run run-1 against demo.example.com: Completed")
	})

	t.Run("bad format", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, "", "status", "--state-dir", t.TempDir(), "--format", "xml")
		assert.Error(t, err)
	})
}
