package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/gpxstrava/pkg/ledger"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./gpx_files", cfg.GPXDir)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Minute, cfg.PollTimeout)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ledger.DefaultPath(filepath.Join(home, ".config", xdgAppName)), cfg.LedgerPath)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gpx_dir: ~/tracks
workers: 4
poll_interval: 10s
calendar: Sessions
strava:
  client_id: "1234"
  refresh_token: from-file
log:
  level: warn
`), 0o600))

	t.Setenv("GPXSTRAVA_WORKERS", "2")
	t.Setenv("GPXSTRAVA_LOG_LEVEL", "debug")
	t.Setenv("STRAVA_REFRESH_TOKEN", "from-env")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "~/tracks", cfg.GPXDir)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "Sessions", cfg.Calendar)
	assert.Equal(t, "1234", cfg.Strava.ClientID)
	assert.Equal(t, "from-env", cfg.Strava.RefreshToken)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o600))

	_, err := Load(New(), path)
	assert.ErrorContains(t, err, "workers")

	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 10s\npoll_timeout: 5s\n"), 0o600))
	_, err = Load(New(), path)
	assert.ErrorContains(t, err, "poll_timeout")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gpx_dir: [unterminated\n"), 0o600))

	_, err := Load(New(), path)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	cfg.GPXDir = "/data/gpx"
	cfg.PollTimeout = 90 * time.Second
	cfg.Strava.ClientID = "42"
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "/data/gpx", reloaded.GPXDir)
	assert.Equal(t, 90*time.Second, reloaded.PollTimeout)
	assert.Equal(t, "42", reloaded.Strava.ClientID)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("STRAVA_CLIENT_SECRET=dotenv-secret\nSTRAVA_CLIENT_ID=dotenv-id\n"), 0o600))

	t.Setenv("STRAVA_CLIENT_ID", "shell-id")
	// Registers cleanup for the variable godotenv is about to set.
	t.Setenv("STRAVA_CLIENT_SECRET", "")
	require.NoError(t, os.Unsetenv("STRAVA_CLIENT_SECRET"))

	LoadEnvFiles(envFile, filepath.Join(dir, ".env.local"))

	cfg, err := Load(New(), filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Strava.ClientSecret)
	assert.Equal(t, "shell-id", cfg.Strava.ClientID)
}
