package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "db": {"dsn": "` + filepath.ToSlash(filepath.Join(dir, "catalog.db")) + `"},
  "screenscraper": {"dev_id": "dev", "dev_password": "secret", "max_threads": 3}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "aria2c", cfg.Aria2.Binary)
	assert.Equal(t, 4, cfg.Aria2.Connections)
	assert.Equal(t, 3, cfg.ScreenScraper.MaxThreads)
	assert.NoError(t, cfg.RequireScreenScraper())
	assert.False(t, cfg.S3.Enabled())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db": {"driver": "oracle", "dsn": "x"}}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFirstSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "second.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db": {"dsn": "catalog.db"}, "retrobat": {"path": "/games"}}`), 0o644))

	cfg, err := LoadFirst(filepath.Join(dir, "missing.json"), path)
	require.NoError(t, err)
	assert.Equal(t, "/games", cfg.RetroBat.Path)
}

func TestApplyEnvOverridesCredentials(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"RETROSCRAPE_SS_DEV_ID":      "env-dev",
		"RETROSCRAPE_SS_USER":        "player",
		"RETROSCRAPE_SS_MAX_THREADS": "5",
	}
	cfg.applyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "env-dev", cfg.ScreenScraper.DevID)
	assert.Equal(t, "player", cfg.ScreenScraper.UserName)
	assert.Equal(t, 5, cfg.ScreenScraper.MaxThreads)
}

func TestValidateS3RequiresHost(t *testing.T) {
	cfg := Default()
	cfg.DB.DSN = "catalog.db"
	cfg.S3.Bucket = "media"
	assert.Error(t, cfg.Validate())
	cfg.S3.Host = "s3.local"
	assert.NoError(t, cfg.Validate())
}
