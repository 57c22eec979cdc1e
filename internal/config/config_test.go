package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis-ug/dhis2sql/pkg/types"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("data", "dhis2sql", "catalog.db"), filepath.Clean(cfg.Catalog.Path))
	assert.Equal(t, 24*time.Hour, cfg.Boundary.TTL)
	assert.False(t, cfg.Retry.Enabled(), "retries are opt-in")
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhis2sql.yaml")
	body := `
data_dir: /tmp/dhis2sql
connection:
  base_url: https://play.dhis2.org/40
  username: admin
  password: district
  timeout: 45s
retry:
  max_attempts: 3
  initial_delay: 100ms
query:
  default_periods: [LAST_6_MONTHS]
  max_rows: 5000
boundary:
  ttl: 12h
  archive:
    type: s3
    s3:
      bucket: boundaries
      region: af-south-1
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/dhis2sql", cfg.DataDir)
	assert.Equal(t, 45*time.Second, cfg.Connection.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, []string{"LAST_6_MONTHS"}, cfg.Query.DefaultPeriods)
	assert.Equal(t, []string{"USER_ORGUNIT"}, cfg.Query.DefaultOrgUnits, "unset fields keep defaults")
	assert.Equal(t, 5000, cfg.Query.MaxRows)
	assert.Equal(t, 12*time.Hour, cfg.Boundary.TTL)
	assert.Equal(t, "boundaries", cfg.Boundary.Archive.S3.Bucket)

	conn, err := cfg.Connection.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://play.dhis2.org/40/api", conn.APIBase())

	logger := logrus.New()
	require.NoError(t, cfg.ConfigureLogger(logger))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(bad, []byte("x = 1"), 0644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DHIS2SQL_URI", "dhis2://:d2pat_abc@hmis.health.go.ug/api")
	t.Setenv("DHIS2SQL_MAX_ROWS", "100")
	t.Setenv("DHIS2SQL_DEFAULT_ORG_UNITS", "akV6429SUqu; LEVEL-2")
	t.Setenv("DHIS2SQL_BOUNDARY_TTL", "1h")
	t.Setenv("DHIS2SQL_REDIS_ADDR", "localhost:6379")
	t.Setenv("DHIS2SQL_RETRY_MAX_ATTEMPTS", "not-a-number")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, 100, cfg.Query.MaxRows)
	assert.Equal(t, []string{"akV6429SUqu", "LEVEL-2"}, cfg.Query.DefaultOrgUnits)
	assert.Equal(t, time.Hour, cfg.Boundary.TTL)
	assert.Equal(t, "localhost:6379", cfg.Boundary.Redis.Addr)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts, "malformed numbers are ignored")

	conn, err := cfg.Connection.Resolve()
	require.NoError(t, err)
	assert.Equal(t, types.AuthToken, conn.AuthMode)
	assert.Equal(t, "d2pat_abc", conn.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad archive", func(c *Config) { c.Boundary.Archive.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Boundary.Archive.Type = "s3" }},
		{"negative max rows", func(c *Config) { c.Query.MaxRows = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"incomplete connection", func(c *Config) { c.Connection.BaseURL = "https://x" }},
		{"bad uri", func(c *Config) { c.Connection.URI = "postgres://x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Boundary.Archive.Type = "local"
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	for _, p := range []string{cfg.DataDir, cfg.Boundary.Archive.Path} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
