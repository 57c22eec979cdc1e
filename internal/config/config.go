// Package config provides the configuration of the dhis2sql server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "DHIS2SQL_"

// Config holds the whole configuration.
type Config struct {
	// DataDir is the base directory for the catalog and the local archive
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Connection is the default DHIS2 server
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Retry configures retries of transient DHIS2 failures
	Retry dhis2.RetryPolicy `json:"retry" yaml:"retry"`

	// Query configures dimension defaults and result limits
	Query QueryConfig `json:"query" yaml:"query"`

	// Boundary configures the GeoJSON boundary cache
	Boundary BoundaryConfig `json:"boundary" yaml:"boundary"`

	// Catalog configures the metadata store
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// HTTP configures the gateway
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Log configures the root logger
	Log LogConfig `json:"log" yaml:"log"`
}

// ConnectionConfig describes the default DHIS2 server, either as a
// dhis2:// URI or as separate fields. URI wins when both are set.
type ConnectionConfig struct {
	Name     string         `json:"name" yaml:"name"`
	URI      string         `json:"uri" yaml:"uri"`
	BaseURL  string         `json:"base_url" yaml:"base_url"`
	AuthMode types.AuthMode `json:"auth_mode" yaml:"auth_mode"`
	Username string         `json:"username" yaml:"username"`
	Password string         `json:"password" yaml:"password"`
	Token    string         `json:"token" yaml:"token"`
	Timeout  time.Duration  `json:"timeout" yaml:"timeout"`
}

// IsSet reports whether any connection detail was configured.
func (c ConnectionConfig) IsSet() bool {
	return c.URI != "" || c.BaseURL != ""
}

// Resolve returns the connection as a types.Connection.
func (c ConnectionConfig) Resolve() (types.Connection, error) {
	if c.URI != "" {
		conn, err := dhis2.ParseURI(c.URI)
		if err != nil {
			return types.Connection{}, err
		}
		if c.Timeout > 0 && conn.Timeout == 0 {
			conn.Timeout = c.Timeout
		}
		return conn, nil
	}
	conn := types.Connection{
		BaseURL:  c.BaseURL,
		AuthMode: c.AuthMode,
		Username: c.Username,
		Password: c.Password,
		Token:    c.Token,
		Timeout:  c.Timeout,
	}
	if err := conn.Validate(); err != nil {
		return types.Connection{}, err
	}
	return conn, nil
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	// DefaultPeriods fill pe when nothing else resolves it
	DefaultPeriods []string `json:"default_periods" yaml:"default_periods"`

	// DefaultOrgUnits fill ou when nothing else resolves it
	DefaultOrgUnits []string `json:"default_org_units" yaml:"default_org_units"`

	// MaxRows truncates results; 0 means unlimited
	MaxRows int `json:"max_rows" yaml:"max_rows"`
}

// BoundaryConfig holds boundary cache configuration.
type BoundaryConfig struct {
	// TTL is how long boundaries stay cached (default 24h)
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// MaxEntries bounds the in-process tier
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// Redis enables the shared tier when Addr is set
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Archive configures the object-storage tier
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// ArchiveConfig holds archive tier configuration.
type ArchiveConfig struct {
	// Type is none, local or s3
	Type string `json:"type" yaml:"type"`

	// Path is the local archive directory (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle is required by MinIO
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// CatalogConfig holds catalog configuration.
type CatalogConfig struct {
	// Path is the SQLite file; empty means <data_dir>/catalog.db
	Path string `json:"path" yaml:"path"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/dhis2sql",
		Retry:   dhis2.NoRetry,
		Query: QueryConfig{
			DefaultPeriods:  []string{"LAST_12_MONTHS"},
			DefaultOrgUnits: []string{"USER_ORGUNIT"},
		},
		Boundary: BoundaryConfig{
			TTL:        24 * time.Hour,
			MaxEntries: 1024,
			Redis:      RedisConfig{Prefix: "dhis2sql:"},
			Archive:    ArchiveConfig{Type: "none"},
		},
		HTTP: HTTPConfig{
			Addr:            ":8088",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/dhis2sql"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Boundary.Archive.Type == "" {
		c.Boundary.Archive.Type = "none"
	}
	if c.Boundary.Archive.Type == "local" && c.Boundary.Archive.Path == "" {
		c.Boundary.Archive.Path = filepath.Join(c.DataDir, "boundaries")
	}
	if c.Boundary.TTL <= 0 {
		c.Boundary.TTL = 24 * time.Hour
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Boundary.Archive.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid boundary.archive.type: %s (must be none, local or s3)", c.Boundary.Archive.Type)
	}
	if c.Boundary.Archive.Type == "s3" && c.Boundary.Archive.S3.Bucket == "" {
		return fmt.Errorf("boundary.archive.s3.bucket is required when archive type is s3")
	}
	if c.Boundary.MaxEntries < 0 {
		return fmt.Errorf("boundary.max_entries must not be negative, got %d", c.Boundary.MaxEntries)
	}
	if c.Query.MaxRows < 0 {
		return fmt.Errorf("query.max_rows must not be negative, got %d", c.Query.MaxRows)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	if c.Connection.IsSet() {
		if _, err := c.Connection.Resolve(); err != nil {
			return fmt.Errorf("invalid connection: %w", err)
		}
	}
	return nil
}

// ConfigureLogger applies the log settings to logger.
func (c *Config) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DHIS2SQL_ prefix. Malformed numbers and
// durations are ignored.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			var out []string
			for _, s := range strings.Split(v, ";") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	// Connection configuration
	str("URI", &cfg.Connection.URI)
	str("BASE_URL", &cfg.Connection.BaseURL)
	if v := os.Getenv(EnvPrefix + "AUTH_MODE"); v != "" {
		cfg.Connection.AuthMode = types.AuthMode(strings.ToLower(v))
	}
	str("USERNAME", &cfg.Connection.Username)
	str("PASSWORD", &cfg.Connection.Password)
	str("TOKEN", &cfg.Connection.Token)
	dur("TIMEOUT", &cfg.Connection.Timeout)

	// Retry configuration
	num("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	dur("RETRY_INITIAL_DELAY", &cfg.Retry.InitialDelay)
	dur("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)

	// Query configuration
	list("DEFAULT_PERIODS", &cfg.Query.DefaultPeriods)
	list("DEFAULT_ORG_UNITS", &cfg.Query.DefaultOrgUnits)
	num("MAX_ROWS", &cfg.Query.MaxRows)

	// Boundary configuration
	dur("BOUNDARY_TTL", &cfg.Boundary.TTL)
	num("BOUNDARY_MAX_ENTRIES", &cfg.Boundary.MaxEntries)
	str("REDIS_ADDR", &cfg.Boundary.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Boundary.Redis.Password)
	num("REDIS_DB", &cfg.Boundary.Redis.DB)
	str("ARCHIVE_TYPE", &cfg.Boundary.Archive.Type)
	str("ARCHIVE_PATH", &cfg.Boundary.Archive.Path)
	str("S3_BUCKET", &cfg.Boundary.Archive.S3.Bucket)
	str("S3_REGION", &cfg.Boundary.Archive.S3.Region)
	str("S3_ENDPOINT", &cfg.Boundary.Archive.S3.Endpoint)

	// Catalog, HTTP and logging
	str("CATALOG_PATH", &cfg.Catalog.Path)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.Catalog.Path)}
	if c.Boundary.Archive.Type == "local" {
		dirs = append(dirs, c.Boundary.Archive.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
