// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// Config holds all RentFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Validation ValidationConfig `yaml:"validation"`
	Retry      RetryConfig      `yaml:"retry"`
	Publish    PublishConfig    `yaml:"publish"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// SourceConfig describes where the rent-contracts snapshot comes from.
type SourceConfig struct {
	URL         string        `yaml:"url"`     // DLD open-data page
	Timeout     time.Duration `yaml:"timeout"` // per-request timeout
	DownloadDir string        `yaml:"download_dir"`
}

// StorageConfig for the medallion store and exports.
type StorageConfig struct {
	Database     string `yaml:"database"`      // DuckDB database file
	OutputDir    string `yaml:"output_dir"`    // parquet/report outputs
	StateDir     string `yaml:"state_dir"`     // run-state checkpoints
	Compression  string `yaml:"compression"`   // zstd | snappy | gzip | none
	ExpiringDays int    `yaml:"expiring_days"` // expiring-contracts window
	RedisAddr    string `yaml:"redis_addr"`    // optional run-state backend
}

// ValidationConfig controls the silver-layer quality gate.
type ValidationConfig struct {
	Enabled bool `yaml:"enabled"`
	Strict  bool `yaml:"strict"` // null critical dates become errors
}

// RetryConfig bounds transient-failure retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// PublishConfig for the GitHub release sink and the optional S3 mirror.
type PublishConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Repo     string `yaml:"repo"`  // owner/name
	Token    string `yaml:"-"`     // GH_TOKEN only, never persisted
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// TelemetryConfig for optional OTLP tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	rentflowDir := filepath.Join(homeDir, ".rentflow")

	return &Config{
		Version: 1,
		Source: SourceConfig{
			Timeout:     30 * time.Second,
			DownloadDir: "output",
		},
		Storage: StorageConfig{
			Database:     "rental_data.db",
			OutputDir:    ".",
			StateDir:     filepath.Join(rentflowDir, "state"),
			Compression:  "zstd",
			ExpiringDays: 15,
		},
		Validation: ValidationConfig{
			Enabled: true,
			Strict:  false,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
		},
		Publish: PublishConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()
	m.ensureDirs()

	return nil
}

// LoadFile loads a single explicit config file on top of defaults and env.
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	if err := m.loadFile(path); err != nil {
		return rferrors.Wrap(err, rferrors.CodeInvalidConfig, "cannot load config file").
			WithContext("path", path)
	}
	m.paths = append(m.paths, path)

	m.loadEnv()
	m.ensureDirs()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/rentflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".rentflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".rentflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Source
	if src.Source.URL != "" {
		m.config.Source.URL = src.Source.URL
	}
	if src.Source.Timeout != 0 {
		m.config.Source.Timeout = src.Source.Timeout
	}
	if src.Source.DownloadDir != "" {
		m.config.Source.DownloadDir = src.Source.DownloadDir
	}

	// Storage
	if src.Storage.Database != "" {
		m.config.Storage.Database = src.Storage.Database
	}
	if src.Storage.OutputDir != "" {
		m.config.Storage.OutputDir = src.Storage.OutputDir
	}
	if src.Storage.StateDir != "" {
		m.config.Storage.StateDir = src.Storage.StateDir
	}
	if src.Storage.Compression != "" {
		m.config.Storage.Compression = src.Storage.Compression
	}
	if src.Storage.ExpiringDays != 0 {
		m.config.Storage.ExpiringDays = src.Storage.ExpiringDays
	}
	if src.Storage.RedisAddr != "" {
		m.config.Storage.RedisAddr = src.Storage.RedisAddr
	}

	// Validation
	if src.Validation.Enabled {
		m.config.Validation.Enabled = true
	}
	if src.Validation.Strict {
		m.config.Validation.Strict = true
	}

	// Retry
	if src.Retry.MaxAttempts != 0 {
		m.config.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.InitialInterval != 0 {
		m.config.Retry.InitialInterval = src.Retry.InitialInterval
	}
	if src.Retry.MaxInterval != 0 {
		m.config.Retry.MaxInterval = src.Retry.MaxInterval
	}

	// Publish
	if src.Publish.Enabled {
		m.config.Publish.Enabled = true
	}
	if src.Publish.Repo != "" {
		m.config.Publish.Repo = src.Publish.Repo
	}
	if src.Publish.S3Bucket != "" {
		m.config.Publish.S3Bucket = src.Publish.S3Bucket
	}
	if src.Publish.S3Region != "" {
		m.config.Publish.S3Region = src.Publish.S3Region
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("DLD_URL"); v != "" {
		m.config.Source.URL = v
	}
	if v := os.Getenv("GH_TOKEN"); v != "" {
		m.config.Publish.Token = v
	}
	if v := os.Getenv("RENTFLOW_DATABASE"); v != "" {
		m.config.Storage.Database = v
	}
	if v := os.Getenv("RENTFLOW_OUTPUT_DIR"); v != "" {
		m.config.Storage.OutputDir = v
	}
	if v := os.Getenv("RENTFLOW_COMPRESSION"); v != "" {
		m.config.Storage.Compression = v
	}
	if v := os.Getenv("RENTFLOW_REDIS"); v != "" {
		m.config.Storage.RedisAddr = v
	}
	if v := os.Getenv("RENTFLOW_REPO"); v != "" {
		m.config.Publish.Repo = v
	}
	if v := os.Getenv("RENTFLOW_STRICT"); v != "" {
		m.config.Validation.Strict = v == "1" || v == "true"
	}
	if v := os.Getenv("RENTFLOW_RETRIES"); v != "" {
		var attempts int
		if _, err := fmt.Sscanf(v, "%d", &attempts); err == nil {
			m.config.Retry.MaxAttempts = attempts
		}
	}
	if v := os.Getenv("RENTFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// ensureDirs creates necessary directories.
func (m *Manager) ensureDirs() {
	dirs := []string{
		m.config.Source.DownloadDir,
		m.config.Storage.OutputDir,
		m.config.Storage.StateDir,
	}
	for _, dir := range dirs {
		os.MkdirAll(dir, 0755)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// ValidateForRun checks the invariants a pipeline run depends on. A missing
// source URL is always fatal; a missing token is fatal only when publishing.
func (c *Config) ValidateForRun() error {
	if c.Source.URL == "" {
		return rferrors.MissingEnv("DLD_URL")
	}
	if c.Publish.Enabled {
		if c.Publish.Token == "" {
			return rferrors.MissingEnv("GH_TOKEN")
		}
		if c.Publish.Repo == "" {
			return rferrors.New(rferrors.CodeInvalidConfig, "publish enabled but no repository configured")
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return rferrors.New(rferrors.CodeInvalidConfig, "retry max_attempts must be at least 1")
	}
	return nil
}

// ReleaseTag returns the release tag for a run date, one release per day.
func (c *Config) ReleaseTag(runDate time.Time) string {
	return "release-" + runDate.Format("2006-01-02")
}
