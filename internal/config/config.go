// Package config handles loading and managing mailcore configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kestrelmail/mailcore/internal/fileutil"
)

// BlobConfig holds blob-store configuration.
type BlobConfig struct {
	MaxBlobSizeBytes int64 `toml:"max_blob_size_bytes"` // default 25 MiB
}

// RenderCacheConfig holds render-cache configuration.
type RenderCacheConfig struct {
	MemoryItemCap        int   `toml:"memory_item_cap"`      // default 100
	MemoryByteCap        int64 `toml:"memory_byte_cap"`      // default 50 MiB
	CompressionThreshold int   `toml:"compression_threshold"` // default 10 KiB
	ExpirationDays       int   `toml:"expiration_days"`      // default 30
	GeneratorVersion     int   `toml:"generator_version"`    // bump to invalidate older artifacts
}

// RecoveryConfig holds error-recovery/retry/circuit-breaker configuration.
type RecoveryConfig struct {
	MaxRetries       int     `toml:"max_retries"`       // default 3
	BaseDelayMS      int     `toml:"base_delay_ms"`      // default 1000
	MaxDelayMS       int     `toml:"max_delay_ms"`       // default 30000
	Multiplier       float64 `toml:"multiplier"`        // default 2.0
	JitterFraction   float64 `toml:"jitter_fraction"`   // default 0.1 (±10%)
	BreakerThreshold int     `toml:"breaker_threshold"` // default 5
	BreakerTimeoutMS int     `toml:"breaker_timeout_ms"` // default 60000
}

// FetchConfig holds fetch-planner configuration.
type FetchConfig struct {
	ChunkSizeBytes           int `toml:"chunk_size_bytes"`           // default 512 KiB
	LargeAttachmentThreshold int `toml:"large_attachment_threshold"` // default 1 MiB
}

// SecurityConfig holds content-sanitization and scanning policy.
type SecurityConfig struct {
	Policy                   string `toml:"policy"` // strict | moderate | relaxed
	AllowExternalImages      bool   `toml:"allow_external_images"`
	AllowExternalStylesheets bool   `toml:"allow_external_stylesheets"`
	AllowInlineStyles        bool   `toml:"allow_inline_styles"`
	AllowIframes             bool   `toml:"allow_iframes"`
	AllowForms               bool   `toml:"allow_forms"`
	ProxyExternalContent     bool   `toml:"proxy_external_content"`
	EnforceCSP               bool   `toml:"enforce_csp"`
	MaxAttachmentSizeBytes   int64  `toml:"max_attachment_size_bytes"` // default 25 MiB
	MaxBlobSizeBytes         int64  `toml:"max_blob_size_bytes"`       // default 100 MiB
}

// ServerConfig holds HTTP surface configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`         // default 8080
	BindAddr        string   `toml:"bind_addr"`        // default 127.0.0.1
	APIKey          string   `toml:"api_key"`          // API authentication key
	AllowInsecure   bool     `toml:"allow_insecure"`   // allow unauthenticated non-loopback access
	CORSOrigins     []string `toml:"cors_origins"`     // empty disables CORS headers entirely
	CORSCredentials bool     `toml:"cors_credentials"`
	CORSMaxAge      int      `toml:"cors_max_age"` // preflight cache duration, seconds
}

// IsLoopback returns true if the bind address is a loopback address.
// Handles the full 127.0.0.0/8 range, IPv6 ::1, and "localhost".
func (s ServerConfig) IsLoopback() bool {
	addr := s.BindAddr
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure returns an error if the server is configured insecurely
// without an explicit opt-in via allow_insecure.
func (s ServerConfig) ValidateSecure() error {
	if !s.IsLoopback() && s.APIKey == "" && !s.AllowInsecure {
		return fmt.Errorf("refusing to start: bind address %q is not loopback and no api_key is set\n\n"+
			"Set [server] api_key in config.toml, or set allow_insecure = true to override", s.BindAddr)
	}
	return nil
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// Config represents the mailcore configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	Blob        BlobConfig        `toml:"blob"`
	RenderCache RenderCacheConfig `toml:"render_cache"`
	Recovery    RecoveryConfig    `toml:"recovery"`
	Fetch       FetchConfig       `toml:"fetch"`
	Security    SecurityConfig    `toml:"security"`
	Server      ServerConfig      `toml:"server"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string // resolved path to the loaded config file
}

// DefaultHome returns the default mailcore home directory.
// Respects the MAILCORE_HOME environment variable and expands ~ in its value.
func DefaultHome() string {
	if h := os.Getenv("MAILCORE_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailcore"
	}
	return filepath.Join(home, ".mailcore")
}

// NewDefaultConfig returns a configuration with default values.
func NewDefaultConfig() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Blob: BlobConfig{
			MaxBlobSizeBytes: 25 * 1024 * 1024,
		},
		RenderCache: RenderCacheConfig{
			MemoryItemCap:        100,
			MemoryByteCap:        50 * 1024 * 1024,
			CompressionThreshold: 10 * 1024,
			ExpirationDays:       30,
			GeneratorVersion:     1,
		},
		Recovery: RecoveryConfig{
			MaxRetries:       3,
			BaseDelayMS:      1000,
			MaxDelayMS:       30000,
			Multiplier:       2.0,
			JitterFraction:   0.1,
			BreakerThreshold: 5,
			BreakerTimeoutMS: 60000,
		},
		Fetch: FetchConfig{
			ChunkSizeBytes:           512 * 1024,
			LargeAttachmentThreshold: 1024 * 1024,
		},
		Security: SecurityConfig{
			Policy:                 "moderate",
			AllowExternalImages:    false,
			ProxyExternalContent:   false,
			EnforceCSP:             true,
			MaxAttachmentSizeBytes: 25 * 1024 * 1024,
			MaxBlobSizeBytes:       100 * 1024 * 1024,
		},
		Server: ServerConfig{
			APIPort:  8080,
			BindAddr: "127.0.0.1",
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailcore/config.toml),
// which is optional (missing file returns defaults).
// If path is explicitly provided, the file must exist.
//
// homeDir overrides the home directory (equivalent to MAILCORE_HOME).
// When set, config.toml is loaded from homeDir unless path is also set.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""

	cfg := NewDefaultConfig()

	if homeDir != "" {
		homeDir = expandPath(homeDir)
		cfg.HomeDir = homeDir
		cfg.Data.DataDir = homeDir
	}

	if !explicit {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	} else {
		path = expandPath(path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	cfg.configPath = path

	if explicit && homeDir == "" {
		cfg.HomeDir = filepath.Dir(path)
		cfg.Data.DataDir = cfg.HomeDir
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if strings.Contains(err.Error(), "invalid escape") ||
			strings.Contains(err.Error(), "hexadecimal digits after") {
			return nil, fmt.Errorf("decode config: %w\n\nhint: Windows paths in TOML must use "+
				"forward slashes (C:/Games/mailcore) or single quotes ('C:\\Games\\mailcore').", err)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	if explicit {
		cfg.Data.DataDir = resolveRelative(cfg.Data.DataDir, cfg.HomeDir)
	}

	return cfg, nil
}

// DatabaseDSN returns the database connection string or file path.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "metadata.db")
}

// BlobBaseDir returns the path to the blob store root directory.
func (c *Config) BlobBaseDir() string {
	return filepath.Join(c.Data.DataDir, "blobs")
}

// EnsureHomeDir creates the mailcore home directory if it doesn't exist.
func (c *Config) EnsureHomeDir() error {
	return fileutil.SecureMkdirAll(c.HomeDir, 0700)
}

// OverrideHome replaces HomeDir and DataDir with dir (expanding ~), for
// callers (e.g. the --home CLI flag) that need to override the loaded
// configuration's location after Load has already run.
func (c *Config) OverrideHome(dir string) {
	dir = expandPath(dir)
	c.HomeDir = dir
	c.Data.DataDir = dir
}

// ConfigFilePath returns the path to the config file.
// If a config was loaded (including via --config), returns the actual path used.
// Otherwise returns the default location based on HomeDir.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// RecoveryBaseDelay returns the configured base retry delay as a duration.
func (c *Config) RecoveryBaseDelay() time.Duration {
	return time.Duration(c.Recovery.BaseDelayMS) * time.Millisecond
}

// RecoveryMaxDelay returns the configured maximum retry delay as a duration.
func (c *Config) RecoveryMaxDelay() time.Duration {
	return time.Duration(c.Recovery.MaxDelayMS) * time.Millisecond
}

// RecoveryBreakerTimeout returns the configured circuit-breaker open timeout.
func (c *Config) RecoveryBreakerTimeout() time.Duration {
	return time.Duration(c.Recovery.BreakerTimeoutMS) * time.Millisecond
}

// MkTempDir creates a temporary directory with fallback logic for restricted
// environments (e.g. Windows where %TEMP% may be inaccessible due to
// permissions, antivirus, or group policy).
//
// It tries the following locations in order:
//  1. Each directory in preferredDirs (if any)
//  2. The system default temp directory (os.TempDir())
//  3. A "tmp" subdirectory under the mailcore home directory (~/.mailcore/tmp/)
func MkTempDir(pattern string, preferredDirs ...string) (string, error) {
	for _, base := range preferredDirs {
		if base == "" {
			continue
		}
		dir, err := os.MkdirTemp(base, pattern)
		if err == nil {
			secureTempDir(dir)
			return dir, nil
		}
	}

	dir, sysErr := os.MkdirTemp("", pattern)
	if sysErr == nil {
		secureTempDir(dir)
		return dir, nil
	}

	fallbackBase := filepath.Join(DefaultHome(), "tmp")
	if err := fileutil.SecureMkdirAll(fallbackBase, 0700); err != nil {
		return "", fmt.Errorf("create temp dir: %w (fallback also failed: %v)", sysErr, err)
	}
	dir, err := os.MkdirTemp(fallbackBase, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w (fallback also failed: %v)", sysErr, err)
	}
	secureTempDir(dir)
	return dir, nil
}

// secureTempDir applies owner-only permissions to a temp directory created by
// os.MkdirTemp, which uses default permissions. Failures are logged but non-fatal.
func secureTempDir(dir string) {
	if err := fileutil.SecureChmod(dir, 0700); err != nil {
		slog.Warn("failed to secure temp directory permissions", "path", dir, "err", err)
	}
}

// resolveRelative makes a relative path absolute by joining it with base.
// Absolute paths and empty strings are returned unchanged.
func resolveRelative(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands ~ to the user's home directory.
// Only expands paths that are exactly "~" or start with "~/".
// It also strips surrounding single or double quotes, which Windows CMD
// passes through literally (unlike Unix shells which strip them).
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if runtime.GOOS == "windows" && len(path) >= 2 &&
		((path[0] == '\'' && path[len(path)-1] == '\'') ||
			(path[0] == '"' && path[len(path)-1] == '"')) {
		path = path[1 : len(path)-1]
	}
	if path == "~" || strings.HasPrefix(path, "~"+string(os.PathSeparator)) || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		suffix := path[2:]
		for len(suffix) > 0 && (suffix[0] == '/' || suffix[0] == os.PathSeparator) {
			suffix = suffix[1:]
		}
		return filepath.Join(home, suffix)
	}
	return path
}
