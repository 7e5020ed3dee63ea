// Package config loads DeckView configuration from defaults, an optional
// config file, and DECKVIEW_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	// Server
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Content root being indexed; set from the CLI positional argument.
	ContentDir string `mapstructure:"content_dir"`

	// Data directory holding the cache sandboxes.
	DataDir string `mapstructure:"data_dir"`

	// Library scanning
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	IgnoreDirs        []string      `mapstructure:"ignore_dirs"`
	ScanTTL           time.Duration `mapstructure:"scan_ttl"`

	// Watcher
	WatchEnabled  bool          `mapstructure:"watch_enabled"`
	DebounceDelay time.Duration `mapstructure:"debounce_delay"`

	// SSE
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Conversion (LibreOffice headless)
	LibreOfficePath   string        `mapstructure:"libreoffice_path"`
	ConversionTimeout time.Duration `mapstructure:"conversion_timeout"`

	// Thumbnails
	ThumbnailWidth  int    `mapstructure:"thumbnail_width"`
	ThumbnailFormat string `mapstructure:"thumbnail_format"`

	// Service registry (optional)
	RegistryEnabled  bool   `mapstructure:"registry_enabled"`
	RegistryURL      string `mapstructure:"registry_url"`
	ServiceID        string `mapstructure:"service_id"`
	ServiceName      string `mapstructure:"service_name"`
	HeartbeatSeconds int    `mapstructure:"registry_heartbeat_seconds"`
}

// Load reads configuration. If path is empty, a deckview.yaml next to the
// working directory is used when present; otherwise defaults plus
// environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DECKVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deckview")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "deckview"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8000)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("data_dir", "data")
	v.SetDefault("allowed_extensions", []string{
		"pptx", "ppt", "pdf", "md", "markdown", "docx", "doc",
	})
	v.SetDefault("ignore_dirs", []string{
		".git", ".svn", ".hg",
		"node_modules", "venv", ".venv", "env", ".env",
		"__pycache__", ".pytest_cache", ".mypy_cache",
		".idea", ".vscode",
		"data", "dist", "build",
	})
	v.SetDefault("scan_ttl", 2*time.Second)
	v.SetDefault("watch_enabled", true)
	v.SetDefault("debounce_delay", 500*time.Millisecond)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("libreoffice_path", "soffice")
	v.SetDefault("conversion_timeout", 120*time.Second)
	v.SetDefault("thumbnail_width", 200)
	v.SetDefault("thumbnail_format", "png")
	v.SetDefault("registry_enabled", false)
	v.SetDefault("registry_url", "")
	v.SetDefault("service_id", "deckview")
	v.SetDefault("service_name", "DeckView document preview service")
	v.SetDefault("registry_heartbeat_seconds", 30)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ScanTTL < 0 {
		return fmt.Errorf("scan_ttl must not be negative")
	}
	if c.DebounceDelay <= 0 {
		return fmt.Errorf("debounce_delay must be positive")
	}
	if c.ThumbnailWidth <= 0 {
		return fmt.Errorf("thumbnail_width must be positive")
	}
	switch c.ThumbnailFormat {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("unsupported thumbnail_format: %s", c.ThumbnailFormat)
	}
	if c.RegistryEnabled && c.RegistryURL == "" {
		return fmt.Errorf("registry_url is required when registry_enabled is set")
	}
	return nil
}

// ConvertedDir returns the sandbox directory for converted PDFs.
func (c *Config) ConvertedDir() string {
	return filepath.Join(c.DataDir, "converted")
}

// ThumbnailDir returns the sandbox directory for page thumbnails.
func (c *Config) ThumbnailDir() string {
	return filepath.Join(c.DataDir, "thumbnails")
}

// ScratchDir returns the scratch cache sandbox directory.
func (c *Config) ScratchDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// EnsureDirectories creates the sandbox directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ConvertedDir(), c.ThumbnailDir(), c.ScratchDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ExtensionSet returns the allowed extensions as a lowercase lookup set
// without leading dots.
func (c *Config) ExtensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedExtensions))
	for _, ext := range c.AllowedExtensions {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return set
}

// IgnoreSet returns the ignored directory names as a lookup set.
func (c *Config) IgnoreSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.IgnoreDirs))
	for _, name := range c.IgnoreDirs {
		set[name] = struct{}{}
	}
	return set
}
