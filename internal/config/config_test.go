package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8000 {
		t.Errorf("listen defaults = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.ScanTTL != 2*time.Second {
		t.Errorf("scan_ttl = %s, want 2s", cfg.ScanTTL)
	}
	if cfg.DebounceDelay != 500*time.Millisecond {
		t.Errorf("debounce_delay = %s, want 500ms", cfg.DebounceDelay)
	}
	if !cfg.WatchEnabled {
		t.Error("watcher should be enabled by default")
	}
	if cfg.RegistryEnabled {
		t.Error("registry should be disabled by default")
	}
	if _, ok := cfg.ExtensionSet()["pptx"]; !ok {
		t.Error("pptx missing from default extensions")
	}
	if _, ok := cfg.IgnoreSet()[".git"]; !ok {
		t.Error(".git missing from default ignore dirs")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckview.yaml")
	content := []byte("port: 9001\nlog_level: debug\nthumbnail_width: 320\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %s", cfg.LogLevel)
	}
	if cfg.ThumbnailWidth != 320 {
		t.Errorf("thumbnail_width = %d", cfg.ThumbnailWidth)
	}
	// Untouched keys keep their defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host = %s", cfg.Host)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DECKVIEW_PORT", "9002")
	t.Setenv("DECKVIEW_LOG_FORMAT", "console")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9002 {
		t.Errorf("port = %d, want 9002", cfg.Port)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("log_format = %s", cfg.LogFormat)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cfg := base()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero port must not validate")
	}

	cfg = base()
	cfg.DebounceDelay = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero debounce must not validate")
	}

	cfg = base()
	cfg.ThumbnailFormat = "bmp"
	if err := cfg.Validate(); err == nil {
		t.Error("unsupported thumbnail format must not validate")
	}

	cfg = base()
	cfg.RegistryEnabled = true
	cfg.RegistryURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("registry without URL must not validate")
	}
}

func TestSandboxDirs(t *testing.T) {
	cfg := &Config{DataDir: "data"}
	if cfg.ConvertedDir() != filepath.Join("data", "converted") {
		t.Errorf("converted dir = %s", cfg.ConvertedDir())
	}
	if cfg.ThumbnailDir() != filepath.Join("data", "thumbnails") {
		t.Errorf("thumbnail dir = %s", cfg.ThumbnailDir())
	}
	if cfg.ScratchDir() != filepath.Join("data", "cache") {
		t.Errorf("scratch dir = %s", cfg.ScratchDir())
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := &Config{DataDir: filepath.Join(t.TempDir(), "data")}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.ConvertedDir(), cfg.ThumbnailDir(), cfg.ScratchDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing sandbox dir %s", dir)
		}
	}
}

func TestExtensionSetNormalizes(t *testing.T) {
	cfg := &Config{AllowedExtensions: []string{".PDF", "Pptx"}}
	set := cfg.ExtensionSet()
	if _, ok := set["pdf"]; !ok {
		t.Error("pdf missing after normalization")
	}
	if _, ok := set["pptx"]; !ok {
		t.Error("pptx missing after normalization")
	}
}
