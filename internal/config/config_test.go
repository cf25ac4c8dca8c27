package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}
	if cfg.LoaderSymbol != "hx_set_loader" {
		t.Errorf("Default loader symbol mismatch: got %s", cfg.LoaderSymbol)
	}
	if cfg.Metrics.Enabled {
		t.Errorf("Metrics should be disabled by default")
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Default metrics addr mismatch: got %s, want :9090", cfg.Metrics.Addr)
	}
	if len(cfg.PluginPaths) != 1 || cfg.PluginPaths[0] != "./plugins" {
		t.Errorf("Default plugin paths mismatch: got %v, want [./plugins]", cfg.PluginPaths)
	}
	if cfg.Wasm.MemoryPages != 256 || cfg.Wasm.MaxInstances != 100 {
		t.Errorf("Default wasm config mismatch: got %+v", cfg.Wasm)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndll.yaml")
	configContent := `
log_level: debug
plugin_paths:
  - /opt/plugins
  - ./local
metrics:
  enabled: true
  addr: 127.0.0.1:8080
wasm:
  memory_pages: 64
  debug: true
`
	if err := os.WriteFile(path, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}
	if len(cfg.PluginPaths) != 2 || cfg.PluginPaths[0] != "/opt/plugins" {
		t.Errorf("Plugin paths mismatch: got %v", cfg.PluginPaths)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "127.0.0.1:8080" {
		t.Errorf("Metrics config mismatch: got %+v", cfg.Metrics)
	}

	rc := cfg.Wasm.Runtime()
	if rc.MemoryPages != 64 || !rc.DebugEnabled || rc.MaxInstances != 100 {
		t.Errorf("Runtime config mismatch: got %+v", rc)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NDLL_LOG_LEVEL", "warn")
	t.Setenv("NDLL_WASM_MAX_INSTANCES", "7")
	t.Setenv("NDLL_METRICS_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}
	if cfg.Wasm.MaxInstances != 7 {
		t.Errorf("Max instances mismatch: got %d, want 7", cfg.Wasm.MaxInstances)
	}
	if !cfg.Metrics.Enabled {
		t.Errorf("Metrics should be enabled by env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Loading a missing config file should fail")
	}
}
