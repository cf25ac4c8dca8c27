package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/woxQAQ/ndll/internal/wasm"
)

// EnvPrefix prefixes environment overrides, e.g. NDLL_LOG_LEVEL or
// NDLL_WASM_MEMORY_PAGES.
const EnvPrefix = "NDLL"

type Config struct {
	PluginPaths  []string      `mapstructure:"plugin_paths"`
	LogLevel     string        `mapstructure:"log_level"`
	LoaderSymbol string        `mapstructure:"loader_symbol"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	Wasm         WasmConfig    `mapstructure:"wasm"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Keep debug info for guest stack traces.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory; empty caches in memory only.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances"`
}

// Runtime converts c to a wasm runtime configuration.
func (c WasmConfig) Runtime() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  c.MemoryPages,
		DebugEnabled: c.Debug,
		CacheDir:     c.CacheDir,
		MaxInstances: c.MaxInstances,
	}
}

// Load reads the configuration. Defaults are overridden by the file at
// configPath, when given, and then by NDLL_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("plugin_paths", []string{"./plugins"})
	v.SetDefault("log_level", "info")
	v.SetDefault("loader_symbol", "hx_set_loader")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
