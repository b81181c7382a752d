// Package config provides configuration management for folio using Viper
// for flexible loading from files, environment variables and command-line
// flags.
//
// Values come from a .folio.yml file, FOLIO_ prefixed environment
// variables (FOLIO_SERVER_PORT, FOLIO_BUILD_SOURCE, ...) and flags bound by
// the cmd package. Load applies defaults for anything left unset and
// validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults used when neither a config file, the environment nor a flag sets a value.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 3000
	DefaultPortStrategy   = "prompt"
	DefaultTempDirName    = "__folio_build"
	DefaultDebounce       = 100 * time.Millisecond
	DefaultReloadCapacity = 16
)

// Port strategies understood by the serve command.
const (
	PortStrategyPrompt    = "prompt"
	PortStrategyIncrement = "increment"
	PortStrategyFail      = "fail"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Build  BuildConfig  `mapstructure:"build"`
	Reload ReloadConfig `mapstructure:"reload"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Open         bool   `mapstructure:"open"`
	PortStrategy string `mapstructure:"port_strategy"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

type BuildConfig struct {
	Source      string        `mapstructure:"source"`
	TempRoot    string        `mapstructure:"temp_root"`
	TempDirName string        `mapstructure:"temp_dir_name"`
	Debounce    time.Duration `mapstructure:"debounce"`
	Ignore      []string      `mapstructure:"ignore"`
}

type ReloadConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// keys lists every setting so FOLIO_ environment overrides are visible to
// Unmarshal even when no file or flag mentions them.
var keys = []string{
	"server.host",
	"server.port",
	"server.open",
	"server.port_strategy",
	"server.metrics_addr",
	"build.source",
	"build.temp_root",
	"build.temp_dir_name",
	"build.debounce",
	"build.ignore",
	"reload.capacity",
	"log.level",
	"log.format",
}

// Load reads the configuration from viper, applies defaults and validates it.
func Load() (*Config, error) {
	for _, key := range keys {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle ignore patterns set via viper (workaround for viper slice handling)
	if viper.IsSet("build.ignore") && len(config.Build.Ignore) == 0 {
		config.Build.Ignore = viper.GetStringSlice("build.ignore")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	config.Server.Port = DefaultPort
	return config
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if !viper.IsSet("server.port") && config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.PortStrategy == "" {
		config.Server.PortStrategy = DefaultPortStrategy
	}

	if config.Build.Source == "" {
		config.Build.Source = "."
	}
	if config.Build.TempRoot == "" {
		config.Build.TempRoot = os.TempDir()
	}
	if config.Build.TempDirName == "" {
		config.Build.TempDirName = DefaultTempDirName
	}
	if config.Build.Debounce <= 0 {
		config.Build.Debounce = DefaultDebounce
	}
	if len(config.Build.Ignore) == 0 {
		config.Build.Ignore = []string{".git", "node_modules"}
	}

	if config.Reload.Capacity <= 0 {
		config.Reload.Capacity = DefaultReloadCapacity
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// OutputDir returns the temporary build directory the dev server serves from.
func (c *Config) OutputDir() string {
	return filepath.Join(c.Build.TempRoot, c.Build.TempDirName)
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("log config: unknown format %q", config.Log.Format)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	switch config.PortStrategy {
	case PortStrategyPrompt, PortStrategyIncrement, PortStrategyFail:
	default:
		return fmt.Errorf("unknown port strategy %q", config.PortStrategy)
	}

	return nil
}

// validateBuildConfig validates build configuration values
func validateBuildConfig(config *BuildConfig) error {
	// The marker must stay a single path element under the temp root so
	// removing the output directory never reaches outside of it.
	name := config.TempDirName
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("temp_dir_name must be a plain directory name: %q", name)
	}

	if strings.TrimSpace(config.Source) == "" {
		return fmt.Errorf("empty source path")
	}

	return nil
}
