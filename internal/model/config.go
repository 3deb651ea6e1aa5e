package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds connection settings for the CV-management backend.
type ServerConfig struct {
	// BaseURL is the root API URL, e.g. http://localhost:8080/api.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// StreamConfig tunes the reconnection behavior of the push stream.
type StreamConfig struct {
	// ReconnectFloorSec is the initial retry delay after a dropped
	// connection.
	ReconnectFloorSec int `mapstructure:"reconnect_floor_sec" yaml:"reconnect_floor_sec"`

	// ReconnectCeilingSec caps the exponential retry delay.
	ReconnectCeilingSec int `mapstructure:"reconnect_ceiling_sec" yaml:"reconnect_ceiling_sec"`

	// MaxReconnectAttempts bounds consecutive failed reconnects before
	// the client gives up until the next explicit connect.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// NotifyConfig holds notification-handling preferences.
type NotifyConfig struct {
	// Desktop enables the best-effort native desktop notification for
	// each live-pushed event.
	Desktop bool `mapstructure:"desktop" yaml:"desktop"`

	// JournalPath is the sqlite file recording failed mark-read writes
	// for replay on the next session.
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path"`
}

// LogConfig controls diagnostic logging. The TUI owns the terminal, so
// diagnostics always go to a file.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Stream StreamConfig `mapstructure:"stream" yaml:"stream"`
	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// configDir returns the application configuration directory,
// ~/.config/cvnotify.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cvnotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/cvnotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080/api",
		},
		Stream: StreamConfig{
			ReconnectFloorSec:    1,
			ReconnectCeilingSec:  30,
			MaxReconnectAttempts: 5,
		},
		Notify: NotifyConfig{
			Desktop:     true,
			JournalPath: filepath.Join(configDir(), "journal.db"),
		},
		Log: LogConfig{
			File:  filepath.Join(configDir(), "cvnotify.log"),
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.base_url", "http://localhost:8080/api")
	v.SetDefault("stream.reconnect_floor_sec", 1)
	v.SetDefault("stream.reconnect_ceiling_sec", 30)
	v.SetDefault("stream.max_reconnect_attempts", 5)
	v.SetDefault("notify.desktop", true)
	v.SetDefault("notify.journal_path", filepath.Join(configDir(), "journal.db"))
	v.SetDefault("log.file", filepath.Join(configDir(), "cvnotify.log"))
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("stream", cfg.Stream)
	v.Set("notify", cfg.Notify)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
