// Package config provides configuration loading and validation for the
// action engine.
package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Client   ClientConfig   `json:"client"   mapstructure:"client"`
	Protocol ProtocolConfig `json:"protocol" mapstructure:"protocol"`
	Journal  JournalConfig  `json:"journal"  mapstructure:"journal"`
}

// ClientConfig tunes the engine façade.
type ClientConfig struct {
	EnableRealTimeUpdates bool `json:"enable_real_time_updates"  mapstructure:"enable_real_time_updates"`
	ContextUpdateInterval int  `json:"context_update_interval_ms" mapstructure:"context_update_interval_ms"`
	MaxHistorySize        int  `json:"max_history_size"          mapstructure:"max_history_size"`
	EnableActionHistory   bool `json:"enable_action_history"     mapstructure:"enable_action_history"`
}

// ProtocolConfig tunes the communication layer.
type ProtocolConfig struct {
	Version       string `json:"version"        mapstructure:"version"`
	TimeoutMs     int    `json:"timeout_ms"     mapstructure:"timeout_ms"`
	RetryAttempts int    `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMs  int    `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// JournalConfig tunes the persistent action journal.
type JournalConfig struct {
	Enabled  bool   `json:"enabled"   mapstructure:"enabled"`
	Path     string `json:"path"      mapstructure:"path"`
	KeepLast int    `json:"keep_last" mapstructure:"keep_last"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Client: ClientConfig{
			EnableRealTimeUpdates: true,
			ContextUpdateInterval: 1000,
			MaxHistorySize:        100,
			EnableActionHistory:   true,
		},
		Protocol: ProtocolConfig{
			Version:       "1.0",
			TimeoutMs:     30000,
			RetryAttempts: 3,
			RetryDelayMs:  1000,
		},
		Journal: JournalConfig{
			Enabled:  true,
			Path:     ".orbis/journal.db",
			KeepLast: 500,
		},
	}
}

// Timeout returns the protocol timeout as a duration.
func (p ProtocolConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the protocol retry delay as a duration.
func (p ProtocolConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// UpdateInterval returns the context poll interval as a duration.
func (c ClientConfig) UpdateInterval() time.Duration {
	return time.Duration(c.ContextUpdateInterval) * time.Millisecond
}

// Load reads the config file at path, validates it against the schema
// and decodes it over the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	settings := v.AllSettings()
	if err := ValidateSettings(settings); err != nil {
		return Config{}, err
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Config{}, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies semantic checks the schema cannot express.
func (c Config) Validate() error {
	if c.Client.ContextUpdateInterval <= 0 {
		return fmt.Errorf("client.context_update_interval_ms must be > 0")
	}
	if c.Client.MaxHistorySize <= 0 {
		return fmt.Errorf("client.max_history_size must be > 0")
	}
	if c.Protocol.TimeoutMs <= 0 {
		return fmt.Errorf("protocol.timeout_ms must be > 0")
	}
	if c.Protocol.RetryAttempts <= 0 {
		return fmt.Errorf("protocol.retry_attempts must be > 0")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}
