// Package config loads treedb client configuration with Viper. Settings
// come from a TOML file, TREEDB_-prefixed environment variables, and
// built-in defaults, in that precedence order.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/treedb/errors"
)

// Config is the client configuration tree.
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	Log      LogConfig     `mapstructure:"log"`
	Connect  ConnectConfig `mapstructure:"connect"`
	Txn      TxnConfig     `mapstructure:"transaction"`
}

// LogConfig controls logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// ConnectConfig controls the transport session.
type ConnectConfig struct {
	DialAttempts    uint    `mapstructure:"dial_attempts"`
	WritesPerSecond float64 `mapstructure:"writes_per_second"`
	WriteBurst      int     `mapstructure:"write_burst"`
}

// TxnConfig controls the transaction retry policy.
type TxnConfig struct {
	MaxAttempts  int `mapstructure:"max_attempts"`
	RetryDelayMS int `mapstructure:"retry_delay_ms"`
}

var globalConfig *Config

// Load reads the configuration, caching the result process-wide.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	v := initViper()
	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	return &cfg, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
}

func initViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TREEDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("treedb")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/treedb")
	return v
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "ws://localhost:9000/stream")

	v.SetDefault("log.json", false)

	v.SetDefault("connect.dial_attempts", 5)
	v.SetDefault("connect.writes_per_second", 100.0)
	v.SetDefault("connect.write_burst", 10)

	v.SetDefault("transaction.max_attempts", 25)
	v.SetDefault("transaction.retry_delay_ms", 0)
}
