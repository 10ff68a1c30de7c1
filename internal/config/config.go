package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Provider ProviderConfig `mapstructure:"provider"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

// DatabaseConfig holds sqlite settings. An empty Migrations path uses the
// migrations bundled into the binary.
type DatabaseConfig struct {
	Path       string `mapstructure:"path"`
	Migrations string `mapstructure:"migrations"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// RequestsPerSecond and Burst throttle inbound API calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SyncConfig holds admission policy and scheduling settings.
type SyncConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxPerHour    int           `mapstructure:"max_per_hour"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Lookback      time.Duration `mapstructure:"lookback"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	Workers       int           `mapstructure:"workers"`
	Strategy      string        `mapstructure:"strategy"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	// FingerprintTTL bounds how long fingerprints of stored records are cached.
	FingerprintTTL time.Duration `mapstructure:"fingerprint_ttl"`
}

// ProviderConfig selects and tunes the aggregation provider client. Mode
// "fake" serves generated demo data.
type ProviderConfig struct {
	Mode              string        `mapstructure:"mode"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SecretsConfig locates the credential store.
type SecretsConfig struct {
	Dir        string `mapstructure:"dir"`
	Passphrase string `mapstructure:"passphrase"`
}

// Load reads configuration from .env, file and env. Env var overrides use
// prefix LEDGERSYNC_.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("LEDGERSYNC_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledgersync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "ledgersync", "ledgersync.db"))
	v.SetDefault("database.migrations", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.requests_per_second", 20.0)
	v.SetDefault("http.burst", 40)
	v.SetDefault("sync.max_concurrent", 3)
	v.SetDefault("sync.max_per_hour", 10)
	v.SetDefault("sync.timeout", "2m")
	v.SetDefault("sync.lookback", "168h")
	v.SetDefault("sync.tick_interval", "1m")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.strategy", "merge")
	v.SetDefault("sync.max_batch_size", 250)
	v.SetDefault("sync.fingerprint_ttl", "30m")
	v.SetDefault("provider.mode", "fake")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("secrets.dir", "")
	v.SetDefault("secrets.passphrase", "")
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Sync.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("sync.max_concurrent must be at least 1"))
	}
	if c.Sync.MaxPerHour < 1 {
		errs = append(errs, fmt.Errorf("sync.max_per_hour must be at least 1"))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeout must be positive"))
	}
	if c.Sync.Lookback < 0 {
		errs = append(errs, fmt.Errorf("sync.lookback must not be negative"))
	}
	if c.Sync.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.tick_interval must be positive"))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("sync.workers must be at least 1"))
	}
	switch strings.ToLower(c.Provider.Mode) {
	case "fake":
	case "http":
		if c.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider.base_url required for http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.mode %q must be fake or http", c.Provider.Mode))
	}
	return errors.Join(errs...)
}
