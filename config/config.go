// Package config loads tool configuration from defaults, an optional file
// and ACTINDEX_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucasjlepore/activity-index/distance"
)

// ErrNoConfig reports an explicitly named config file that does not exist.
var ErrNoConfig = errors.New("config file not found")

// EnvPrefix prefixes every environment override, e.g. ACTINDEX_WORKERS.
const EnvPrefix = "ACTINDEX"

type Config struct {
	DataDir        string `mapstructure:"data_dir"`
	SourceDir      string `mapstructure:"source_dir"`
	PointsDir      string `mapstructure:"points_dir"`
	IndexPath      string `mapstructure:"index_path"`
	SettingsPath   string `mapstructure:"settings_path"`
	DistanceMethod string `mapstructure:"distance_method"`
	Workers        int    `mapstructure:"workers"`
	Timezone       string `mapstructure:"timezone"`
	Verify         bool   `mapstructure:"verify"`
	LogLevel       string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("source_dir", "data/activities")
	v.SetDefault("points_dir", "data/points_parquet")
	v.SetDefault("index_path", "data/activity_index.parquet")
	v.SetDefault("settings_path", "data/settings.db")
	v.SetDefault("distance_method", string(distance.Haversine))
	v.SetDefault("workers", 4)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("verify", true)
	v.SetDefault("log_level", "info")
}

// Load reads configuration. An empty path uses defaults and the environment
// only; a non-empty path must exist and is parsed by its extension.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if _, err := distance.ParseMethod(c.DistanceMethod); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Method resolves DistanceMethod.
func (c Config) Method() (distance.Method, error) {
	return distance.ParseMethod(c.DistanceMethod)
}

// Level maps LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
}
