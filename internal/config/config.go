package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"usageexport/internal/domain"
	"usageexport/internal/etl"
)

// Cfg is the full configuration of the exporter.
type Cfg struct {
	Output     string                `mapstructure:"output"`
	Columns    []string              `mapstructure:"columns"`
	Strategy   string                `mapstructure:"strategy"`
	Frame      FrameConfig           `mapstructure:"frame"`
	Source     SourceConfig          `mapstructure:"source"`
	Transforms []etl.TransformConfig `mapstructure:"transforms"`
	History    HistoryConfig         `mapstructure:"history"`
	Log        LogConfig             `mapstructure:"log"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
}

// FrameConfig bounds the in-memory frame strategy.
type FrameConfig struct {
	MaxCells       int64   `mapstructure:"max_cells"`
	MemoryFraction float64 `mapstructure:"memory_fraction"`
}

// SourceConfig names a registered source and its settings.
type SourceConfig struct {
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// EnvPrefix prefixes environment overrides, e.g. USAGE_EXPORT_OUTPUT.
const EnvPrefix = "USAGE_EXPORT"

// New returns a viper instance with defaults and env binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output", "usage_export.csv")
	v.SetDefault("strategy", string(etl.ModeAuto))
	v.SetDefault("frame.max_cells", 0)
	v.SetDefault("frame.memory_fraction", etl.DefaultMemoryFraction)
	v.SetDefault("source.type", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", defaultHistoryPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// Load reads the config file and decodes it into Cfg. file is an explicit
// path; empty searches ".", "./configs" and ~/.config/usage-export for
// usage-export.{yaml,json,toml}, and finding none is not an error.
func Load(v *viper.Viper, file string) (*Cfg, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("usage-export")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "usage-export"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Cfg
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := etl.ParseStrategyMode(cfg.Strategy); err != nil {
		return nil, err
	}
	cfg.Columns = domain.TrimColumns(cfg.Columns)
	return &cfg, nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "usage-export-history.db")
	}
	return filepath.Join(home, ".local", "share", "usage-export", "history.db")
}
