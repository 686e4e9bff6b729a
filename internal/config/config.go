// Package config loads patina settings from an optional YAML file, PATINA_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"patina/internal/analysis"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the complete patina configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Service  ServiceConfig  `mapstructure:"service"`
	Store    StoreConfig    `mapstructure:"store"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// LogConfig selects the logger mode (development, production or quiet).
type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// AnalysisConfig mirrors analysis.Options.
type AnalysisConfig struct {
	RatioTestThreshold   float64 `mapstructure:"ratio_test_threshold"`
	RansacReprojectionPx float64 `mapstructure:"ransac_reprojection_px"`
	RansacIterations     int     `mapstructure:"ransac_iterations"`
	MaxKeypoints         int     `mapstructure:"max_keypoints"`
	RandomSeed           uint64  `mapstructure:"random_seed"`
	Detector             string  `mapstructure:"detector"`
	ColorSampleStep      int     `mapstructure:"color_sample_step"`
	Diagnostics          bool    `mapstructure:"diagnostics"`
}

// ServiceConfig bounds concurrent comparisons. A zero MaxConcurrent means
// one slot per CPU.
type ServiceConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

// StoreConfig locates the SQLite history database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// FetchConfig limits how long and how much the loader reads per source.
type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// Load reads configuration. An empty path skips the file; a named file
// that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PATINA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	d := analysis.DefaultOptions()

	v.SetDefault("log.mode", "development")

	v.SetDefault("analysis.ratio_test_threshold", d.RatioTestThreshold)
	v.SetDefault("analysis.ransac_reprojection_px", d.RansacReprojectionPx)
	v.SetDefault("analysis.ransac_iterations", d.RansacIterations)
	v.SetDefault("analysis.max_keypoints", d.MaxKeypoints)
	v.SetDefault("analysis.random_seed", d.RandomSeed)
	v.SetDefault("analysis.detector", d.Detector)
	v.SetDefault("analysis.color_sample_step", d.ColorSampleStep)
	v.SetDefault("analysis.diagnostics", false)

	v.SetDefault("service.max_concurrent", 0)
	v.SetDefault("service.queue_timeout", 30*time.Second)

	v.SetDefault("store.path", "patina.db")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_bytes", 64<<20)
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if err := c.AnalysisOptions(nil).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}
	if c.Service.QueueTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.queue_timeout must not be negative"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must not be negative"))
	}
	if c.Fetch.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// AnalysisOptions maps the analysis section onto pipeline options.
func (c *Config) AnalysisOptions(logger *zap.Logger) analysis.Options {
	a := c.Analysis
	return analysis.Options{
		RatioTestThreshold:   a.RatioTestThreshold,
		RansacReprojectionPx: a.RansacReprojectionPx,
		RansacIterations:     a.RansacIterations,
		MaxKeypoints:         a.MaxKeypoints,
		RandomSeed:           a.RandomSeed,
		Detector:             a.Detector,
		ColorSampleStep:      a.ColorSampleStep,
		Diagnostics:          a.Diagnostics,
		Logger:               logger,
	}
}
