package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/internal/shaderdump"
)

// Config represents the shaderdump configuration file
// (~/.config/shaderdump/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Cache
	CacheCapacity      *int64 `yaml:"cache_capacity"`
	MaxCachedGroupSize *int64 `yaml:"max_cached_group_size"`
	StrictIDs          *bool  `yaml:"strict_ids"`

	// Slots maps a slot name to the dump loaded into it by serve.
	Slots map[string]string `yaml:"slots"`

	// Server
	ServerAddress string `yaml:"server_address"`
	DebugAPI      *bool  `yaml:"debug_api"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shaderdump", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLogConfig applies config file defaults to the logging flags when
// they were not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyCacheConfig applies config file defaults to the cache flags.
func applyCacheConfig(c *cli.Command, cfg Config) {
	if cfg.CacheCapacity != nil && !c.IsSet("cache-capacity") {
		cacheCapacity = *cfg.CacheCapacity
	}
	if cfg.MaxCachedGroupSize != nil && !c.IsSet("max-cached-group") {
		maxCachedGroupSize = *cfg.MaxCachedGroupSize
	}
	if cfg.StrictIDs != nil && !c.IsSet("strict-ids") {
		strictIDs = *cfg.StrictIDs
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, debugAPI *bool) {
	applyCacheConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.DebugAPI != nil && !c.IsSet("debug-api") {
		*debugAPI = *cfg.DebugAPI
	}
}

func ownerOptions(log logger.Logger) shaderdump.Options {
	capacity := int(cacheCapacity)
	if capacity == 0 {
		// Zero on the command line means "no cache", not "default".
		capacity = -1
	}
	return shaderdump.Options{
		CacheCapacity:      capacity,
		MaxCachedGroupSize: int(maxCachedGroupSize),
		StrictIDs:          strictIDs,
		Logger:             log,
	}
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
