// Package config loads server settings from a YAML file with environment
// overrides for the values that change between deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server struct {
		Listen       string        `yaml:"listen"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Canvas struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"canvas"`

	Cooldown struct {
		Base    time.Duration `yaml:"base"`
		Scale   int           `yaml:"scale"`
		MaxBank int           `yaml:"max_bank"`
	} `yaml:"cooldown"`

	Presence struct {
		Window time.Duration `yaml:"window"`
	} `yaml:"presence"`

	Broadcast struct {
		SubscriberQueue int `yaml:"subscriber_queue"`
		PersistQueue    int `yaml:"persist_queue"`
	} `yaml:"broadcast"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Logging struct {
		Sinks       []string      `yaml:"sinks"`
		MinSeverity string        `yaml:"min_severity"`
		BufferSize  int           `yaml:"buffer_size"`
		JSONPath    string        `yaml:"json_path"`
		FlushEvery  time.Duration `yaml:"flush_every"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Server.Listen = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Canvas.Width = 1000
	cfg.Canvas.Height = 1000
	cfg.Cooldown.Base = 30 * time.Second
	cfg.Cooldown.Scale = 100
	cfg.Cooldown.MaxBank = 6
	cfg.Presence.Window = 15 * time.Minute
	cfg.Broadcast.SubscriberQueue = 64
	cfg.Broadcast.PersistQueue = 1024
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.KeyPrefix = "pixel-canvas"
	cfg.Logging.Sinks = []string{"console"}
	cfg.Logging.MinSeverity = "info"
	cfg.Logging.BufferSize = 512
	cfg.Logging.FlushEvery = 5 * time.Second
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PIXEL_CANVAS_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("PIXEL_CANVAS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PIXEL_CANVAS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func (c Config) validate() error {
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		return fmt.Errorf("canvas dimensions must be positive, got %dx%d", c.Canvas.Width, c.Canvas.Height)
	}
	if c.Cooldown.Base <= 0 {
		return fmt.Errorf("cooldown base must be positive, got %v", c.Cooldown.Base)
	}
	if c.Cooldown.MaxBank < 0 {
		return fmt.Errorf("max bank must not be negative, got %d", c.Cooldown.MaxBank)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must not be empty")
	}
	return nil
}
