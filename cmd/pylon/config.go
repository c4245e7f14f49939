package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved ~/.pylon/config.yaml settings.
type Config struct {
	Operator       string
	TranscriptRoot string
	Listen         string
	TickInterval   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Listen == "" {
		out.Listen = "127.0.0.1:9400"
	}
	if out.TickInterval == 0 {
		out.TickInterval = time.Second
	}
	return out
}

// rawConfig is the on-disk shape; tick_interval is a duration string like "1s".
type rawConfig struct {
	Operator       string `yaml:"operator,omitempty"`
	TranscriptRoot string `yaml:"transcript_root,omitempty"`
	Listen         string `yaml:"listen,omitempty"`
	TickInterval   string `yaml:"tick_interval,omitempty"`
}

// LoadConfig reads the config file. A missing file yields the defaults;
// a malformed file is an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		var empty Config
		return empty.withDefaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg := Config{
		Operator:       raw.Operator,
		TranscriptRoot: raw.TranscriptRoot,
		Listen:         raw.Listen,
	}
	if raw.TickInterval != "" {
		d, err := time.ParseDuration(raw.TickInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse tick_interval in %s: %w", path, err)
		}
		cfg.TickInterval = d
	}
	return cfg.withDefaults(), nil
}
