package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the vigil configuration file (~/.config/vigil/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Registry
	LogCapacity *int64 `yaml:"log_capacity"`

	// Demo workload defaults
	Devices   *int64 `yaml:"devices"`
	Launches  *int64 `yaml:"launches"`
	FailEvery *int64 `yaml:"fail_every"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vigil", "config.yaml")
}

// applyLoggingConfig applies config file defaults to the shared logging flags
// when the corresponding CLI flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.LogCapacity != nil && !c.IsSet("log-capacity") && !c.IsSet("capacity") {
		logCapacity = *cfg.LogCapacity
	}
}

// applyDemoConfig applies config file defaults to demo command variables.
func applyDemoConfig(c *cli.Command, cfg Config, devices, launches, failEvery *int64) {
	if cfg.Devices != nil && !c.IsSet("devices") {
		*devices = *cfg.Devices
	}
	if cfg.Launches != nil && !c.IsSet("launches") {
		*launches = *cfg.Launches
	}
	if cfg.FailEvery != nil && !c.IsSet("fail-every") {
		*failEvery = *cfg.FailEvery
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFrom(configPath())
}

func loadConfigFrom(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
