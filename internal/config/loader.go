package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	FleetPath string `json:"fleet_path" yaml:"fleet_path" toml:"fleet_path"`

	MaxQueueDepth     int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	RouteTimeoutMs    int `json:"route_timeout_ms" yaml:"route_timeout_ms" toml:"route_timeout_ms"`
	DispatchTimeoutMs int `json:"dispatch_timeout_ms" yaml:"dispatch_timeout_ms" toml:"dispatch_timeout_ms"`
	MaxRetries        int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`

	HealthIntervalMs int `json:"health_interval_ms" yaml:"health_interval_ms" toml:"health_interval_ms"`
	ProbeTimeoutMs   int `json:"probe_timeout_ms" yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
	FailThreshold    int `json:"fail_threshold" yaml:"fail_threshold" toml:"fail_threshold"`
	OKThreshold      int `json:"ok_threshold" yaml:"ok_threshold" toml:"ok_threshold"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
