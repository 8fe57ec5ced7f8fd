package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientTokenEnv overrides engine.client_token when set.
const ClientTokenEnv = "FX_CLIENT_TOKEN"

// Config represents the complete quickstart configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Resources        ResourcesConfig `yaml:"resources"`
	Engine           EngineConfig    `yaml:"engine"`
	Surface          SurfaceConfig   `yaml:"surface"`
	Pipeline         PipelineConfig  `yaml:"pipeline"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// ResourcesConfig controls where bundled resources are unpacked
type ResourcesConfig struct {
	Dir string `yaml:"dir"` // provisioning target (default: resources)
}

// EngineConfig selects and configures the effect engine
type EngineConfig struct {
	Kind         string   `yaml:"kind"` // soft, bridge
	ClientToken  string   `yaml:"client_token"`
	HostPath     string   `yaml:"host_path"` // engine host binary for kind=bridge
	HostArgs     []string `yaml:"host_args"`
	CallTimeoutS int      `yaml:"call_timeout_s"` // per call, bridge only (default: 30)
	PixelFormat  string   `yaml:"pixel_format"`   // rgba, bgra
}

// SurfaceConfig contains render surface settings
type SurfaceConfig struct {
	Width          int `yaml:"width"`            // 0: use the photo size
	Height         int `yaml:"height"`           // 0: use the photo size
	TickIntervalMS int `yaml:"tick_interval_ms"` // continuous render period; < 0 renders only on request (default: 16)
}

// PipelineConfig contains photo pipeline settings
type PipelineConfig struct {
	Effect        string `yaml:"effect"`
	Warmup        *bool  `yaml:"warmup"`      // default: true
	AutoOrient    *bool  `yaml:"auto_orient"` // default: true
	ResultsBuffer int    `yaml:"results_buffer"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables
// completion events.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv applies environment overrides
func ApplyEnv(cfg *Config) {
	if token := os.Getenv(ClientTokenEnv); token != "" {
		cfg.Engine.ClientToken = token
	}
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// CallTimeout returns the bridge round-trip budget
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Engine.CallTimeoutS) * time.Second
}

// TickInterval returns the continuous render period; zero means render only
// on request.
func (c *Config) TickInterval() time.Duration {
	if c.Surface.TickIntervalMS < 0 {
		return 0
	}
	return time.Duration(c.Surface.TickIntervalMS) * time.Millisecond
}
