package config

import (
	"fmt"
	"path"
	"regexp"

	"github.com/e7canasta/effect-quickstart/internal/pixel"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Engine kinds
const (
	EngineSoft   = "soft"
	EngineBridge = "bridge"
)

// DefaultEffect is the effect the quickstart ships with
const DefaultEffect = "effects/Afro"

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "fxquickstart"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Resources.Dir == "" {
		cfg.Resources.Dir = "resources"
	}

	// Engine
	switch cfg.Engine.Kind {
	case "":
		cfg.Engine.Kind = EngineSoft
	case EngineSoft:
	case EngineBridge:
		if cfg.Engine.HostPath == "" {
			return fmt.Errorf("engine.host_path is required for engine.kind=bridge")
		}
	default:
		return fmt.Errorf("engine.kind must be %q or %q, got %q", EngineSoft, EngineBridge, cfg.Engine.Kind)
	}
	if cfg.Engine.CallTimeoutS <= 0 {
		cfg.Engine.CallTimeoutS = 30
	}
	format, err := pixel.ParseFormat(cfg.Engine.PixelFormat)
	if err != nil {
		return fmt.Errorf("engine.pixel_format: %w", err)
	}
	// The soft engine grades channels as R, G, B.
	if cfg.Engine.Kind == EngineSoft && format != pixel.Default {
		return fmt.Errorf("engine.pixel_format %q is not supported by engine.kind=soft", cfg.Engine.PixelFormat)
	}
	if cfg.Engine.PixelFormat == "" {
		cfg.Engine.PixelFormat = "rgba"
	}

	// Surface
	if cfg.Surface.Width < 0 || cfg.Surface.Height < 0 {
		return fmt.Errorf("surface.width and surface.height must be >= 0")
	}
	if cfg.Surface.TickIntervalMS == 0 {
		cfg.Surface.TickIntervalMS = 16
	}

	// Pipeline
	if cfg.Pipeline.Effect == "" {
		cfg.Pipeline.Effect = DefaultEffect
	}
	if path.IsAbs(cfg.Pipeline.Effect) {
		return fmt.Errorf("pipeline.effect must be relative to the resource dir")
	}
	if cfg.Pipeline.Warmup == nil {
		cfg.Pipeline.Warmup = ptr(true)
	}
	if cfg.Pipeline.AutoOrient == nil {
		cfg.Pipeline.AutoOrient = ptr(true)
	}
	if cfg.Pipeline.ResultsBuffer <= 0 {
		cfg.Pipeline.ResultsBuffer = 4
	}

	// MQTT (optional)
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("fx/results/%s", cfg.InstanceID)
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}

func ptr[T any](v T) *T { return &v }
