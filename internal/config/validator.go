package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// input.uri may be empty: the service falls back to the mock source

	// Validate pipeline config
	if cfg.Pipeline.FPS <= 0 || cfg.Pipeline.FPS > 60 {
		return fmt.Errorf("pipeline.fps must be in (0, 60], got %d", cfg.Pipeline.FPS)
	}
	if cfg.Pipeline.FallbackMinPixels < 0 {
		return fmt.Errorf("pipeline.fallback_min_pixels must be >= 0")
	}

	// Validate matte config
	switch cfg.Matte.Mode {
	case "solid":
		if !hexColorPattern.MatchString(cfg.Matte.BackgroundColor) {
			return fmt.Errorf("matte.background_color must be a #RRGGBB hex color, got %q",
				cfg.Matte.BackgroundColor)
		}
	case "transparent":
		// No color needed, background pixels become fully transparent
	default:
		return fmt.Errorf("matte.mode must be 'solid' or 'transparent', got %q", cfg.Matte.Mode)
	}

	// Validate segmentation config
	switch cfg.Segmentation.InternalResolution {
	case "low", "medium", "high", "full":
	default:
		return fmt.Errorf("segmentation.internal_resolution must be low|medium|high|full, got %q",
			cfg.Segmentation.InternalResolution)
	}
	if cfg.Segmentation.Threshold <= 0 || cfg.Segmentation.Threshold > 1 {
		return fmt.Errorf("segmentation.threshold must be in (0, 1], got %v",
			cfg.Segmentation.Threshold)
	}
	if cfg.Segmentation.WorkerCmd == "" {
		return fmt.Errorf("segmentation.worker_cmd is required")
	}

	// Validate recorder config
	if cfg.Recorder.Enabled {
		if cfg.Recorder.OutputDir == "" {
			return fmt.Errorf("recorder.output_dir is required when recorder is enabled")
		}
		if cfg.Recorder.RetentionMaxAge < 0 {
			return fmt.Errorf("recorder.retention_max_age_h must be >= 0")
		}
	}

	// Set default topics if broker is configured
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Progress == "" {
			cfg.MQTT.Topics.Progress = fmt.Sprintf("mattecast/progress/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("mattecast/health/%s", cfg.InstanceID)
		}
	}

	return nil
}
