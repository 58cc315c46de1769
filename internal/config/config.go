package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mattecast configuration
type Config struct {
	InstanceID       string             `yaml:"instance_id"`
	ShutdownTimeoutS int                `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Input            InputConfig        `yaml:"input"`
	Pipeline         PipelineConfig     `yaml:"pipeline"`
	Matte            MatteConfig        `yaml:"matte"`
	Segmentation     SegmentationConfig `yaml:"segmentation"`
	Recorder         RecorderConfig     `yaml:"recorder"`
	MQTT             MQTTConfig         `yaml:"mqtt"`
	Control          ControlConfig      `yaml:"control"`
}

// InputConfig describes the video resource to process
type InputConfig struct {
	// URI is the playable video resource (file://, http://, https://)
	URI string `yaml:"uri"`
}

// PipelineConfig contains tick-loop settings
type PipelineConfig struct {
	FPS               int  `yaml:"fps"`                 // target tick/capture rate (default 25)
	FlipVertical      bool `yaml:"flip_vertical"`       // pre-transform applied to frames before masking
	FallbackMinPixels int  `yaml:"fallback_min_pixels"` // below this many person pixels the mask is treated as failed (default 100)
}

// MatteConfig selects the background policy
type MatteConfig struct {
	Mode            string `yaml:"mode"`             // solid | transparent
	BackgroundColor string `yaml:"background_color"` // hex color, solid mode only (default "#00FF00")
}

// SegmentationConfig is passed through to the segmentation engine
type SegmentationConfig struct {
	WorkerCmd          string  `yaml:"worker_cmd"`          // segmentation worker launcher script
	InternalResolution string  `yaml:"internal_resolution"` // low | medium | high | full (default medium)
	Threshold          float64 `yaml:"threshold"`           // person-probability threshold (default 0.7)
}

// RecorderConfig controls the optional re-encoding path
type RecorderConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MimeType        string `yaml:"mime_type"`  // preferred output container/codec
	OutputDir       string `yaml:"output_dir"` // artifact directory
	RetentionMaxAge int    `yaml:"retention_max_age_h"`
}

// MQTTConfig contains optional telemetry broker settings.
// Telemetry is disabled when Broker is empty.
type MQTTConfig struct {
	Broker string     `yaml:"broker"`
	Topics MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic names for telemetry publishing
type MQTTTopics struct {
	Progress string `yaml:"progress"`
	Health   string `yaml:"health"`
}

// ControlConfig contains the HTTP status API settings
type ControlConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8080", empty disables the API
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

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with documented defaults
func applyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "mattecast"
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.Pipeline.FPS == 0 {
		cfg.Pipeline.FPS = 25
	}
	if cfg.Pipeline.FallbackMinPixels == 0 {
		cfg.Pipeline.FallbackMinPixels = 100
	}
	if cfg.Matte.Mode == "" {
		cfg.Matte.Mode = "solid"
	}
	if cfg.Matte.BackgroundColor == "" {
		// Fully saturated green for chroma-key compatibility downstream
		cfg.Matte.BackgroundColor = "#00FF00"
	}
	if cfg.Segmentation.InternalResolution == "" {
		cfg.Segmentation.InternalResolution = "medium"
	}
	if cfg.Segmentation.Threshold == 0 {
		cfg.Segmentation.Threshold = 0.7
	}
	if cfg.Recorder.MimeType == "" {
		cfg.Recorder.MimeType = "video/webm;codecs=vp8"
	}
	if cfg.Recorder.OutputDir == "" {
		cfg.Recorder.OutputDir = "./output"
	}
	if cfg.Recorder.RetentionMaxAge == 0 {
		cfg.Recorder.RetentionMaxAge = 24
	}
}
