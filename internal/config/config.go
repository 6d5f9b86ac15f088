package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"feature-overlay/internal/features"
	"feature-overlay/internal/frame"
	"feature-overlay/internal/opencv/safe"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FEATURE_OVERLAY_"

type Config struct {
	Frame    FrameConfig    `yaml:"frame"`
	Features FeaturesConfig `yaml:"features"`
	Shared   SharedConfig   `yaml:"shared"`
	Output   OutputConfig   `yaml:"output"`
	Batch    BatchConfig    `yaml:"batch"`
	Log      LogConfig      `yaml:"log"`
	Debug    DebugConfig    `yaml:"debug"`
}

// FrameConfig fixes the buffer dimensions every caller must supply.
type FrameConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type FeaturesConfig struct {
	TargetCount   int     `yaml:"target_count"`
	KernelSize    int     `yaml:"kernel_size"`
	Sigma         float64 `yaml:"sigma"`
	FastThreshold int     `yaml:"fast_threshold"`
	Thickness     int     `yaml:"thickness"`
	RichKeypoints bool    `yaml:"rich_keypoints"`
	Equalize      bool    `yaml:"equalize"`
	ClipLimit     float64 `yaml:"clahe_clip_limit"`
	TileSize      int     `yaml:"clahe_tile_size"`
}

type SharedConfig struct {
	Dir  string     `yaml:"dir"`
	Exec ExecConfig `yaml:"exec"`
}

// ExecConfig gates running scripts out of the shared folder. It is off
// unless a config file or the environment turns it on.
type ExecConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxOutput    int               `yaml:"max_output"`
	Interpreters map[string]string `yaml:"interpreters"`
}

type OutputConfig struct {
	Rotate      int `yaml:"rotate"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

type BatchConfig struct {
	Workers int `yaml:"workers"`
	DPI     int `yaml:"dpi"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type DebugConfig struct {
	TrackMats    bool `yaml:"track_mats"`
	StackTraces  bool `yaml:"stack_traces"`
	TimingWindow int  `yaml:"timing_window"`
	PoolSize     int  `yaml:"pool_size"`
}

func Default() Config {
	opts := features.DefaultOptions()
	return Config{
		Frame: FrameConfig{
			Width:  frame.DefaultWidth,
			Height: frame.DefaultHeight,
		},
		Features: FeaturesConfig{
			TargetCount:   features.DefaultTargetCount,
			KernelSize:    opts.KernelSize,
			Sigma:         opts.Sigma,
			FastThreshold: opts.FastThreshold,
			Thickness:     opts.Thickness,
			RichKeypoints: opts.RichKeypoints,
			ClipLimit:     opts.CLAHEClipLimit,
			TileSize:      opts.CLAHETileSize,
		},
		Shared: SharedConfig{
			Dir: "SharedFolder",
			Exec: ExecConfig{
				Enabled:   false,
				Timeout:   30 * time.Second,
				MaxOutput: 64 * 1024,
				Interpreters: map[string]string{
					".py": "python3",
					".sh": "sh",
				},
			},
		},
		Output: OutputConfig{
			Rotate:      0,
			JPEGQuality: 95,
		},
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
			DPI:     150,
		},
		Log: LogConfig{
			Level: "info",
		},
		Debug: DebugConfig{
			TimingWindow: 100,
			PoolSize:     4,
		},
	}
}

// Load layers the YAML file at path (if any) and the environment over the
// defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from FEATURE_OVERLAY_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvPrefix + "JSON_LOGS"); ok {
		c.Log.JSON = v == "true" || v == "1"
	}
	if v, ok := lookup(EnvPrefix + "SHARED_DIR"); ok {
		c.Shared.Dir = v
	}
	if v, ok := lookup(EnvPrefix + "ALLOW_EXEC"); ok {
		c.Shared.Exec.Enabled = v == "true" || v == "1"
	}
	if v, ok := lookup(EnvPrefix + "TRACK_MATS"); ok {
		c.Debug.TrackMats = v == "true" || v == "1"
	}
	if v, ok := lookup(EnvPrefix + "FEATURES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sFEATURES: %w", EnvPrefix, err)
		}
		c.Features.TargetCount = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	if err := safe.ValidateDimensions(c.Frame.Width, c.Frame.Height, "frame"); err != nil {
		errs = append(errs, err)
	}
	if err := c.FilterOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Output.Rotate {
	case 0, 90, 180, 270:
	default:
		errs = append(errs, fmt.Errorf("output rotation %d must be 0, 90, 180 or 270", c.Output.Rotate))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range 1-100", c.Output.JPEGQuality))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("batch workers %d must be at least 1", c.Batch.Workers))
	}
	if c.Batch.DPI < 1 {
		errs = append(errs, fmt.Errorf("batch dpi %d must be positive", c.Batch.DPI))
	}
	if c.Shared.Exec.Enabled && c.Shared.Exec.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("exec timeout must be positive when exec is enabled"))
	}
	for ext := range c.Shared.Exec.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("interpreter key %q must be a file extension", ext))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// FilterOptions translates the features section into filter options.
func (c Config) FilterOptions() features.Options {
	opts := features.DefaultOptions()
	opts.KernelSize = c.Features.KernelSize
	opts.Sigma = c.Features.Sigma
	opts.FastThreshold = c.Features.FastThreshold
	opts.Thickness = c.Features.Thickness
	opts.RichKeypoints = c.Features.RichKeypoints
	opts.Equalize = c.Features.Equalize
	opts.CLAHEClipLimit = c.Features.ClipLimit
	opts.CLAHETileSize = c.Features.TileSize
	return opts
}
