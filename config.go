package gsvk

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/gsvk/internal/logsrc"
)

// Config holds the user-facing renderer settings. It can be built in code,
// starting from DefaultConfig, or loaded from a TOML file:
//
//	upscale_multiplier = 2.0
//	mipmap = 2
//	log_level = "warning"
//	pipeline_cache_path = "cache/vulkan_pipelines.bin"
type Config struct {
	// UpscaleMultiplier scales the readback staging buffer. Values below 1
	// are treated as 1.
	UpscaleMultiplier float32 `toml:"upscale_multiplier"`

	// Mipmap enables mip chains for sampled RGBA8 textures when above 1.
	Mipmap int `toml:"mipmap"`

	// DisableSafeFeatures skips the initial clear of new render targets and
	// depth buffers; they are marked discarded instead.
	DisableSafeFeatures bool `toml:"disable_safe_features"`

	// PipelineCachePath is loaded at init and written by Destroy when set.
	PipelineCachePath string `toml:"pipeline_cache_path"`

	// LogLevel is the level of the GS log source, e.g. "info" or "warning".
	// Empty inherits from the parent source.
	LogLevel string `toml:"log_level"`

	// Debug enables invariant checks such as render-pass area containment.
	Debug bool `toml:"debug"`

	// PoolMaxAge is the number of frames a recycled surface may stay unused
	// before AgePool destroys it.
	PoolMaxAge int `toml:"pool_max_age"`

	// ShaderDir overrides the embedded shader sources with files from disk.
	ShaderDir string `toml:"shader_dir"`

	// FramesInFlight is the number of frames the context rotates through.
	// It is read by callers that build the driver context from a Config.
	FramesInFlight int `toml:"frames_in_flight"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		UpscaleMultiplier: 1,
		Mipmap:            1,
		LogLevel:          "",
		PoolMaxAge:        60,
		FramesInFlight:    2,
	}
}

// ParseConfig decodes TOML data over DefaultConfig. Unknown keys are
// rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return Config{}, fmt.Errorf("gsvk: parse config: unknown keys %s: %w", strings.Join(keys, ", "), err)
		}
		return Config{}, fmt.Errorf("gsvk: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes a TOML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return Config{}, fmt.Errorf("gsvk: load config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) validate() error {
	if _, err := logsrc.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("gsvk: config: %w", err)
	}
	if c.Mipmap < 0 {
		return fmt.Errorf("gsvk: config: negative mipmap mode %d", c.Mipmap)
	}
	if c.PoolMaxAge < 0 {
		return fmt.Errorf("gsvk: config: negative pool_max_age %d", c.PoolMaxAge)
	}
	return nil
}

func (c *Config) upscale() float32 {
	return max(c.UpscaleMultiplier, 1)
}
