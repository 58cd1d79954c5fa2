// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clip

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// BackoffConfig shapes the delay between worker passes that could not
// publish a frame.
type BackoffConfig struct { //nolint:govet // Don't care about alignment.
	Initial    time.Duration `yaml:"initial" json:"initial" env:"INITIAL" doc:"First retry delay"`
	Max        time.Duration `yaml:"max" json:"max" env:"MAX" doc:"Delay cap"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER" doc:"Growth per retry"`
	JitterPct  float64       `yaml:"jitterPct" json:"jitterPct" env:"JITTER_PCT" doc:"Jitter as a fraction of the delay, 0 disables"`
}

// Config configures the clip managers.
type Config struct { //nolint:govet // Don't care about alignment.
	Threads            int           `yaml:"threads" json:"threads" env:"CLIP_THREADS" doc:"Number of manager goroutines"`
	MaxActivePerThread int           `yaml:"maxActivePerThread" json:"maxActivePerThread" env:"CLIP_MAX_ACTIVE" doc:"Clips a manager decodes at once; more are queued"`
	MaxQueuedPerThread int           `yaml:"maxQueuedPerThread" json:"maxQueuedPerThread" env:"CLIP_MAX_QUEUED" doc:"Queued clips per manager before Append fails"`
	WaitBackoff        BackoffConfig `yaml:"waitBackoff" json:"waitBackoff" envPrefix:"CLIP_WAIT_BACKOFF_"`
	PausedDelay        time.Duration `yaml:"pausedDelay" json:"pausedDelay" env:"CLIP_PAUSED_DELAY" doc:"Recheck interval for paused clips"`
	AutoPauseGifAfter  time.Duration `yaml:"autoPauseGifAfter" json:"autoPauseGifAfter" env:"CLIP_AUTO_PAUSE_GIF_AFTER" doc:"Pause a GIF nobody has drawn for this long"`
	MaxDropsPerTick    int           `yaml:"maxDropsPerTick" json:"maxDropsPerTick" env:"CLIP_MAX_DROPS_PER_TICK" doc:"Late video frames skipped per pass"`
	Scaler             string        `yaml:"scaler" json:"scaler" env:"CLIP_SCALER" doc:"Resampler. One of: catmullrom, bilinear, nearest"`
	LogLevel           string        `yaml:"logLevel" json:"logLevel" env:"CLIP_LOG_LEVEL" doc:"Log level for the clip package"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		Threads:            2,
		MaxActivePerThread: 8,
		MaxQueuedPerThread: 64,
		WaitBackoff: BackoffConfig{
			Initial:    5 * time.Millisecond,
			Max:        80 * time.Millisecond,
			Multiplier: 2,
		},
		PausedDelay:       250 * time.Millisecond,
		AutoPauseGifAfter: 5 * time.Second,
		MaxDropsPerTick:   4,
		Scaler:            "catmullrom",
		LogLevel:          zerolog.InfoLevel.String(),
	}
}

var scalers = map[string]draw.Interpolator{
	"catmullrom": draw.CatmullRom,
	"bilinear":   draw.ApproxBiLinear,
	"nearest":    draw.NearestNeighbor,
}

// interpolator returns the configured resampler, CatmullRom if unknown.
func (c *Config) interpolator() draw.Interpolator {
	if s, ok := scalers[c.Scaler]; ok {
		return s
	}

	return draw.CatmullRom
}

// ConfigError names the first invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("clip config %s: %s", e.Field, e.Reason)
}

// Validate reports the first setting the managers cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Threads < 1:
		return &ConfigError{"threads", "must be at least 1"}
	case c.MaxActivePerThread < 1:
		return &ConfigError{"maxActivePerThread", "must be at least 1"}
	case c.MaxQueuedPerThread < 0:
		return &ConfigError{"maxQueuedPerThread", "must not be negative"}
	case c.WaitBackoff.Initial <= 0:
		return &ConfigError{"waitBackoff.initial", "must be positive"}
	case c.WaitBackoff.Max < c.WaitBackoff.Initial:
		return &ConfigError{"waitBackoff.max", "must not be below initial"}
	case c.WaitBackoff.Multiplier < 1:
		return &ConfigError{"waitBackoff.multiplier", "must be at least 1"}
	case c.WaitBackoff.JitterPct < 0 || c.WaitBackoff.JitterPct >= 1:
		return &ConfigError{"waitBackoff.jitterPct", "must be in [0, 1)"}
	case c.PausedDelay <= 0:
		return &ConfigError{"pausedDelay", "must be positive"}
	case c.MaxDropsPerTick < 0:
		return &ConfigError{"maxDropsPerTick", "must not be negative"}
	}

	if _, ok := scalers[c.Scaler]; !ok {
		return &ConfigError{"scaler", "unknown resampler " + c.Scaler}
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return &ConfigError{"logLevel", err.Error()}
	}

	return nil
}
