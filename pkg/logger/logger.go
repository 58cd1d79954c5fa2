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

// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

func init() {
	// Users of our logging will always adhere to these global settings:
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldInteger = false
	zerolog.DurationFieldUnit = time.Millisecond
}

// Config configures the logger.
type Config struct { //nolint:govet // Don't care about alignment.
	Level       string `yaml:"level" json:"level" env:"LOG_LEVEL" doc:"Log level. One of: trace, debug, info, warn, error, fatal, panic"`
	Console     bool   `yaml:"console" json:"console" env:"LOG_CONSOLE" doc:"Logging includes terminal colors"`
	Caller      bool   `yaml:"caller" json:"caller" env:"LOG_CALLER" doc:"Annotate each line with file:line"`
	SampleEvery uint32 `yaml:"sampleEvery" json:"sampleEvery" env:"LOG_SAMPLE_EVERY" doc:"Keep one in N debug and trace lines; 0 or 1 keeps all"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		Level:   zerolog.InfoLevel.String(),
		Console: false,
		Caller:  true,
	}
}

// termOut returns a ConsoleWriter if we detect a tty or console config,
// otherwise out as is, since we're assuming we're running under docker.
func termOut(c *Config, out io.Writer, tty bool) io.Writer {
	if c.Console || tty {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02T15:04:05.000000", // Omitting timezone on console.
		}
	}

	return out
}

// Build returns a logger writing to out as described by the config.
func Build(c *Config, out io.Writer, tty bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("logger level: %w", err)
	}

	ctx := zerolog.New(termOut(c, out, tty)).Level(level).With().Timestamp()
	if c.Caller {
		ctx = ctx.Caller()
	}

	log := ctx.Logger()

	if c.SampleEvery > 1 {
		// Decode workers log every frame at trace.
		every := &zerolog.BasicSampler{N: c.SampleEvery}
		log = log.Sample(zerolog.LevelSampler{DebugSampler: every, TraceSampler: every})
	}

	return log, nil
}

// New returns a logger on stdout as described by the config.
// Panics in case of an invalid configuration.
func New(c *Config) zerolog.Logger {
	log, err := Build(c, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
	if err != nil {
		panic(err.Error())
	}

	return log
}
