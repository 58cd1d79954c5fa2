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

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/opener"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/config"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/logger"
)

const (
	configFileName = "config.yaml"
	envPrefix      = "CLIPD_"
)

//nolint:gochecknoglobals // Needed for makefile injection.
var (
	// Version is provided by the makefile.
	Version = "v0"
	// Revision is a git tag provided by the makefile.
	Revision = "0"
	// Created is a date provided by the makefile.
	Created = "0000-00-00"
)

// displayConfig is the geometry the headless display asks clips for.
type displayConfig struct { //nolint:govet // Don't care about alignment.
	Width    int    `yaml:"width" json:"width" env:"WIDTH" doc:"Box width in logical pixels"`
	Height   int    `yaml:"height" json:"height" env:"HEIGHT" doc:"Box height in logical pixels"`
	Factor   int    `yaml:"factor" json:"factor" env:"FACTOR" doc:"Device pixels per logical pixel"`
	FPS      int    `yaml:"fps" json:"fps" env:"FPS" doc:"Display refresh rate"`
	Rounding string `yaml:"rounding" json:"rounding" env:"ROUNDING" doc:"One of: none, small, large, ellipse"`
	StatsLog bool   `yaml:"statsLog" json:"statsLog" env:"STATS_LOG" doc:"Log pool stats every second"`
}

// clipdConfig configures the daemon itself.
type clipdConfig struct { //nolint:govet // Don't care about alignment.
	ServiceSocketRoot string        `yaml:"serviceSocketRoot" json:"serviceSocketRoot" env:"SOCKET_ROOT" doc:"Directory of the gRPC health socket"`
	MetricsAddr       string        `yaml:"metricsAddr" json:"metricsAddr" env:"METRICS_ADDR" doc:"Prometheus listen address; empty disables"`
	Clips             []string      `yaml:"clips" json:"clips" env:"CLIPS" envSeparator:"," doc:"Clip files to play"`
	Display           displayConfig `yaml:"display" json:"display" envPrefix:"DISPLAY_"`
}

// mainConfig is the master config for the executable.
type mainConfig struct { //nolint:govet // Don't care about alignment.
	Clipd  clipdConfig   `yaml:"clipd" json:"clipd"`
	Clip   clip.Config   `yaml:"clip" json:"clip"`
	Codec  opener.Config `yaml:"codec" json:"codec"`
	Logger logger.Config `yaml:"logger" json:"logger"`
}

func defaultConfig() mainConfig {
	return mainConfig{
		Clipd: clipdConfig{
			ServiceSocketRoot: "/tmp",
			MetricsAddr:       ":9108",
			Display: displayConfig{
				Width:    320,
				Height:   240,
				Factor:   1,
				FPS:      60,
				Rounding: clip.RoundingNone.String(),
			},
		},
		Clip:   clip.ConfigDefault(),
		Codec:  opener.ConfigDefault(),
		Logger: logger.ConfigDefault(),
	}
}

type displayConfigError struct {
	reason string
}

func (e *displayConfigError) Error() string {
	return "clipd display config: " + e.reason
}

// Validate implements config.Validator.
func (c *mainConfig) Validate() error {
	d := &c.Clipd.Display

	switch {
	case d.Width < 1 || d.Height < 1:
		return &displayConfigError{"width and height must be positive"}
	case d.Factor < 1:
		return &displayConfigError{"factor must be at least 1"}
	case d.FPS < 1:
		return &displayConfigError{"fps must be at least 1"}
	}

	if _, err := clip.ParseRounding(d.Rounding); err != nil {
		return &displayConfigError{err.Error()}
	}

	switch c.Codec.GifDecoder {
	case opener.GifDecoderGo, opener.GifDecoderFfmpeg:
	default:
		return fmt.Errorf("codec gifDecoder: unknown decoder %q", c.Codec.GifDecoder)
	}

	return c.Clip.Validate()
}

var currentConfig = defaultConfig() //nolint:gochecknoglobals  // Static config

// initConfig initializes the config by calling config.Init() and handling
// the results. May exit the program if there is an error.
func initConfig() {
	err := config.Init(configFileName, envPrefix, &currentConfig)
	if err != nil {
		// A missing config file is not fatal. Anything else is.
		ncError := &config.NoConfigError{}
		if !errors.As(err, &ncError) {
			fmt.Println(err.Error()) //nolint:forbidigo // OK to print here.
			os.Exit(-1)
		}
	}

	log = logger.New(&currentConfig.Logger)

	binName := filepath.Base(os.Args[0])
	log.Info().Msg(fmt.Sprintf("%s %s rev:%s created:%s", binName, Version, Revision, Created))
	log.Info().Interface("config", &currentConfig).Msg("effective config")

	// If there was no config file, we log it here.
	if err != nil {
		log.Info().Msg(err.Error())
	}
}

// printDefaultConfig writes the default config as YAML, for seeding a
// config.yaml.
func printDefaultConfig() error {
	cfg := defaultConfig()

	b, err := config.Marshal(&cfg)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(b)

	return err
}
