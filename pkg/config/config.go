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

// Package config loads executable configuration from the environment and a
// YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// NoConfigError indicates that we couldn't find a config file.
// This is usually OK and should be treated as a warning.
type NoConfigError struct {
	Path string
}

func (e *NoConfigError) Error() string {
	return "cannot find config file [" + e.Path + "], continuing with defaults"
}

// Validator is implemented by configs that can check themselves once loaded.
type Validator interface {
	Validate() error
}

// parseFile overwrites fields of out with those present in the YAML file.
func parseFile(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &NoConfigError{path}
	}

	if err != nil {
		return fmt.Errorf("failed to read config file [%s]: %w", path, err)
	}

	if err = yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to parse config file [%s]: %w", path, err)
	}

	return nil
}

// parseEnv parses the environment and overwrites defaults in 'out'.
func parseEnv(envPrefix string, out interface{}) error {
	if err := env.Parse(out, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("config failed to parse environment: %w", err)
	}

	return nil
}

// Init initializes 'out' based on the environment and then a config file,
// which overrides the environment.
//
// The 'envPrefix' is prefixed to the names of any environment variables
// that we look for, so e.g., if 'envPrefix' is "APP_" and there's a struct
// tag saying $HTTP_PORT, the result will come from $APP_HTTP_PORT.
//
// A missing file yields *NoConfigError after 'out' is fully initialized and
// validated. If 'out' is a Validator, an invalid result is returned as an error.
func Init(path string, envPrefix string, out interface{}) error {
	if err := parseEnv(envPrefix, out); err != nil {
		return err
	}

	fileErr := parseFile(path, out)

	var ncErr *NoConfigError
	if fileErr != nil && !errors.As(fileErr, &ncErr) {
		return fileErr
	}

	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	return fileErr
}

// Marshal renders cfg as YAML, e.g. to print the effective config.
func Marshal(cfg interface{}) ([]byte, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return b, nil
}
