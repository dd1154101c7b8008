// USB Logger
// Copyright (c) 2026 The USB Logger Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of USB Logger.
//
// USB Logger is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// USB Logger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with USB Logger.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crenta/usblogger/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	AppVersion    = "1.2.0"
	SchemaVersion = 1
	CfgEnv        = "USBLOGGER_CFG"

	CfgFile      = "usblogger.toml"
	LogFile      = "usblogger.log"
	RegistryFile = "devices.json"

	EnumNone = "none"
	EnumRoot = "root"
)

// ErrMissingAuthKey is returned when no expected auth key is configured.
// The engine cannot authorize anything without it, so startup must abort.
var ErrMissingAuthKey = errors.New("auth.expected_key is required")

type Values struct {
	Paths        Paths       `toml:"paths,omitempty"`
	Timings      Timings     `toml:"timings,omitempty"`
	Auth         Auth        `toml:"auth"`
	Enumeration  Enumeration `toml:"enumeration,omitempty"`
	ConfigSchema int         `toml:"config_schema"`
	DebugLogging bool        `toml:"debug_logging"`
}

type Paths struct {
	// RequiredFile is the relative path of the token file expected at the
	// root of every allowed device.
	RequiredFile string `toml:"required_file,omitempty"`
	LogFile      string `toml:"log_file,omitempty"`
}

type Timings struct {
	// PollIntervalSecs is the WITHIN interval used for WMI event queries.
	PollIntervalSecs int `toml:"poll_interval,omitempty"`
	// MountDelaySecs is how long to wait after arrival before touching
	// the filesystem, to let the OS finish mounting.
	MountDelaySecs int `toml:"mount_stability_delay,omitempty"`
}

type Auth struct {
	// ExpectedKey is the shared secret that must appear verbatim (modulo
	// surrounding whitespace) in the required file. Required.
	ExpectedKey string `toml:"expected_key"`
}

type Enumeration struct {
	// Level is "none" or "root". Root enumerates the immediate children
	// of the device root after the authorization check.
	Level        string `toml:"level,omitempty"`
	MaxRootFiles int    `toml:"max_root_files,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Paths: Paths{
		RequiredFile: "auth_key.txt",
		LogFile:      LogFile,
	},
	Timings: Timings{
		PollIntervalSecs: 2,
		MountDelaySecs:   3,
	},
	Enumeration: Enumeration{
		Level:        EnumNone,
		MaxRootFiles: 100,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top, so fields
	// not present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	level := strings.ToLower(newVals.Enumeration.Level)
	if level != EnumNone && level != EnumRoot {
		log.Warn().Msgf(
			"invalid enumeration level %q, defaulting to %q",
			newVals.Enumeration.Level, EnumNone,
		)
		level = EnumNone
	}
	newVals.Enumeration.Level = level

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the startup-fatal conditions that the engine depends on.
func (c *Instance) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if strings.TrimSpace(c.vals.Auth.ExpectedKey) == "" {
		return ErrMissingAuthKey
	}
	return nil
}

func (c *Instance) RequiredFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Paths.RequiredFile
}

func (c *Instance) LogFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Paths.LogFile
}

func (c *Instance) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Timings.PollIntervalSecs) * time.Second
}

func (c *Instance) MountDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Timings.MountDelaySecs) * time.Second
}

func (c *Instance) ExpectedKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Auth.ExpectedKey
}

func (c *Instance) EnumLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Enumeration.Level
}

func (c *Instance) MaxRootFiles() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Enumeration.MaxRootFiles
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}
