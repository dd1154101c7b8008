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

//go:build windows

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"fyne.io/systray"
	"github.com/crenta/usblogger/pkg/config"
	"github.com/crenta/usblogger/pkg/helpers"
	"github.com/crenta/usblogger/pkg/monitor"
	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	_ "embed"
)

//go:embed systrayicon.ico
var icon []byte

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	dataDir := helpers.ExeDir()

	cfg, err := config.NewConfig(dataDir, config.BaseDefaults)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	err = helpers.InitLogging(dataDir, cfg.LogFile(), []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr},
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		fmt.Println("Set auth.expected_key in", filepath.Join(dataDir, config.CfgFile))
		os.Exit(1)
	}

	fs := afero.NewOsFs()
	clock := clockwork.NewRealClock()
	store := registry.NewStore(fs, filepath.Join(dataDir, config.RegistryFile), clock)
	if err := store.Load(); err != nil {
		// a corrupt registry is never clobbered silently
		log.Error().Err(err).Msg("could not load device registry")
		fmt.Println("Error loading device registry:", err)
		os.Exit(1)
	}

	engine := monitor.New(monitor.Config{
		RequiredFile: cfg.RequiredFile(),
		ExpectedKey:  cfg.ExpectedKey(),
		EnumLevel:    cfg.EnumLevel(),
		MountDelay:   cfg.MountDelay(),
		MaxRootFiles: cfg.MaxRootFiles(),
	}, monitor.Deps{
		Source:    volume.NewSource(cfg.PollInterval()),
		Inspector: volume.NewInspector(),
		Ejector:   volume.NewEjector(),
		Store:     store,
		Fs:        fs,
		Clock:     clock,
	})

	if err := engine.Start(); err != nil {
		log.Error().Err(err).Msg("error starting monitor")
		fmt.Println("Error starting monitor:", err)
		os.Exit(1)
	}

	go func() {
		select {
		case <-sigs:
		case <-engine.Done():
		}
		systray.Quit()
	}()

	systray.Run(onReady(dataDir), func() {})

	engine.Stop()
	os.Exit(0)
}

func onReady(dataDir string) func() {
	return func() {
		systray.SetIcon(icon)
		systray.SetTitle("USB Logger")
		systray.SetTooltip("USB Logger v" + config.AppVersion)

		mEditConfig := systray.AddMenuItem("Edit Config", "Edit the USB Logger config file")
		mOpenLog := systray.AddMenuItem("View Log", "View the USB Logger log file")
		mOpenRegistry := systray.AddMenuItem("Device Registry", "View the device summary registry")

		systray.AddSeparator()
		mVersion := systray.AddMenuItem("Version "+config.AppVersion, "")
		mVersion.Disable()

		systray.AddSeparator()
		mQuit := systray.AddMenuItem("Quit", "Quit and stop monitoring")

		go func() {
			for {
				select {
				case <-mEditConfig.ClickedCh:
					err := exec.Command("explorer", filepath.Join(dataDir, config.CfgFile)).Start()
					if err != nil {
						log.Error().Err(err).Msg("failed to open config file")
					}
				case <-mOpenLog.ClickedCh:
					err := exec.Command("explorer", filepath.Join(dataDir, config.LogFile)).Start()
					if err != nil {
						log.Error().Err(err).Msg("failed to open log file")
					}
				case <-mOpenRegistry.ClickedCh:
					err := exec.Command("explorer", filepath.Join(dataDir, config.RegistryFile)).Start()
					if err != nil {
						log.Error().Err(err).Msg("failed to open device registry")
					}
				case <-mQuit.ClickedCh:
					systray.Quit()
					return
				}
			}
		}()
	}
}
