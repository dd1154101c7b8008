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

package monitor

import (
	"github.com/crenta/usblogger/pkg/config"
	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// handleArrival runs the full lifecycle for one attach: record the
// arrival, wait out the mount-stability delay, verify the drive is still
// there, fetch metadata, authorize, optionally enumerate, and eject on
// failure. Runs on the dispatcher goroutine.
func (e *Engine) handleArrival(evt volume.Event) {
	deviceID, drive := evt.DeviceID, evt.DriveLetter

	if e.transient.inFlight(deviceID) {
		log.Debug().
			Str("device_id", deviceID).
			Str("state", string(e.transient.get(deviceID))).
			Msg("ignoring duplicate arrival, device is being processed")
		return
	}

	log.Info().
		Str("drive", drive).
		Str("device_id", deviceID).
		Msg("usb drive arrival detected")

	e.transient.set(deviceID, StateChecking)
	rec := e.store.RecordArrival(deviceID, drive, e.clock.Now())

	// The mount-stability delay intentionally blocks the whole dispatch
	// pipeline; one slow arrival delays everything behind it.
	if !e.sleep(e.cfg.MountDelay) {
		return
	}

	exists, err := afero.DirExists(e.fs, drive)
	if err != nil || !exists {
		log.Warn().
			Str("drive", drive).
			Str("device_id", deviceID).
			Msg("drive disappeared before file check")
		e.transient.set(deviceID, StateRemoved)
		rec.LastState = string(StateRemoved)
		rec.LastSeen = registry.Timestamp(e.clock.Now())
		e.saveRegistry()
		return
	}

	e.fetchDetails(drive, rec)

	outcome, reason := e.authorize(drive)
	rec.AuthReason = reason
	e.transient.set(deviceID, outcome)

	if outcome == StateAllowed {
		log.Info().Str("drive", drive).Str("reason", reason).Msg("authorization succeeded")
	} else {
		log.Warn().Str("drive", drive).Str("reason", reason).Msg("authorization failed")
	}

	// Enumeration is an audit feature, it runs for allowed and rejected
	// devices alike.
	if e.cfg.EnumLevel == config.EnumRoot {
		rec.Enumeration = e.enumerateRoot(drive)
	}

	if outcome != StateAllowed {
		e.ejectDevice(drive, deviceID, rec)
	}

	final := e.transient.get(deviceID)
	if final != StateEjecting && final != StateEjected && final != StateFailedEject {
		rec.LastState = string(final)
	}
	rec.LastSeen = registry.Timestamp(e.clock.Now())

	if outcome == StateAllowed {
		rec.TotalAuthSuccess++
	} else {
		rec.TotalAuthFailure++
	}

	e.saveRegistry()
}

// fetchDetails queries volume metadata with a small bounded retry, since
// WMI often lags the mount by a moment. Absence is logged, never fatal.
func (e *Engine) fetchDetails(drive string, rec *registry.DeviceRecord) {
	for attempt := 1; attempt <= e.detailsAttempts; attempt++ {
		details, err := e.inspector.Details(drive)
		if err == nil {
			rec.VolumeDetails = &registry.VolumeDetails{
				Name:       details.Name,
				Filesystem: details.Filesystem,
				Size:       details.Size,
				FreeSpace:  details.FreeSpace,
			}
			return
		}

		log.Debug().
			Err(err).
			Str("drive", drive).
			Int("attempt", attempt).
			Msg("volume details query failed")

		if attempt < e.detailsAttempts && !e.sleep(e.detailsRetryDelay) {
			return
		}
	}

	log.Warn().Str("drive", drive).Msg("could not retrieve volume details, summary may be incomplete")
}
