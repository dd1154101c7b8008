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
	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/rs/zerolog/log"
)

// ejectDevice invokes the eject capability and reconciles the outcome
// into both the transient state and the durable record. It is the only
// writer of the eject counters. A panic from the capability counts as a
// failed eject, never as a dispatcher failure.
func (e *Engine) ejectDevice(drive, deviceID string, rec *registry.DeviceRecord) {
	log.Info().
		Str("drive", drive).
		Str("device_id", deviceID).
		Msg("attempting safe eject")

	e.transient.set(deviceID, StateEjecting)
	devicePath := volume.DevicePath(drive)

	success := e.callEjector(devicePath)

	outcome := StateEjected
	if success {
		rec.TotalEjectSuccess++
		log.Info().Str("drive", drive).Msg("successfully ejected drive")
	} else {
		outcome = StateFailedEject
		rec.TotalEjectFailure++
		log.Error().Str("path", devicePath).Msg("eject failed")
	}

	rec.LastState = string(outcome)
	rec.LastSeen = registry.Timestamp(e.clock.Now())
	e.transient.set(deviceID, outcome)
}

func (e *Engine) callEjector(devicePath string) (success bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("path", devicePath).
				Msg("eject capability panicked")
			success = false
		}
	}()
	return e.ejector.Eject(devicePath)
}
