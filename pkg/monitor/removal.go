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
	"github.com/rs/zerolog/log"
)

// handleRemoval reconciles a detach notification. The durable state
// becomes removed even after a voluntary eject; the device is physically
// gone either way. A removal for an identity with no record is a
// legitimate race (yanked before arrival processing recorded it) and
// takes no registry action.
func (e *Engine) handleRemoval(deviceID string) {
	log.Info().Str("device_id", deviceID).Msg("usb drive removal detected")

	if e.transient.get(deviceID) == StateEjected {
		log.Info().
			Str("device_id", deviceID).
			Msg("removal consistent with prior eject")
	}
	e.transient.set(deviceID, StateRemoved)

	rec, ok := e.store.Get(deviceID)
	if !ok {
		log.Debug().Str("device_id", deviceID).Msg("removal for untracked device, nothing to update")
		return
	}

	rec.LastState = string(StateRemoved)
	rec.LastSeen = registry.Timestamp(e.clock.Now())
	e.saveRegistry()
}
