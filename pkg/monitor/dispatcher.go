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
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/rs/zerolog/log"
)

// dispatch is the single consumer of the event queue. Handlers run
// synchronously on this goroutine, so a slow arrival (including its
// mount-stability wait) delays every event behind it. Watcher failures
// are survivable; a handler failure here means corrupted engine state,
// so it shuts the whole engine down.
func (e *Engine) dispatch() {
	defer close(e.dispatcherDone)

	for {
		select {
		case <-e.stop:
			return
		case evt := <-e.queue:
			if fatal := e.handle(evt); fatal {
				e.signalStop()
				return
			}
		}
	}
}

func (e *Engine) handle(evt volume.Event) (fatal bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("device_id", evt.DeviceID).
				Msg("unexpected dispatcher failure, shutting down")
			fatal = true
		}
	}()

	switch evt.Kind {
	case volume.Arrival:
		e.handleArrival(evt)
	case volume.Removal:
		e.handleRemoval(evt.DeviceID)
	}
	return false
}
