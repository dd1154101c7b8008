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

// watch owns one subscription to the volume event source. Any
// subscription-level failure is survived by re-subscribing after a fixed
// backoff; only shutdown ends the loop. The arrival and removal watchers
// run independently so a failure on one side never stalls the other.
func (e *Engine) watch(kind volume.EventKind) {
	defer e.watcherWG.Done()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		sub, err := e.source.Subscribe(kind)
		if err != nil {
			log.Error().
				Err(err).
				Str("watcher", kind.String()).
				Dur("backoff", e.resubscribeDelay).
				Msg("subscription failed, retrying")
			if !e.sleep(e.resubscribeDelay) {
				return
			}
			continue
		}

		err = e.pump(sub)
		sub.Close()
		if err == nil {
			// pump only returns nil on shutdown
			return
		}

		log.Error().
			Err(err).
			Str("watcher", kind.String()).
			Dur("backoff", e.resubscribeDelay).
			Msg("subscription broke, re-subscribing")
		if !e.sleep(e.resubscribeDelay) {
			return
		}
	}
}

// pump polls the subscription with a short timeout so shutdown is
// observed promptly, and forwards events onto the queue.
func (e *Engine) pump(sub volume.Subscription) error {
	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		evt, ok, err := sub.Next(e.pollTimeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		select {
		case e.queue <- evt:
		case <-e.stop:
			return nil
		}
	}
}
