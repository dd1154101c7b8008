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

// State is the transient, process-lifetime-only processing status of a
// device during one attach cycle. It is never persisted; the durable
// lifecycle label in the registry uses the same names.
type State string

const (
	StateChecking    State = "checking"
	StateRemoved     State = "removed"
	StateAllowed     State = "allowed"
	StateFailedAuth  State = "failed_auth"
	StateAccessError State = "access_error"
	StateEjecting    State = "ejecting"
	StateEjected     State = "ejected"
	StateFailedEject State = "failed_eject_dll"
)

// stateTracker maps device identities to their transient state. It is
// owned by the dispatcher goroutine; handlers run on that goroutine, so
// access needs no locking.
type stateTracker struct {
	states map[string]State
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]State)}
}

// get returns the empty state for identities never seen this process.
func (t *stateTracker) get(deviceID string) State {
	return t.states[deviceID]
}

func (t *stateTracker) set(deviceID string, s State) {
	t.states[deviceID] = s
}

// inFlight reports whether an arrival for the identity is already being
// processed, in which case a new arrival event is a duplicate to drop.
func (t *stateTracker) inFlight(deviceID string) bool {
	s := t.states[deviceID]
	return s == StateChecking || s == StateEjecting
}
