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

// Package volume defines the narrow OS capabilities the lifecycle engine
// depends on: volume-change notifications, volume metadata queries and
// safe ejection. Windows implementations live behind build tags so the
// engine itself stays platform-neutral and testable with fakes.
package volume

import (
	"errors"
	"strings"
	"time"
)

// ErrUnsupportedPlatform is returned by capabilities that only exist on
// Windows.
var ErrUnsupportedPlatform = errors.New("volume monitoring is only supported on windows")

// EventKind distinguishes the two notification streams.
type EventKind int

const (
	Arrival EventKind = iota
	Removal
)

func (k EventKind) String() string {
	if k == Arrival {
		return "arrival"
	}
	return "removal"
}

// Event is one volume-change notification. DriveLetter is the mount point
// path (e.g. "E:\") and is only set on arrivals. DeviceID is the stable
// OS-assigned volume identity present on both kinds.
type Event struct {
	DriveLetter string
	DeviceID    string
	Kind        EventKind
}

// Subscription is one live notification subscription. Next blocks for at
// most timeout; ok is false without an error when the timeout elapsed. A
// non-nil error means the subscription is broken and must be replaced.
type Subscription interface {
	Next(timeout time.Duration) (evt Event, ok bool, err error)
	Close()
}

// Source produces removable-media volume-change subscriptions. A Source
// must tolerate repeated Subscribe calls so a watcher can re-subscribe
// after failure.
type Source interface {
	Subscribe(kind EventKind) (Subscription, error)
}

// Details is a point-in-time metadata snapshot for a mounted volume.
// Sizes are decimal strings so missing values stay distinguishable.
type Details struct {
	Name       string
	Filesystem string
	Size       string
	FreeSpace  string
}

// Inspector queries metadata for a mounted volume by its drive letter.
type Inspector interface {
	Details(driveLetter string) (Details, error)
}

// Ejector dismounts and ejects a volume by its device path. Failures are
// reported as false, never as a panic across the boundary.
type Ejector interface {
	Eject(devicePath string) bool
}

// DevicePath converts a mount point like "E:\" to the device path form
// the eject capability expects ("\\.\E:").
func DevicePath(driveLetter string) string {
	return `\\.\` + strings.TrimRight(driveLetter, `\/`)
}
