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

//go:build !windows

package volume

import (
	"time"
)

// The WMI-backed capabilities only exist on Windows. These stubs keep the
// package buildable elsewhere so the engine and its tests stay portable.

type unsupportedSource struct{}

func NewSource(time.Duration) Source {
	return unsupportedSource{}
}

func (unsupportedSource) Subscribe(EventKind) (Subscription, error) {
	return nil, ErrUnsupportedPlatform
}

type unsupportedInspector struct{}

func NewInspector() Inspector {
	return unsupportedInspector{}
}

func (unsupportedInspector) Details(string) (Details, error) {
	return Details{}, ErrUnsupportedPlatform
}

type unsupportedEjector struct{}

func NewEjector() Ejector {
	return unsupportedEjector{}
}

func (unsupportedEjector) Eject(string) bool {
	return false
}
