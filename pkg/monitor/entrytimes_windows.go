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

package monitor

import (
	"os"
	"syscall"
	"time"

	"github.com/crenta/usblogger/pkg/registry"
)

// entryTimes extracts creation and access times from the Windows file
// attribute data when available.
func entryTimes(info os.FileInfo) (created, accessed string) {
	attrs, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok || attrs == nil {
		return "", ""
	}
	created = registry.Timestamp(time.Unix(0, attrs.CreationTime.Nanoseconds()))
	accessed = registry.Timestamp(time.Unix(0, attrs.LastAccessTime.Nanoseconds()))
	return created, accessed
}
