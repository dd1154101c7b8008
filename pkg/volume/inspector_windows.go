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

package volume

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yusufpapurcu/wmi"
)

//nolint:revive // field names must match the WMI class properties
type win32Volume struct {
	Label      *string
	Name       *string
	FileSystem *string
	Capacity   *uint64
	FreeSpace  *uint64
}

type wmiInspector struct{}

// NewInspector returns an Inspector backed by Win32_Volume WMI queries.
func NewInspector() Inspector {
	return wmiInspector{}
}

func (wmiInspector) Details(driveLetter string) (Details, error) {
	letter := strings.TrimRight(driveLetter, `\/`)
	query := fmt.Sprintf(
		"SELECT Name, Label, FileSystem, Capacity, FreeSpace "+
			"FROM Win32_Volume WHERE DriveLetter = '%s'",
		strings.ReplaceAll(letter, "'", `\'`),
	)

	var volumes []win32Volume
	if err := wmi.Query(query, &volumes); err != nil {
		return Details{}, fmt.Errorf("WMI volume query failed: %w", err)
	}
	if len(volumes) == 0 {
		return Details{}, fmt.Errorf("no Win32_Volume found for %s", letter)
	}

	v := volumes[0]
	d := Details{}
	// Prefer the user-facing label, fall back to the volume name.
	if v.Label != nil && *v.Label != "" {
		d.Name = *v.Label
	} else if v.Name != nil {
		d.Name = *v.Name
	}
	if v.FileSystem != nil {
		d.Filesystem = *v.FileSystem
	}
	if v.Capacity != nil {
		d.Size = strconv.FormatUint(*v.Capacity, 10)
	}
	if v.FreeSpace != nil {
		d.FreeSpace = strconv.FormatUint(*v.FreeSpace, 10)
	}
	return d, nil
}
