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
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

const (
	fsctlLockVolume          = 0x00090018
	fsctlDismountVolume      = 0x00090020
	fsctlUnlockVolume        = 0x0009001C
	ioctlStorageMediaRemoval = 0x002D4804
	ioctlStorageEjectMedia   = 0x002D4808

	lockRetries    = 3
	lockRetryDelay = 500 * time.Millisecond
)

type winEjector struct{}

// NewEjector returns an Ejector that dismounts and ejects a volume with
// DeviceIoControl: lock (best effort, retried), dismount, eject, unlock.
// Success is defined by the eject IOCTL alone.
func NewEjector() Ejector {
	return winEjector{}
}

func (winEjector) Eject(devicePath string) bool {
	pathPtr, err := windows.UTF16PtrFromString(devicePath)
	if err != nil {
		log.Error().Err(err).Str("path", devicePath).Msg("invalid device path")
		return false
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		log.Error().Err(err).Str("path", devicePath).Msg("failed to open volume handle")
		return false
	}
	defer func() {
		if closeErr := windows.CloseHandle(handle); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", devicePath).Msg("failed to close volume handle")
		}
	}()

	locked := lockVolume(handle, devicePath)
	defer func() {
		if locked {
			if unlockErr := ioctl(handle, fsctlUnlockVolume); unlockErr != nil {
				log.Warn().Err(unlockErr).Str("path", devicePath).Msg("failed to unlock volume")
			}
		}
	}()

	// Dismount is required before removable media can be ejected.
	if err := ioctl(handle, fsctlDismountVolume); err != nil {
		log.Error().Err(err).Str("path", devicePath).Msg("failed to dismount volume")
		return false
	}

	// Release the media-removal lock so the eject is not blocked. Best
	// effort; some drives reject this IOCTL entirely.
	if err := allowRemoval(handle); err != nil {
		log.Debug().Err(err).Str("path", devicePath).Msg("could not clear media removal lock")
	}

	if err := ioctl(handle, ioctlStorageEjectMedia); err != nil {
		log.Error().Err(err).Str("path", devicePath).Msg("failed to eject media")
		return false
	}

	log.Info().Str("path", devicePath).Msg("volume dismounted and media ejected")
	return true
}

// lockVolume tries to get an exclusive lock so the dismount is clean.
// Sharing violations are retried; a volume that stays busy is dismounted
// without the lock, matching how Windows itself force-dismounts.
func lockVolume(handle windows.Handle, devicePath string) bool {
	for attempt := 1; attempt <= lockRetries; attempt++ {
		err := ioctl(handle, fsctlLockVolume)
		if err == nil {
			return true
		}

		retryable := errors.Is(err, windows.ERROR_ACCESS_DENIED) ||
			errors.Is(err, windows.ERROR_BUSY)
		if retryable && attempt < lockRetries {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("path", devicePath).
				Msg("volume lock busy, retrying")
			time.Sleep(lockRetryDelay)
			continue
		}

		log.Warn().Err(err).Str("path", devicePath).Msg("proceeding without volume lock")
		return false
	}
	return false
}

func ioctl(handle windows.Handle, code uint32) error {
	var returned uint32
	return windows.DeviceIoControl(handle, code, nil, 0, nil, 0, &returned, nil)
}

func allowRemoval(handle windows.Handle) error {
	// PREVENT_MEDIA_REMOVAL with PreventMediaRemoval = FALSE
	var prevent byte
	var returned uint32
	return windows.DeviceIoControl(
		handle, ioctlStorageMediaRemoval, &prevent, 1, nil, 0, &returned, nil,
	)
}
