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

// Package registry holds the durable per-device summary. Records are keyed
// by the OS-assigned volume identity, created on first arrival and never
// deleted. The engine's dispatcher is the only writer; external consumers
// (the dashboard) read the persisted snapshot and must treat it as stale.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/crenta/usblogger/pkg/helpers/syncutil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Timestamp formats a time the way the registry stores it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// VolumeDetails is a best-effort metadata snapshot taken after mount.
// Values are strings so missing data can round-trip as empty.
type VolumeDetails struct {
	Name       string `json:"name,omitempty"`
	Filesystem string `json:"filesystem,omitempty"`
	Size       string `json:"size,omitempty"`
	FreeSpace  string `json:"free_space,omitempty"`
}

// EntryInfo describes one root-level entry captured during enumeration.
// Error is set instead of the other fields when stat failed for the entry.
type EntryInfo struct {
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
	Accessed string `json:"accessed,omitempty"`
	Error    string `json:"error,omitempty"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
}

// Enumeration is the result of a shallow listing of the device root.
type Enumeration struct {
	Entries   map[string]EntryInfo `json:"entries"`
	ScanError string               `json:"scan_error,omitempty"`
	Truncated bool                 `json:"truncated,omitempty"`
}

// DeviceRecord is the durable summary for one device identity.
type DeviceRecord struct {
	VolumeDetails     *VolumeDetails `json:"volume_details,omitempty"`
	Enumeration       *Enumeration   `json:"files_enumeration,omitempty"`
	FirstSeen         string         `json:"first_seen"`
	LastSeen          string         `json:"last_seen"`
	LastDriveLetter   string         `json:"last_drive_letter"`
	LastState         string         `json:"last_state"`
	AuthReason        string         `json:"auth_reason"`
	ArrivalCount      int            `json:"arrival_count"`
	TotalAuthSuccess  int            `json:"total_auth_success"`
	TotalAuthFailure  int            `json:"total_auth_failure"`
	TotalEjectSuccess int            `json:"total_eject_success"`
	TotalEjectFailure int            `json:"total_eject_failure"`
}

type snapshot struct {
	Devices   map[string]*DeviceRecord `json:"devices"`
	SavedAt   string                   `json:"saved_at"`
	SessionID string                   `json:"session_id"`
}

// Store persists DeviceRecords as an indented JSON snapshot, replaced
// whole-file on every save.
type Store struct {
	fs        afero.Fs
	clock     clockwork.Clock
	devices   map[string]*DeviceRecord
	path      string
	sessionID string
	mu        syncutil.RWMutex
}

// NewStore creates a store persisting to path. A nil clock defaults to
// the real clock.
func NewStore(fs afero.Fs, path string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		fs:        fs,
		clock:     clock,
		path:      path,
		sessionID: uuid.New().String(),
		devices:   make(map[string]*DeviceRecord),
	}
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// Load reads the snapshot from disk. A missing file is a fresh start, not
// an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Msg("no device registry file found, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to read device registry: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal device registry: %w", err)
	}

	if snap.Devices != nil {
		s.devices = snap.Devices
	}
	log.Debug().Int("devices", len(s.devices)).Msg("loaded device registry")
	return nil
}

// Save replaces the snapshot on disk. The write goes to a temp file first
// so a crash mid-save never leaves a truncated registry behind.
func (s *Store) Save() error {
	s.mu.RLock()
	snap := snapshot{
		SavedAt:   Timestamp(s.clock.Now()),
		SessionID: s.sessionID,
		Devices:   s.devices,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal device registry: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write device registry: %w", err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		// MemMapFs refuses to rename over an existing file.
		if removeErr := s.fs.Remove(s.path); removeErr != nil {
			return fmt.Errorf("failed to replace device registry: %w", err)
		}
		if err := s.fs.Rename(tmp, s.path); err != nil {
			return fmt.Errorf("failed to replace device registry: %w", err)
		}
	}

	log.Debug().Int("devices", len(s.devices)).Msg("saved device registry")
	return nil
}

// Get returns the record for a device identity, if one exists.
func (s *Store) Get(deviceID string) (*DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.devices[deviceID]
	return rec, ok
}

// Len returns the number of tracked devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// RecordArrival creates the record on first sight of an identity or
// increments its arrival counter, and stamps the checking state.
func (s *Store) RecordArrival(deviceID, driveLetter string, now time.Time) *DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := Timestamp(now)
	rec, ok := s.devices[deviceID]
	if !ok {
		rec = &DeviceRecord{
			FirstSeen:    ts,
			ArrivalCount: 1,
			AuthReason:   "Pending Check",
		}
		s.devices[deviceID] = rec
		log.Info().Str("device_id", deviceID).Msg("first time recording device")
	} else {
		rec.ArrivalCount++
	}

	rec.LastSeen = ts
	rec.LastDriveLetter = driveLetter
	rec.LastState = "checking"
	return rec
}
