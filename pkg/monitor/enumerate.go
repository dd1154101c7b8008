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
	"fmt"
	"path/filepath"
	"sort"

	"github.com/crenta/usblogger/pkg/registry"
	"github.com/rs/zerolog/log"
)

// enumerateRoot lists the immediate children of the device root for
// auditing. A stat failure on one entry becomes an error marker for that
// entry only; a failure to scan the root at all becomes a scan-level
// error. The listing stops at the configured maximum and is flagged as
// truncated rather than silently cut.
func (e *Engine) enumerateRoot(mountPath string) *registry.Enumeration {
	log.Info().Str("drive", mountPath).Msg("starting root file enumeration")
	enum := &registry.Enumeration{Entries: make(map[string]registry.EntryInfo)}

	dir, err := e.fs.Open(mountPath)
	if err != nil {
		log.Error().Err(err).Str("drive", mountPath).Msg("could not enumerate device root")
		enum.ScanError = fmt.Sprintf("scan failed: %v", err)
		return enum
	}
	names, err := dir.Readdirnames(-1)
	_ = dir.Close()
	if err != nil {
		log.Error().Err(err).Str("drive", mountPath).Msg("could not enumerate device root")
		enum.ScanError = fmt.Sprintf("scan failed: %v", err)
		return enum
	}

	// Deterministic order so truncation always keeps the same entries.
	sort.Strings(names)

	// Only entries that stat successfully count toward the maximum;
	// error markers are recorded on top of the limit.
	listed := 0
	for _, name := range names {
		if listed >= e.cfg.MaxRootFiles {
			log.Warn().
				Int("max", e.cfg.MaxRootFiles).
				Str("drive", mountPath).
				Msg("reached maximum root entries to list")
			enum.Truncated = true
			break
		}

		info, err := e.fs.Stat(filepath.Join(mountPath, name))
		if err != nil {
			log.Warn().Err(err).Str("entry", name).Msg("could not stat entry during enumeration")
			enum.Entries[name] = registry.EntryInfo{Error: fmt.Sprintf("stat failed: %v", err)}
			continue
		}

		created, accessed := entryTimes(info)
		enum.Entries[name] = registry.EntryInfo{
			Size:     info.Size(),
			Created:  created,
			Modified: registry.Timestamp(info.ModTime()),
			Accessed: accessed,
			IsDir:    info.IsDir(),
		}
		listed++
	}

	log.Info().
		Int("entries", len(enum.Entries)).
		Str("drive", mountPath).
		Msg("completed root file enumeration")
	return enum
}
