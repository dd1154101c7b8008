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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Authorization outcome classifications, recorded verbatim in the
// registry as auth_reason.
const (
	ReasonOK               = "OK"
	ReasonFileNotFound     = "File Not Found"
	ReasonFileReadError    = "File Read Error"
	ReasonContentMismatch  = "Content Mismatch"
	ReasonDriveAccessError = "Drive Access Error"
)

// authorize checks the required token file at the device root. Policy
// outcomes (missing file, unreadable file, wrong content) are values,
// not errors; only a drive-level access failure classifies as
// StateAccessError. The comparison is byte-exact after trimming
// surrounding whitespace.
func (e *Engine) authorize(mountPath string) (State, string) {
	tokenPath := filepath.Join(mountPath, e.cfg.RequiredFile)

	if _, err := e.fs.Stat(tokenPath); err != nil {
		if os.IsNotExist(err) {
			return StateFailedAuth, ReasonFileNotFound
		}
		log.Error().Err(err).Str("path", tokenPath).Msg("drive access error during file check")
		return StateAccessError, reasonWithClass(ReasonDriveAccessError, err)
	}

	f, err := e.fs.Open(tokenPath)
	if err != nil {
		log.Error().Err(err).Str("path", tokenPath).Msg("failed to read token file")
		return StateFailedAuth, reasonWithClass(ReasonFileReadError, err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, maxTokenFileSize+1))
	if err != nil {
		log.Error().Err(err).Str("path", tokenPath).Msg("failed to read token file")
		return StateFailedAuth, reasonWithClass(ReasonFileReadError, err)
	}
	if len(data) > maxTokenFileSize {
		// A token file this large is not a credential.
		return StateFailedAuth, ReasonContentMismatch
	}

	content := strings.TrimSpace(string(data))
	if content != e.cfg.ExpectedKey {
		log.Debug().Str("path", tokenPath).Msg("token content mismatch")
		return StateFailedAuth, ReasonContentMismatch
	}
	return StateAllowed, ReasonOK
}

// reasonWithClass tags a failure reason with the concrete error type so
// the registry keeps the diagnostic, e.g. "File Read Error (*fs.PathError)".
func reasonWithClass(reason string, err error) string {
	return fmt.Sprintf("%s (%T)", reason, err)
}

// maxTokenFileSize bounds the token read to keep a hostile device from
// exhausting memory.
const maxTokenFileSize = 1 * 1024 * 1024
