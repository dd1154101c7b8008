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
	"errors"
	"testing"

	"github.com/crenta/usblogger/pkg/config"
	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMount    = "/mnt/usb"
	testDeviceID = `\\?\Volume{11111111-2222-3333-4444-555555555555}\`
)

func arrivalEvent() volume.Event {
	return volume.Event{
		DriveLetter: testMount,
		DeviceID:    testDeviceID,
		Kind:        volume.Arrival,
	}
}

func TestHandleArrivalAuthorizedDevice(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "secret-key-123\n")

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, string(StateAllowed), rec.LastState)
	assert.Equal(t, ReasonOK, rec.AuthReason)
	assert.Equal(t, 1, rec.ArrivalCount)
	assert.Equal(t, 1, rec.TotalAuthSuccess)
	assert.Equal(t, 0, rec.TotalAuthFailure)
	assert.Equal(t, 0, env.ejector.callCount())

	require.NotNil(t, rec.VolumeDetails)
	assert.Equal(t, "TEST_USB", rec.VolumeDetails.Name)
	assert.Equal(t, "FAT32", rec.VolumeDetails.Filesystem)
}

func TestHandleArrivalTokenFileMissing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "")

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, ReasonFileNotFound, rec.AuthReason)
	assert.Equal(t, string(StateEjected), rec.LastState)
	assert.Equal(t, 1, rec.TotalAuthFailure)
	assert.Equal(t, 0, rec.TotalAuthSuccess)
	assert.Equal(t, 1, rec.TotalEjectSuccess)
	assert.Equal(t, 1, env.ejector.callCount())
	assert.Equal(t, volume.DevicePath(testMount), env.ejector.paths[0])
}

func TestHandleArrivalTokenContentMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "wrong-key")

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, ReasonContentMismatch, rec.AuthReason)
	assert.Equal(t, string(StateEjected), rec.LastState)
	assert.Equal(t, 1, env.ejector.callCount())
}

func TestHandleArrivalTokenWhitespaceTrimmed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "  secret-key-123 \r\n")

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, ReasonOK, rec.AuthReason)
	assert.Equal(t, string(StateAllowed), rec.LastState)
}

func TestHandleArrivalEjectFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.ejector.result = false
	env.mountDevice(t, testMount, "")

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, string(StateFailedEject), rec.LastState)
	assert.Equal(t, 0, rec.TotalEjectSuccess)
	assert.Equal(t, 1, rec.TotalEjectFailure)
	assert.Equal(t, StateFailedEject, env.engine.transient.get(testDeviceID))
}

func TestHandleArrivalEjectPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.ejector.result = true
	env.ejector.panics = true
	env.mountDevice(t, testMount, "")

	require.NotPanics(t, func() {
		env.engine.handleArrival(arrivalEvent())
	})

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, string(StateFailedEject), rec.LastState)
	assert.Equal(t, 1, rec.TotalEjectFailure)
}

func TestHandleArrivalDriveVanishedBeforeCheck(t *testing.T) {
	t.Parallel()

	// never create the mount dir: the drive is gone by check time
	env := newTestEnv(t, defaultTestConfig())

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, string(StateRemoved), rec.LastState)
	assert.Equal(t, 1, rec.ArrivalCount)
	assert.Equal(t, 0, rec.TotalAuthSuccess)
	assert.Equal(t, 0, rec.TotalAuthFailure)
	assert.Equal(t, 0, env.ejector.callCount())

	// the partial record must still have been persisted
	reload := registry.NewStore(env.fs, "/data/devices.json", nil)
	require.NoError(t, reload.Load())
	saved, ok := reload.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, string(StateRemoved), saved.LastState)
}

func TestHandleArrivalDuplicateWhileCheckingDropped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "secret-key-123")

	env.engine.transient.set(testDeviceID, StateChecking)
	env.engine.handleArrival(arrivalEvent())

	_, ok := env.store.Get(testDeviceID)
	assert.False(t, ok, "duplicate arrival must not create a record")
	assert.Equal(t, StateChecking, env.engine.transient.get(testDeviceID))
}

func TestHandleArrivalDuplicateWhileEjectingDropped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "secret-key-123")

	env.engine.transient.set(testDeviceID, StateEjecting)
	env.engine.handleArrival(arrivalEvent())

	_, ok := env.store.Get(testDeviceID)
	assert.False(t, ok)
}

func TestHandleArrivalReprocessedAfterFinalState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "secret-key-123")

	env.engine.handleArrival(arrivalEvent())
	env.engine.handleRemoval(testDeviceID)
	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, 2, rec.ArrivalCount)
	assert.Equal(t, 2, rec.TotalAuthSuccess)
}

func TestHandleArrivalExactlyOneAuthCounterPerArrival(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.mountDevice(t, testMount, "secret-key-123")

	for i := 0; i < 3; i++ {
		env.engine.handleArrival(arrivalEvent())
		env.engine.transient.set(testDeviceID, StateRemoved)
	}

	require.NoError(t, env.fs.Remove(testMount+"/auth_key.txt"))
	for i := 0; i < 2; i++ {
		env.engine.handleArrival(arrivalEvent())
		env.engine.transient.set(testDeviceID, StateRemoved)
	}

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, 5, rec.ArrivalCount)
	assert.Equal(t, 5, rec.TotalAuthSuccess+rec.TotalAuthFailure)
	assert.Equal(t, 3, rec.TotalAuthSuccess)
	assert.Equal(t, 2, rec.TotalAuthFailure)
}

func TestHandleArrivalDetailsRetryThenGiveUp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultTestConfig())
	env.inspector.err = errors.New("wmi not ready")
	env.mountDevice(t, testMount, "secret-key-123")

	env.engine.handleArrival(arrivalEvent())

	assert.Equal(t, int32(defaultDetailsAttempts), env.inspector.calls.Load())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Nil(t, rec.VolumeDetails, "details stay absent after retries are exhausted")
	assert.Equal(t, string(StateAllowed), rec.LastState, "missing details never block the lifecycle")
}

func TestHandleArrivalDriveAccessError(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	env := newTestEnv(t, cfg)
	env.mountDevice(t, testMount, "secret-key-123")
	env.engine.fs = &statErrFs{Fs: env.fs, failPath: testMount + "/auth_key.txt"}

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	assert.Contains(t, rec.AuthReason, ReasonDriveAccessError)
	assert.Contains(t, rec.AuthReason, "(*errors.errorString)", "registry keeps the error class")
	// access errors are treated as unauthorized and still eject
	assert.Equal(t, 1, env.ejector.callCount())
	assert.Equal(t, 1, rec.TotalAuthFailure)
}

func TestHandleArrivalRootEnumeration(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.EnumLevel = config.EnumRoot
	cfg.MaxRootFiles = 10
	env := newTestEnv(t, cfg)
	env.mountDevice(t, testMount, "secret-key-123")

	require.NoError(t, afero.WriteFile(env.fs, testMount+"/report.pdf", []byte("pdf"), 0o600))
	require.NoError(t, env.fs.MkdirAll(testMount+"/photos", 0o750))

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	require.NotNil(t, rec.Enumeration)
	assert.False(t, rec.Enumeration.Truncated)
	assert.Empty(t, rec.Enumeration.ScanError)
	require.Contains(t, rec.Enumeration.Entries, "report.pdf")
	require.Contains(t, rec.Enumeration.Entries, "photos")
	assert.False(t, rec.Enumeration.Entries["report.pdf"].IsDir)
	assert.True(t, rec.Enumeration.Entries["photos"].IsDir)
	assert.Equal(t, int64(3), rec.Enumeration.Entries["report.pdf"].Size)
}

func TestHandleArrivalEnumerationRunsForRejectedDevice(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.EnumLevel = config.EnumRoot
	env := newTestEnv(t, cfg)
	env.mountDevice(t, testMount, "")
	require.NoError(t, afero.WriteFile(env.fs, testMount+"/malware.exe", []byte("mz"), 0o600))

	env.engine.handleArrival(arrivalEvent())

	rec, ok := env.store.Get(testDeviceID)
	require.True(t, ok)
	require.NotNil(t, rec.Enumeration)
	assert.Contains(t, rec.Enumeration.Entries, "malware.exe")
	assert.Equal(t, string(StateEjected), rec.LastState)
}
