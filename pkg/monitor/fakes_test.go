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
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/spf13/afero"
)

// fakeSub is a scriptable subscription. Events and errors are injected
// through channels; Next times out like the real WMI poll.
type fakeSub struct {
	events chan volume.Event
	errs   chan error
	closed atomic.Bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		events: make(chan volume.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (s *fakeSub) Next(timeout time.Duration) (volume.Event, bool, error) {
	select {
	case evt := <-s.events:
		return evt, true, nil
	case err := <-s.errs:
		return volume.Event{}, false, err
	case <-time.After(timeout):
		return volume.Event{}, false, nil
	}
}

func (s *fakeSub) Close() {
	s.closed.Store(true)
}

type fakeSource struct {
	arrivals  *fakeSub
	removals  *fakeSub
	failFirst map[volume.EventKind]int
	counts    map[volume.EventKind]int
	mu        sync.Mutex
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		arrivals:  newFakeSub(),
		removals:  newFakeSub(),
		failFirst: make(map[volume.EventKind]int),
		counts:    make(map[volume.EventKind]int),
	}
}

func (s *fakeSource) Subscribe(kind volume.EventKind) (volume.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[kind]++
	if s.failFirst[kind] > 0 {
		s.failFirst[kind]--
		return nil, errors.New("subscription unavailable")
	}
	if kind == volume.Arrival {
		return s.arrivals, nil
	}
	return s.removals, nil
}

func (s *fakeSource) subscribeCount(kind volume.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

type fakeInspector struct {
	details volume.Details
	err     error
	calls   atomic.Int32
}

func (i *fakeInspector) Details(string) (volume.Details, error) {
	i.calls.Add(1)
	if i.err != nil {
		return volume.Details{}, i.err
	}
	return i.details, nil
}

type fakeEjector struct {
	paths  []string
	result bool
	panics bool
	mu     sync.Mutex
}

func (e *fakeEjector) Eject(devicePath string) bool {
	e.mu.Lock()
	e.paths = append(e.paths, devicePath)
	e.mu.Unlock()
	if e.panics {
		panic("eject capability exploded")
	}
	return e.result
}

func (e *fakeEjector) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.paths)
}

// statErrFs fails Stat for one specific path, for per-entry enumeration
// error tests. MemMapFs alone cannot produce that failure mode.
type statErrFs struct {
	afero.Fs
	failPath string
}

func (f *statErrFs) Stat(name string) (os.FileInfo, error) {
	if name == f.failPath {
		return nil, errors.New("access denied")
	}
	return f.Fs.Stat(name)
}

// openErrFs fails Open for one specific path, to exercise the token
// read-error classification.
type openErrFs struct {
	afero.Fs
	failPath string
}

func (f *openErrFs) Open(name string) (afero.File, error) {
	if name == f.failPath {
		return nil, errors.New("device i/o error")
	}
	return f.Fs.Open(name)
}

type testEnv struct {
	engine    *Engine
	fs        afero.Fs
	store     *registry.Store
	source    *fakeSource
	inspector *fakeInspector
	ejector   *fakeEjector
}

func defaultTestConfig() Config {
	return Config{
		RequiredFile: "auth_key.txt",
		ExpectedKey:  "secret-key-123",
		EnumLevel:    "none",
		MountDelay:   0,
		MaxRootFiles: 100,
	}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	env := &testEnv{
		fs:        fs,
		store:     registry.NewStore(fs, "/data/devices.json", nil),
		source:    newFakeSource(),
		inspector: &fakeInspector{details: volume.Details{Name: "TEST_USB", Filesystem: "FAT32"}},
		ejector:   &fakeEjector{result: true},
	}
	env.engine = New(cfg, Deps{
		Source:    env.source,
		Inspector: env.inspector,
		Ejector:   env.ejector,
		Store:     env.store,
		Fs:        fs,
	})

	// keep polling and backoff snappy under test
	env.engine.pollTimeout = 10 * time.Millisecond
	env.engine.resubscribeDelay = 10 * time.Millisecond
	env.engine.detailsRetryDelay = time.Millisecond
	env.engine.shutdownTimeout = time.Second

	return env
}

func (env *testEnv) mountDevice(t *testing.T, mountPath, tokenContents string) {
	t.Helper()
	if err := env.fs.MkdirAll(mountPath, 0o750); err != nil {
		t.Fatalf("failed to create mount dir: %v", err)
	}
	if tokenContents != "" {
		err := afero.WriteFile(env.fs, mountPath+"/auth_key.txt", []byte(tokenContents), 0o600)
		if err != nil {
			t.Fatalf("failed to write token file: %v", err)
		}
	}
}
