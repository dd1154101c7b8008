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

// Package monitor implements the device lifecycle engine: two watcher
// goroutines feed volume-change events through a queue to a single
// dispatcher, which runs the arrival/removal handlers serially. All
// registry and transient-state mutation happens on the dispatcher
// goroutine, so correctness comes from serialization, not locking.
package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/crenta/usblogger/pkg/registry"
	"github.com/crenta/usblogger/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	queueSize = 64

	defaultPollTimeout       = time.Second
	defaultResubscribeDelay  = 5 * time.Second
	defaultDetailsAttempts   = 3
	defaultDetailsRetryDelay = 700 * time.Millisecond
	defaultShutdownTimeout   = 5 * time.Second
)

// Config carries the already-validated parameters the engine needs.
type Config struct {
	// RequiredFile is the token file path relative to the device root.
	RequiredFile string
	// ExpectedKey is the shared secret the token file must contain.
	ExpectedKey string
	// EnumLevel is "none" or "root".
	EnumLevel string
	// MountDelay is the mount-stability delay before any read.
	MountDelay time.Duration
	// MaxRootFiles bounds root enumeration.
	MaxRootFiles int
}

// Deps are the engine's external collaborators. Fs covers all device
// filesystem access so tests can run against an in-memory filesystem.
// A nil Clock defaults to the real clock.
type Deps struct {
	Source    volume.Source
	Inspector volume.Inspector
	Ejector   volume.Ejector
	Store     *registry.Store
	Fs        afero.Fs
	Clock     clockwork.Clock
}

// Engine is the device lifecycle engine.
type Engine struct {
	cfg Config

	source    volume.Source
	inspector volume.Inspector
	ejector   volume.Ejector
	store     *registry.Store
	fs        afero.Fs
	clock     clockwork.Clock

	transient *stateTracker

	queue          chan volume.Event
	stop           chan struct{}
	stopOnce       sync.Once
	watcherWG      sync.WaitGroup
	dispatcherDone chan struct{}
	started        bool

	pollTimeout       time.Duration
	resubscribeDelay  time.Duration
	detailsAttempts   int
	detailsRetryDelay time.Duration
	shutdownTimeout   time.Duration
}

func New(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	return &Engine{
		cfg:       cfg,
		source:    deps.Source,
		inspector: deps.Inspector,
		ejector:   deps.Ejector,
		store:     deps.Store,
		fs:        deps.Fs,
		clock:     clock,

		transient: newStateTracker(),

		queue:          make(chan volume.Event, queueSize),
		stop:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),

		pollTimeout:       defaultPollTimeout,
		resubscribeDelay:  defaultResubscribeDelay,
		detailsAttempts:   defaultDetailsAttempts,
		detailsRetryDelay: defaultDetailsRetryDelay,
		shutdownTimeout:   defaultShutdownTimeout,
	}
}

// Start launches the two watchers and the dispatcher. It returns
// immediately; the engine runs until Stop or a dispatcher-level failure.
func (e *Engine) Start() error {
	if e.started {
		return errors.New("engine already started")
	}
	e.started = true

	log.Info().
		Str("session_id", e.store.SessionID()).
		Msg("starting volume monitoring")
	log.Warn().Msg("administrator privileges are required for WMI queries and drive ejection")

	e.watcherWG.Add(2)
	go e.watch(volume.Arrival)
	go e.watch(volume.Removal)
	go e.dispatch()

	return nil
}

// Done is closed when the engine is shutting down, whether from Stop or
// a fatal dispatcher failure.
func (e *Engine) Done() <-chan struct{} {
	return e.stop
}

// Stop signals shutdown, waits up to the shutdown timeout for the
// watchers to exit, waits for the dispatcher, and saves the registry.
func (e *Engine) Stop() {
	e.signalStop()

	watchersDone := make(chan struct{})
	go func() {
		e.watcherWG.Wait()
		close(watchersDone)
	}()

	select {
	case <-watchersDone:
	case <-e.clock.After(e.shutdownTimeout):
		log.Warn().Msg("watchers did not exit before shutdown timeout")
	}

	<-e.dispatcherDone

	if e.store != nil {
		if err := e.store.Save(); err != nil {
			log.Error().Err(err).Msg("failed to save device registry on shutdown")
		}
	}

	log.Info().Msg("volume monitoring stopped")
}

func (e *Engine) signalStop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

// sleep waits for d, returning false if shutdown was signalled first.
func (e *Engine) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-e.clock.After(d):
		return true
	case <-e.stop:
		return false
	}
}

func (e *Engine) saveRegistry() {
	if err := e.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save device registry")
	}
}
