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
	"fmt"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog/log"
)

// wbemErrTimedOut is the WMI HRESULT for a NextEvent timeout.
const wbemErrTimedOut = 0x80043001

// wmiSource subscribes to Win32_Volume instance creation/deletion events
// for removable media (DriveType=2) via WMI notification queries.
type wmiSource struct {
	within int
}

// NewSource creates a Windows volume event source. pollInterval is the
// WITHIN interval of the notification query.
func NewSource(pollInterval time.Duration) Source {
	within := int(pollInterval / time.Second)
	if within < 1 {
		within = 1
	}
	return &wmiSource{within: within}
}

func (s *wmiSource) Subscribe(kind EventKind) (Subscription, error) {
	eventClass := "__InstanceCreationEvent"
	if kind == Removal {
		eventClass = "__InstanceDeletionEvent"
	}
	wql := fmt.Sprintf(
		"SELECT * FROM %s WITHIN %d "+
			"WHERE TargetInstance ISA 'Win32_Volume' AND TargetInstance.DriveType=2",
		eventClass, s.within,
	)

	// COM is initialized per subscription and torn down on Close. The
	// watcher goroutine owns the whole subscribe/next/close cycle.
	comInitialized := true
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		// S_FALSE means COM was already initialized on this thread.
		if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
			return nil, fmt.Errorf("failed to initialize COM: %w", err)
		}
		comInitialized = false
	}

	sub, err := connectNotificationQuery(wql)
	if err != nil {
		if comInitialized {
			ole.CoUninitialize()
		}
		return nil, err
	}
	sub.kind = kind
	sub.comInitialized = comInitialized

	log.Debug().Str("kind", kind.String()).Msg("subscribed to volume change events")
	return sub, nil
}

func connectNotificationQuery(wql string) (*wmiSubscription, error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("failed to create WMI locator: %w", err)
	}

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		unknown.Release()
		return nil, fmt.Errorf("failed to query WMI locator interface: %w", err)
	}

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer")
	if err != nil {
		locator.Release()
		unknown.Release()
		return nil, fmt.Errorf("failed to connect to WMI service: %w", err)
	}
	service := serviceRaw.ToIDispatch()

	eventsRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", wql)
	if err != nil {
		service.Release()
		locator.Release()
		unknown.Release()
		return nil, fmt.Errorf("failed to execute WMI notification query: %w", err)
	}

	return &wmiSubscription{
		unknown: unknown,
		locator: locator,
		service: service,
		events:  eventsRaw.ToIDispatch(),
	}, nil
}

type wmiSubscription struct {
	unknown        *ole.IUnknown
	locator        *ole.IDispatch
	service        *ole.IDispatch
	events         *ole.IDispatch
	kind           EventKind
	comInitialized bool
}

func (s *wmiSubscription) Next(timeout time.Duration) (Event, bool, error) {
	nextRaw, err := oleutil.CallMethod(s.events, "NextEvent", int(timeout.Milliseconds()))
	if err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && uint32(oleErr.Code()) == wbemErrTimedOut {
			return Event{}, false, nil
		}
		return Event{}, false, fmt.Errorf("NextEvent failed: %w", err)
	}

	if nextRaw.VT == ole.VT_NULL || nextRaw.VT == ole.VT_EMPTY {
		return Event{}, false, nil
	}

	notification := nextRaw.ToIDispatch()
	defer notification.Release()

	evt, ok := s.extract(notification)
	return evt, ok, nil
}

// extract pulls the target Win32_Volume out of the notification. Events
// without a usable identity (or mount point, for arrivals) are dropped.
func (s *wmiSubscription) extract(notification *ole.IDispatch) (Event, bool) {
	targetRaw, err := oleutil.GetProperty(notification, "TargetInstance")
	if err != nil {
		log.Debug().Err(err).Msg("volume event without target instance")
		return Event{}, false
	}
	target := targetRaw.ToIDispatch()
	defer target.Release()

	deviceID := stringProperty(target, "DeviceID")
	if deviceID == "" {
		return Event{}, false
	}

	evt := Event{Kind: s.kind, DeviceID: deviceID}
	if s.kind == Arrival {
		driveLetter := stringProperty(target, "DriveLetter")
		if driveLetter == "" {
			// Volume mounted without a drive letter, nothing to check.
			return Event{}, false
		}
		if !strings.HasSuffix(driveLetter, `\`) {
			driveLetter += `\`
		}
		evt.DriveLetter = driveLetter
	}
	return evt, true
}

func stringProperty(obj *ole.IDispatch, name string) string {
	raw, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return ""
	}
	if raw.VT == ole.VT_NULL || raw.VT == ole.VT_EMPTY {
		return ""
	}
	return raw.ToString()
}

func (s *wmiSubscription) Close() {
	s.events.Release()
	s.service.Release()
	s.locator.Release()
	s.unknown.Release()
	if s.comInitialized {
		ole.CoUninitialize()
	}
}
