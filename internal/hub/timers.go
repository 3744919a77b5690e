// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock uses time.AfterFunc; tests
// substitute a manually advanced one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

// Timer keys
const (
	timerMax        = "max"
	timerPreReceive = "pre_receive"
	timerReceive    = "receive"
	timerSettle     = "settle"
)

// timerSet keeps at most one live timer per key.
//
// Every set and cancel bumps the key's generation. A callback whose timer
// was superseded may still be waiting for the lock when it wakes; it compares
// its generation under the lock and returns without running.
type timerSet struct {
	lock   sync.Locker
	clock  Clock
	active map[string]Timer
	gen    map[string]uint64
}

func newTimerSet(lock sync.Locker, clock Clock) *timerSet {
	return &timerSet{
		lock:   lock,
		clock:  clock,
		active: make(map[string]Timer),
		gen:    make(map[string]uint64),
	}
}

// set arms key to run fn after d, replacing any live timer for key.
// The caller holds the lock; fn runs with the lock held.
func (s *timerSet) set(key string, d time.Duration, fn func()) {
	s.cancel(key)
	g := s.gen[key]
	s.active[key] = s.clock.AfterFunc(d, func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.gen[key] != g {
			return
		}
		delete(s.active, key)
		s.gen[key]++
		fn()
	})
}

// cancel stops key if it is live. The caller holds the lock.
func (s *timerSet) cancel(key string) {
	if t, ok := s.active[key]; ok {
		t.Stop()
		delete(s.active, key)
	}
	s.gen[key]++
}

// cancelAll stops every live timer. The caller holds the lock.
func (s *timerSet) cancelAll() {
	for key := range s.active {
		s.cancel(key)
	}
}

// pending reports whether key has a live timer.
func (s *timerSet) pending(key string) bool {
	_, ok := s.active[key]
	return ok
}
