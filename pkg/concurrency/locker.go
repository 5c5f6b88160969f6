// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package concurrency

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Locker is one operation's ledger of held locks. All acquisition and
// release for an operation goes through its Locker so held state can be
// introspected and released as a unit.
type Locker struct {
	mgr  *Manager
	mu   sync.Mutex
	held []heldLock
}

type heldLock struct {
	res  ResourceID
	mode Mode
}

// NewLocker returns a Locker drawing grants from mgr.
func NewLocker(mgr *Manager) *Locker {
	return &Locker{mgr: mgr}
}

// Acquire blocks until the grant is obtained and records it.
func (l *Locker) Acquire(res ResourceID, mode Mode) {
	l.mgr.Acquire(l, res, mode)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = append(l.held, heldLock{res: res, mode: mode})
}

// Release drops the most recent grant matching (res, mode).
func (l *Locker) Release(res ResourceID, mode Mode) {
	l.mu.Lock()
	for i := len(l.held) - 1; i >= 0; i-- {
		if l.held[i].res == res && l.held[i].mode == mode {
			l.held = append(l.held[:i], l.held[i+1:]...)
			l.mu.Unlock()
			l.mgr.Release(l, res, mode)
			return
		}
	}
	l.mu.Unlock()
	panic(errors.AssertionFailedf("releasing %s %s not held by this operation", res, mode))
}

// ReleaseAll drops every held grant in reverse acquisition order.
func (l *Locker) ReleaseAll() {
	l.mu.Lock()
	held := l.held
	l.held = nil
	l.mu.Unlock()
	for i := len(held) - 1; i >= 0; i-- {
		l.mgr.Release(l, held[i].res, held[i].mode)
	}
}

// IsLockedForMode reports whether this operation holds res in exactly mode.
func (l *Locker) IsLockedForMode(res ResourceID, mode Mode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.held {
		if h.res == res && h.mode == mode {
			return true
		}
	}
	return false
}

// IsGlobalLockedForMode reports whether the global resource is held in mode.
func (l *Locker) IsGlobalLockedForMode(mode Mode) bool {
	return l.IsLockedForMode(GlobalResource(), mode)
}

// IsDBLockedForMode reports whether the database resource is held in mode.
func (l *Locker) IsDBLockedForMode(db string, mode Mode) bool {
	return l.IsLockedForMode(DatabaseResource(db), mode)
}

// IsCollectionLockedForMode reports whether the collection resource is held
// in mode.
func (l *Locker) IsCollectionLockedForMode(ns string, mode Mode) bool {
	return l.IsLockedForMode(CollectionResource(ns), mode)
}

// Acquisitions returns how many grants this operation holds on res, across
// all modes. A value above one means the resource is held recursively.
func (l *Locker) Acquisitions(res ResourceID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, h := range l.held {
		if h.res == res {
			n++
		}
	}
	return n
}

// HoldsAny reports whether any grant is currently held.
func (l *Locker) HoldsAny() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held) > 0
}
