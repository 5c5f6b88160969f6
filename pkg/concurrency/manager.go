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

// Manager arbitrates lock requests over abstract resources on behalf of
// owners. Grants held by the same owner never conflict with each other, so an
// operation may reacquire a resource it already holds. The manager performs
// no deadlock detection; callers avoid circular waits by always acquiring in
// a fixed total order (global, then the database, then collections sorted by
// name).
type Manager struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[ResourceID]*grantedSet
}

// grantedSet counts grants per owner and mode on one resource.
type grantedSet struct {
	owners map[any]*[5]int
}

// compatibleWith reports whether mode can be granted to owner alongside every
// grant held by other owners.
func (g *grantedSet) compatibleWith(owner any, m Mode) bool {
	for o, counts := range g.owners {
		if o == owner {
			continue
		}
		for held := ModeIS; held <= ModeX; held++ {
			if counts[held] > 0 && !m.Compatible(held) {
				return false
			}
		}
	}
	return true
}

func (g *grantedSet) empty() bool {
	return len(g.owners) == 0
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	m := &Manager{locks: map[ResourceID]*grantedSet{}}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Acquire blocks until mode can be granted to owner on res, then grants it.
func (m *Manager) Acquire(owner any, res ResourceID, mode Mode) {
	if mode == ModeNone {
		panic(errors.AssertionFailedf("cannot acquire %s in mode NONE", res))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		// The set is fetched anew on every pass: a release may have emptied
		// and dropped the table entry while this request was parked, and a
		// grant recorded on the orphaned set would be invisible to every
		// later request.
		g := m.locks[res]
		if g == nil {
			g = &grantedSet{owners: map[any]*[5]int{}}
			m.locks[res] = g
		}
		if g.compatibleWith(owner, mode) {
			counts := g.owners[owner]
			if counts == nil {
				counts = &[5]int{}
				g.owners[owner] = counts
			}
			counts[mode]++
			return
		}
		m.cond.Wait()
	}
}

// Release drops one grant of mode held by owner on res and wakes waiters.
func (m *Manager) Release(owner any, res ResourceID, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.locks[res]
	var counts *[5]int
	if g != nil {
		counts = g.owners[owner]
	}
	if counts == nil || counts[mode] == 0 {
		panic(errors.AssertionFailedf("releasing %s lock not held on %s", mode, res))
	}
	counts[mode]--
	held := false
	for md := ModeIS; md <= ModeX; md++ {
		if counts[md] > 0 {
			held = true
			break
		}
	}
	if !held {
		delete(g.owners, owner)
	}
	if g.empty() {
		delete(m.locks, res)
	}
	m.cond.Broadcast()
}
