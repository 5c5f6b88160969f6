// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package sharding

import "github.com/cockroachdb/errors"

// Access distinguishes read from write access for critical-section
// signaling: writes are fenced from the catch-up phase on, reads only during
// the commit phase.
type Access int

const (
	// AccessRead is a read operation.
	AccessRead Access = iota
	// AccessWrite is a write operation.
	AccessWrite
)

type criticalSectionPhase int

const (
	criticalSectionInactive criticalSectionPhase = iota
	criticalSectionCatchUp
	criticalSectionCommit
)

// criticalSection tracks a migration-protocol window on a database or
// collection. The signal channel is created on entry and closed on exit;
// waiters select on it instead of polling.
type criticalSection struct {
	phase  criticalSectionPhase
	reason string
	signal chan struct{}
}

func (cs *criticalSection) enterCatchUp(reason string) {
	if cs.phase != criticalSectionInactive {
		panic(errors.AssertionFailedf("critical section already active (%s)", cs.reason))
	}
	cs.phase = criticalSectionCatchUp
	cs.reason = reason
	cs.signal = make(chan struct{})
}

func (cs *criticalSection) enterCommit(reason string) {
	if cs.phase != criticalSectionCatchUp || cs.reason != reason {
		panic(errors.AssertionFailedf("commit phase entered without matching catch-up phase"))
	}
	cs.phase = criticalSectionCommit
}

func (cs *criticalSection) exit(reason string) {
	if cs.phase == criticalSectionInactive || cs.reason != reason {
		panic(errors.AssertionFailedf("exiting critical section that was not entered"))
	}
	close(cs.signal)
	*cs = criticalSection{}
}

// signalFor returns the completion channel if the critical section fences
// the given access, or nil.
func (cs *criticalSection) signalFor(access Access) <-chan struct{} {
	switch cs.phase {
	case criticalSectionCatchUp:
		if access == AccessWrite {
			return cs.signal
		}
		return nil
	case criticalSectionCommit:
		return cs.signal
	default:
		return nil
	}
}
