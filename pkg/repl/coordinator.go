// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package repl exposes the replica-role facts the acquisition layer
// consumes: the node's current member state and replication term.
package repl

import "sync"

// MemberState is the node's role in its replica set.
type MemberState int

const (
	// Primary accepts writes and reads without a timestamp.
	Primary MemberState = iota
	// Secondary serves causally consistent reads at the last applied
	// timestamp.
	Secondary
)

// String implements fmt.Stringer.
func (s MemberState) String() string {
	if s == Primary {
		return "primary"
	}
	return "secondary"
}

// Coordinator reports the replica role of the local node. A change in Term
// between two reads means an election happened in between.
type Coordinator interface {
	MemberState() MemberState
	Term() uint64
}

// SettableCoordinator is a Coordinator whose state can be driven explicitly.
// Tests and embedders without replication use it.
type SettableCoordinator struct {
	mu    sync.Mutex
	state MemberState
	term  uint64
}

// NewSettableCoordinator returns a coordinator in the Primary state at term
// zero.
func NewSettableCoordinator() *SettableCoordinator {
	return &SettableCoordinator{}
}

// MemberState implements Coordinator.
func (c *SettableCoordinator) MemberState() MemberState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Term implements Coordinator.
func (c *SettableCoordinator) Term() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// SetMemberState transitions the node's role. Step-up and step-down both
// start a new term.
func (c *SettableCoordinator) SetMemberState(state MemberState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state != c.state {
		c.term++
	}
	c.state = state
}

// BumpTerm simulates an election that does not change this node's role.
func (c *SettableCoordinator) BumpTerm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.term++
}
