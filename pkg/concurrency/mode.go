// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package concurrency provides the hierarchical lock manager the acquisition
// layer takes its global, database and collection locks from, plus the
// per-operation Locker that records what an operation holds.
package concurrency

// Mode is a lock mode in the classic multi-granularity hierarchy.
type Mode int

const (
	// ModeNone holds nothing.
	ModeNone Mode = iota
	// ModeIS is intent-shared.
	ModeIS
	// ModeIX is intent-exclusive.
	ModeIX
	// ModeS is shared.
	ModeS
	// ModeX is exclusive.
	ModeX
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeIS:
		return "IS"
	case ModeIX:
		return "IX"
	case ModeS:
		return "S"
	case ModeX:
		return "X"
	default:
		return "INVALID"
	}
}

// IsIntent reports whether m is one of the intent modes.
func (m Mode) IsIntent() bool {
	return m == ModeIS || m == ModeIX
}

// compatible is the standard multi-granularity compatibility matrix.
var compatible = [5][5]bool{
	ModeNone: {true, true, true, true, true},
	ModeIS:   {true, true, true, true, false},
	ModeIX:   {true, true, true, false, false},
	ModeS:    {true, true, false, true, false},
	ModeX:    {true, false, false, false, false},
}

// Compatible reports whether m can be granted alongside held.
func (m Mode) Compatible(held Mode) bool {
	return compatible[m][held]
}

// IntentFor returns the intent mode an ancestor resource must be held in for
// a descendant to be locked in m.
func (m Mode) IntentFor() Mode {
	switch m {
	case ModeIS, ModeS:
		return ModeIS
	case ModeIX, ModeX:
		return ModeIX
	default:
		return ModeNone
	}
}
