// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package storage holds the per-operation storage-engine session: the
// recovery unit that owns the operation's storage snapshot and read
// timestamp source, and the write unit of work that anchors commit/rollback
// callbacks for transactional local writes.
package storage

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ReadSource selects where the recovery unit obtains its read timestamp.
type ReadSource int

const (
	// ReadSourceNoTimestamp reads the most recent data with no timestamp,
	// the mode used on primaries.
	ReadSourceNoTimestamp ReadSource = iota

	// ReadSourceLastApplied reads at the last applied replication timestamp,
	// the mode used for causally consistent secondary reads.
	ReadSourceLastApplied
)

// String implements fmt.Stringer.
func (rs ReadSource) String() string {
	switch rs {
	case ReadSourceNoTimestamp:
		return "noTimestamp"
	case ReadSourceLastApplied:
		return "lastApplied"
	default:
		return "unknown"
	}
}

// RecoveryUnit is one operation's session with the storage engine. It is
// not safe for concurrent use; an operation context owns exactly one.
type RecoveryUnit struct {
	mu           sync.Mutex
	snapshotOpen bool
	readSource   ReadSource
}

// NewRecoveryUnit returns a recovery unit with no open snapshot, reading
// with no timestamp.
func NewRecoveryUnit() *RecoveryUnit {
	return &RecoveryUnit{}
}

// OpenSnapshot opens the storage snapshot. Opening while a snapshot is
// already open is a caller bug.
func (ru *RecoveryUnit) OpenSnapshot() {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	if ru.snapshotOpen {
		panic(errors.AssertionFailedf("snapshot already open"))
	}
	ru.snapshotOpen = true
}

// AbandonSnapshot releases the storage snapshot, if any.
func (ru *RecoveryUnit) AbandonSnapshot() {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	ru.snapshotOpen = false
}

// SnapshotOpen reports whether a storage snapshot is currently open.
func (ru *RecoveryUnit) SnapshotOpen() bool {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.snapshotOpen
}

// SetTimestampReadSource changes the read timestamp source. The source may
// only change while no snapshot is open.
func (ru *RecoveryUnit) SetTimestampReadSource(rs ReadSource) {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	if ru.snapshotOpen && rs != ru.readSource {
		panic(errors.AssertionFailedf(
			"cannot change read source from %s to %s with an open snapshot", ru.readSource, rs))
	}
	ru.readSource = rs
}

// TimestampReadSource returns the current read timestamp source.
func (ru *RecoveryUnit) TimestampReadSource() ReadSource {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.readSource
}
