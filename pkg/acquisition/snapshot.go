// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package acquisition

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/repl"
	"github.com/mosaicdb/mosaic/pkg/storage"
)

type snapshotAttemptState int

const (
	attemptInit snapshotAttemptState = iota
	attemptInitialStateSnapshotted
	attemptReadSourceSelected
	attemptSnapshotOpened
	attemptDone
)

// SnapshotAttempt opens a mutually consistent pair of storage snapshot and
// catalog view. It records the catalog instance and replication term before
// opening the snapshot; ConsistentCatalog then only succeeds if neither
// changed in between. The retry-on-inconsistency loop this forces on the
// caller, rather than a lock, is what makes lock-free reads safe.
type SnapshotAttempt struct {
	opCtx *operation.Context

	state         snapshotAttemptState
	catalogBefore *catalog.Snapshot
	termBefore    uint64
	openedHere    bool
}

// NewSnapshotAttempt starts an attempt on the operation.
func NewSnapshotAttempt(opCtx *operation.Context) *SnapshotAttempt {
	return &SnapshotAttempt{opCtx: opCtx}
}

// SnapshotInitialState records the catalog instance and replication term
// visible before any storage snapshot is opened.
func (s *SnapshotAttempt) SnapshotInitialState() {
	s.mustBeIn(attemptInit)
	s.catalogBefore = s.opCtx.Catalog().Current()
	s.termBefore = s.opCtx.Repl().Term()
	s.state = attemptInitialStateSnapshotted
}

// ChangeReadSourceForSecondaryReads selects the read timestamp source for
// the node's current role: last-applied on a secondary, no timestamp on a
// primary. Called again after a yield it recomputes the choice, so a role
// change while yielded takes effect at restore.
func (s *SnapshotAttempt) ChangeReadSourceForSecondaryReads() {
	s.mustBeIn(attemptInitialStateSnapshotted)
	ru := s.opCtx.RecoveryUnit()
	if s.opCtx.Repl().MemberState() == repl.Secondary {
		ru.SetTimestampReadSource(storage.ReadSourceLastApplied)
	} else {
		ru.SetTimestampReadSource(storage.ReadSourceNoTimestamp)
	}
	s.state = attemptReadSourceSelected
}

// OpenStorageSnapshot opens the operation's storage snapshot if none is
// open.
func (s *SnapshotAttempt) OpenStorageSnapshot() {
	s.mustBeIn(attemptReadSourceSelected)
	if !s.opCtx.RecoveryUnit().SnapshotOpen() {
		s.opCtx.RecoveryUnit().OpenSnapshot()
		s.openedHere = true
	}
	s.state = attemptSnapshotOpened
}

// ConsistentCatalog returns the catalog view the snapshot is consistent
// with, or nil if a DDL commit or a replication term change interleaved and
// the whole acquisition must be retried.
func (s *SnapshotAttempt) ConsistentCatalog() *catalog.Snapshot {
	s.mustBeIn(attemptSnapshotOpened)
	s.state = attemptDone
	now := s.opCtx.Catalog().Current()
	termNow := s.opCtx.Repl().Term()
	if now != s.catalogBefore || termNow != s.termBefore {
		s.opCtx.Log().Debug("snapshot attempt inconsistent",
			zap.Uint64("catalog-generation-before", s.catalogBefore.Generation()),
			zap.Uint64("catalog-generation-now", now.Generation()),
			zap.Uint64("term-before", s.termBefore),
			zap.Uint64("term-now", termNow),
		)
		if s.openedHere {
			s.opCtx.RecoveryUnit().AbandonSnapshot()
		}
		return nil
	}
	return s.catalogBefore
}

func (s *SnapshotAttempt) mustBeIn(state snapshotAttemptState) {
	if s.state != state {
		panic(errors.AssertionFailedf(
			"snapshot attempt in state %d, expected %d", s.state, state))
	}
}

// openConsistentCatalog runs snapshot attempts until one is consistent and
// returns its catalog view.
func openConsistentCatalog(opCtx *operation.Context) *catalog.Snapshot {
	for {
		attempt := NewSnapshotAttempt(opCtx)
		attempt.SnapshotInitialState()
		attempt.ChangeReadSourceForSecondaryReads()
		attempt.OpenStorageSnapshot()
		if cat := attempt.ConsistentCatalog(); cat != nil {
			return cat
		}
		opCtx.Log().Debug("retrying acquisition after inconsistent snapshot attempt")
	}
}
