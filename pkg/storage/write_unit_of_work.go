// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package storage

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// WriteConflictError is returned from WriteUnitOfWork.Commit when one of the
// unit's pending operations lost a race with another committer. By the time
// it propagates the unit of work has already rolled back.
type WriteConflictError struct {
	Reason string
}

// Error implements error.
func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict: %s", e.Reason)
}

// WriteUnitOfWork groups local catalog writes into an atomic unit and
// anchors commit/rollback notifications. Callbacks registered on it fire
// exactly once, on the unit's own commit or rollback event, regardless of
// whether the registering object is still alive. The zero unit is unusable;
// obtain one from the operation context.
type WriteUnitOfWork struct {
	commitOps  []func() error
	onCommit   []func()
	onRollback []func()
	finished   bool
	onFinish   func()
}

// NewWriteUnitOfWork returns an open unit of work. onFinish, if non-nil, is
// invoked once when the unit commits or rolls back; the operation context
// uses it to clear its active-unit slot.
func NewWriteUnitOfWork(onFinish func()) *WriteUnitOfWork {
	return &WriteUnitOfWork{onFinish: onFinish}
}

// AddCommitOp registers a pending write attempted at commit time, in
// registration order. The first op to fail aborts the commit and rolls the
// unit back.
func (w *WriteUnitOfWork) AddCommitOp(op func() error) {
	w.checkOpen()
	w.commitOps = append(w.commitOps, op)
}

// OnCommit registers fn to run after all commit ops succeed.
func (w *WriteUnitOfWork) OnCommit(fn func()) {
	w.checkOpen()
	w.onCommit = append(w.onCommit, fn)
}

// OnRollback registers fn to run if the unit rolls back.
func (w *WriteUnitOfWork) OnRollback(fn func()) {
	w.checkOpen()
	w.onRollback = append(w.onRollback, fn)
}

// Commit attempts all pending writes. On the first failure the unit rolls
// back and the write's error is returned. On success the commit callbacks
// run and Commit returns nil.
func (w *WriteUnitOfWork) Commit() error {
	w.checkOpen()
	for _, op := range w.commitOps {
		if err := op(); err != nil {
			w.rollback()
			return err
		}
	}
	w.finish()
	for _, fn := range w.onCommit {
		fn()
	}
	return nil
}

// Done rolls the unit back unless it already committed or rolled back. It is
// safe to defer unconditionally next to a Commit call.
func (w *WriteUnitOfWork) Done() {
	if w.finished {
		return
	}
	w.rollback()
}

func (w *WriteUnitOfWork) rollback() {
	w.finish()
	// Rollback handlers run in reverse registration order, mirroring
	// destruction order of the writes they compensate for.
	for i := len(w.onRollback) - 1; i >= 0; i-- {
		w.onRollback[i]()
	}
}

func (w *WriteUnitOfWork) finish() {
	w.finished = true
	if w.onFinish != nil {
		w.onFinish()
		w.onFinish = nil
	}
}

func (w *WriteUnitOfWork) checkOpen() {
	if w.finished {
		panic(errors.AssertionFailedf("use of finished write unit of work"))
	}
}
