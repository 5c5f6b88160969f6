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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

// acquiredNamespace is the per-namespace state an acquisition established.
// Handles point at this struct; the write fence mutates it in place so that
// every handle over the same acquisition observes fence events.
type acquiredNamespace struct {
	ref       NamespaceRef
	nss       catalog.Namespace
	opType    OperationType
	placement PlacementConcern

	lockMode         concurrency.Mode
	lockFree         bool
	localCatalogOnly bool

	exists bool
	uuid   uuid.UUID
	coll   *catalog.Collection
	view   *catalog.View
	isView bool

	descr  sharding.Description
	filter *sharding.Filter

	// releaseToken releases the ongoing-query registration that pins the
	// frozen placement's data against range deletion. Nil when the
	// acquisition froze an unsharded view.
	releaseToken func()
}

func (a *acquiredNamespace) releaseOngoingQuery() {
	if a.releaseToken != nil {
		a.releaseToken()
		a.releaseToken = nil
	}
}

type resourcesState int

const (
	resourcesActive resourcesState = iota
	resourcesYielded
	resourcesFailed
	resourcesReleased
)

// TransactionResources owns everything the operation's acquisitions hold:
// the lock grants in acquisition order, the per-namespace acquisition state,
// and (implicitly, via the recovery unit) the storage snapshot. One instance
// is attached to the operation context and grows as the operation acquires
// more namespaces.
type TransactionResources struct {
	opCtx *operation.Context

	state    resourcesState
	locks    []lockGrant
	acquired []*acquiredNamespace
}

func getOrCreateTxnResources(opCtx *operation.Context) *TransactionResources {
	if r, ok := opCtx.AttachedResources().(*TransactionResources); ok {
		return r
	}
	r := &TransactionResources{opCtx: opCtx}
	opCtx.AttachResources(r)
	return r
}

func (r *TransactionResources) mustBeActive() {
	if r.state != resourcesActive {
		panic(errors.AssertionFailedf("transaction resources in state %d, expected active", r.state))
	}
}

func (r *TransactionResources) addLocks(plan []lockGrant) {
	r.locks = append(r.locks, plan...)
}

func (r *TransactionResources) addAcquisition(a *acquiredNamespace) {
	r.acquired = append(r.acquired, a)
}

// releaseLocksAndSnapshot drops every lock in reverse acquisition order and
// abandons the storage snapshot. Ongoing-query tokens are left alone: the
// frozen placement stays pinned for as long as the acquisitions live.
func (r *TransactionResources) releaseLocksAndSnapshot() {
	for i := len(r.locks) - 1; i >= 0; i-- {
		r.opCtx.Locker().Release(r.locks[i].res, r.locks[i].mode)
	}
	r.opCtx.RecoveryUnit().AbandonSnapshot()
}

// releaseTokens drops every acquisition's ongoing-query token, unblocking any
// range deletion waiting on the pinned placement.
func (r *TransactionResources) releaseTokens() {
	for _, a := range r.acquired {
		a.releaseOngoingQuery()
	}
}

// YieldedTransactionResources is the detached, dormant form of an
// operation's resources. While yielded the operation holds no locks and no
// storage snapshot; the recorded acquisition intents and the ongoing-query
// registrations pinning each frozen placement survive, so range deletion
// stays blocked while the operation is suspended.
type YieldedTransactionResources struct {
	resources *TransactionResources
}

// YieldTransactionResources detaches the operation's resources, releasing its
// locks and snapshot while keeping what restore needs. Yielding an operation
// that acquired a view is a caller bug: view acquisitions are
// pipeline-resolution artifacts and are never suspended.
func YieldTransactionResources(opCtx *operation.Context) YieldedTransactionResources {
	r, ok := opCtx.AttachedResources().(*TransactionResources)
	if !ok {
		panic(errors.AssertionFailedf("operation has no transaction resources to yield"))
	}
	r.mustBeActive()
	for _, a := range r.acquired {
		if a.isView {
			panic(errors.AssertionFailedf("cannot yield an acquisition of view %s", a.nss))
		}
		if a.localCatalogOnly {
			panic(errors.AssertionFailedf(
				"cannot yield a local-catalog-only acquisition of %s", a.nss))
		}
	}
	r.releaseLocksAndSnapshot()
	r.state = resourcesYielded
	opCtx.DetachResources()
	return YieldedTransactionResources{resources: r}
}

// RestoreTransactionResources reattaches yielded resources: it reacquires
// every lock in the original order, opens a fresh consistent snapshot, and
// re-validates each acquisition against the current catalog and, for writes,
// against current placement. On any failure everything is released again and
// the resources are dead; the operation must fail.
func RestoreTransactionResources(
	opCtx *operation.Context, yielded YieldedTransactionResources,
) (err error) {
	r := yielded.resources
	if r == nil {
		panic(errors.AssertionFailedf("restore of empty yielded resources"))
	}
	if r.state != resourcesYielded {
		panic(errors.AssertionFailedf("transaction resources in state %d, expected yielded", r.state))
	}
	if r.opCtx != opCtx {
		panic(errors.AssertionFailedf("transaction resources restored on a different operation"))
	}

	for _, g := range r.locks {
		opCtx.Locker().Acquire(g.res, g.mode)
	}
	defer func() {
		if err != nil {
			r.releaseTokens()
			r.releaseLocksAndSnapshot()
			r.state = resourcesFailed
			opCtx.Log().Warn("failed to restore transaction resources", zap.Error(err))
		}
	}()

	cat := openConsistentCatalog(opCtx)
	for _, a := range r.acquired {
		if err := restoreAcquisition(opCtx, cat, a); err != nil {
			return err
		}
	}

	r.state = resourcesActive
	opCtx.AttachResources(r)
	return nil
}

// restoreAcquisition re-validates one acquisition against the catalog view
// the fresh snapshot is consistent with.
func restoreAcquisition(
	opCtx *operation.Context, cat *catalog.Snapshot, a *acquiredNamespace,
) error {
	if a.exists {
		// The collection must still be the same one: same identity, same
		// name. A drop, rename, or drop-and-recreate all surface as a UUID
		// mismatch; a drop-and-recreate with the same UUID is
		// indistinguishable from no DDL at all and restores fine.
		coll := cat.LookupByUUID(a.uuid)
		if coll == nil || coll.Namespace != a.nss {
			var actual *string
			if coll != nil {
				name := coll.Namespace.Coll
				actual = &name
			}
			return &CollectionUUIDMismatchError{
				DB:                 a.nss.DB,
				ExpectedUUID:       a.uuid,
				ExpectedCollection: a.nss.Coll,
				ActualCollection:   actual,
			}
		}
		a.coll = coll
	} else {
		// The acquisition established nonexistence; a concurrent creation
		// invalidates whatever the operation planned on that basis.
		if cat.LookupByName(a.nss) != nil || cat.LookupView(a.nss) != nil {
			return &CollectionConcurrentlyCreatedError{Namespace: a.nss}
		}
	}

	// Writes must still satisfy their placement assumption and re-freeze
	// against the current metadata; reads keep the description, the filter
	// and the ongoing-query registration frozen at original acquisition
	// time.
	if a.opType == OperationWrite {
		if err := checkPlacement(opCtx, a.nss, a.placement, a.opType); err != nil {
			return err
		}
		a.releaseOngoingQuery()
		a.descr, a.filter, a.releaseToken = freezeShardingState(opCtx, a.nss, a.placement)
	}
	return nil
}

// ReleaseAllTransactionResources drops the operation's resources entirely:
// locks, snapshot, ongoing-query registrations. Safe to call when nothing is
// attached.
func ReleaseAllTransactionResources(opCtx *operation.Context) {
	r, ok := opCtx.AttachedResources().(*TransactionResources)
	if !ok {
		return
	}
	r.releaseTokens()
	r.releaseLocksAndSnapshot()
	r.state = resourcesReleased
	opCtx.DetachResources()
}
