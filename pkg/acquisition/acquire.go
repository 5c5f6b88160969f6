// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package acquisition implements collection and view acquisition: the entry
// points an operation goes through to obtain locked (or lock-free),
// placement-validated access to namespaces, and the yield/restore protocol
// that suspends and resumes that access around blocking work.
package acquisition

import (
	"context"

	"github.com/cockroachdb/errors"
	monkit "github.com/spacemonkeygo/monkit/v3"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/operation"
)

var mon = monkit.Package()

// AcquireCollection acquires a single collection with locks. The namespace
// must not resolve to a view.
func AcquireCollection(
	ctx context.Context,
	opCtx *operation.Context,
	req CollectionAcquisitionRequest,
	mode concurrency.Mode,
) (_ CollectionAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	acqs, err := acquireLocked(opCtx, []CollectionOrViewAcquisitionRequest{
		{CollectionAcquisitionRequest: req, ViewPolicy: MustBeCollection},
	}, mode)
	if err != nil {
		return CollectionAcquisition{}, err
	}
	return acqs[0].Collection(), nil
}

// AcquireCollections acquires several collections of one database with
// locks, atomically: either every namespace is acquired or none is.
func AcquireCollections(
	ctx context.Context,
	opCtx *operation.Context,
	reqs []CollectionAcquisitionRequest,
	mode concurrency.Mode,
) (_ []CollectionAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	wrapped := make([]CollectionOrViewAcquisitionRequest, len(reqs))
	for i, req := range reqs {
		wrapped[i] = CollectionOrViewAcquisitionRequest{
			CollectionAcquisitionRequest: req,
			ViewPolicy:                   MustBeCollection,
		}
	}
	acqs, err := acquireLocked(opCtx, wrapped, mode)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionAcquisition, len(acqs))
	for i, a := range acqs {
		out[i] = a.Collection()
	}
	return out, nil
}

// AcquireCollectionOrView is AcquireCollection with the request's view
// policy honored.
func AcquireCollectionOrView(
	ctx context.Context,
	opCtx *operation.Context,
	req CollectionOrViewAcquisitionRequest,
	mode concurrency.Mode,
) (_ CollectionOrViewAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	acqs, err := acquireLocked(opCtx, []CollectionOrViewAcquisitionRequest{req}, mode)
	if err != nil {
		return CollectionOrViewAcquisition{}, err
	}
	return acqs[0], nil
}

// AcquireCollectionsOrViews acquires several namespaces of one database with
// locks, honoring each request's view policy.
func AcquireCollectionsOrViews(
	ctx context.Context,
	opCtx *operation.Context,
	reqs []CollectionOrViewAcquisitionRequest,
	mode concurrency.Mode,
) (_ []CollectionOrViewAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	return acquireLocked(opCtx, reqs, mode)
}

// AcquireCollectionsOrViewsWithoutTakingLocks acquires namespaces without
// database or collection locks, relying on the snapshot attempt's
// catalog-consistency check instead. Only reads may use this path.
func AcquireCollectionsOrViewsWithoutTakingLocks(
	ctx context.Context,
	opCtx *operation.Context,
	reqs []CollectionOrViewAcquisitionRequest,
) (_ []CollectionOrViewAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, req := range reqs {
		if req.Operation != OperationRead {
			panic(errors.AssertionFailedf("lock-free acquisition is read-only"))
		}
		if err := validateRequest(req.CollectionAcquisitionRequest); err != nil {
			return nil, err
		}
	}

	plan := lockFreePlan()
	acquireLockPlan(opCtx, plan)
	wasOpen := opCtx.RecoveryUnit().SnapshotOpen()
	cat := openConsistentCatalog(opCtx)

	acqs, err := materializeAll(opCtx, cat, reqs, concurrency.ModeNone, true /* lockFree */)
	if err != nil {
		releaseLockPlan(opCtx, plan)
		if !wasOpen {
			opCtx.RecoveryUnit().AbandonSnapshot()
		}
		return nil, err
	}

	r := getOrCreateTxnResources(opCtx)
	r.mustBeActive()
	r.addLocks(plan)
	for _, a := range acqs {
		r.addAcquisition(acqOf(a))
	}
	return acqs, nil
}

// AcquireCollectionForLocalCatalogOnlyWithPotentialDataLoss acquires a
// collection with locks but without any placement validation or sharding
// state. It exists for node-local maintenance that deliberately ignores
// routing, hence the name: writing through it can lose data the routing
// table believes lives elsewhere.
func AcquireCollectionForLocalCatalogOnlyWithPotentialDataLoss(
	ctx context.Context,
	opCtx *operation.Context,
	ns catalog.Namespace,
	mode concurrency.Mode,
) (_ CollectionAcquisition, err error) {
	defer mon.Task()(&ctx)(&err)

	if !ns.IsValid() {
		return CollectionAcquisition{}, &catalog.InvalidNamespaceError{Namespace: ns}
	}

	plan := computeLockPlan([]catalog.Namespace{ns}, mode)
	acquireLockPlan(opCtx, plan)
	cat := openConsistentCatalog(opCtx)

	a := &acquiredNamespace{
		ref:              RefByName(ns),
		nss:              ns,
		opType:           OperationWrite,
		lockMode:         mode,
		localCatalogOnly: true,
	}
	if coll := cat.LookupByName(ns); coll != nil {
		a.exists = true
		a.uuid = coll.ID
		a.coll = coll
	}

	r := getOrCreateTxnResources(opCtx)
	r.mustBeActive()
	r.addLocks(plan)
	r.addAcquisition(a)
	return CollectionAcquisition{acq: a}, nil
}

// validateRequest fails fast on structurally invalid requests.
func validateRequest(req CollectionAcquisitionRequest) error {
	if err := req.Ref.validate(); err != nil {
		return err
	}
	// Shard versions are scoped to names. A by-UUID request that asserts one
	// is self-contradictory, whatever the UUID resolves to.
	if req.Ref.IsByUUID() && req.Placement.ShardVersion != nil {
		return &IncompatibleShardingMetadataError{DB: req.Ref.DB(), UUID: req.Ref.UUID()}
	}
	return nil
}

// acquireLocked is the shared locked acquisition path. It resolves the
// requests' namespaces, takes the lock plan, opens a consistent snapshot,
// and materializes one acquisition per request. By-UUID references resolved
// before locking are re-resolved under the snapshot; if the answer changed
// the whole attempt is retried.
func acquireLocked(
	opCtx *operation.Context, reqs []CollectionOrViewAcquisitionRequest, mode concurrency.Mode,
) ([]CollectionOrViewAcquisition, error) {
	if len(reqs) == 0 {
		panic(errors.AssertionFailedf("acquisition of zero namespaces"))
	}
	for _, req := range reqs {
		if err := validateRequest(req.CollectionAcquisitionRequest); err != nil {
			return nil, err
		}
	}

	for {
		nss := make([]catalog.Namespace, len(reqs))
		preCat := opCtx.Catalog().Current()
		for i, req := range reqs {
			ns, err := resolveRef(preCat, req.Ref)
			if err != nil {
				return nil, err
			}
			nss[i] = ns
		}

		plan := computeLockPlan(nss, mode)
		acquireLockPlan(opCtx, plan)
		wasOpen := opCtx.RecoveryUnit().SnapshotOpen()
		cat := openConsistentCatalog(opCtx)

		// The locks were planned against a pre-lock catalog read. If a
		// by-UUID reference resolves differently under the snapshot, the
		// locks protect the wrong name; retry from scratch.
		stale := false
		for i, req := range reqs {
			if !req.Ref.IsByUUID() {
				continue
			}
			ns, err := resolveRef(cat, req.Ref)
			if err != nil || ns != nss[i] {
				stale = true
				break
			}
		}
		if stale {
			releaseLockPlan(opCtx, plan)
			if !wasOpen {
				opCtx.RecoveryUnit().AbandonSnapshot()
			}
			continue
		}

		acqs, err := materializeAll(opCtx, cat, reqs, mode, false /* lockFree */)
		if err != nil {
			releaseLockPlan(opCtx, plan)
			if !wasOpen {
				opCtx.RecoveryUnit().AbandonSnapshot()
			}
			return nil, err
		}

		r := getOrCreateTxnResources(opCtx)
		r.mustBeActive()
		r.addLocks(plan)
		for _, a := range acqs {
			r.addAcquisition(acqOf(a))
		}
		return acqs, nil
	}
}

func resolveRef(cat *catalog.Snapshot, ref NamespaceRef) (catalog.Namespace, error) {
	if !ref.IsByUUID() {
		return ref.Namespace(), nil
	}
	return cat.ResolveNamespaceByUUID(ref.DB(), ref.UUID())
}

// materializeAll builds the acquisitions once locks (if any) and a
// consistent snapshot are held. Any error aborts the whole batch; callers
// release the locks and ongoing-query tokens taken so far.
func materializeAll(
	opCtx *operation.Context,
	cat *catalog.Snapshot,
	reqs []CollectionOrViewAcquisitionRequest,
	mode concurrency.Mode,
	lockFree bool,
) ([]CollectionOrViewAcquisition, error) {
	acqs := make([]CollectionOrViewAcquisition, 0, len(reqs))
	fail := func(err error) ([]CollectionOrViewAcquisition, error) {
		for _, a := range acqs {
			acqOf(a).releaseOngoingQuery()
		}
		return nil, err
	}
	for _, req := range reqs {
		ns, err := resolveRef(cat, req.Ref)
		if err != nil {
			return fail(err)
		}
		a, err := materializeOne(opCtx, cat, req, ns, mode, lockFree)
		if err != nil {
			return fail(err)
		}
		acqs = append(acqs, a)
	}
	return acqs, nil
}

func materializeOne(
	opCtx *operation.Context,
	cat *catalog.Snapshot,
	req CollectionOrViewAcquisitionRequest,
	ns catalog.Namespace,
	mode concurrency.Mode,
	lockFree bool,
) (CollectionOrViewAcquisition, error) {
	if err := checkPlacement(opCtx, ns, req.Placement, req.Operation); err != nil {
		return CollectionOrViewAcquisition{}, err
	}

	coll := cat.LookupByName(ns)
	view := cat.LookupView(ns)

	if req.ExpectedUUID != nil {
		// Views never match an expected UUID, and neither does a missing or
		// differently-identified collection. The actual name the UUID
		// resolves to, if any within the database, goes in the error for the
		// caller's diagnostics.
		if coll == nil || coll.ID != *req.ExpectedUUID {
			var actual *string
			if found := cat.LookupByUUID(*req.ExpectedUUID); found != nil && found.Namespace.DB == ns.DB {
				name := found.Namespace.Coll
				actual = &name
			}
			return CollectionOrViewAcquisition{}, &CollectionUUIDMismatchError{
				DB:                 ns.DB,
				ExpectedUUID:       *req.ExpectedUUID,
				ExpectedCollection: ns.Coll,
				ActualCollection:   actual,
			}
		}
	}

	a := &acquiredNamespace{
		ref:       req.Ref,
		nss:       ns,
		opType:    req.Operation,
		placement: req.Placement,
		lockMode:  mode,
		lockFree:  lockFree,
	}

	if view != nil {
		if req.ViewPolicy == MustBeCollection {
			return CollectionOrViewAcquisition{}, &CommandNotSupportedOnViewError{Namespace: ns}
		}
		a.exists = true
		a.isView = true
		a.view = view
		va := &ViewAcquisition{acq: a}
		return CollectionOrViewAcquisition{view: va}, nil
	}

	if coll != nil {
		a.exists = true
		a.uuid = coll.ID
		a.coll = coll
	}
	a.descr, a.filter, a.releaseToken = freezeShardingState(opCtx, ns, req.Placement)

	ca := &CollectionAcquisition{acq: a}
	return CollectionOrViewAcquisition{coll: ca}, nil
}

func acqOf(a CollectionOrViewAcquisition) *acquiredNamespace {
	if a.coll != nil {
		return a.coll.acq
	}
	return a.view.acq
}
