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

	"github.com/mosaicdb/mosaic/pkg/operation"
)

// ScopedLocalCatalogWriteFence ties a local-catalog write under the current
// write unit of work to an acquisition, so the acquisition's view of the
// collection follows the unit of work's outcome. On commit the acquisition
// sees the new catalog state; on rollback it sees whatever is then true in
// the catalog, which is not necessarily the pre-write state if another actor
// raced the unit of work.
//
// The fence registers its refresh with the unit of work, so the refresh
// outlives both the fence value and the handle it was created from.
type ScopedLocalCatalogWriteFence struct {
	acq *acquiredNamespace
}

// NewScopedLocalCatalogWriteFence installs a fence for acq on the
// operation's active write unit of work. Calling it without an active unit
// of work is a caller bug.
func NewScopedLocalCatalogWriteFence(
	opCtx *operation.Context, acq CollectionAcquisition,
) *ScopedLocalCatalogWriteFence {
	uow := opCtx.CurrentWriteUnitOfWork()
	if uow == nil {
		panic(errors.AssertionFailedf(
			"write fence for %s requires an active write unit of work", acq.Namespace()))
	}
	f := &ScopedLocalCatalogWriteFence{acq: acq.acq}
	// Commit and rollback both resolve to "reflect the catalog's current
	// truth": after commit that truth includes this operation's write, after
	// rollback it is whatever concurrent actors left behind.
	refresh := func() { refreshFromCatalog(opCtx, f.acq) }
	uow.OnCommit(refresh)
	uow.OnRollback(refresh)
	return f
}

func refreshFromCatalog(opCtx *operation.Context, a *acquiredNamespace) {
	cat := opCtx.Catalog().Current()
	coll := cat.LookupByName(a.nss)
	if coll == nil {
		a.exists = false
		a.coll = nil
		return
	}
	a.exists = true
	a.coll = coll
	a.uuid = coll.ID
}
