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
	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

// checkPlacement decides whether the request's placement concern is
// satisfiable against this shard's authoritative metadata for ns. It is a
// pure read-and-compare: a mismatch produces the structured staleness error,
// including the critical-section signal when a migration is in its fenced
// phase, and never mutates anything.
func checkPlacement(
	opCtx *operation.Context, ns catalog.Namespace, concern PlacementConcern, opType OperationType,
) error {
	reg := opCtx.ShardingRegistry()
	access := opType.access()

	if concern.DBVersion != nil {
		received := *concern.DBVersion
		if signal := reg.DatabaseCriticalSectionSignal(ns.DB, access); signal != nil {
			return &StaleDbVersionError{
				DB:                    ns.DB,
				Received:              received,
				CriticalSectionSignal: signal,
			}
		}
		wanted, known := reg.DatabaseVersion(ns.DB)
		if !known {
			return &StaleDbVersionError{DB: ns.DB, Received: received}
		}
		if !wanted.Equal(received) {
			return &StaleDbVersionError{DB: ns.DB, Received: received, Wanted: &wanted}
		}
	}

	if concern.ShardVersion != nil && !concern.ShardVersion.IsIgnored() {
		received := *concern.ShardVersion
		if signal := reg.CollectionCriticalSectionSignal(ns, access); signal != nil {
			return &StaleConfigError{
				Namespace:             ns,
				Shard:                 opCtx.ThisShard(),
				Received:              received,
				CriticalSectionSignal: signal,
			}
		}
		md, known := reg.CollectionMetadata(ns)
		if !known {
			return &StaleConfigError{
				Namespace: ns,
				Shard:     opCtx.ThisShard(),
				Received:  received,
			}
		}
		wanted := sharding.ShardVersionUnsharded()
		if md.Sharded {
			wanted = sharding.MakeShardVersion(md.Version)
		}
		if !wanted.Equal(received) {
			return &StaleConfigError{
				Namespace: ns,
				Shard:     opCtx.ThisShard(),
				Received:  received,
				Wanted:    &wanted,
			}
		}
	}

	return nil
}

// freezeShardingState computes the acquisition's frozen sharding description
// and filter, and registers the ongoing-query token that keeps range
// deletion from discarding data the frozen view may still touch.
//
// Unversioned operations (no shard-version concern) observe the collection
// as unsharded even when it is sharded; only versioned operations freeze the
// sharded view.
func freezeShardingState(
	opCtx *operation.Context, ns catalog.Namespace, concern PlacementConcern,
) (sharding.Description, *sharding.Filter, func()) {
	if concern.ShardVersion == nil {
		return sharding.UnshardedDescription(), nil, nil
	}
	reg := opCtx.ShardingRegistry()
	md, known := reg.CollectionMetadata(ns)
	if !known || !md.Sharded {
		return sharding.UnshardedDescription(), nil, nil
	}
	descr := sharding.MakeShardedDescription(md.ShardKey, md.Version)
	filter := sharding.MakeFilter(md.Chunks, opCtx.ThisShard())
	release := reg.TrackOngoingQuery(ns)
	return descr, filter, release
}
