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
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

func TestAcquireInvalidNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, ns := range []catalog.Namespace{
		catalog.MakeNamespace("", "coll"),
		catalog.MakeNamespace(testDB, ""),
	} {
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByName(ns),
			Operation: OperationRead,
		}, concurrency.ModeIS)
		require.Error(t, err)
		require.True(t, errors.HasType(err, (*catalog.InvalidNamespaceError)(nil)))
		require.False(t, env.opCtx.Locker().HoldsAny())
	}
}

func TestAcquireUnshardedCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acq, err := AcquireCollection(ctx, env.opCtx, env.request(nsUnsharded, OperationWrite), concurrency.ModeIX)
	require.NoError(t, err)

	require.Equal(t, nsUnsharded, acq.Namespace())
	require.True(t, acq.Exists())
	require.Equal(t, env.unshardedUUID, acq.CollectionPtr().ID)
	require.False(t, acq.ShardingDescription().IsSharded())
	require.Nil(t, acq.ShardingFilter())

	locker := env.opCtx.Locker()
	require.True(t, locker.IsGlobalLockedForMode(concurrency.ModeIX))
	require.True(t, locker.IsDBLockedForMode(testDB, concurrency.ModeIX))
	require.True(t, locker.IsCollectionLockedForMode(nsUnsharded.String(), concurrency.ModeIX))

	ReleaseAllTransactionResources(env.opCtx)
	require.False(t, locker.HoldsAny())
	require.False(t, env.opCtx.RecoveryUnit().SnapshotOpen())
}

func TestAcquireShardedCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acq, err := AcquireCollection(ctx, env.opCtx, env.request(nsSharded, OperationRead), concurrency.ModeIS)
	require.NoError(t, err)

	require.True(t, acq.Exists())
	descr := acq.ShardingDescription()
	require.True(t, descr.IsSharded())
	require.Equal(t, "skey", descr.ShardKey())
	require.Equal(t, env.shardedVersion, descr.PlacementVersion())

	filter := acq.ShardingFilter()
	require.NotNil(t, filter)
	require.True(t, filter.KeyBelongsToMe([]byte("anything")))
}

func TestAcquireNonExistentCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dbv := env.dbVersion
	sv := sharding.ShardVersionUnsharded()
	acq, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
		Ref:       RefByName(nsMissing),
		Placement: PlacementConcern{DBVersion: &dbv, ShardVersion: &sv},
		Operation: OperationWrite,
	}, concurrency.ModeIX)
	require.NoError(t, err)

	require.False(t, acq.Exists())
	require.Nil(t, acq.CollectionPtr())
	require.True(t, env.opCtx.Locker().IsCollectionLockedForMode(nsMissing.String(), concurrency.ModeIX))
}

func TestAcquireStaleDatabaseVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		stale := sharding.MakeDatabaseVersion(uuid.New(), sharding.Timestamp{Seconds: 9})
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByName(nsUnsharded),
			Placement: PlacementConcern{DBVersion: &stale},
			Operation: OperationRead,
		}, concurrency.ModeIS)
		require.Error(t, err)
		var staleErr *StaleDbVersionError
		require.True(t, errors.As(err, &staleErr))
		require.Equal(t, testDB, staleErr.DB)
		require.Equal(t, stale, staleErr.Received)
		require.NotNil(t, staleErr.Wanted)
		require.True(t, staleErr.Wanted.Equal(env.dbVersion))
		require.Nil(t, staleErr.CriticalSectionSignal)
		require.False(t, env.opCtx.Locker().HoldsAny())
	})

	t.Run("unknown on this shard", func(t *testing.T) {
		env.reg.ClearDatabaseInfo(testDB)
		dbv := env.dbVersion
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByName(nsUnsharded),
			Placement: PlacementConcern{DBVersion: &dbv},
			Operation: OperationRead,
		}, concurrency.ModeIS)
		var staleErr *StaleDbVersionError
		require.True(t, errors.As(err, &staleErr))
		require.Nil(t, staleErr.Wanted)
	})
}

func TestAcquireStaleShardVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		dbv := env.dbVersion
		stale := sharding.MakeShardVersion(env.shardedVersion.IncMajor())
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByName(nsSharded),
			Placement: PlacementConcern{DBVersion: &dbv, ShardVersion: &stale},
			Operation: OperationWrite,
		}, concurrency.ModeIX)
		require.Error(t, err)
		var staleErr *StaleConfigError
		require.True(t, errors.As(err, &staleErr))
		require.Equal(t, nsSharded, staleErr.Namespace)
		require.Equal(t, testShard, staleErr.Shard)
		require.NotNil(t, staleErr.Wanted)
		require.True(t, staleErr.Wanted.Equal(env.shardedShardVersion()))
		require.False(t, env.opCtx.Locker().HoldsAny())
	})

	t.Run("unsharded believed sharded", func(t *testing.T) {
		dbv := env.dbVersion
		wrong := sharding.MakeShardVersion(env.shardedVersion)
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByName(nsUnsharded),
			Placement: PlacementConcern{DBVersion: &dbv, ShardVersion: &wrong},
			Operation: OperationRead,
		}, concurrency.ModeIS)
		var staleErr *StaleConfigError
		require.True(t, errors.As(err, &staleErr))
		require.NotNil(t, staleErr.Wanted)
		require.True(t, staleErr.Wanted.IsUnsharded())
	})

	t.Run("placement unknown on this shard", func(t *testing.T) {
		env.reg.ClearCollectionMetadata(nsSharded)
		_, err := AcquireCollection(ctx, env.opCtx, env.request(nsSharded, OperationRead), concurrency.ModeIS)
		var staleErr *StaleConfigError
		require.True(t, errors.As(err, &staleErr))
		require.Nil(t, staleErr.Wanted)
	})
}

func TestAcquireDuringDatabaseCriticalSection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.reg.EnterDatabaseCriticalSectionCatchUp(testDB, "movePrimary")

	// The catch-up phase fences writes but lets reads through.
	_, err := AcquireCollection(ctx, env.opCtx, env.request(nsUnsharded, OperationWrite), concurrency.ModeIX)
	var staleErr *StaleDbVersionError
	require.True(t, errors.As(err, &staleErr))
	require.NotNil(t, staleErr.CriticalSectionSignal)
	require.False(t, isClosed(staleErr.CriticalSectionSignal))

	_, err = AcquireCollection(ctx, env.opCtx, env.request(nsUnsharded, OperationRead), concurrency.ModeIS)
	require.NoError(t, err)
	ReleaseAllTransactionResources(env.opCtx)

	// The commit phase fences reads too.
	env.reg.EnterDatabaseCriticalSectionCommit(testDB, "movePrimary")
	_, err = AcquireCollection(ctx, env.opCtx, env.request(nsUnsharded, OperationRead), concurrency.ModeIS)
	require.True(t, errors.As(err, &staleErr))
	require.NotNil(t, staleErr.CriticalSectionSignal)

	signal := staleErr.CriticalSectionSignal
	env.reg.ExitDatabaseCriticalSection(testDB, "movePrimary")
	require.True(t, isClosed(signal))

	_, err = AcquireCollection(ctx, env.opCtx, env.request(nsUnsharded, OperationRead), concurrency.ModeIS)
	require.NoError(t, err)
}

func TestAcquireDuringCollectionCriticalSection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.reg.EnterCollectionCriticalSectionCatchUp(nsSharded, "moveChunk")

	_, err := AcquireCollection(ctx, env.opCtx, env.request(nsSharded, OperationWrite), concurrency.ModeIX)
	var staleErr *StaleConfigError
	require.True(t, errors.As(err, &staleErr))
	require.NotNil(t, staleErr.CriticalSectionSignal)

	_, err = AcquireCollection(ctx, env.opCtx, env.request(nsSharded, OperationRead), concurrency.ModeIS)
	require.NoError(t, err)
	ReleaseAllTransactionResources(env.opCtx)

	env.reg.EnterCollectionCriticalSectionCommit(nsSharded, "moveChunk")
	_, err = AcquireCollection(ctx, env.opCtx, env.request(nsSharded, OperationRead), concurrency.ModeIS)
	require.True(t, errors.As(err, &staleErr))

	signal := staleErr.CriticalSectionSignal
	env.reg.ExitCollectionCriticalSection(nsSharded, "moveChunk")
	require.True(t, isClosed(signal))
}

func TestUnversionedOperationSeesShardedCollectionAsUnsharded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No placement concern at all: a node-local operation.
	acq, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
		Ref:       RefByName(nsSharded),
		Operation: OperationRead,
	}, concurrency.ModeIS)
	require.NoError(t, err)
	require.True(t, acq.Exists())
	require.False(t, acq.ShardingDescription().IsSharded())
	require.Nil(t, acq.ShardingFilter())
}

func TestShardVersionIgnoredSkipsPlacementChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Even inside a commit-phase critical section the IGNORED sentinel gets
	// through.
	env.reg.EnterCollectionCriticalSectionCatchUp(nsSharded, "moveChunk")
	env.reg.EnterCollectionCriticalSectionCommit(nsSharded, "moveChunk")
	t.Cleanup(func() { env.reg.ExitCollectionCriticalSection(nsSharded, "moveChunk") })

	dbv := env.dbVersion
	ignored := sharding.ShardVersionIgnored()
	acq, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
		Ref:       RefByName(nsSharded),
		Placement: PlacementConcern{DBVersion: &dbv, ShardVersion: &ignored},
		Operation: OperationWrite,
	}, concurrency.ModeIX)
	require.NoError(t, err)
	require.True(t, acq.Exists())
	// A versioned concern was presented, so the sharded state is frozen.
	require.True(t, acq.ShardingDescription().IsSharded())
}

func TestAcquireByUUID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("resolves to the current name", func(t *testing.T) {
		dbv := env.dbVersion
		acq, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByUUID(testDB, env.unshardedUUID),
			Placement: PlacementConcern{DBVersion: &dbv},
			Operation: OperationRead,
		}, concurrency.ModeIS)
		require.NoError(t, err)
		require.Equal(t, nsUnsharded, acq.Namespace())
		require.Equal(t, env.unshardedUUID, acq.CollectionPtr().ID)
		ReleaseAllTransactionResources(env.opCtx)
	})

	t.Run("unknown UUID", func(t *testing.T) {
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByUUID(testDB, uuid.New()),
			Operation: OperationRead,
		}, concurrency.ModeIS)
		require.True(t, errors.HasType(err, (*catalog.NamespaceNotFoundError)(nil)))
		require.False(t, env.opCtx.Locker().HoldsAny())
	})

	t.Run("UUID of another database", func(t *testing.T) {
		_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
			Ref:       RefByUUID("otherdb", env.unshardedUUID),
			Operation: OperationRead,
		}, concurrency.ModeIS)
		require.True(t, errors.HasType(err, (*catalog.NamespaceNotFoundError)(nil)))
	})
}

func TestAcquireByUUIDWithShardVersionIsIncompatible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sv := env.shardedShardVersion()
	_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
		Ref:       RefByUUID(testDB, env.shardedUUID),
		Placement: PlacementConcern{ShardVersion: &sv},
		Operation: OperationRead,
	}, concurrency.ModeIS)
	require.Error(t, err)
	var incompat *IncompatibleShardingMetadataError
	require.True(t, errors.As(err, &incompat))
	require.Equal(t, env.shardedUUID, incompat.UUID)
	require.False(t, env.opCtx.Locker().HoldsAny())
}

func TestAcquireWithExpectedUUID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("match", func(t *testing.T) {
		req := env.request(nsUnsharded, OperationRead)
		req.ExpectedUUID = &env.unshardedUUID
		acq, err := AcquireCollection(ctx, env.opCtx, req, concurrency.ModeIS)
		require.NoError(t, err)
		require.True(t, acq.Exists())
		ReleaseAllTransactionResources(env.opCtx)
	})

	t.Run("name bound to a different collection", func(t *testing.T) {
		req := env.request(nsUnsharded, OperationRead)
		req.ExpectedUUID = &env.shardedUUID
		_, err := AcquireCollection(ctx, env.opCtx, req, concurrency.ModeIS)
		var mismatch *CollectionUUIDMismatchError
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, env.shardedUUID, mismatch.ExpectedUUID)
		require.Equal(t, nsUnsharded.Coll, mismatch.ExpectedCollection)
		require.NotNil(t, mismatch.ActualCollection)
		require.Equal(t, nsSharded.Coll, *mismatch.ActualCollection)
	})

	t.Run("UUID resolves nowhere", func(t *testing.T) {
		gone := uuid.New()
		req := env.request(nsUnsharded, OperationRead)
		req.ExpectedUUID = &gone
		_, err := AcquireCollection(ctx, env.opCtx, req, concurrency.ModeIS)
		var mismatch *CollectionUUIDMismatchError
		require.True(t, errors.As(err, &mismatch))
		require.Nil(t, mismatch.ActualCollection)
	})

	t.Run("views never match", func(t *testing.T) {
		dbv := env.dbVersion
		_, err := AcquireCollectionOrView(ctx, env.opCtx, CollectionOrViewAcquisitionRequest{
			CollectionAcquisitionRequest: CollectionAcquisitionRequest{
				Ref:          RefByName(nsView),
				Placement:    PlacementConcern{DBVersion: &dbv},
				ExpectedUUID: &env.shardedUUID,
				Operation:    OperationRead,
			},
			ViewPolicy: CanBeView,
		}, concurrency.ModeIS)
		var mismatch *CollectionUUIDMismatchError
		require.True(t, errors.As(err, &mismatch))
	})
}

func TestAcquireView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dbv := env.dbVersion
	req := CollectionOrViewAcquisitionRequest{
		CollectionAcquisitionRequest: CollectionAcquisitionRequest{
			Ref:       RefByName(nsView),
			Placement: PlacementConcern{DBVersion: &dbv},
			Operation: OperationRead,
		},
		ViewPolicy: CanBeView,
	}

	acq, err := AcquireCollectionOrView(ctx, env.opCtx, req, concurrency.ModeIS)
	require.NoError(t, err)
	require.True(t, acq.IsView())
	require.False(t, acq.IsCollection())
	require.Equal(t, nsView, acq.Namespace())
	require.Equal(t, nsSharded.Coll, acq.View().ViewDefinition().ViewOn)
	require.Panics(t, func() { acq.Collection() })
	ReleaseAllTransactionResources(env.opCtx)

	req.ViewPolicy = MustBeCollection
	_, err = AcquireCollectionOrView(ctx, env.opCtx, req, concurrency.ModeIS)
	require.True(t, errors.HasType(err, (*CommandNotSupportedOnViewError)(nil)))
	require.False(t, env.opCtx.Locker().HoldsAny())
}

func TestAcquireCollectionRejectsView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dbv := env.dbVersion
	_, err := AcquireCollection(ctx, env.opCtx, CollectionAcquisitionRequest{
		Ref:       RefByName(nsView),
		Placement: PlacementConcern{DBVersion: &dbv},
		Operation: OperationRead,
	}, concurrency.ModeIS)
	require.True(t, errors.HasType(err, (*CommandNotSupportedOnViewError)(nil)))
}

func TestAcquireMultipleCollections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acqs, err := AcquireCollections(ctx, env.opCtx, []CollectionAcquisitionRequest{
		env.request(nsSharded, OperationRead),
		env.request(nsUnsharded, OperationRead),
	}, concurrency.ModeIS)
	require.NoError(t, err)
	require.Len(t, acqs, 2)

	locker := env.opCtx.Locker()
	require.True(t, locker.IsCollectionLockedForMode(nsSharded.String(), concurrency.ModeIS))
	require.True(t, locker.IsCollectionLockedForMode(nsUnsharded.String(), concurrency.ModeIS))
	// One call acquires the database lock once, not per namespace.
	require.Equal(t, 1, locker.Acquisitions(concurrency.DatabaseResource(testDB)))
}

func TestAcquireMultipleCollectionsAcrossDatabasesPanics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.Panics(t, func() {
		_, _ = AcquireCollections(ctx, env.opCtx, []CollectionAcquisitionRequest{
			{Ref: RefByName(catalog.MakeNamespace("db1", "a")), Operation: OperationRead},
			{Ref: RefByName(catalog.MakeNamespace("db2", "b")), Operation: OperationRead},
		}, concurrency.ModeIS)
	})
}

func TestAcquireMultipleCollectionsIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := env.request(nsSharded, OperationRead)
	wrong := sharding.MakeShardVersion(env.shardedVersion.IncMajor())
	stale.Placement.ShardVersion = &wrong

	_, err := AcquireCollections(ctx, env.opCtx, []CollectionAcquisitionRequest{
		env.request(nsUnsharded, OperationRead),
		stale,
	}, concurrency.ModeIS)
	require.Error(t, err)
	require.True(t, errors.HasType(err, (*StaleConfigError)(nil)))
	require.False(t, env.opCtx.Locker().HoldsAny())
	require.False(t, env.opCtx.RecoveryUnit().SnapshotOpen())
}

func TestAcquireWithoutTakingLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acqs, err := AcquireCollectionsOrViewsWithoutTakingLocks(ctx, env.opCtx,
		[]CollectionOrViewAcquisitionRequest{{
			CollectionAcquisitionRequest: env.request(nsSharded, OperationRead),
			ViewPolicy:                   MustBeCollection,
		}})
	require.NoError(t, err)
	require.Len(t, acqs, 1)
	require.True(t, acqs[0].Collection().ShardingDescription().IsSharded())

	locker := env.opCtx.Locker()
	require.True(t, locker.IsGlobalLockedForMode(concurrency.ModeIS))
	require.False(t, locker.IsDBLockedForMode(testDB, concurrency.ModeIS))
	require.False(t, locker.IsCollectionLockedForMode(nsSharded.String(), concurrency.ModeIS))
}

func TestAcquireWithoutTakingLocksRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.Panics(t, func() {
		_, _ = AcquireCollectionsOrViewsWithoutTakingLocks(ctx, env.opCtx,
			[]CollectionOrViewAcquisitionRequest{{
				CollectionAcquisitionRequest: env.request(nsSharded, OperationWrite),
			}})
	})
}

func TestAcquireLocalCatalogOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Placement is deliberately not validated, even mid critical section.
	env.reg.EnterCollectionCriticalSectionCatchUp(nsSharded, "moveChunk")
	env.reg.EnterCollectionCriticalSectionCommit(nsSharded, "moveChunk")
	t.Cleanup(func() { env.reg.ExitCollectionCriticalSection(nsSharded, "moveChunk") })

	acq, err := AcquireCollectionForLocalCatalogOnlyWithPotentialDataLoss(
		ctx, env.opCtx, nsSharded, concurrency.ModeIX)
	require.NoError(t, err)
	require.True(t, acq.Exists())
	require.Equal(t, env.shardedUUID, acq.CollectionPtr().ID)

	// The handle has no sharding state to offer.
	require.Panics(t, func() { acq.ShardingDescription() })
	require.Panics(t, func() { acq.ShardingFilter() })
}

func TestAcquisitionRequestFromContext(t *testing.T) {
	env := newTestEnv(t)

	sv := env.shardedShardVersion()
	dbv := env.dbVersion
	restore := operation.ScopedShardRole(env.opCtx, nsSharded, &sv, &dbv)
	defer restore()

	req := CollectionAcquisitionRequestFromContext(env.opCtx, nsSharded, OperationRead)
	require.NotNil(t, req.Placement.DBVersion)
	require.True(t, req.Placement.DBVersion.Equal(env.dbVersion))
	require.NotNil(t, req.Placement.ShardVersion)
	require.True(t, req.Placement.ShardVersion.Equal(sv))

	// No ambient expectation for other namespaces.
	other := CollectionAcquisitionRequestFromContext(env.opCtx, nsUnsharded, OperationRead)
	require.Nil(t, other.Placement.DBVersion)
	require.Nil(t, other.Placement.ShardVersion)
}
