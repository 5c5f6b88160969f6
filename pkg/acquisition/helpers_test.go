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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/repl"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

const (
	testShard  = sharding.ShardID("shard0")
	otherShard = sharding.ShardID("shard1")
	testDB     = "testdb"
)

var (
	nsSharded   = catalog.MakeNamespace(testDB, "sharded")
	nsUnsharded = catalog.MakeNamespace(testDB, "unsharded")
	nsView      = catalog.MakeNamespace(testDB, "view")
	nsMissing   = catalog.MakeNamespace(testDB, "nonexistent")
)

// testEnv assembles a single-node fixture: a catalog with one sharded
// collection (whole key range owned by the local shard), one unsharded
// collection and one view, plus a registry primed with the matching
// placement metadata.
type testEnv struct {
	t *testing.T

	lockMgr   *concurrency.Manager
	replCoord *repl.SettableCoordinator
	cat       *catalog.Catalog
	reg       *sharding.Registry
	opCtx     *operation.Context

	dbVersion      sharding.DatabaseVersion
	shardedVersion sharding.ChunkVersion
	shardedUUID    uuid.UUID
	unshardedUUID  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		t:         t,
		lockMgr:   concurrency.NewManager(),
		replCoord: repl.NewSettableCoordinator(),
		cat:       catalog.NewCatalog(),
		reg:       sharding.NewRegistry(),
	}

	env.dbVersion = sharding.MakeDatabaseVersion(uuid.New(), sharding.Timestamp{Seconds: 1})
	env.reg.SetDatabaseVersion(testDB, env.dbVersion)

	sharded, err := env.cat.CreateCollection(nsSharded)
	require.NoError(t, err)
	env.shardedUUID = sharded.ID

	unsharded, err := env.cat.CreateCollection(nsUnsharded)
	require.NoError(t, err)
	env.unshardedUUID = unsharded.ID

	require.NoError(t, env.cat.CreateView(nsView, nsSharded.Coll, []string{"{match: {}}"}))

	env.shardedVersion = sharding.ChunkVersion{
		Epoch:     uuid.New(),
		Timestamp: sharding.Timestamp{Seconds: 2},
		Major:     1,
	}
	chunks, err := sharding.MakeChunkMap(sharding.Chunk{
		Shard:   testShard,
		Version: env.shardedVersion,
	})
	require.NoError(t, err)
	env.reg.SetCollectionMetadata(nsSharded, &sharding.CollectionMetadata{
		Sharded:  true,
		ShardKey: "skey",
		Version:  env.shardedVersion,
		Chunks:   chunks,
	})
	env.reg.SetCollectionMetadata(nsUnsharded, sharding.UnshardedCollectionMetadata())
	// Untracked namespaces are known-unsharded on a refreshed shard.
	env.reg.SetCollectionMetadata(nsMissing, sharding.UnshardedCollectionMetadata())

	env.opCtx = env.newOpCtx()
	return env
}

func (env *testEnv) newOpCtx() *operation.Context {
	return operation.NewContext(
		zaptest.NewLogger(env.t), env.lockMgr, env.replCoord, env.cat, env.reg, testShard)
}

func (env *testEnv) shardedShardVersion() sharding.ShardVersion {
	return sharding.MakeShardVersion(env.shardedVersion)
}

// placementFor returns the placement concern a correctly routed request
// would carry for ns.
func (env *testEnv) placementFor(ns catalog.Namespace) PlacementConcern {
	dbv := env.dbVersion
	sv := sharding.ShardVersionUnsharded()
	if ns == nsSharded {
		sv = env.shardedShardVersion()
	}
	return PlacementConcern{DBVersion: &dbv, ShardVersion: &sv}
}

func (env *testEnv) request(ns catalog.Namespace, opType OperationType) CollectionAcquisitionRequest {
	return CollectionAcquisitionRequest{
		Ref:       RefByName(ns),
		Placement: env.placementFor(ns),
		Operation: opType,
	}
}

// migrateAway installs newer sharded metadata under which the whole key
// range belongs to the other shard, simulating a completed outgoing
// migration.
func (env *testEnv) migrateAway(ns catalog.Namespace) sharding.ChunkVersion {
	next := env.shardedVersion.IncMajor()
	chunks, err := sharding.MakeChunkMap(sharding.Chunk{
		Shard:   otherShard,
		Version: next,
	})
	require.NoError(env.t, err)
	env.reg.SetCollectionMetadata(ns, &sharding.CollectionMetadata{
		Sharded:  true,
		ShardKey: "skey",
		Version:  next,
		Chunks:   chunks,
	})
	return next
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
