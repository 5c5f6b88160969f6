// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package sharding

// Description is the frozen per-acquisition view of a collection's sharding
// state. It never changes for the lifetime of the acquisition that took it,
// even if the authoritative metadata moves on.
type Description struct {
	sharded  bool
	shardKey string
	version  ChunkVersion
}

// UnshardedDescription describes a collection the operation sees as
// unsharded: either genuinely unsharded or accessed by an unversioned
// operation.
func UnshardedDescription() Description {
	return Description{}
}

// MakeShardedDescription freezes a sharded collection's key and placement
// version.
func MakeShardedDescription(shardKey string, version ChunkVersion) Description {
	return Description{sharded: true, shardKey: shardKey, version: version}
}

// IsSharded reports whether the acquisition saw the collection as sharded.
func (d Description) IsSharded() bool {
	return d.sharded
}

// ShardKey returns the shard key field. Empty when unsharded.
func (d Description) ShardKey() string {
	return d.shardKey
}

// PlacementVersion returns the frozen placement version. Zero when
// unsharded.
func (d Description) PlacementVersion() ChunkVersion {
	return d.version
}

// Filter answers shard-key ownership questions against a frozen chunk map.
// It is a pure function of the chunk map it was built from; placement
// changes after the freeze do not affect it.
type Filter struct {
	chunks    ChunkMap
	thisShard ShardID
}

// MakeFilter freezes the given chunk map for the local shard.
func MakeFilter(chunks ChunkMap, thisShard ShardID) *Filter {
	return &Filter{chunks: chunks, thisShard: thisShard}
}

// KeyBelongsToMe reports whether the document with the given shard-key value
// belongs to the local shard under the frozen placement.
func (f *Filter) KeyBelongsToMe(key []byte) bool {
	owner, ok := f.chunks.Owner(key)
	return ok && owner == f.thisShard
}
