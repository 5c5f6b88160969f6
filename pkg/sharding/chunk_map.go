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

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// Chunk is one contiguous shard-key range and the shard that owns it. Min is
// inclusive, Max exclusive. A nil Min means negative infinity and a nil Max
// positive infinity.
type Chunk struct {
	Min     []byte
	Max     []byte
	Shard   ShardID
	Version ChunkVersion
}

func chunkLess(a, b Chunk) bool {
	if a.Min == nil || b.Min == nil {
		return a.Min == nil && b.Min != nil
	}
	return bytes.Compare(a.Min, b.Min) < 0
}

// ChunkMap is an immutable ordered index of a collection's chunks, keyed by
// chunk min key.
type ChunkMap struct {
	tree *btree.BTreeG[Chunk]
}

// MakeChunkMap builds a chunk map. Chunks must be non-overlapping; they may
// be given in any order.
func MakeChunkMap(chunks ...Chunk) (ChunkMap, error) {
	if len(chunks) == 0 {
		return ChunkMap{}, errors.AssertionFailedf("chunk map must have at least one chunk")
	}
	tree := btree.NewG[Chunk](16, chunkLess)
	for _, c := range chunks {
		if _, replaced := tree.ReplaceOrInsert(c); replaced {
			return ChunkMap{}, errors.Newf("duplicate chunk min key %q", c.Min)
		}
	}
	var prev *Chunk
	var overlap error
	tree.Ascend(func(c Chunk) bool {
		if prev != nil && (prev.Max == nil || (c.Min != nil && bytes.Compare(prev.Max, c.Min) > 0)) {
			overlap = errors.Newf("chunks overlap at min key %q", c.Min)
			return false
		}
		cc := c
		prev = &cc
		return true
	})
	if overlap != nil {
		return ChunkMap{}, overlap
	}
	return ChunkMap{tree: tree}, nil
}

// Size returns the number of chunks.
func (m ChunkMap) Size() int {
	if m.tree == nil {
		return 0
	}
	return m.tree.Len()
}

// Owner returns the shard owning key, if any chunk contains it.
func (m ChunkMap) Owner(key []byte) (ShardID, bool) {
	if m.tree == nil {
		return "", false
	}
	// The owning chunk, if any, is the one with the greatest min key not
	// above key. A nil-min chunk sorts below everything and is found by the
	// same walk.
	var found *Chunk
	m.tree.DescendLessOrEqual(Chunk{Min: key}, func(c Chunk) bool {
		cc := c
		found = &cc
		return false
	})
	if found == nil {
		return "", false
	}
	if found.Max != nil && bytes.Compare(key, found.Max) >= 0 {
		return "", false
	}
	return found.Shard, true
}
