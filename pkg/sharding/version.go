// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package sharding models a shard's view of placement: database and shard
// placement versions, the chunk map, the frozen per-acquisition sharding
// description and ownership filter, and the per-node registry of
// authoritative placement metadata with migration critical sections.
package sharding

import (
	"github.com/cockroachdb/redact"
	"github.com/google/uuid"
)

// ShardID names a shard within the cluster.
type ShardID string

// SafeValue implements redact.SafeValue. Shard identifiers are operator
// metadata.
func (ShardID) SafeValue() {}

// Timestamp is a cluster-time instant used as a placement generation marker.
type Timestamp struct {
	Seconds uint32
	Inc     uint32
}

// SafeValue implements redact.SafeValue.
func (Timestamp) SafeValue() {}

// Less orders timestamps by (Seconds, Inc).
func (t Timestamp) Less(o Timestamp) bool {
	if t.Seconds != o.Seconds {
		return t.Seconds < o.Seconds
	}
	return t.Inc < o.Inc
}

// DatabaseVersion identifies one generation of a database's placement: the
// UUID changes when the database is dropped and recreated or moves its
// primary shard, Timestamp orders generations, and LastMod counts in-place
// modifications within a generation.
type DatabaseVersion struct {
	UUID      uuid.UUID
	Timestamp Timestamp
	LastMod   int32
}

// MakeDatabaseVersion returns a fresh database version at LastMod zero.
func MakeDatabaseVersion(id uuid.UUID, ts Timestamp) DatabaseVersion {
	return DatabaseVersion{UUID: id, Timestamp: ts}
}

// MakeUpdated returns the next version of the same database generation.
func (v DatabaseVersion) MakeUpdated() DatabaseVersion {
	v.LastMod++
	return v
}

// Equal reports full equality of the two versions.
func (v DatabaseVersion) Equal(o DatabaseVersion) bool {
	return v == o
}

// String implements fmt.Stringer.
func (v DatabaseVersion) String() string {
	return redact.StringWithoutMarkers(v)
}

// SafeFormat implements redact.SafeFormatter.
func (v DatabaseVersion) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s|%d.%d|%d", redact.SafeString(v.UUID.String()), v.Timestamp.Seconds, v.Timestamp.Inc, v.LastMod)
}

// ChunkVersion is a collection placement version: Epoch and Timestamp
// identify one sharding incarnation of the collection, Major counts chunk
// ownership changes (migrations), Minor counts chunk boundary changes
// (splits and merges).
type ChunkVersion struct {
	Epoch     uuid.UUID
	Timestamp Timestamp
	Major     uint32
	Minor     uint32
}

// IncMajor returns the version after a chunk ownership change.
func (v ChunkVersion) IncMajor() ChunkVersion {
	v.Major++
	v.Minor = 0
	return v
}

// Equal reports full equality of the two versions.
func (v ChunkVersion) Equal(o ChunkVersion) bool {
	return v == o
}

// String implements fmt.Stringer.
func (v ChunkVersion) String() string {
	return redact.StringWithoutMarkers(v)
}

// SafeFormat implements redact.SafeFormatter.
func (v ChunkVersion) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d|%d||%s||%d.%d",
		v.Major, v.Minor, redact.SafeString(v.Epoch.String()), v.Timestamp.Seconds, v.Timestamp.Inc)
}

// ignoredEpoch marks the ShardVersionIgnored sentinel.
var ignoredEpoch = uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

// ShardVersion is the placement version a router attaches to a request: a
// concrete ChunkVersion, the UNSHARDED sentinel, or the IGNORED sentinel
// that asks the shard to skip placement checks.
type ShardVersion struct {
	placement ChunkVersion
}

// MakeShardVersion wraps a concrete placement version.
func MakeShardVersion(placement ChunkVersion) ShardVersion {
	return ShardVersion{placement: placement}
}

// ShardVersionUnsharded is the version carried by requests that believe the
// collection is unsharded.
func ShardVersionUnsharded() ShardVersion {
	return ShardVersion{}
}

// ShardVersionIgnored is the sentinel used by internal operations that
// deliberately bypass placement versioning.
func ShardVersionIgnored() ShardVersion {
	return ShardVersion{placement: ChunkVersion{Epoch: ignoredEpoch}}
}

// Placement returns the wrapped placement version.
func (v ShardVersion) Placement() ChunkVersion {
	return v.placement
}

// IsIgnored reports whether v is the IGNORED sentinel.
func (v ShardVersion) IsIgnored() bool {
	return v.placement.Epoch == ignoredEpoch
}

// IsUnsharded reports whether v is the UNSHARDED sentinel.
func (v ShardVersion) IsUnsharded() bool {
	return v == ShardVersion{}
}

// Equal reports full equality of the two versions.
func (v ShardVersion) Equal(o ShardVersion) bool {
	return v == o
}

// String implements fmt.Stringer.
func (v ShardVersion) String() string {
	return redact.StringWithoutMarkers(v)
}

// SafeFormat implements redact.SafeFormatter.
func (v ShardVersion) SafeFormat(w redact.SafePrinter, r rune) {
	switch {
	case v.IsUnsharded():
		w.SafeString("UNSHARDED")
	case v.IsIgnored():
		w.SafeString("IGNORED")
	default:
		v.placement.SafeFormat(w, r)
	}
}
