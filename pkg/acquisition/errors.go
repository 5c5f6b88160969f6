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
	"fmt"

	"github.com/google/uuid"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

// StaleDbVersionError reports that the operation's database-version
// assumption does not match this shard's authoritative version. Callers
// refresh their routing information and retry the whole acquisition; if
// CriticalSectionSignal is non-nil they should wait on it first.
type StaleDbVersionError struct {
	DB       string
	Received sharding.DatabaseVersion

	// Wanted is nil when this shard does not know the database version.
	Wanted *sharding.DatabaseVersion

	// CriticalSectionSignal, when non-nil, resolves when the in-flight
	// database-level critical section ends.
	CriticalSectionSignal <-chan struct{}
}

// Error implements error.
func (e *StaleDbVersionError) Error() string {
	wanted := "unknown"
	if e.Wanted != nil {
		wanted = e.Wanted.String()
	}
	return fmt.Sprintf("stale database version for %s: received %s, wanted %s",
		e.DB, e.Received, wanted)
}

// StaleConfigError reports that the operation's shard-version assumption
// does not match this shard's authoritative placement for the namespace.
type StaleConfigError struct {
	Namespace catalog.Namespace
	Shard     sharding.ShardID
	Received  sharding.ShardVersion

	// Wanted is nil when this shard does not know the collection's
	// placement.
	Wanted *sharding.ShardVersion

	// CriticalSectionSignal, when non-nil, resolves when the in-flight
	// collection-level critical section ends.
	CriticalSectionSignal <-chan struct{}
}

// Error implements error.
func (e *StaleConfigError) Error() string {
	wanted := "unknown"
	if e.Wanted != nil {
		wanted = e.Wanted.String()
	}
	return fmt.Sprintf("stale config for %s on shard %s: received %s, wanted %s",
		e.Namespace, e.Shard, e.Received, wanted)
}

// CollectionUUIDMismatchError reports that a collection's identity does not
// match what the operation expected: the expected UUID resolves elsewhere,
// nowhere, or the namespace no longer is the collection it was. It is fatal
// to the in-progress operation and is never retried by this layer.
type CollectionUUIDMismatchError struct {
	DB           string
	ExpectedUUID uuid.UUID

	// ExpectedCollection is the collection name the operation was targeting.
	ExpectedCollection string

	// ActualCollection is the name the expected UUID currently resolves to,
	// or nil if it resolves nowhere.
	ActualCollection *string
}

// Error implements error.
func (e *CollectionUUIDMismatchError) Error() string {
	actual := "no collection"
	if e.ActualCollection != nil {
		actual = *e.ActualCollection
	}
	return fmt.Sprintf("collection UUID mismatch in database %s: expected %s to be %s, found %s",
		e.DB, e.ExpectedCollection, e.ExpectedUUID, actual)
}

// IncompatibleShardingMetadataError reports a UUID-based acquisition that
// carried a shard-version concern. Shard versions are scoped to names, so
// the two cannot be checked against each other.
type IncompatibleShardingMetadataError struct {
	DB   string
	UUID uuid.UUID
}

// Error implements error.
func (e *IncompatibleShardingMetadataError) Error() string {
	return fmt.Sprintf(
		"cannot acquire %s:%s by UUID with a shard version attached: shard versioning is name-scoped",
		e.DB, e.UUID)
}

// CommandNotSupportedOnViewError reports a collection-only acquisition whose
// namespace resolved to a view.
type CommandNotSupportedOnViewError struct {
	Namespace catalog.Namespace
}

// Error implements error.
func (e *CommandNotSupportedOnViewError) Error() string {
	return fmt.Sprintf("namespace %s is a view, not a collection", e.Namespace)
}

// CollectionConcurrentlyCreatedError reports that a restore found a
// collection where the acquisition had established nonexistence and no local
// write fence observed the creation.
type CollectionConcurrentlyCreatedError struct {
	Namespace catalog.Namespace
}

// Error implements error.
func (e *CollectionConcurrentlyCreatedError) Error() string {
	return fmt.Sprintf("collection %s was created concurrently while the acquisition was yielded",
		e.Namespace)
}
