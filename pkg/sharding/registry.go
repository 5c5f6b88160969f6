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
	"sync"

	"github.com/mosaicdb/mosaic/pkg/catalog"
)

// CollectionMetadata is the authoritative sharding state of one collection
// as this shard knows it. A nil *CollectionMetadata in the registry means
// the shard does not know the collection's placement at all (cleared or
// never installed), which is distinct from known-unsharded.
type CollectionMetadata struct {
	Sharded  bool
	ShardKey string
	Version  ChunkVersion
	Chunks   ChunkMap
}

// UnshardedCollectionMetadata is the metadata of a collection known to be
// unsharded.
func UnshardedCollectionMetadata() *CollectionMetadata {
	return &CollectionMetadata{}
}

type databaseState struct {
	version *DatabaseVersion
	critSec criticalSection
}

type collectionState struct {
	metadata *CollectionMetadata
	tracker  *usageTracker
	critSec  criticalSection
}

// Registry is this shard node's directory of placement metadata, maintained
// by the migration and DDL subsystems and only read by the acquisition
// layer.
type Registry struct {
	mu    sync.Mutex
	dbs   map[string]*databaseState
	colls map[catalog.Namespace]*collectionState
}

// NewRegistry returns an empty registry: every database and collection is in
// the placement-unknown state.
func NewRegistry() *Registry {
	return &Registry{
		dbs:   map[string]*databaseState{},
		colls: map[catalog.Namespace]*collectionState{},
	}
}

func (r *Registry) dbState(db string) *databaseState {
	st := r.dbs[db]
	if st == nil {
		st = &databaseState{}
		r.dbs[db] = st
	}
	return st
}

func (r *Registry) collState(ns catalog.Namespace) *collectionState {
	st := r.colls[ns]
	if st == nil {
		st = &collectionState{tracker: &usageTracker{}}
		r.colls[ns] = st
	}
	return st
}

// SetDatabaseVersion installs the authoritative database version.
func (r *Registry) SetDatabaseVersion(db string, v DatabaseVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbState(db).version = &v
}

// ClearDatabaseInfo forgets the database version; subsequent versioned
// accesses report the wanted version as unknown.
func (r *Registry) ClearDatabaseInfo(db string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbState(db).version = nil
}

// DatabaseVersion returns the authoritative version and whether it is known.
func (r *Registry) DatabaseVersion(db string) (DatabaseVersion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.dbs[db]; st != nil && st.version != nil {
		return *st.version, true
	}
	return DatabaseVersion{}, false
}

// EnterDatabaseCriticalSectionCatchUp starts a database-level migration
// critical section.
func (r *Registry) EnterDatabaseCriticalSectionCatchUp(db, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbState(db).critSec.enterCatchUp(reason)
}

// EnterDatabaseCriticalSectionCommit moves the section to its commit phase.
func (r *Registry) EnterDatabaseCriticalSectionCommit(db, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbState(db).critSec.enterCommit(reason)
}

// ExitDatabaseCriticalSection ends the section and resolves its signal.
func (r *Registry) ExitDatabaseCriticalSection(db, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbState(db).critSec.exit(reason)
}

// DatabaseCriticalSectionSignal returns the section's completion channel if
// one is active and fences the given access, else nil.
func (r *Registry) DatabaseCriticalSectionSignal(db string, access Access) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.dbs[db]; st != nil {
		return st.critSec.signalFor(access)
	}
	return nil
}

// SetCollectionMetadata installs authoritative collection metadata. Each
// install starts a fresh usage tracker; tokens handed out against the
// previous metadata keep gating its own completion future.
func (r *Registry) SetCollectionMetadata(ns catalog.Namespace, md *CollectionMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.collState(ns)
	st.metadata = md
	st.tracker = &usageTracker{}
}

// ClearCollectionMetadata moves the collection to the placement-unknown
// state.
func (r *Registry) ClearCollectionMetadata(ns catalog.Namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collState(ns).metadata = nil
}

// CollectionMetadata returns the authoritative metadata and whether it is
// known.
func (r *Registry) CollectionMetadata(ns catalog.Namespace) (*CollectionMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.colls[ns]; st != nil && st.metadata != nil {
		return st.metadata, true
	}
	return nil, false
}

// EnterCollectionCriticalSectionCatchUp starts a collection-level migration
// critical section.
func (r *Registry) EnterCollectionCriticalSectionCatchUp(ns catalog.Namespace, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collState(ns).critSec.enterCatchUp(reason)
}

// EnterCollectionCriticalSectionCommit moves the section to its commit
// phase.
func (r *Registry) EnterCollectionCriticalSectionCommit(ns catalog.Namespace, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collState(ns).critSec.enterCommit(reason)
}

// ExitCollectionCriticalSection ends the section and resolves its signal.
func (r *Registry) ExitCollectionCriticalSection(ns catalog.Namespace, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collState(ns).critSec.exit(reason)
}

// CollectionCriticalSectionSignal returns the section's completion channel
// if one is active and fences the given access, else nil.
func (r *Registry) CollectionCriticalSectionSignal(ns catalog.Namespace, access Access) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.colls[ns]; st != nil {
		return st.critSec.signalFor(access)
	}
	return nil
}

// TrackOngoingQuery registers an operation using the collection's currently
// installed metadata and returns its release token. Dependent cleanup
// (range deletion) blocks on OngoingQueriesCompletionFuture until all tokens
// from that install are released.
func (r *Registry) TrackOngoingQuery(ns catalog.Namespace) (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collState(ns).tracker.track()
}

// OngoingQueriesCompletionFuture returns a channel closed once no operation
// tracked against the currently installed metadata remains.
func (r *Registry) OngoingQueriesCompletionFuture(ns catalog.Namespace) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collState(ns).tracker.completionFuture()
}
