// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package catalog

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mosaicdb/mosaic/pkg/storage"
)

// Snapshot is one immutable version of the catalog. Readers obtain a
// Snapshot via Catalog.Current and may use it without synchronization; DDL
// never mutates a published Snapshot.
type Snapshot struct {
	generation uint64
	byName     map[Namespace]*Collection
	byUUID     map[uuid.UUID]*Collection
	views      map[Namespace]*View
}

// Generation returns the monotone version of this Snapshot. Each committed
// DDL operation increments it.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// LookupByName returns the collection descriptor for ns, or nil if ns does
// not name a collection in this Snapshot.
func (s *Snapshot) LookupByName(ns Namespace) *Collection {
	return s.byName[ns]
}

// LookupByUUID returns the collection descriptor with the given identity, or
// nil. The lookup spans all databases.
func (s *Snapshot) LookupByUUID(id uuid.UUID) *Collection {
	return s.byUUID[id]
}

// LookupView returns the view descriptor for ns, or nil.
func (s *Snapshot) LookupView(ns Namespace) *View {
	return s.views[ns]
}

// ResolveNamespaceByUUID resolves a (database, UUID) reference to the
// namespace the collection currently has. A UUID that does not exist, or
// that belongs to a collection in a different database, is
// NamespaceNotFoundError.
func (s *Snapshot) ResolveNamespaceByUUID(db string, id uuid.UUID) (Namespace, error) {
	coll := s.byUUID[id]
	if coll == nil || coll.Namespace.DB != db {
		return Namespace{}, &NamespaceNotFoundError{Target: db + ":" + id.String()}
	}
	return coll.Namespace, nil
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		generation: s.generation + 1,
		byName:     make(map[Namespace]*Collection, len(s.byName)+1),
		byUUID:     make(map[uuid.UUID]*Collection, len(s.byUUID)+1),
		views:      make(map[Namespace]*View, len(s.views)+1),
	}
	for k, v := range s.byName {
		next.byName[k] = v
	}
	for k, v := range s.byUUID {
		next.byUUID[k] = v
	}
	for k, v := range s.views {
		next.views[k] = v
	}
	return next
}

// Catalog is the mutable holder of the current Snapshot. All DDL goes
// through it; concurrent DDL serializes on an internal mutex. Pointer
// identity of Current() across two reads tells a lock-free reader whether
// any DDL committed in between.
type Catalog struct {
	mu      sync.Mutex
	current *Snapshot
}

// NewCatalog returns an empty catalog at generation zero.
func NewCatalog() *Catalog {
	return &Catalog{current: &Snapshot{
		byName: map[Namespace]*Collection{},
		byUUID: map[uuid.UUID]*Collection{},
		views:  map[Namespace]*View{},
	}}
}

// Current returns the current immutable Snapshot.
func (c *Catalog) Current() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// update clones the current Snapshot, applies fn to the clone, and publishes
// it. fn returning an error abandons the clone.
func (c *Catalog) update(fn func(next *Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current.clone()
	if err := fn(next); err != nil {
		return err
	}
	c.current = next
	return nil
}

func checkNameFree(s *Snapshot, ns Namespace) error {
	if s.byName[ns] != nil || s.views[ns] != nil {
		return &NamespaceExistsError{Namespace: ns}
	}
	return nil
}

// CreateCollection creates and publishes a collection with a fresh identity.
func (c *Catalog) CreateCollection(ns Namespace) (*Collection, error) {
	if !ns.IsValid() {
		return nil, &InvalidNamespaceError{Namespace: ns}
	}
	coll := &Collection{ID: uuid.New(), Namespace: ns}
	err := c.update(func(next *Snapshot) error {
		if err := checkNameFree(next, ns); err != nil {
			return err
		}
		next.byName[ns] = coll
		next.byUUID[coll.ID] = coll
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// DropCollection removes ns, failing if it does not name a collection.
func (c *Catalog) DropCollection(ns Namespace) error {
	return c.update(func(next *Snapshot) error {
		coll := next.byName[ns]
		if coll == nil {
			return &NamespaceNotFoundError{Target: ns.String()}
		}
		delete(next.byName, ns)
		delete(next.byUUID, coll.ID)
		return nil
	})
}

// RenameCollection moves the collection at from to to, preserving its
// identity. Both namespaces must be in the same database.
func (c *Catalog) RenameCollection(from, to Namespace) error {
	if from.DB != to.DB {
		return errors.AssertionFailedf("rename across databases: %s -> %s", from, to)
	}
	if !to.IsValid() {
		return &InvalidNamespaceError{Namespace: to}
	}
	return c.update(func(next *Snapshot) error {
		coll := next.byName[from]
		if coll == nil {
			return &NamespaceNotFoundError{Target: from.String()}
		}
		if err := checkNameFree(next, to); err != nil {
			return err
		}
		renamed := *coll
		renamed.Namespace = to
		delete(next.byName, from)
		next.byName[to] = &renamed
		next.byUUID[coll.ID] = &renamed
		return nil
	})
}

// CreateView creates and publishes a view over viewOn.
func (c *Catalog) CreateView(ns Namespace, viewOn string, pipeline []string) error {
	if !ns.IsValid() {
		return &InvalidNamespaceError{Namespace: ns}
	}
	return c.update(func(next *Snapshot) error {
		if err := checkNameFree(next, ns); err != nil {
			return err
		}
		next.views[ns] = &View{Namespace: ns, ViewOn: viewOn, Pipeline: pipeline}
		return nil
	})
}

// DropView removes the view at ns.
func (c *Catalog) DropView(ns Namespace) error {
	return c.update(func(next *Snapshot) error {
		if next.views[ns] == nil {
			return &NamespaceNotFoundError{Target: ns.String()}
		}
		delete(next.views, ns)
		return nil
	})
}

// CreateCollectionInUnitOfWork defers creation of ns to the unit of work's
// commit. If by commit time the name has been taken by another actor, the
// commit fails with storage.WriteConflictError and the unit of work rolls
// back; the catalog then reflects the other actor's collection.
func (c *Catalog) CreateCollectionInUnitOfWork(uow *storage.WriteUnitOfWork, ns Namespace) {
	uow.AddCommitOp(func() error {
		if _, err := c.CreateCollection(ns); err != nil {
			if errors.HasType(err, (*NamespaceExistsError)(nil)) {
				return &storage.WriteConflictError{Reason: "namespace " + ns.String() + " created concurrently"}
			}
			return err
		}
		return nil
	})
}

// AlterCollectionInUnitOfWork defers an alteration of the descriptor at ns
// to the unit of work's commit. The mutation is applied to a copy; the
// altered descriptor is published atomically at commit.
func (c *Catalog) AlterCollectionInUnitOfWork(
	uow *storage.WriteUnitOfWork, ns Namespace, mutate func(*Collection),
) {
	uow.AddCommitOp(func() error {
		return c.update(func(next *Snapshot) error {
			coll := next.byName[ns]
			if coll == nil {
				return &storage.WriteConflictError{Reason: "namespace " + ns.String() + " dropped concurrently"}
			}
			altered := *coll
			mutate(&altered)
			next.byName[ns] = &altered
			next.byUUID[altered.ID] = &altered
			return nil
		})
	})
}
