// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package concurrency

import "fmt"

// Scope is the level in the resource hierarchy a lock applies to.
type Scope int

const (
	// ScopeGlobal covers the whole node.
	ScopeGlobal Scope = iota
	// ScopeDatabase covers one database.
	ScopeDatabase
	// ScopeCollection covers one collection.
	ScopeCollection
)

// ResourceID identifies a lockable resource. Name is empty for the global
// scope, the database name for database scope, and the fully qualified
// "db.coll" for collection scope.
type ResourceID struct {
	Scope Scope
	Name  string
}

// GlobalResource is the node-wide resource.
func GlobalResource() ResourceID {
	return ResourceID{Scope: ScopeGlobal}
}

// DatabaseResource is the resource for one database.
func DatabaseResource(db string) ResourceID {
	return ResourceID{Scope: ScopeDatabase, Name: db}
}

// CollectionResource is the resource for one collection, identified by its
// fully qualified name.
func CollectionResource(ns string) ResourceID {
	return ResourceID{Scope: ScopeCollection, Name: ns}
}

// String implements fmt.Stringer.
func (r ResourceID) String() string {
	switch r.Scope {
	case ScopeGlobal:
		return "{global}"
	case ScopeDatabase:
		return fmt.Sprintf("{db: %s}", r.Name)
	default:
		return fmt.Sprintf("{coll: %s}", r.Name)
	}
}
