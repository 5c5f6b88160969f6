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
	"github.com/google/uuid"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/operation"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

// OperationType distinguishes read from write acquisitions. The distinction
// matters at restore time: writes re-validate placement, reads keep their
// frozen view.
type OperationType int

const (
	// OperationRead acquires for reading.
	OperationRead OperationType = iota
	// OperationWrite acquires for writing.
	OperationWrite
)

func (t OperationType) access() sharding.Access {
	if t == OperationWrite {
		return sharding.AccessWrite
	}
	return sharding.AccessRead
}

// ViewPolicy states whether the acquisition tolerates the namespace
// resolving to a view.
type ViewPolicy int

const (
	// MustBeCollection fails with CommandNotSupportedOnViewError on views.
	MustBeCollection ViewPolicy = iota
	// CanBeView yields a view acquisition on views.
	CanBeView
)

// ReadConcernLevel is the durability level a read acquisition was requested
// at. The acquisition layer carries it opaquely for the execution layer.
type ReadConcernLevel int

const (
	// ReadConcernLocal reads local data.
	ReadConcernLocal ReadConcernLevel = iota
	// ReadConcernMajority reads majority-committed data.
	ReadConcernMajority
	// ReadConcernSnapshot reads at the operation's snapshot timestamp.
	ReadConcernSnapshot
)

// ReadConcern is the read-concern argument attached to a request.
type ReadConcern struct {
	Level ReadConcernLevel
}

// NamespaceRef names the acquisition target: a (db, coll) name or a
// (db, UUID) pair.
type NamespaceRef struct {
	db      string
	coll    string
	uuid    uuid.UUID
	hasUUID bool
}

// RefByName targets a namespace by name.
func RefByName(ns catalog.Namespace) NamespaceRef {
	return NamespaceRef{db: ns.DB, coll: ns.Coll}
}

// RefByUUID targets a collection by identity within a database.
func RefByUUID(db string, id uuid.UUID) NamespaceRef {
	return NamespaceRef{db: db, uuid: id, hasUUID: true}
}

// DB returns the database component.
func (r NamespaceRef) DB() string { return r.db }

// IsByUUID reports whether the target is identified by UUID.
func (r NamespaceRef) IsByUUID() bool { return r.hasUUID }

// UUID returns the identity of a by-UUID reference.
func (r NamespaceRef) UUID() uuid.UUID { return r.uuid }

// Namespace returns the (db, coll) name of a by-name reference.
func (r NamespaceRef) Namespace() catalog.Namespace {
	return catalog.MakeNamespace(r.db, r.coll)
}

// validate fails fast on malformed references, before any lock or snapshot
// work happens.
func (r NamespaceRef) validate() error {
	if r.db == "" || (!r.hasUUID && r.coll == "") {
		return &catalog.InvalidNamespaceError{Namespace: catalog.MakeNamespace(r.db, r.coll)}
	}
	return nil
}

// PlacementConcern is the placement assumption the request carries. Nil
// fields mean no assumption; a concern with both fields nil is always
// satisfied.
type PlacementConcern struct {
	DBVersion    *sharding.DatabaseVersion
	ShardVersion *sharding.ShardVersion
}

// CollectionAcquisitionRequest describes one namespace to acquire and under
// what assumptions. Requests are immutable once constructed.
type CollectionAcquisitionRequest struct {
	Ref       NamespaceRef
	Placement PlacementConcern

	// ExpectedUUID, when non-nil on a by-name request, requires the resolved
	// collection to have exactly this identity.
	ExpectedUUID *uuid.UUID

	ReadConcern ReadConcern
	Operation   OperationType
}

// CollectionOrViewAcquisitionRequest is a CollectionAcquisitionRequest plus
// a view policy.
type CollectionOrViewAcquisitionRequest struct {
	CollectionAcquisitionRequest
	ViewPolicy ViewPolicy
}

// CollectionAcquisitionRequestFromContext derives a request from the
// operation's ambient placement expectation for ns. If no router attached an
// expectation for this namespace, the request carries no placement concern.
func CollectionAcquisitionRequestFromContext(
	opCtx *operation.Context, ns catalog.Namespace, opType OperationType,
) CollectionAcquisitionRequest {
	req := CollectionAcquisitionRequest{Ref: RefByName(ns), Operation: opType}
	if exp, ok := opCtx.PlacementExpectationFor(ns); ok {
		req.Placement = PlacementConcern{DBVersion: exp.DBVersion, ShardVersion: exp.ShardVersion}
	}
	return req
}

// CollectionOrViewAcquisitionRequestFromContext is the view-tolerant variant
// of CollectionAcquisitionRequestFromContext.
func CollectionOrViewAcquisitionRequestFromContext(
	opCtx *operation.Context, ns catalog.Namespace, opType OperationType, policy ViewPolicy,
) CollectionOrViewAcquisitionRequest {
	return CollectionOrViewAcquisitionRequest{
		CollectionAcquisitionRequest: CollectionAcquisitionRequestFromContext(opCtx, ns, opType),
		ViewPolicy:                   policy,
	}
}
