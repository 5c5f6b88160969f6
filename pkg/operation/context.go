// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package operation defines the per-operation context: the operation's lock
// ledger, storage session, replica-role view, catalog and placement-registry
// handles, and the ambient placement expectations routers attach to the
// operation. One operation context serves one logical request at a time.
package operation

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/repl"
	"github.com/mosaicdb/mosaic/pkg/sharding"
	"github.com/mosaicdb/mosaic/pkg/storage"
)

// PlacementExpectation is the placement assumption a router attached to the
// operation for one namespace. Nil fields mean no assumption.
type PlacementExpectation struct {
	DBVersion    *sharding.DatabaseVersion
	ShardVersion *sharding.ShardVersion
}

// Context carries everything one operation needs from its surrounding node.
// It is confined to the operation's own goroutine except where documented.
type Context struct {
	log       *zap.Logger
	locker    *concurrency.Locker
	ru        *storage.RecoveryUnit
	repl      repl.Coordinator
	catalog   *catalog.Catalog
	registry  *sharding.Registry
	thisShard sharding.ShardID

	ambient map[catalog.Namespace]PlacementExpectation

	// resources is the operation's attached transaction resources, if any.
	// The acquisition layer owns the concrete type; the context only
	// guarantees there is at most one.
	resources any

	// uow is the active write unit of work, if any.
	uow *storage.WriteUnitOfWork
}

// NewContext assembles an operation context over the node's collaborators.
func NewContext(
	log *zap.Logger,
	lockMgr *concurrency.Manager,
	replCoord repl.Coordinator,
	cat *catalog.Catalog,
	reg *sharding.Registry,
	thisShard sharding.ShardID,
) *Context {
	return &Context{
		log:       log,
		locker:    concurrency.NewLocker(lockMgr),
		ru:        storage.NewRecoveryUnit(),
		repl:      replCoord,
		catalog:   cat,
		registry:  reg,
		thisShard: thisShard,
		ambient:   map[catalog.Namespace]PlacementExpectation{},
	}
}

// Log returns the operation's logger.
func (c *Context) Log() *zap.Logger { return c.log }

// Locker returns the operation's lock ledger.
func (c *Context) Locker() *concurrency.Locker { return c.locker }

// RecoveryUnit returns the operation's storage session.
func (c *Context) RecoveryUnit() *storage.RecoveryUnit { return c.ru }

// Repl returns the node's replica-role coordinator.
func (c *Context) Repl() repl.Coordinator { return c.repl }

// Catalog returns the node's local catalog.
func (c *Context) Catalog() *catalog.Catalog { return c.catalog }

// ShardingRegistry returns the node's placement registry.
func (c *Context) ShardingRegistry() *sharding.Registry { return c.registry }

// ThisShard returns the local shard's identity.
func (c *Context) ThisShard() sharding.ShardID { return c.thisShard }

// ScopedShardRole installs the placement expectation for ns and returns a
// restore function that reinstates the previous expectation. Callers must
// invoke restore on every exit path, typically via defer.
func ScopedShardRole(
	c *Context, ns catalog.Namespace, sv *sharding.ShardVersion, dbv *sharding.DatabaseVersion,
) (restore func()) {
	prev, had := c.ambient[ns]
	c.ambient[ns] = PlacementExpectation{DBVersion: dbv, ShardVersion: sv}
	return func() {
		if had {
			c.ambient[ns] = prev
		} else {
			delete(c.ambient, ns)
		}
	}
}

// PlacementExpectationFor returns the ambient expectation for ns, if a
// router attached one to this operation.
func (c *Context) PlacementExpectationFor(ns catalog.Namespace) (PlacementExpectation, bool) {
	exp, ok := c.ambient[ns]
	return exp, ok
}

// AttachedResources returns the attached transaction resources, or nil.
func (c *Context) AttachedResources() any { return c.resources }

// AttachResources attaches transaction resources. At most one set may be
// attached; attach-over-attach is a caller bug.
func (c *Context) AttachResources(r any) {
	if r != nil && c.resources != nil {
		panic(errors.AssertionFailedf("operation already has attached transaction resources"))
	}
	c.resources = r
}

// DetachResources clears and returns the attached transaction resources.
func (c *Context) DetachResources() any {
	r := c.resources
	c.resources = nil
	return r
}

// BeginWriteUnitOfWork opens a write unit of work on this operation. Only
// one may be active at a time.
func (c *Context) BeginWriteUnitOfWork() *storage.WriteUnitOfWork {
	if c.uow != nil {
		panic(errors.AssertionFailedf("operation already has an active write unit of work"))
	}
	uow := storage.NewWriteUnitOfWork(func() { c.uow = nil })
	c.uow = uow
	return uow
}

// CurrentWriteUnitOfWork returns the active write unit of work, or nil.
func (c *Context) CurrentWriteUnitOfWork() *storage.WriteUnitOfWork {
	return c.uow
}
