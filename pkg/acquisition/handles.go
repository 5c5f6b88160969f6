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
	"github.com/cockroachdb/errors"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/sharding"
)

// CollectionAcquisition is a lightweight handle into one acquired
// namespace's state, owned by the operation's TransactionResources. Handles
// must not outlive the resources they reference.
type CollectionAcquisition struct {
	acq *acquiredNamespace
}

// Namespace returns the resolved namespace.
func (a CollectionAcquisition) Namespace() catalog.Namespace {
	return a.acq.nss
}

// Exists reports whether the collection existed as of acquisition (or as of
// the last write-fence event that updated this acquisition).
func (a CollectionAcquisition) Exists() bool {
	return a.acq.exists
}

// CollectionPtr returns the catalog descriptor, or nil for a nonexistent
// collection.
func (a CollectionAcquisition) CollectionPtr() *catalog.Collection {
	return a.acq.coll
}

// ShardingDescription returns the frozen sharding description. Calling it on
// a local-catalog-only acquisition is a caller bug: such acquisitions
// deliberately bypassed placement validation and have no meaningful
// description.
func (a CollectionAcquisition) ShardingDescription() sharding.Description {
	if a.acq.localCatalogOnly {
		panic(errors.AssertionFailedf(
			"sharding description accessed on a local-catalog-only acquisition of %s", a.acq.nss))
	}
	return a.acq.descr
}

// ShardingFilter returns the frozen ownership filter, or nil when the
// acquisition observed the collection as unsharded. Same restriction as
// ShardingDescription.
func (a CollectionAcquisition) ShardingFilter() *sharding.Filter {
	if a.acq.localCatalogOnly {
		panic(errors.AssertionFailedf(
			"sharding filter accessed on a local-catalog-only acquisition of %s", a.acq.nss))
	}
	return a.acq.filter
}

// ViewAcquisition is the handle for a namespace that resolved to a view.
// Views carry no placement or lock state beyond existence; in particular a
// view acquisition cannot be yielded.
type ViewAcquisition struct {
	acq *acquiredNamespace
}

// Namespace returns the view's namespace.
func (a ViewAcquisition) Namespace() catalog.Namespace {
	return a.acq.nss
}

// ViewDefinition returns the view descriptor.
func (a ViewAcquisition) ViewDefinition() *catalog.View {
	return a.acq.view
}

// CollectionOrViewAcquisition is the tagged union returned by view-tolerant
// entry points. Exactly one variant is populated; accessing the wrong one is
// a caller bug.
type CollectionOrViewAcquisition struct {
	coll *CollectionAcquisition
	view *ViewAcquisition
}

// IsCollection reports whether the collection variant is populated.
func (a CollectionOrViewAcquisition) IsCollection() bool {
	return a.coll != nil
}

// IsView reports whether the view variant is populated.
func (a CollectionOrViewAcquisition) IsView() bool {
	return a.view != nil
}

// Collection returns the collection variant.
func (a CollectionOrViewAcquisition) Collection() CollectionAcquisition {
	if a.coll == nil {
		panic(errors.AssertionFailedf("acquisition is a view, not a collection"))
	}
	return *a.coll
}

// View returns the view variant.
func (a CollectionOrViewAcquisition) View() ViewAcquisition {
	if a.view == nil {
		panic(errors.AssertionFailedf("acquisition is a collection, not a view"))
	}
	return *a.view
}

// Namespace returns the namespace of whichever variant is populated.
func (a CollectionOrViewAcquisition) Namespace() catalog.Namespace {
	if a.coll != nil {
		return a.coll.Namespace()
	}
	return a.view.Namespace()
}
