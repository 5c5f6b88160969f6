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

import "github.com/google/uuid"

// Collection is the descriptor of a collection as of one catalog Snapshot.
// Descriptors are immutable once published; a committed alteration publishes
// a new descriptor under the same ID in a new Snapshot.
type Collection struct {
	// ID is the collection's identity. It survives renames and is never
	// reused after a drop; a drop-and-recreate under the same name yields a
	// new ID.
	ID uuid.UUID

	// Namespace is the name the collection had in the publishing Snapshot.
	Namespace Namespace

	// Temporary marks collections that are dropped on shard restart.
	Temporary bool
}

// View is the descriptor of a view. Views have no storage identity and no
// placement; they carry only their definition.
type View struct {
	Namespace Namespace

	// ViewOn is the name of the collection the view reads from, within the
	// same database.
	ViewOn string

	// Pipeline is the view's aggregation definition, carried opaquely.
	Pipeline []string
}
