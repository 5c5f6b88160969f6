// Copyright 2023 The Mosaic Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package catalog implements the local collection and view directory of a
// mosaic shard. The catalog is copy-on-write: every committed DDL operation
// publishes a fresh immutable Snapshot, and pointer identity between two
// Snapshots is the "has the catalog changed underneath me" check used by
// lock-free readers.
package catalog

import "github.com/cockroachdb/redact"

// Namespace identifies a collection or view as (database, collection) name
// pair.
type Namespace struct {
	DB   string
	Coll string
}

// MakeNamespace constructs a Namespace. It does not validate; use IsValid.
func MakeNamespace(db, coll string) Namespace {
	return Namespace{DB: db, Coll: coll}
}

// IsValid reports whether both name components are non-empty.
func (ns Namespace) IsValid() bool {
	return ns.DB != "" && ns.Coll != ""
}

// String returns the fully qualified "db.coll" form.
func (ns Namespace) String() string {
	return redact.StringWithoutMarkers(ns)
}

// SafeFormat implements redact.SafeFormatter. Namespace names are operator
// metadata, not user document data.
func (ns Namespace) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s.%s", redact.SafeString(ns.DB), redact.SafeString(ns.Coll))
}

var _ redact.SafeFormatter = Namespace{}
