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

import "fmt"

// InvalidNamespaceError is returned when a namespace with an empty database
// or collection component reaches the catalog or an acquisition entry point.
// It is a caller input error and is never retried.
type InvalidNamespaceError struct {
	Namespace Namespace
}

// Error implements error.
func (e *InvalidNamespaceError) Error() string {
	return fmt.Sprintf("invalid namespace %q", e.Namespace.String())
}

// NamespaceNotFoundError is returned by catalog lookups that require the
// target to exist, including UUID resolution under the wrong database.
type NamespaceNotFoundError struct {
	// Target is the textual form of what was looked up: either "db.coll" or
	// "db:uuid".
	Target string
}

// Error implements error.
func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %s not found", e.Target)
}

// NamespaceExistsError is returned by DDL that would create a namespace whose
// name is already taken by a collection or a view.
type NamespaceExistsError struct {
	Namespace Namespace
}

// Error implements error.
func (e *NamespaceExistsError) Error() string {
	return fmt.Sprintf("namespace %s already exists", e.Namespace)
}
