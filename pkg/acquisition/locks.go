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
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/mosaicdb/mosaic/pkg/catalog"
	"github.com/mosaicdb/mosaic/pkg/concurrency"
	"github.com/mosaicdb/mosaic/pkg/operation"
)

// lockGrant is one lock taken on behalf of an acquisition, recorded in
// acquisition order so yield can release in reverse and restore can
// reacquire identically.
type lockGrant struct {
	res  concurrency.ResourceID
	mode concurrency.Mode
}

// computeLockPlan produces the ordered lock acquisition plan for a set of
// namespaces locked at mode: the global intent, the single database intent,
// then the collections sorted by name. All namespaces must share one
// database; mixing databases in one call is a caller bug, not a runtime
// condition.
func computeLockPlan(nss []catalog.Namespace, mode concurrency.Mode) []lockGrant {
	if len(nss) == 0 {
		panic(errors.AssertionFailedf("empty lock plan"))
	}
	db := nss[0].DB
	for _, ns := range nss[1:] {
		if ns.DB != db {
			panic(errors.AssertionFailedf(
				"cannot acquire namespaces of different databases in one call: %s and %s", db, ns.DB))
		}
	}
	intent := mode.IntentFor()
	plan := []lockGrant{
		{res: concurrency.GlobalResource(), mode: intent},
		{res: concurrency.DatabaseResource(db), mode: intent},
	}
	sorted := make([]string, 0, len(nss))
	seen := map[string]bool{}
	for _, ns := range nss {
		if name := ns.String(); !seen[name] {
			seen[name] = true
			sorted = append(sorted, name)
		}
	}
	sort.Strings(sorted)
	for _, name := range sorted {
		plan = append(plan, lockGrant{res: concurrency.CollectionResource(name), mode: mode})
	}
	return plan
}

// lockFreePlan is the plan used by lock-free reads: the lightest global
// intent marker only. Correctness comes from the snapshot attempt's
// catalog-consistency check, not from locks.
func lockFreePlan() []lockGrant {
	return []lockGrant{{res: concurrency.GlobalResource(), mode: concurrency.ModeIS}}
}

// acquireLockPlan takes every lock in the plan, in order. On error-free
// return all grants are held; there is no partial-failure path because the
// manager's Acquire blocks rather than fails.
func acquireLockPlan(opCtx *operation.Context, plan []lockGrant) {
	for _, g := range plan {
		opCtx.Locker().Acquire(g.res, g.mode)
	}
}

// releaseLockPlan drops the plan's grants in reverse acquisition order.
func releaseLockPlan(opCtx *operation.Context, plan []lockGrant) {
	for i := len(plan) - 1; i >= 0; i-- {
		opCtx.Locker().Release(plan[i].res, plan[i].mode)
	}
}
