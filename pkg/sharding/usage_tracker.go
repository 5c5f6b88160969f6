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

import "sync"

var closedCompletion = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// usageTracker counts outstanding users of one installed collection
// metadata. Range deletion waits on CompletionFuture before discarding data
// a frozen reader may still touch.
type usageTracker struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// track registers a user and returns its release token. The token is
// idempotent.
func (t *usageTracker) track() (release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.count--
			if t.count == 0 && t.done != nil {
				close(t.done)
				t.done = nil
			}
		})
	}
}

// completionFuture returns a channel that is closed once no users remain. If
// none remain now, the returned channel is already closed.
func (t *usageTracker) completionFuture() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return closedCompletion
	}
	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}
