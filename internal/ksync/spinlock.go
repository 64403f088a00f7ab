// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ksync implements the kernel's thread-synchronization primitives:
// spinlocks, wait channels, semaphores, locks and condition variables. See
// spec §4.2.
//
// A real OS/161 spinlock raises IPL while held, which is how it guarantees
// the holder cannot be preempted or migrated mid-section. This kernel has
// no interrupts to disable; Spinlock instead tracks ownership so that
// do_i_hold and the "never sleep while holding a spinlock" invariant can
// still be checked, and relies on its underlying mutex for exclusion.
package ksync

import (
	"sync"
	"sync/atomic"
)

// Waiter is the minimal handle a WaitChannel needs in order to park and
// later resume a thread. internal/sched.Thread implements this; ksync
// itself knows nothing about run queues or CPUs, so the coupling the
// original kernel has between wait channels and the scheduler's run-queue
// placement is pushed up into internal/sched (see WaitChannel.WakeOne).
type Waiter interface {
	// Park blocks the calling goroutine until Resume is called for the
	// same Waiter. It must not be called while holding any Spinlock.
	Park()

	// Resume unblocks a goroutine previously parked with Park. It is
	// called by whoever popped this Waiter off a WaitChannel, while still
	// holding that wait channel's companion spinlock.
	Resume()
}

// Spinlock is a non-reentrant mutual-exclusion primitive. Acquire/Release
// must be called by the same logical holder id (see do_i_hold); mismatched
// pairs are a programming error in the caller, not something Spinlock can
// detect in general.
type Spinlock struct {
	mu    sync.Mutex
	owner int64 // holder id of the current owner, 0 when unheld
}

// Acquire blocks until the spinlock is held by holder. Per spec, a thread
// must never suspend (sleep on a wait channel) while already holding one;
// callers are expected to track their own spinlock nesting count and
// assert on violations rather than relying on Spinlock to catch them.
func (s *Spinlock) Acquire(holder int64) {
	s.mu.Lock()
	atomic.StoreInt64(&s.owner, holder)
}

// Release gives up the spinlock. Calling Release when not held is a
// programming error and panics, matching the "asserted" treatment spec §7
// gives to invariant violations.
func (s *Spinlock) Release() {
	if atomic.SwapInt64(&s.owner, 0) == 0 {
		panic("ksync: Release of spinlock not held")
	}
	s.mu.Unlock()
}

// DoIHold reports whether holder currently holds the spinlock.
func (s *Spinlock) DoIHold(holder int64) bool {
	return atomic.LoadInt64(&s.owner) == holder
}
