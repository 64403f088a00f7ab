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

package ksync

// Lock is a sleep-while-contended mutex that tracks its owning thread, so
// that recursive-acquire bugs can be caught rather than deadlocking
// silently (spec §4.2: "lock tracks the owning thread for recursion
// checks").
type Lock struct {
	Name  string
	lk    Spinlock
	wc    *WaitChannel
	held  bool
	owner int64
}

// NewLock creates an unheld lock.
func NewLock(name string) *Lock {
	return &Lock{Name: name, wc: NewWaitChannel(name)}
}

// Acquire blocks until the lock is free, then takes it as holder.
// Acquiring a lock the caller already holds panics instead of deadlocking,
// since that's almost always a bug and OS/161 asserts on it too.
func (l *Lock) Acquire(holder int64, self Waiter) {
	l.lk.Acquire(holder)
	if l.held && l.owner == holder {
		l.lk.Release()
		panic("ksync: recursive Lock.Acquire by the same thread")
	}
	for l.held {
		l.wc.Sleep(&l.lk, holder, self)
	}
	l.held = true
	l.owner = holder
	l.lk.Release()
}

// Release gives up the lock. Releasing a lock the caller doesn't hold
// panics (do_i_hold would have returned false).
func (l *Lock) Release(holder int64) {
	l.lk.Acquire(holder)
	if !l.held || l.owner != holder {
		l.lk.Release()
		panic("ksync: Lock.Release by a thread that doesn't hold it")
	}
	l.held = false
	l.owner = 0
	l.wc.WakeOne(&l.lk, holder)
	l.lk.Release()
}

// DoIHold reports whether holder currently owns the lock.
func (l *Lock) DoIHold(holder int64) bool {
	l.lk.Acquire(holder)
	defer l.lk.Release()
	return l.held && l.owner == holder
}
