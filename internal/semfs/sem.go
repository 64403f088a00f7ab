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

// Package semfs implements the in-memory semaphore filesystem: a flat
// root directory of named counters, read and written through P and V
// rather than data transfer (spec §4.7). State is process-lifetime only;
// nothing here is persisted.
package semfs

import (
	"math"
	"syscall"

	"github.com/ops-class/os161-sub000/internal/ksync"
)

// semObject is one semaphore: a counter guarded by its own lock/CV pair,
// plus the bookkeeping reclaim needs to know whether it's safe to destroy
// (spec §4.7: "if the sem is no longer linked in the directory, destroy
// it").
type semObject struct {
	lock    *ksync.Lock
	cv      *ksync.CV
	counter uint64
	linked  bool // still present under some name in the directory
	hasVnode bool // a vnode for it is currently cached
	destroyed bool // double-destroy guard
}

func newSemObject(name string) *semObject {
	return &semObject{
		lock:   ksync.NewLock("sem-" + name),
		cv:     ksync.NewCV("sem-" + name + "-cv"),
		linked: true,
	}
}

// read consumes up to len(buf) units from the counter, blocking on cv
// while it is zero, and reports how many units it consumed (the uio
// offset advance; no bytes of buf are actually touched, per spec §4.7).
func (s *semObject) read(holder int64, self ksync.Waiter, want int) (int, error) {
	if self == nil {
		panic("semfs: blocking read requires a real caller thread (Uio.Holder/Uio.Self)")
	}
	s.lock.Acquire(holder, self)
	defer s.lock.Release(holder)

	consumed := 0
	for consumed < want {
		if s.counter == 0 {
			s.cv.Wait(s.lock, holder, self)
			continue
		}
		take := uint64(want - consumed)
		if take > s.counter {
			take = s.counter
		}
		s.counter -= take
		consumed += int(take)
	}
	return consumed, nil
}

// write adds n to the counter, waking waiters as appropriate, failing
// EFBIG if the addition would wrap a uint64 (spec §4.7).
func (s *semObject) write(holder int64, self ksync.Waiter, n int) (int, error) {
	if self == nil {
		panic("semfs: write requires a real caller thread (Uio.Holder/Uio.Self)")
	}
	s.lock.Acquire(holder, self)
	defer s.lock.Release(holder)

	if uint64(n) > math.MaxUint64-s.counter {
		return 0, syscall.EFBIG
	}
	s.counter += uint64(n)

	switch {
	case s.counter == 1:
		s.cv.Signal(s.lock, holder)
	case s.counter > 1:
		s.cv.Broadcast(s.lock, holder)
	}
	return n, nil
}

// truncate and size are reached from vfs.Ops methods (Truncate, Stat)
// that carry no caller-thread identity at all, unlike Read/Write's Uio.
// Neither operation can actually contend for long (set-and-return, or a
// snapshot read), so both use the package's own fixed pseudo-thread
// rather than demanding one from an interface that doesn't have it.
func (s *semObject) truncate(n uint64) error {
	s.lock.Acquire(internalHolder, noBlock{})
	defer s.lock.Release(internalHolder)
	s.counter = n
	if s.counter >= 1 {
		s.cv.Broadcast(s.lock, internalHolder)
	}
	return nil
}

func (s *semObject) size() uint64 {
	s.lock.Acquire(internalHolder, noBlock{})
	defer s.lock.Release(internalHolder)
	return s.counter
}

// internalHolder/noBlock mirror internal/emufs's deviceHolder/neverBlocks:
// a fixed identity for operations this package knows cannot genuinely
// block for long.
const internalHolder int64 = -3

type noBlock struct{}

func (noBlock) Park()   { panic("semfs: unexpected block on an operation assumed non-blocking") }
func (noBlock) Resume() {}
