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

import "github.com/ops-class/os161-sub000/internal/metrics"

// Semaphore is a non-negative counter guarded by its own spinlock and wait
// channel (spec §4.2). P in interrupt context is a kernel bug and is left
// to the caller to avoid (this package has no notion of interrupt
// context); V is always legal, including from a completion handler.
type Semaphore struct {
	Name  string
	lk    Spinlock
	wc    *WaitChannel
	count uint32
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(name string, count uint32) *Semaphore {
	return &Semaphore{
		Name:  name,
		wc:    NewWaitChannel(name),
		count: count,
	}
}

// P decrements the semaphore, blocking self if the count is already zero.
// holder identifies the calling thread both for the spinlock and as the
// Waiter parked on the wait channel.
func (s *Semaphore) P(holder int64, self Waiter) {
	s.lk.Acquire(holder)
	for s.count == 0 {
		s.wc.Sleep(&s.lk, holder, self)
	}
	s.count--
	s.lk.Release()
	metrics.SemaphorePTotal.Inc()
}

// V increments the semaphore and wakes at most one waiter.
func (s *Semaphore) V(holder int64) {
	s.lk.Acquire(holder)
	s.count++
	s.wc.WakeOne(&s.lk, holder)
	s.lk.Release()
	metrics.SemaphoreVTotal.Inc()
}

// Count returns the current value, useful for tests and introspection
// only; callers must not make correctness decisions based on a snapshot
// taken outside s.lk.
func (s *Semaphore) Count() uint32 {
	s.lk.Acquire(-1)
	defer s.lk.Release()
	return s.count
}
