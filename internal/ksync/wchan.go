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

import "github.com/google/uuid"

// WaitChannel is a FIFO queue of parked Waiters, always used together with
// a caller-provided Spinlock: callers acquire the spinlock, observe some
// condition, and call Sleep to atomically enqueue and release it (spec
// §4.2). The name is cosmetic; anonymous channels get a uuid-derived tag
// so logs can still tell distinct channels apart.
type WaitChannel struct {
	Name  string
	queue []Waiter
}

// NewWaitChannel creates a wait channel. An empty name is replaced with a
// generated tag, matching the many anonymous wchan_create call sites in
// the original kernel that never bothered to name their channel.
func NewWaitChannel(name string) *WaitChannel {
	if name == "" {
		name = "wc-" + uuid.NewString()[:8]
	}
	return &WaitChannel{Name: name}
}

// Sleep requires lk held by holder. It enqueues self, releases lk, blocks
// until woken, then reacquires lk before returning — mirroring wchan_sleep
// exactly, including the reacquire-on-wakeup step.
func (wc *WaitChannel) Sleep(lk *Spinlock, holder int64, self Waiter) {
	if !lk.DoIHold(holder) {
		panic("ksync: Sleep called without holding the companion spinlock")
	}
	wc.queue = append(wc.queue, self)
	lk.Release()
	self.Park()
	lk.Acquire(holder)
}

// WakeOne requires lk held by holder. It pops and resumes the longest-
// waiting thread, if any, and returns it so the caller (internal/sched)
// can place it back on a run queue; returns nil if the channel was empty.
func (wc *WaitChannel) WakeOne(lk *Spinlock, holder int64) Waiter {
	if !lk.DoIHold(holder) {
		panic("ksync: WakeOne called without holding the companion spinlock")
	}
	if len(wc.queue) == 0 {
		return nil
	}
	w := wc.queue[0]
	wc.queue = wc.queue[1:]
	w.Resume()
	return w
}

// WakeAll requires lk held by holder. It pops and resumes every waiting
// thread, returning them in wakeup (FIFO) order.
func (wc *WaitChannel) WakeAll(lk *Spinlock, holder int64) []Waiter {
	if !lk.DoIHold(holder) {
		panic("ksync: WakeAll called without holding the companion spinlock")
	}
	woken := wc.queue
	wc.queue = nil
	for _, w := range woken {
		w.Resume()
	}
	return woken
}

// IsEmpty is advisory, as in the original kernel: correct only while the
// companion spinlock is held by the caller.
func (wc *WaitChannel) IsEmpty() bool {
	return len(wc.queue) == 0
}
