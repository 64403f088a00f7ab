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

// CV is a condition variable with a companion Lock, always used as
// `for !condition { cv.Wait(...) }` (spec §4.2). Wait releases the
// companion lock atomically with going to sleep and reacquires it before
// returning, so the condition can be re-checked safely.
type CV struct {
	Name string
	lk   Spinlock
	wc   *WaitChannel
}

// NewCV creates a condition variable.
func NewCV(name string) *CV {
	return &CV{Name: name, wc: NewWaitChannel(name)}
}

// Wait releases companion (held by holder) and blocks self until a
// matching Signal or Broadcast, then reacquires companion before
// returning.
func (cv *CV) Wait(companion *Lock, holder int64, self Waiter) {
	if !companion.DoIHold(holder) {
		panic("ksync: CV.Wait called without holding the companion lock")
	}

	cv.lk.Acquire(holder)
	companion.Release(holder)
	cv.wc.Sleep(&cv.lk, holder, self)
	cv.lk.Release()

	companion.Acquire(holder, self)
}

// Signal wakes at most one waiter. The caller must hold companion.
func (cv *CV) Signal(companion *Lock, holder int64) {
	if !companion.DoIHold(holder) {
		panic("ksync: CV.Signal called without holding the companion lock")
	}
	cv.lk.Acquire(holder)
	cv.wc.WakeOne(&cv.lk, holder)
	cv.lk.Release()
}

// Broadcast wakes every waiter. The caller must hold companion.
func (cv *CV) Broadcast(companion *Lock, holder int64) {
	if !companion.DoIHold(holder) {
		panic("ksync: CV.Broadcast called without holding the companion lock")
	}
	cv.lk.Acquire(holder)
	cv.wc.WakeAll(&cv.lk, holder)
	cv.lk.Release()
}
