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

// Package sched implements the multi-CPU thread scheduler: per-CPU run
// queues, load-balancing migration, zombie reaping and IPI delivery (spec
// §4.3). Scheduling is not preemptive: a thread keeps its CPU until it
// yields, blocks or exits, and nothing interrupts a running thread. Each
// simulated thread is a parked goroutine; the
// scheduler controls which one is allowed to run on a given CPU at a time
// by resuming exactly one per CPU, which is the Go-idiomatic stand-in for
// the original switchframe/trampoline dance.
package sched

import "fmt"

// State is a thread's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Thread is one schedulable unit. It implements ksync.Waiter so it can be
// parked directly on a ksync.WaitChannel, ksync.Semaphore, ksync.Lock or
// ksync.CV.
type Thread struct {
	ID   int64
	Name string

	cpu   *CPU
	state State

	// spinlocks is the per-thread count of currently-held spinlocks. Spec
	// §4.2/§4.3 requires that a thread never suspend while this is
	// nonzero; Yield and any ksync.Waiter.Park call site are expected to
	// check it via AssertNoSpinlocksHeld.
	spinlocks int32

	parkc chan struct{}
}

func newThread(id int64, name string, cpu *CPU) *Thread {
	return &Thread{
		ID:    id,
		Name:  name,
		cpu:   cpu,
		state: StateReady,
		parkc: make(chan struct{}, 1),
	}
}

// Park blocks the calling goroutine until Resume is called. Implements
// ksync.Waiter.
func (t *Thread) Park() {
	t.state = StateBlocked
	<-t.parkc
}

// Resume unblocks a previously parked Thread. Implements ksync.Waiter.
func (t *Thread) Resume() {
	t.state = StateRunning
	select {
	case t.parkc <- struct{}{}:
	default:
		// Already has an unconsumed token; Resume is idempotent here
		// rather than blocking, since a double-resume indicates the
		// caller raced a wakeup, not that this thread is owed two.
	}
}

// CPU returns the CPU this thread currently belongs to.
func (t *Thread) CPU() *CPU { return t.cpu }

// State returns the thread's current scheduling state.
func (t *Thread) State() State { return t.state }

// EnterSpinlock and LeaveSpinlock track nesting so AssertNoSpinlocksHeld
// can catch a thread trying to sleep while one is held.
func (t *Thread) EnterSpinlock() { t.spinlocks++ }
func (t *Thread) LeaveSpinlock() { t.spinlocks-- }

// AssertNoSpinlocksHeld panics if t currently holds any spinlock. Call
// this immediately before any operation that may suspend the thread.
func (t *Thread) AssertNoSpinlocksHeld() {
	if t.spinlocks != 0 {
		panic(fmt.Sprintf("sched: thread %d (%s) attempted to suspend while holding %d spinlock(s)", t.ID, t.Name, t.spinlocks))
	}
}
