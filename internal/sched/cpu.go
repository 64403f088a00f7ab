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

package sched

import (
	"fmt"
	"strconv"

	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/logger"
)

// IPI bits, matching spec §4.1/§4.3's {PANIC, OFFLINE, UNIDLE, TLBSHOOTDOWN}.
const (
	IPIPanic uint32 = 1 << iota
	IPIOffline
	IPIUnidle
	IPITLBShootdown
)

// maxPendingShootdowns bounds CPU.shootdowns; spec §4.1 calls this out
// explicitly as a "bounded pending-shootdown queue".
const maxPendingShootdowns = 16

// ErrShootdownQueueFull is returned by RequestShootdown when the bounded
// queue is already at capacity.
var ErrShootdownQueueFull = fmt.Errorf("sched: pending shootdown queue full")

// CPU owns one run queue, a zombie list, an IPI bitmap, and a bounded
// shootdown queue (spec §4.1).
type CPU struct {
	ID int

	runqLock ksync.Spinlock
	runq     []*Thread
	isIdle   bool

	ipiLock ksync.Spinlock
	ipi     uint32

	shootdownLock ksync.Spinlock
	shootdowns    []uintptr
}

func newCPU(id int) *CPU {
	return &CPU{ID: id, isIdle: true}
}

func (c *CPU) String() string { return "cpu" + strconv.Itoa(c.ID) }

// enqueue appends t to the tail of the run queue. LOCKS_REQUIRED(c.runqLock held by holder).
func (c *CPU) enqueue(t *Thread) {
	t.cpu = c
	t.state = StateReady
	c.runq = append(c.runq, t)
}

// dequeue pops the head of the run queue, or nil if empty.
// LOCKS_REQUIRED(c.runqLock held by holder).
func (c *CPU) dequeue() *Thread {
	if len(c.runq) == 0 {
		return nil
	}
	t := c.runq[0]
	c.runq = c.runq[1:]
	return t
}

// RunQueueLen reports the current run queue length, used by the migration
// balancer and by metrics.RunQueueLength.
func (c *CPU) RunQueueLen(holder int64) int {
	c.runqLock.Acquire(holder)
	defer c.runqLock.Release()
	return len(c.runq)
}

// SendIPI ORs bits into the CPU's pending IPI bitmap.
func (c *CPU) SendIPI(holder int64, bits uint32) {
	c.ipiLock.Acquire(holder)
	c.ipi |= bits
	c.ipiLock.Release()
}

// TakeIPIs atomically reads and clears the pending IPI bitmap.
func (c *CPU) TakeIPIs(holder int64) uint32 {
	c.ipiLock.Acquire(holder)
	bits := c.ipi
	c.ipi = 0
	c.ipiLock.Release()
	return bits
}

// RequestShootdown enqueues addr for TLB shootdown, bounded per spec §4.1.
func (c *CPU) RequestShootdown(holder int64, addr uintptr) error {
	c.shootdownLock.Acquire(holder)
	defer c.shootdownLock.Release()
	if len(c.shootdowns) >= maxPendingShootdowns {
		return ErrShootdownQueueFull
	}
	c.shootdowns = append(c.shootdowns, addr)
	return nil
}

// DrainShootdowns returns and clears the pending shootdown addresses.
func (c *CPU) DrainShootdowns(holder int64) []uintptr {
	c.shootdownLock.Acquire(holder)
	defer c.shootdownLock.Release()
	out := c.shootdowns
	c.shootdowns = nil
	return out
}

// cpuIdle is the platform idle primitive: it logs and returns immediately,
// since there is no real hardware to halt. A real port would drop the
// run-queue spinlock and wait for an interrupt here; we've already
// released it by the time this is called.
func cpuIdle(c *CPU) {
	logger.Tracef("%s: idle", c)
}
