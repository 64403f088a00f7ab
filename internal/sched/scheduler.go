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
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/logger"
	"github.com/ops-class/os161-sub000/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Scheduler owns every CPU's run queue plus the shared zombie list (spec
// §4.3). Tests construct one directly with NewScheduler; cmd/kernel wires
// the migrationTick to the boot config's MigrationTick.
type Scheduler struct {
	cpus []*CPU
	clk  timeutil.Clock

	zombiesLock ksync.Spinlock
	zombies     []*Thread

	nextID int64

	stop chan struct{}
}

// NewScheduler creates a Scheduler with n CPUs. clk is stored on the
// Scheduler but drives nothing: Run's migration tick comes from a
// time.Ticker.
func NewScheduler(n int, clk timeutil.Clock) *Scheduler {
	if n <= 0 {
		n = 1
	}
	s := &Scheduler{clk: clk, stop: make(chan struct{})}
	for i := 0; i < n; i++ {
		s.cpus = append(s.cpus, newCPU(i))
	}
	return s
}

// CPUs returns the scheduler's CPUs, indexed by CPU.ID.
func (s *Scheduler) CPUs() []*CPU { return s.cpus }

// CreateThread allocates a new Thread pinned to affinity (clamped into
// range), enqueues it in Ready state, and spawns the goroutine that will
// park immediately — mirroring the "trampoline that releases the run
// queue lock before calling the entry function": here, Switch's Resume
// call is what releases the new thread to actually run fn.
func (s *Scheduler) CreateThread(name string, affinity int, fn func(*Thread)) *Thread {
	if affinity < 0 || affinity >= len(s.cpus) {
		affinity = 0
	}
	cpu := s.cpus[affinity]

	id := atomic.AddInt64(&s.nextID, 1)
	t := newThread(id, name, cpu)

	cpu.runqLock.Acquire(id)
	cpu.enqueue(t)
	wasIdle := cpu.isIdle
	cpu.isIdle = false
	cpu.runqLock.Release()

	metrics.ThreadsCreatedTotal.Inc()

	go func() {
		t.Park()
		fn(t)
		s.retire(t)
	}()

	if wasIdle {
		s.Switch(cpu, id)
	}
	return t
}

// retire transitions t to StateZombie and moves it to the scheduler's
// zombie list for Exorcise to reclaim, then dispatches the next runnable
// thread on its CPU.
func (s *Scheduler) retire(t *Thread) {
	t.state = StateZombie

	s.zombiesLock.Acquire(t.ID)
	s.zombies = append(s.zombies, t)
	s.zombiesLock.Release()

	s.Switch(t.cpu, t.ID)
}

// Yield puts self at the tail of its CPU's run queue and dispatches
// whichever thread is now at the head (possibly self again, if it was
// alone). self.AssertNoSpinlocksHeld is checked first, matching spec
// §4.4's "a thread inside any spinlock must not suspend".
func (s *Scheduler) Yield(self *Thread) {
	self.AssertNoSpinlocksHeld()

	cpu := self.cpu
	cpu.runqLock.Acquire(self.ID)
	cpu.enqueue(self)
	cpu.runqLock.Release()

	s.Switch(cpu, self.ID)
	self.Park()
}

// Switch dequeues the head of cpu's run queue and resumes it. If the run
// queue is empty, cpu is marked idle and cpuIdle is invoked; it is woken
// again the next time enqueue is called for it (by CreateThread, WakeOnto,
// or migration). holder is the calling thread's id, used only to satisfy
// the run-queue spinlock's ownership bookkeeping.
func (s *Scheduler) Switch(cpu *CPU, holder int64) {
	cpu.runqLock.Acquire(holder)
	next := cpu.dequeue()
	if next == nil {
		cpu.isIdle = true
		cpu.runqLock.Release()
		cpuIdle(cpu)
		return
	}
	cpu.isIdle = false
	cpu.runqLock.Release()

	metrics.RunQueueLength.WithLabelValues(strconv.Itoa(cpu.ID)).Set(float64(len(cpu.runq)))
	next.Resume()
}

// WakeOnto places a woken Waiter (as returned by a ksync.WaitChannel) back
// onto its CPU's run queue. Wait-channel mechanics live in package ksync
// on purpose (see ksync.Waiter's doc comment); this is the policy half
// that package deliberately leaves to the scheduler.
func (s *Scheduler) WakeOnto(w ksync.Waiter, holder int64) {
	t, ok := w.(*Thread)
	if !ok {
		return
	}
	cpu := t.cpu
	cpu.runqLock.Acquire(holder)
	wasIdle := cpu.isIdle
	cpu.enqueue(t)
	cpu.isIdle = false
	cpu.runqLock.Release()

	if wasIdle {
		s.Switch(cpu, holder)
	}
}

// Exorcise reclaims every thread currently on the zombie list.
func (s *Scheduler) Exorcise(holder int64) int {
	s.zombiesLock.Acquire(holder)
	dead := s.zombies
	s.zombies = nil
	s.zombiesLock.Release()

	for range dead {
		metrics.ZombiesReapedTotal.Inc()
	}
	return len(dead)
}

// Run starts the background migration/exorcise loop, driven by a
// time.Ticker that fires every interval. It returns immediately; call Stop to end the loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Balance(ctx)
				s.Exorcise(0)
			}
		}
	}()
}

// Stop ends a previously started Run loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// Balance collects every CPU's run-queue length concurrently (fanning out
// with an errgroup, the idiomatic replacement for the gcsfuse-style
// syncutil.Bundle pattern this package's sibling fs code uses) and, if the
// busiest CPU has at least two more runnable threads than the idlest one,
// migrates one thread between them.
func (s *Scheduler) Balance(ctx context.Context) {
	lens := make([]int, len(s.cpus))

	g, _ := errgroup.WithContext(ctx)
	for i, cpu := range s.cpus {
		i, cpu := i, cpu
		g.Go(func() error {
			lens[i] = cpu.RunQueueLen(int64(1_000_000 + i))
			return nil
		})
	}
	_ = g.Wait()

	busiest, idlest := 0, 0
	for i, n := range lens {
		if n > lens[busiest] {
			busiest = i
		}
		if n < lens[idlest] {
			idlest = i
		}
	}

	if busiest == idlest || lens[busiest]-lens[idlest] < 2 {
		return
	}

	from, to := s.cpus[busiest], s.cpus[idlest]
	holder := int64(2_000_000 + busiest)

	from.runqLock.Acquire(holder)
	if len(from.runq) == 0 {
		from.runqLock.Release()
		return
	}
	moved := from.runq[len(from.runq)-1]
	from.runq = from.runq[:len(from.runq)-1]
	from.runqLock.Release()

	to.runqLock.Acquire(holder)
	to.enqueue(moved)
	wasIdle := to.isIdle
	to.isIdle = false
	to.runqLock.Release()

	metrics.MigrationsTotal.Inc()
	logger.Debugf("sched: migrated thread %d from %s to %s", moved.ID, from, to)

	if wasIdle {
		s.Switch(to, holder)
	}
}
