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
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(n int) *Scheduler {
	return NewScheduler(n, timeutil.RealClock())
}

func TestCreateThreadRunsEntryFunction(t *testing.T) {
	s := newTestScheduler(1)

	done := make(chan struct{})
	s.CreateThread("worker", 0, func(self *Thread) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread entry function never ran")
	}
}

func TestYieldLetsOtherThreadRun(t *testing.T) {
	s := newTestScheduler(1)

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(2)

	s.CreateThread("first", 0, func(self *Thread) {
		defer wg.Done()
		mu.Lock()
		order = append(order, "first-a")
		mu.Unlock()
		s.Yield(self)
		mu.Lock()
		order = append(order, "first-b")
		mu.Unlock()
	})

	s.CreateThread("second", 0, func(self *Thread) {
		defer wg.Done()
		mu.Lock()
		order = append(order, "second-a")
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("threads never completed")
	}

	assert.Contains(t, order, "first-a")
	assert.Contains(t, order, "second-a")
	assert.Contains(t, order, "first-b")
}

func TestExorciseReclaimsZombies(t *testing.T) {
	s := newTestScheduler(1)

	done := make(chan struct{})
	s.CreateThread("dies-quickly", 0, func(self *Thread) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread never ran")
	}

	require.Eventually(t, func() bool {
		return s.Exorcise(0) > 0 || len(s.zombies) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestBalanceMigratesFromBusiestToIdlest(t *testing.T) {
	s := newTestScheduler(2)

	block := make(chan struct{})
	const n = 6
	var started sync.WaitGroup
	started.Add(n)

	for i := 0; i < n; i++ {
		s.CreateThread("blocked", 0, func(self *Thread) {
			started.Done()
			<-block
		})
	}
	started.Wait()

	require.Eventually(t, func() bool {
		return s.cpus[0].RunQueueLen(0) >= 1
	}, time.Second, 5*time.Millisecond)

	before0 := s.cpus[0].RunQueueLen(0)
	before1 := s.cpus[1].RunQueueLen(0)

	s.Balance(context.Background())

	after0 := s.cpus[0].RunQueueLen(0)
	after1 := s.cpus[1].RunQueueLen(0)

	assert.Equal(t, before0+before1, after0+after1, "balance must not lose or duplicate threads")

	close(block)
}

func TestIPIBitmapSendAndTake(t *testing.T) {
	c := newCPU(0)
	c.SendIPI(1, IPIUnidle)
	c.SendIPI(1, IPITLBShootdown)

	bits := c.TakeIPIs(1)
	assert.Equal(t, IPIUnidle|IPITLBShootdown, bits)
	assert.Equal(t, uint32(0), c.TakeIPIs(1))
}

func TestShootdownQueueIsBounded(t *testing.T) {
	c := newCPU(0)
	for i := 0; i < maxPendingShootdowns; i++ {
		require.NoError(t, c.RequestShootdown(1, uintptr(i)))
	}
	assert.ErrorIs(t, c.RequestShootdown(1, 999), ErrShootdownQueueFull)

	drained := c.DrainShootdowns(1)
	assert.Len(t, drained, maxPendingShootdowns)
	assert.NoError(t, c.RequestShootdown(1, 1))
}
