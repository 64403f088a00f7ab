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

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeThread is a minimal Waiter for exercising ksync primitives without
// pulling in internal/sched.
type fakeThread struct {
	id    int64
	parkc chan struct{}
}

func newFakeThread(id int64) *fakeThread {
	return &fakeThread{id: id, parkc: make(chan struct{})}
}

func (t *fakeThread) Park()   { <-t.parkc }
func (t *fakeThread) Resume() { close(t.parkc) }

func TestSpinlockDoIHold(t *testing.T) {
	var sl Spinlock
	sl.Acquire(1)
	assert.True(t, sl.DoIHold(1))
	assert.False(t, sl.DoIHold(2))
	sl.Release()
	assert.False(t, sl.DoIHold(1))
}

func TestSpinlockReleaseWithoutAcquirePanics(t *testing.T) {
	var sl Spinlock
	assert.Panics(t, func() { sl.Release() })
}

func TestSemaphorePVOrdering(t *testing.T) {
	sem := NewSemaphore("test", 0)

	var wg sync.WaitGroup
	wg.Add(1)
	woke := make(chan struct{})

	go func() {
		defer wg.Done()
		sem.P(1, newFakeThread(1))
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-woke:
		t.Fatal("P returned before V")
	default:
	}

	sem.V(2)
	wg.Wait()

	select {
	case <-woke:
	default:
		t.Fatal("P did not return after V")
	}
}

func TestSemaphoreVThenPDoesNotBlock(t *testing.T) {
	sem := NewSemaphore("test", 0)
	sem.V(1)

	done := make(chan struct{})
	go func() {
		sem.P(2, newFakeThread(2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("P blocked despite a prior V")
	}
}

func TestLockRejectsRecursiveAcquire(t *testing.T) {
	l := NewLock("test")
	l.Acquire(1, newFakeThread(1))
	assert.Panics(t, func() { l.Acquire(1, newFakeThread(1)) })
}

func TestLockRejectsReleaseByNonOwner(t *testing.T) {
	l := NewLock("test")
	l.Acquire(1, newFakeThread(1))
	assert.Panics(t, func() { l.Release(2) })
}

func TestLockHandsOffToWaiter(t *testing.T) {
	l := NewLock("test")
	l.Acquire(1, newFakeThread(1))

	acquired := make(chan struct{})
	go func() {
		l.Acquire(2, newFakeThread(2))
		close(acquired)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while lock still held")
	default:
	}

	l.Release(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock after Release")
	}
	assert.True(t, l.DoIHold(2))
}

func TestCVWaitSignal(t *testing.T) {
	companion := NewLock("cv-lock")
	cv := NewCV("cv")

	ready := false
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		self := newFakeThread(1)
		companion.Acquire(1, self)
		for !ready {
			cv.Wait(companion, 1, self)
		}
		companion.Release(1)
	}()

	time.Sleep(10 * time.Millisecond)

	self2 := newFakeThread(2)
	companion.Acquire(2, self2)
	ready = true
	cv.Signal(companion, 2)
	companion.Release(2)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke from cv.Wait")
	}
}

func TestWaitChannelRequiresCompanionSpinlockHeld(t *testing.T) {
	var sl Spinlock
	wc := NewWaitChannel("")
	require.Panics(t, func() { wc.Sleep(&sl, 1, newFakeThread(1)) })
}
