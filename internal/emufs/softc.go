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

package emufs

import (
	"time"

	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/metrics"
)

// deviceHolder is the fixed pseudo-thread ID this package uses for its
// device lock and completion semaphore: every emufs operation serializes
// through one shared device, and nothing here needs per-caller identity.
const deviceHolder int64 = -2

// neverBlocks is the Waiter passed to P/Acquire calls that this package
// knows cannot actually block, since the completion semaphore is always
// V'd immediately before it's P'd (the mock hardware "interrupt" fires
// synchronously inside Do). Its methods panic if ever invoked, catching a
// violation of that assumption rather than deadlocking silently.
type neverBlocks struct{}

func (neverBlocks) Park()   { panic("emufs: unexpected block on a rendezvous assumed synchronous") }
func (neverBlocks) Resume() {}

// softc is the device "software context": one lock serializing use of
// the shared registers/buffer, one completion semaphore standing in for
// the interrupt rendezvous, and the Hardware it drives (spec §4.6).
type softc struct {
	lock       *ksync.Lock
	completion *ksync.Semaphore
	hw         Hardware
}

func newSoftc(hw Hardware) *softc {
	return &softc{
		lock:       ksync.NewLock("emu-dev"),
		completion: ksync.NewSemaphore("emu-completion", 0),
		hw:         hw,
	}
}

// execute drives one request through the full protocol: acquire the
// device lock, stage the request, submit it, wait on the completion
// semaphore (which the simulated "interrupt handler" posts right after
// Do returns), then release the lock and translate the result code.
func (s *softc) execute(req Request) (Response, error) {
	s.lock.Acquire(deviceHolder, neverBlocks{})
	defer s.lock.Release(deviceHolder)

	resp := s.hw.Do(req)

	start := time.Now()
	s.completion.V(deviceHolder)
	s.completion.P(deviceHolder, neverBlocks{})
	metrics.EmuOpLatency.Observe(time.Since(start).Seconds())

	if err := translateResult(resp.Result); err != nil {
		return resp, err
	}
	return resp, nil
}
