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

// Package metrics exposes Prometheus instrumentation for every layer of
// the kernel core. None of this is a new feature: it only observes
// counters and gauges that the spec's modules already maintain internally
// (run queue lengths, P/V counts, block allocations, I/O retries, ...).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Scheduler (internal/sched).
	RunQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "sched",
		Name:      "run_queue_length",
		Help:      "Number of runnable threads queued on a CPU.",
	}, []string{"cpu"})

	MigrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sched",
		Name:      "migrations_total",
		Help:      "Number of threads moved between run queues by the balancer.",
	})

	ThreadsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sched",
		Name:      "threads_created_total",
		Help:      "Number of threads created since boot.",
	})

	ZombiesReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sched",
		Name:      "zombies_reaped_total",
		Help:      "Number of zombie threads reclaimed by exorcise.",
	})

	// Wait channels / semaphores (internal/ksync).
	SemaphorePTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "ksync",
		Name:      "semaphore_p_total",
		Help:      "Number of semaphore P (down) operations.",
	})

	SemaphoreVTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "ksync",
		Name:      "semaphore_v_total",
		Help:      "Number of semaphore V (up) operations.",
	})

	// SFS (internal/sfs).
	SFSBlockAllocsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sfs",
		Name:      "block_allocs_total",
		Help:      "Number of blocks allocated from the free bitmap.",
	})

	SFSBlockFreesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sfs",
		Name:      "block_frees_total",
		Help:      "Number of blocks returned to the free bitmap.",
	})

	SFSIORetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "sfs",
		Name:      "io_retries_total",
		Help:      "Number of block I/O retries after EIO.",
	})

	// Emufs (internal/emufs).
	EmuOpLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kernel",
		Subsystem: "emufs",
		Name:      "operation_latency_seconds",
		Help:      "Latency of emulator passthrough operations.",
		Buckets:   prometheus.DefBuckets,
	})

	// VFS (internal/vfs).
	VFSLookupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "vfs",
		Name:      "lookups_total",
		Help:      "Number of successful name lookups across all filesystems.",
	})

	VFSReclaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "vfs",
		Name:      "reclaims_total",
		Help:      "Number of vnode reclaim operations.",
	})
)

// Registry is the registry cmd/kernel exposes over /metrics. It is a
// package-level var (rather than the global default registry) so tests can
// construct their own and avoid double-registration panics across runs.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RunQueueLength,
		MigrationsTotal,
		ThreadsCreatedTotal,
		ZombiesReapedTotal,
		SemaphorePTotal,
		SemaphoreVTotal,
		SFSBlockAllocsTotal,
		SFSBlockFreesTotal,
		SFSIORetriesTotal,
		EmuOpLatency,
		VFSLookupsTotal,
		VFSReclaimsTotal,
	)
}
