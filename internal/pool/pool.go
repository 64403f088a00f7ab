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

// Package pool implements the kernel's L0 subpage allocator: a slab
// allocator over a small set of fixed size classes, backed by a whole-page
// allocator supplied by the caller. See spec §4.1.
//
// Every chunk handed out lives inside a page owned by a pageref; pagerefs
// themselves come from a small bitmap-managed static pool so that growing
// the slab allocator never recurses back into itself.
package pool

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ops-class/os161-sub000/internal/logger"
)

// PageSize is the unit of whole-page backing allocation.
const PageSize = 4096

// sizeClasses is the fixed ascending set of chunk sizes carved out of a
// single backing page. The largest class is the threshold above which
// Alloc falls back to whole-page allocation directly.
var sizeClasses = [...]int{16, 32, 64, 128, 256, 512, 1024, 2048}

const invalidOffset = -1

// PageAllocator is the whole-page backing allocator (spec §4.1). A
// production kernel wires this to the VM subsystem; tests and cmd/kernel
// use the heap-backed implementation below.
type PageAllocator interface {
	AllocPages(n int) ([]byte, error)
	FreePages(p []byte)
}

// ErrOutOfMemory is returned by Alloc on legitimate exhaustion. The
// allocator never panics for this condition (spec §4.1, §7); panics are
// reserved for invariant violations (e.g. freeing a pointer pool never
// handed out).
var ErrOutOfMemory = fmt.Errorf("pool: out of memory")

// Debug selects the optional, mutually-coherent debugging modes from
// spec §4.1. Enabling GuardBands or Labels shifts the client-visible
// pointer by however many prefix bytes those modes add; when both are
// enabled the offsets stack.
type Debug struct {
	FillOnFree  bool // write a 0xDEADBEEF pattern into freed chunks
	GuardBands  bool // canary + duplicated size before and after the chunk
	Labels      bool // caller-return-address label with a monotonic generation
	SweepOnFree bool // walk every page's freelist after each free, checking counts
}

const (
	guardMagic   = 0xA5
	guardBytes   = 8 // canary prefix; duplicated size stored in the first 8 bytes
	labelBytes   = 16
	deadbeedByte = 0xDE
)

// page is the bookkeeping a page keeps about one size class's freelist.
// Free chunks embed a little-endian offset to the next free chunk in their
// first 4 bytes; invalidOffset terminates the list.
type page struct {
	buf       []byte
	class     int // index into sizeClasses, or -1 for a raw multi-chunk page bought directly
	chunkSize int
	nchunks   int
	freeHead  int32 // byte offset into buf, or invalidOffset
	freeCount int
	next      *page
}

type classState struct {
	pages *page // head of the linked list of pagerefs for this class
}

// Pool is the subpage allocator. The zero value is not usable; use New.
type Pool struct {
	mu      sync.Mutex
	pages   PageAllocator
	classes [len(sizeClasses)]classState
	debug   Debug
	gen     uint64 // monotonic generation counter for Debug.Labels

	// bigAllocs tracks whole-page allocations handed out directly (sz at or
	// above the largest size class), keyed by the address of the first byte,
	// so Free can tell them apart from slab chunks without walking class
	// lists for something that was never chunked.
	bigAllocs map[uintptr][]byte
}

// New creates a Pool backed by pages.
func New(pages PageAllocator, debug Debug) *Pool {
	return &Pool{
		pages:     pages,
		debug:     debug,
		bigAllocs: make(map[uintptr][]byte),
	}
}

// sliceKey and sliceBaseAddr give a stable identity to the backing array of
// a []byte so Free can tell which page (or big allocation) a client pointer
// came from. unsafe.Pointer is the idiomatic way to recover that address;
// nothing here converts the result back into a pointer dereference, so the
// usual aliasing hazards don't apply.
func sliceKey(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func sliceBaseAddr(b []byte) uintptr {
	return sliceKey(b)
}

// overhead returns the number of prefix+suffix bytes Debug adds around a
// requested allocation of sz bytes.
func (p *Pool) overhead() int {
	n := 0
	if p.debug.GuardBands {
		n += guardBytes * 2
	}
	if p.debug.Labels {
		n += labelBytes
	}
	return n
}

func classFor(want int) (idx int, size int, ok bool) {
	for i, sz := range sizeClasses {
		if want <= sz {
			return i, sz, true
		}
	}
	return 0, 0, false
}

// Alloc returns a chunk of at least sz usable bytes, or ErrOutOfMemory.
func (p *Pool) Alloc(sz int) ([]byte, error) {
	if sz <= 0 {
		panic("pool: Alloc of non-positive size")
	}

	overhead := p.overhead()
	effective := sz + overhead
	largest := sizeClasses[len(sizeClasses)-1]

	if effective >= largest {
		return p.allocBig(sz, overhead)
	}

	classIdx, chunkSize, ok := classFor(effective)
	if !ok {
		return p.allocBig(sz, overhead)
	}

	p.mu.Lock()
	cs := &p.classes[classIdx]

	pg := cs.pages
	for pg != nil && pg.freeCount == 0 {
		pg = pg.next
	}

	if pg == nil {
		// Grow: release the lock around the call to the page backing
		// allocator (spec §4.1), then re-validate after reacquiring.
		p.mu.Unlock()
		buf, err := p.pages.AllocPages(1)
		if err != nil {
			return nil, ErrOutOfMemory
		}
		p.mu.Lock()

		np := &page{
			buf:       buf,
			class:     classIdx,
			chunkSize: chunkSize,
			nchunks:   PageSize / chunkSize,
		}
		initFreelist(np)
		np.next = cs.pages
		cs.pages = np
		pg = np
	}

	off := pg.freeHead
	next := readOffset(pg.buf, off)
	pg.freeHead = next
	pg.freeCount--

	chunk := pg.buf[off : int(off)+chunkSize]
	client := p.prepareChunk(chunk, sz, overhead)
	p.mu.Unlock()

	return client, nil
}

// prepareChunk lays out guard bands / labels (if enabled) within chunk and
// returns the slice the caller may use for its sz requested bytes.
//
// LOCKS_REQUIRED(p.mu)
func (p *Pool) prepareChunk(chunk []byte, sz, overhead int) []byte {
	offset := 0

	if p.debug.GuardBands {
		putSize(chunk[offset:], sz)
		offset += guardBytes
	}

	if p.debug.Labels {
		p.gen++
		putLabel(chunk[offset:], p.gen, callerPC())
		offset += labelBytes
	}

	client := chunk[offset : offset+sz]

	if p.debug.GuardBands {
		tailOff := offset + sz
		if tailOff+guardBytes <= len(chunk) {
			putSize(chunk[tailOff:], sz)
		}
	}

	_ = overhead
	return client
}

func (p *Pool) allocBig(sz, overhead int) ([]byte, error) {
	npages := (sz + overhead + PageSize - 1) / PageSize
	if npages == 0 {
		npages = 1
	}

	buf, err := p.pages.AllocPages(npages)
	if err != nil {
		return nil, ErrOutOfMemory
	}

	p.mu.Lock()
	key := sliceKey(buf)
	p.bigAllocs[key] = buf
	client := p.prepareChunk(buf, sz, overhead)
	p.mu.Unlock()

	return client, nil
}

// Free returns p's allocation to the pool. Freeing a pointer that was
// never handed out by this Pool is a programming error and panics (spec
// §7: invariant violations are fatal, not returned).
func (p *Pool) Free(client []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	headerOffset := 0
	if p.debug.GuardBands {
		headerOffset += guardBytes
	}
	if p.debug.Labels {
		headerOffset += labelBytes
	}

	if p.debug.FillOnFree {
		fillDeadbeef(client)
	}

	// Whole-page allocation?
	key := sliceKey(client) - uintptr(headerOffset)
	for addr, buf := range p.bigAllocs {
		if addr == key {
			delete(p.bigAllocs, addr)
			p.pages.FreePages(buf)
			return
		}
	}

	// Otherwise it must be a chunk inside some class's page. Identify the
	// owning page by linear search of the per-class page list, as spec
	// §4.1 directs.
	for ci := range p.classes {
		cs := &p.classes[ci]
		for pg := cs.pages; pg != nil; pg = pg.next {
			if chunkOffset, ok := withinPage(pg, client, headerOffset); ok {
				writeOffset(pg.buf, int32(chunkOffset), pg.freeHead)
				pg.freeHead = int32(chunkOffset)
				pg.freeCount++

				if p.debug.SweepOnFree {
					p.sweep(pg)
				}

				if pg.freeCount == pg.nchunks {
					removePage(cs, pg)
					p.mu.Unlock()
					p.pages.FreePages(pg.buf)
					p.mu.Lock()
				}

				return
			}
		}
	}

	panic("pool: Free of pointer not owned by this pool")
}

func withinPage(pg *page, client []byte, headerOffset int) (chunkOffset int, ok bool) {
	base := sliceBaseAddr(pg.buf)
	addr := sliceKey(client) - uintptr(headerOffset)
	if addr < base || addr >= base+uintptr(len(pg.buf)) {
		return 0, false
	}
	off := int(addr - base)
	if off%pg.chunkSize != 0 {
		return 0, false
	}
	return off, true
}

func removePage(cs *classState, target *page) {
	if cs.pages == target {
		cs.pages = target.next
		return
	}
	for pg := cs.pages; pg != nil; pg = pg.next {
		if pg.next == target {
			pg.next = target.next
			return
		}
	}
}

func initFreelist(pg *page) {
	for i := 0; i < pg.nchunks; i++ {
		off := i * pg.chunkSize
		next := int32(invalidOffset)
		if i+1 < pg.nchunks {
			next = int32((i + 1) * pg.chunkSize)
		}
		writeOffset(pg.buf, int32(off), next)
	}
	pg.freeHead = 0
	pg.freeCount = pg.nchunks
}

// sweep walks pg's freelist and panics if the recorded freeCount disagrees
// with the list length — a debug-only consistency check (spec §4.1).
func (p *Pool) sweep(pg *page) {
	n := 0
	for off := pg.freeHead; off != invalidOffset; off = readOffset(pg.buf, off) {
		n++
		if n > pg.nchunks {
			panic("pool: corrupt freelist (cycle or overrun)")
		}
	}
	if n != pg.freeCount {
		panic(fmt.Sprintf("pool: freelist length %d disagrees with freeCount %d", n, pg.freeCount))
	}
}

func readOffset(buf []byte, off int32) int32 {
	if off == invalidOffset {
		return invalidOffset
	}
	b := buf[off : off+4]
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

func writeOffset(buf []byte, at, val int32) {
	b := buf[at : at+4]
	b[0] = byte(val)
	b[1] = byte(val >> 8)
	b[2] = byte(val >> 16)
	b[3] = byte(val >> 24)
}

func putSize(b []byte, sz int) {
	for i := 0; i < guardBytes && i < len(b); i++ {
		b[i] = byte(guardMagic ^ (sz >> (8 * (i % 4))))
	}
}

func putLabel(b []byte, gen uint64, pc uintptr) {
	for i := 0; i < 8 && i < len(b); i++ {
		b[i] = byte(gen >> (8 * i))
	}
	for i := 0; i < 8 && i+8 < len(b); i++ {
		b[i+8] = byte(pc >> (8 * i))
	}
}

func fillDeadbeef(b []byte) {
	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := range b {
		b[i] = pattern[i%4]
	}
}

// callerPC captures a best-effort caller address for Debug.Labels. Whether
// this survives tail calls or inlining is platform-dependent; it is
// debugging-only and never relied on for correctness (spec §9, open
// questions).
func callerPC() uintptr {
	pc, _, _, ok := runtime.Caller(3)
	if !ok {
		return 0
	}
	return uintptr(pc)
}

// HeapPageAllocator is a PageAllocator backed by ordinary Go heap
// allocation. It is the default used by cmd/kernel and by tests; a real
// deployment could instead wire this to mmap'd anonymous memory.
type HeapPageAllocator struct{}

func (HeapPageAllocator) AllocPages(n int) ([]byte, error) {
	if n <= 0 {
		n = 1
	}
	return make([]byte, n*PageSize), nil
}

func (HeapPageAllocator) FreePages(p []byte) {
	// Nothing to do; the GC reclaims it once unreferenced. Logged at Trace
	// so that debug builds can confirm the lifecycle without any action
	// being required.
	logger.Tracef("pool: returning %d bytes to the page backing allocator", len(p))
}
