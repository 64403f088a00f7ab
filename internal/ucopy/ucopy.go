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

// Package ucopy implements the user-copy boundary: copyin/copyout and
// their NUL-terminated string variants (spec §4.6). The original kernel
// recovers from a hardware fault mid-memcpy by installing a per-thread
// setjmp/longjmp continuation that the trap handler invokes. Go has no
// hardware trap to hook into a simulated address space, so this package
// re-expresses the same contract the redesign flag calls for directly:
// every access checks the destination range against both the fixed
// ceiling and the address space's mapped holes before touching memory,
// so "the trap fires" becomes an ordinary bounds check rather than an
// asynchronous continuation. No stack unwinding of any kind is involved.
package ucopy

import (
	"bytes"
	"syscall"
)

// AddressSpace simulates one user process's address space: a flat byte
// buffer of length Top, plus any holes explicitly punched in it to let
// tests exercise EFAULT recovery on a "faulting" access that is in-range
// but unmapped.
type AddressSpace struct {
	Top   uint64
	mem   []byte
	holes []hole
}

type hole struct{ start, end uint64 } // [start, end)

// NewAddressSpace creates a fully-mapped address space of size top bytes.
func NewAddressSpace(top uint64) *AddressSpace {
	return &AddressSpace{Top: top, mem: make([]byte, top)}
}

// Unmap marks [start, start+length) as unmapped; any copy touching it
// fails with EFAULT even though it lies below Top. Test-only; the kernel
// itself never calls this.
func (as *AddressSpace) Unmap(start, length uint64) {
	as.holes = append(as.holes, hole{start, start + length})
}

func (as *AddressSpace) mapped(addr uint64) bool {
	for _, h := range as.holes {
		if addr >= h.start && addr < h.end {
			return false
		}
	}
	return true
}

// inRange checks addr..addr+n against Top, rejecting both overflow
// ("does not wrap") and anything at or past the ceiling.
func (as *AddressSpace) inRange(addr uint64, n int) bool {
	if n < 0 {
		return false
	}
	end := addr + uint64(n)
	if end < addr { // wrapped
		return false
	}
	return end <= as.Top
}

// CopyIn copies n bytes from user address addr into a freshly allocated
// kernel buffer.
func (as *AddressSpace) CopyIn(addr uint64, n int) ([]byte, error) {
	if !as.inRange(addr, n) {
		return nil, syscall.EFAULT
	}
	for i := 0; i < n; i++ {
		if !as.mapped(addr + uint64(i)) {
			return nil, syscall.EFAULT
		}
	}
	out := make([]byte, n)
	copy(out, as.mem[addr:addr+uint64(n)])
	return out, nil
}

// CopyOut copies src into the user address space at addr.
func (as *AddressSpace) CopyOut(addr uint64, src []byte) error {
	n := len(src)
	if !as.inRange(addr, n) {
		return syscall.EFAULT
	}
	for i := 0; i < n; i++ {
		if !as.mapped(addr + uint64(i)) {
			return syscall.EFAULT
		}
	}
	copy(as.mem[addr:addr+uint64(n)], src)
	return nil
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes
// (including the terminator) from the user address space. Per spec §4.6:
// if the ceiling truncates the region before a NUL is found, that's
// EFAULT; if a full in-range region of maxlen bytes contains no NUL,
// that's ENAMETOOLONG.
func (as *AddressSpace) CopyInString(addr uint64, maxlen int) (string, error) {
	if maxlen <= 0 {
		return "", syscall.EINVAL
	}

	avail := maxlen
	truncatedByCeiling := false
	if addr+uint64(maxlen) > as.Top || addr+uint64(maxlen) < addr {
		if as.Top <= addr {
			return "", syscall.EFAULT
		}
		avail = int(as.Top - addr)
		truncatedByCeiling = true
	}

	for i := 0; i < avail; i++ {
		if !as.mapped(addr + uint64(i)) {
			return "", syscall.EFAULT
		}
	}

	chunk := as.mem[addr : addr+uint64(avail)]
	if idx := bytes.IndexByte(chunk, 0); idx >= 0 {
		return string(chunk[:idx]), nil
	}

	if truncatedByCeiling {
		return "", syscall.EFAULT
	}
	return "", syscall.ENAMETOOLONG
}

// CopyOutString writes s plus a NUL terminator to the user address space,
// failing with ENAMETOOLONG if it (including the terminator) would not
// fit in maxlen bytes.
func (as *AddressSpace) CopyOutString(addr uint64, s string, maxlen int) error {
	if len(s)+1 > maxlen {
		return syscall.ENAMETOOLONG
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return as.CopyOut(addr, buf)
}
