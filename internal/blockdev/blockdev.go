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

// Package blockdev defines the 512-byte block device contract SFS is
// built on (spec §4.5.1) and a file-backed implementation suitable for a
// disk image on the host filesystem.
package blockdev

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// BlockSize is the device's native sector size. SFS mount refuses any
// device whose BlockSize() is not this value (spec §4.5.8).
const BlockSize = 512

// Device is an iovec-style block I/O descriptor. read_block/write_block in
// the original kernel serialize through exactly this shape of call.
type Device interface {
	BlockSize() int
	NumBlocks() uint32
	ReadBlock(n uint32, buf []byte) error
	WriteBlock(n uint32, buf []byte) error
	Close() error
}

// FileDevice backs a Device with a regular host file: typically a disk
// image created by mkfs. It takes an exclusive advisory lock on the
// underlying file descriptor for its lifetime, the same way a real kernel
// would refuse to let two instances mount the same spindle.
type FileDevice struct {
	f         *os.File
	nblocks   uint32
	failEvery int // test hook: if >0, every Nth I/O fails with EIO
	ioCount   int
}

// OpenFileDevice opens path and locks it exclusively. nblocks is the
// device's reported size in blocks; path must already contain at least
// that many blocks' worth of bytes (mkfs is responsible for sizing it).
func OpenFileDevice(path string, nblocks uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: lock %s: %w", path, err)
	}

	return &FileDevice{f: f, nblocks: nblocks}, nil
}

func (d *FileDevice) BlockSize() int     { return BlockSize }
func (d *FileDevice) NumBlocks() uint32  { return d.nblocks }

// FailEvery configures a test-only fault injector: every n'th ReadBlock or
// WriteBlock call fails with EIO, exercising the retry path in
// internal/sfs. n == 0 disables injection.
func (d *FileDevice) FailEvery(n int) { d.failEvery = n }

func (d *FileDevice) checkRange(n uint32) error {
	if n >= d.nblocks {
		return syscall.EINVAL
	}
	return nil
}

func (d *FileDevice) injectFault() bool {
	if d.failEvery == 0 {
		return false
	}
	d.ioCount++
	return d.ioCount%d.failEvery == 0
}

func (d *FileDevice) ReadBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return syscall.EINVAL
	}
	if err := d.checkRange(n); err != nil {
		return err
	}
	if d.injectFault() {
		return syscall.EIO
	}
	_, err := d.f.ReadAt(buf, int64(n)*BlockSize)
	if err != nil {
		return syscall.EIO
	}
	return nil
}

func (d *FileDevice) WriteBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return syscall.EINVAL
	}
	if err := d.checkRange(n); err != nil {
		return err
	}
	if d.injectFault() {
		return syscall.EIO
	}
	_, err := d.f.WriteAt(buf, int64(n)*BlockSize)
	if err != nil {
		return syscall.EIO
	}
	return nil
}

func (d *FileDevice) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}

// MemDevice is an in-memory Device, used by tests and by the in-memory
// mkfs scenarios that don't need a real host file.
type MemDevice struct {
	blocks    [][BlockSize]byte
	failEvery int
	ioCount   int
}

// NewMemDevice creates a zero-filled in-memory device of nblocks blocks.
func NewMemDevice(nblocks uint32) *MemDevice {
	return &MemDevice{blocks: make([][BlockSize]byte, nblocks)}
}

func (d *MemDevice) BlockSize() int    { return BlockSize }
func (d *MemDevice) NumBlocks() uint32 { return uint32(len(d.blocks)) }
func (d *MemDevice) FailEvery(n int)   { d.failEvery = n }

func (d *MemDevice) injectFault() bool {
	if d.failEvery == 0 {
		return false
	}
	d.ioCount++
	return d.ioCount%d.failEvery == 0
}

func (d *MemDevice) ReadBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return syscall.EINVAL
	}
	if n >= uint32(len(d.blocks)) {
		return syscall.EINVAL
	}
	if d.injectFault() {
		return syscall.EIO
	}
	copy(buf, d.blocks[n][:])
	return nil
}

func (d *MemDevice) WriteBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return syscall.EINVAL
	}
	if n >= uint32(len(d.blocks)) {
		return syscall.EINVAL
	}
	if d.injectFault() {
		return syscall.EIO
	}
	copy(d.blocks[n][:], buf)
	return nil
}

func (d *MemDevice) Close() error { return nil }
