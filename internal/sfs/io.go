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

package sfs

import (
	"syscall"

	"github.com/ops-class/os161-sub000/internal/blockdev"
)

// readData copies up to len(dst) bytes starting at offset out of the
// file's data blocks into dst, stopping at the inode's recorded size.
// Reads past a hole (an unallocated block within the file's range) yield
// zero bytes rather than an error, same as real SFS sparse-file reads.
func (fs *Filesystem) readData(ino uint32, in *Inode, offset uint64, dst []byte) (int, error) {
	if offset >= uint64(in.Size) {
		return 0, nil
	}
	remaining := uint64(in.Size) - offset
	if uint64(len(dst)) > remaining {
		dst = dst[:remaining]
	}

	total := 0
	for len(dst) > 0 {
		fb := uint32(offset / BlockSize)
		within := int(offset % BlockSize)
		n := BlockSize - within
		if n > len(dst) {
			n = len(dst)
		}

		blk, err := fs.bmap(ino, in, fb, false)
		if err != nil {
			return total, err
		}
		if blk == 0 {
			for i := 0; i < n; i++ {
				dst[i] = 0
			}
		} else {
			buf := make([]byte, BlockSize)
			if err := blockdev.ReadBlockRetrying(fs.dev, blk, buf); err != nil {
				return total, err
			}
			copy(dst[:n], buf[within:within+n])
		}

		dst = dst[n:]
		offset += uint64(n)
		total += n
	}
	return total, nil
}

// writeData copies src into the file's data blocks starting at offset,
// allocating blocks (and growing the reported size) as needed, using a
// read-modify-write for any partial-block transfer (spec §4.5.5 io).
func (fs *Filesystem) writeData(ino uint32, in *Inode, offset uint64, src []byte) (int, error) {
	if offset+uint64(len(src)) > uint64(^uint32(0)) {
		return 0, syscall.EFBIG
	}

	total := 0
	for len(src) > 0 {
		fb := uint32(offset / BlockSize)
		within := int(offset % BlockSize)
		n := BlockSize - within
		if n > len(src) {
			n = len(src)
		}

		blk, err := fs.bmap(ino, in, fb, true)
		if err != nil {
			return total, err
		}

		buf := make([]byte, BlockSize)
		if n != BlockSize {
			if err := blockdev.ReadBlockRetrying(fs.dev, blk, buf); err != nil {
				return total, err
			}
		}
		copy(buf[within:within+n], src[:n])
		if err := blockdev.WriteBlockRetrying(fs.dev, blk, buf); err != nil {
			return total, err
		}

		src = src[n:]
		offset += uint64(n)
		total += n

		if offset > uint64(in.Size) {
			in.Size = uint32(offset)
			if err := fs.writeInode(ino, *in); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
