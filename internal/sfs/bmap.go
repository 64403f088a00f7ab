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
	"fmt"
	"syscall"

	"github.com/ops-class/os161-sub000/internal/blockdev"
)

// bmap translates a file-relative block number into a disk block number,
// optionally allocating it (and any indirect block needed to hold its
// pointer) on the fly. It returns ENOSPC if doalloc is true and the
// bitmap is exhausted, or EFBIG if fileBlock is beyond what a single
// indirect block can address (spec §4.5.3).
func (fs *Filesystem) bmap(ino uint32, in *Inode, fileBlock uint32, doalloc bool) (uint32, error) {
	if fileBlock < NDirect {
		if in.Direct[fileBlock] != 0 {
			fs.assertAllocated(in.Direct[fileBlock])
			return in.Direct[fileBlock], nil
		}
		if !doalloc {
			return 0, nil
		}
		blk, err := fs.fm.balloc()
		if err != nil {
			return 0, err
		}
		in.Direct[fileBlock] = blk
		if err := fs.writeInode(ino, *in); err != nil {
			fs.fm.bfree(blk)
			return 0, err
		}
		return blk, nil
	}

	idbSlot := fileBlock - NDirect
	if idbSlot >= maxIndirectFileBlocks {
		return 0, syscall.EFBIG
	}

	if in.Indirect == 0 {
		if !doalloc {
			return 0, nil
		}
		idbBlk, err := fs.fm.balloc()
		if err != nil {
			return 0, err
		}
		var zero [DBPerIDB]uint32
		if err := blockdev.WriteBlockRetrying(fs.dev, idbBlk, writeIndirect(zero)); err != nil {
			fs.fm.bfree(idbBlk)
			return 0, err
		}
		in.Indirect = idbBlk
		if err := fs.writeInode(ino, *in); err != nil {
			return 0, err
		}
	}

	idbBuf := make([]byte, BlockSize)
	if err := blockdev.ReadBlockRetrying(fs.dev, in.Indirect, idbBuf); err != nil {
		return 0, err
	}
	entries := readIndirect(idbBuf)

	if entries[idbSlot] != 0 {
		fs.assertAllocated(entries[idbSlot])
		return entries[idbSlot], nil
	}
	if !doalloc {
		return 0, nil
	}

	blk, err := fs.fm.balloc()
	if err != nil {
		return 0, err
	}
	entries[idbSlot] = blk
	if err := blockdev.WriteBlockRetrying(fs.dev, in.Indirect, writeIndirect(entries)); err != nil {
		fs.fm.bfree(blk)
		return 0, err
	}
	return blk, nil
}

// assertAllocated panics if a block an inode points to is not marked used
// in the bitmap: on-disk corruption the original kernel catches the same
// way, with KASSERT(sfs_bused(...)).
func (fs *Filesystem) assertAllocated(blk uint32) {
	if !fs.fm.bused(blk) {
		panic(fmt.Sprintf("sfs: inode references block %d which the bitmap marks free", blk))
	}
}

// itrunc shrinks or grows in's reported Size to newsize, freeing any
// blocks that fall entirely beyond the new size (spec §4.5.4). Growing
// never allocates; the new range reads as zero until actually written,
// producing a sparse file.
func (fs *Filesystem) itrunc(ino uint32, in *Inode, newsize uint64) error {
	oldNBlocks := blocksFor(uint64(in.Size))
	newNBlocks := blocksFor(newsize)

	for fb := newNBlocks; fb < oldNBlocks; fb++ {
		blk, err := fs.bmap(ino, in, fb, false)
		if err != nil {
			return err
		}
		if blk == 0 {
			continue
		}
		if fb < NDirect {
			in.Direct[fb] = 0
		} else {
			idbBuf := make([]byte, BlockSize)
			if err := blockdev.ReadBlockRetrying(fs.dev, in.Indirect, idbBuf); err != nil {
				return err
			}
			entries := readIndirect(idbBuf)
			entries[fb-NDirect] = 0
			if err := blockdev.WriteBlockRetrying(fs.dev, in.Indirect, writeIndirect(entries)); err != nil {
				return err
			}
		}
		fs.fm.bfree(blk)
	}

	// The loop above already zeroed every indirect slot that mattered
	// (anything from NDirect up to the old block count), so whenever the
	// new size falls back into the direct region, none of the indirect
	// block's 128 slots still hold a pointer and the block itself can be
	// freed, not just when the file is truncated all the way to empty.
	if newNBlocks <= NDirect && in.Indirect != 0 {
		fs.fm.bfree(in.Indirect)
		in.Indirect = 0
	}

	in.Size = uint32(newsize)
	return fs.writeInode(ino, *in)
}

func blocksFor(size uint64) uint32 {
	return uint32((size + BlockSize - 1) / BlockSize)
}
