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
	"sync"
	"syscall"

	"github.com/ops-class/os161-sub000/internal/blockdev"
	"github.com/ops-class/os161-sub000/internal/logger"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// Filesystem is one mounted SFS volume. An inode number is the literal
// block number its inode lives in, so loadvnode is a single read_block
// away from any inode reference found on disk (spec §4.5.7).
type Filesystem struct {
	name string
	dev  blockdev.Device

	sb          Superblock
	bitmapStart uint32
	nbitmap     uint32
	dataStart   uint32
	rootIno     uint32

	fm *freemap

	mu     sync.Mutex
	vnodes map[uint32]*vnodeEntry
}

type vnodeEntry struct {
	vn  *vfs.Vnode
	ino uint32
}

// Mount opens dev as an SFS volume, verifying its superblock magic and
// loading the free bitmap into memory. name is the VFS table name it will
// be registered under (purely cosmetic bookkeeping here).
func Mount(name string, dev blockdev.Device) (*Filesystem, error) {
	if dev.BlockSize() != BlockSize {
		return nil, syscall.EINVAL
	}

	sbBuf := make([]byte, BlockSize)
	if err := blockdev.ReadBlockRetrying(dev, 0, sbBuf); err != nil {
		return nil, err
	}
	sb := decodeSuperblock(sbBuf)
	if sb.Magic != Magic {
		return nil, fmt.Errorf("sfs: mount %s: bad magic %#x", name, sb.Magic)
	}

	nbitmap := bitmapBlocks(sb.NBlocks)
	fm := newFreemap(sb.NBlocks)
	if err := fm.load(dev, 1, nbitmap); err != nil {
		return nil, err
	}

	fs := &Filesystem{
		name:        name,
		dev:         dev,
		sb:          sb,
		bitmapStart: 1,
		nbitmap:     nbitmap,
		dataStart:   1 + nbitmap,
		rootIno:     1 + nbitmap,
		fm:          fm,
		vnodes:      make(map[uint32]*vnodeEntry),
	}

	logger.Infof("sfs: mounted %s (%d blocks, volname %q)", name, sb.NBlocks, sb.VolnameString())
	return fs, nil
}

// Format writes a fresh superblock, zeroed bitmap and an empty root
// directory to dev, reserving blocks 0..dataStart-1 for the superblock and
// bitmap and dataStart for the root directory's inode (spec §6.1, §6.3
// mkfs). volname is truncated silently if it doesn't fit VolnameSize-1
// bytes, matching the original tool's behavior.
func Format(dev blockdev.Device, volname string) error {
	nblocks := dev.NumBlocks()
	nbitmap := bitmapBlocks(nblocks)
	dataStart := 1 + nbitmap

	var sb Superblock
	sb.Magic = Magic
	sb.NBlocks = nblocks
	n := copy(sb.Volname[:VolnameSize-1], volname)
	sb.Volname[n] = 0

	if err := blockdev.WriteBlockRetrying(dev, 0, sb.encode()); err != nil {
		return err
	}

	fm := newFreemap(nblocks)
	for b := uint32(0); b < dataStart; b++ {
		fm.markUsed(b)
	}
	fm.markUsed(dataStart) // root directory inode block
	// Every bitmap block gets written, not just ones a markUsed call
	// happened to dirty, so the on-disk image is fully defined.
	for i := uint32(0); i < nbitmap; i++ {
		fm.dirty[i] = true
	}
	if err := fm.flush(dev, 1); err != nil {
		return err
	}

	root := Inode{Type: TypeDir, LinkCount: 2, Size: 0}
	if err := blockdev.WriteBlockRetrying(dev, dataStart, root.encode()); err != nil {
		return err
	}

	return nil
}

func (fs *Filesystem) Name() string { return fs.name }

func (fs *Filesystem) Root() (*vfs.Vnode, error) {
	return fs.loadvnode(fs.rootIno)
}

func (fs *Filesystem) Sync() error {
	fs.mu.Lock()
	inos := make([]uint32, 0, len(fs.vnodes))
	for ino := range fs.vnodes {
		inos = append(inos, ino)
	}
	fs.mu.Unlock()

	for _, ino := range inos {
		in, err := fs.readInode(ino)
		if err != nil {
			return err
		}
		if err := fs.writeInode(ino, in); err != nil {
			return err
		}
	}
	return fs.fm.flush(fs.dev, fs.bitmapStart)
}

// Unmount refuses while any vnode beyond the table's own cache reference
// is still live, mirroring the original kernel's EBUSY behavior (spec
// §4.5.8).
func (fs *Filesystem) Unmount() error {
	fs.mu.Lock()
	for _, ent := range fs.vnodes {
		if ent.vn.RefCount(unmountHolder) > 1 {
			fs.mu.Unlock()
			return syscall.EBUSY
		}
	}
	fs.mu.Unlock()

	if err := fs.Sync(); err != nil {
		return err
	}
	return fs.dev.Close()
}

// unmountHolder is a fixed pseudo-thread ID used for refcount inspection
// outside of any real thread context (Sync/Unmount run during shutdown,
// not on behalf of a particular caller).
const unmountHolder = -1

func (fs *Filesystem) loadvnode(ino uint32) (*vfs.Vnode, error) {
	fs.mu.Lock()
	if ent, ok := fs.vnodes[ino]; ok {
		fs.mu.Unlock()
		ent.vn.IncRef(unmountHolder)
		return ent.vn, nil
	}
	fs.mu.Unlock()

	in, err := fs.readInode(ino)
	if err != nil {
		return nil, err
	}
	if in.Type == TypeInval {
		return nil, syscall.ENOENT
	}

	var ops vfs.Ops
	if in.Type == TypeDir {
		ops = dirOps{}
	} else {
		ops = fileOps{}
	}
	vn := vfs.NewVnode(fs, ino, ops)

	fs.mu.Lock()
	if ent, ok := fs.vnodes[ino]; ok {
		fs.mu.Unlock()
		ent.vn.IncRef(unmountHolder)
		return ent.vn, nil
	}
	fs.vnodes[ino] = &vnodeEntry{vn: vn, ino: ino}
	fs.mu.Unlock()
	return vn, nil
}

// reclaim drops a vnode from the cache, called from fileOps/dirOps.Reclaim
// once no holder beyond the caller remains (refcount at most 1).
func (fs *Filesystem) reclaim(ino uint32) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.vnodes, ino)
}

func (fs *Filesystem) readInode(ino uint32) (Inode, error) {
	buf := make([]byte, BlockSize)
	if err := blockdev.ReadBlockRetrying(fs.dev, ino, buf); err != nil {
		return Inode{}, err
	}
	return decodeInode(buf), nil
}

func (fs *Filesystem) writeInode(ino uint32, in Inode) error {
	return blockdev.WriteBlockRetrying(fs.dev, ino, in.encode())
}

// allocInode balloc's a block and stamps it with a fresh inode of typ.
func (fs *Filesystem) allocInode(typ uint16) (uint32, error) {
	blk, err := fs.fm.balloc()
	if err != nil {
		return 0, err
	}
	in := Inode{Type: typ}
	if err := fs.writeInode(blk, in); err != nil {
		fs.fm.bfree(blk)
		return 0, err
	}
	return blk, nil
}

// freeInodeBlocks releases every data/indirect block an inode owns, then
// the inode's own block itself.
func (fs *Filesystem) freeInodeBlocks(ino uint32, in Inode) error {
	for i := 0; i < NDirect; i++ {
		if in.Direct[i] != 0 {
			fs.fm.bfree(in.Direct[i])
		}
	}
	if in.Indirect != 0 {
		buf := make([]byte, BlockSize)
		if err := blockdev.ReadBlockRetrying(fs.dev, in.Indirect, buf); err != nil {
			return err
		}
		entries := readIndirect(buf)
		for _, e := range entries {
			if e != 0 {
				fs.fm.bfree(e)
			}
		}
		fs.fm.bfree(in.Indirect)
	}
	fs.fm.bfree(ino)
	return nil
}

func (fs *Filesystem) GetVolname() string { return fs.sb.VolnameString() }
