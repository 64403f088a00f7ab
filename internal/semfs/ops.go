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

package semfs

import (
	"syscall"

	"github.com/ops-class/os161-sub000/internal/vfs"
)

func fsOf(v *vfs.Vnode) *Filesystem { return v.FS().(*Filesystem) }
func slotOf(v *vfs.Vnode) int       { return v.Data.(int) }

// rootOps is the flat root directory's Ops table: only Lookup, Creat,
// Remove and Getdirentry make sense here (spec §4.7: "no subdirectories").
type rootOps struct {
	vfs.StubOps
}

func (rootOps) Gettype(*vfs.Vnode) vfs.VType { return vfs.VDir }
func (rootOps) IsSeekable(*vfs.Vnode) bool   { return false }

func (rootOps) Stat(*vfs.Vnode) (vfs.Stat, error) {
	return vfs.Stat{Type: vfs.VDir, LinkCount: 1}, nil
}

func (rootOps) Lookup(v *vfs.Vnode, name string) (*vfs.Vnode, error) {
	fs := fsOf(v)
	fs.dirLock.Acquire(internalHolder, noBlock{})
	slot, ok := fs.dirents[name]
	fs.dirLock.Release(internalHolder)
	if !ok {
		return nil, syscall.ENOENT
	}
	return fs.loadvnode(slot)
}

// Creat implements spec §4.7's creat: reopen on a non-excl hit, otherwise
// mint a fresh sem object, insert it in the table and the directory.
func (rootOps) Creat(v *vfs.Vnode, name string, excl bool) (*vfs.Vnode, error) {
	fs := fsOf(v)

	fs.dirLock.Acquire(internalHolder, noBlock{})
	if slot, ok := fs.dirents[name]; ok {
		fs.dirLock.Release(internalHolder)
		if excl {
			return nil, syscall.EEXIST
		}
		return fs.loadvnode(slot)
	}
	fs.dirLock.Release(internalHolder)

	slot := fs.creatSlot(name)

	fs.dirLock.Acquire(internalHolder, noBlock{})
	fs.dirents[name] = slot
	fs.dirLock.Release(internalHolder)

	return fs.loadvnode(slot)
}

// Remove takes name out of the directory; if nothing has it open, the sem
// object is destroyed immediately, otherwise destruction is deferred to
// Reclaim (spec §4.7).
func (rootOps) Remove(v *vfs.Vnode, name string) error {
	fs := fsOf(v)

	fs.dirLock.Acquire(internalHolder, noBlock{})
	slot, ok := fs.dirents[name]
	if !ok {
		fs.dirLock.Release(internalHolder)
		return syscall.ENOENT
	}
	delete(fs.dirents, name)
	fs.dirLock.Release(internalHolder)

	fs.tableLock.Acquire(internalHolder, noBlock{})
	sem := fs.sems[slot]
	sem.linked = false
	destroyNow := !sem.hasVnode
	if destroyNow {
		fs.destroyLocked(slot)
	}
	fs.tableLock.Release(internalHolder)
	return nil
}

func (rootOps) Getdirentry(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	fs := fsOf(v)
	fs.dirLock.Acquire(internalHolder, noBlock{})
	defer fs.dirLock.Release(internalHolder)

	idx := 0
	target := int(uio.Offset)
	for name := range fs.dirents {
		if idx == target {
			return copy(uio.Buf, name), nil
		}
		idx++
	}
	return 0, nil
}

// semOps is a sem object's Ops table: read/write are P/V, not data
// transfer (spec §4.7).
type semOps struct {
	vfs.StubOps
}

func (semOps) Gettype(*vfs.Vnode) vfs.VType { return vfs.VFile }

func (semOps) Reclaim(v *vfs.Vnode) error {
	fsOf(v).reclaim(slotOf(v))
	return nil
}

func (semOps) Read(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	sem := fsOf(v).semAt(slotOf(v))
	return sem.read(uio.Holder, uio.Self, len(uio.Buf))
}

func (semOps) Write(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	sem := fsOf(v).semAt(slotOf(v))
	return sem.write(uio.Holder, uio.Self, len(uio.Buf))
}

func (semOps) Truncate(v *vfs.Vnode, size uint64) error {
	sem := fsOf(v).semAt(slotOf(v))
	return sem.truncate(size)
}

func (semOps) Stat(v *vfs.Vnode) (vfs.Stat, error) {
	fs := fsOf(v)
	slot := slotOf(v)
	sem := fs.semAt(slot)

	linkCount := 0
	fs.dirLock.Acquire(internalHolder, noBlock{})
	for _, s := range fs.dirents {
		if s == slot {
			linkCount = 1
			break
		}
	}
	fs.dirLock.Release(internalHolder)

	return vfs.Stat{Type: vfs.VFile, Size: sem.size(), LinkCount: linkCount}, nil
}

func (semOps) Fsync(*vfs.Vnode) error { return nil }
