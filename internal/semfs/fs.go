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

	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// MountName is the single, fixed mount point semfs is always registered
// under (spec §4.7: "Single mount called sem:").
const MountName = "sem:"

// Filesystem is the whole semfs volume: a table of sem objects (some
// possibly slot-free after a destroy), a flat directory mapping name to
// slot, and a vnode cache keyed by slot — all process-lifetime only
// (spec §6.4). Two locks, per spec §5's shared-resource policy: tableLock
// guards the sem/vnode tables, dirLock guards the directory list.
type Filesystem struct {
	tableLock *ksync.Lock
	sems      []*semObject
	freeSlots []int
	vnodes    map[int]*vfs.Vnode

	dirLock *ksync.Lock
	dirents map[string]int

	root *vfs.Vnode
}

// New creates an empty semfs volume.
func New() *Filesystem {
	fs := &Filesystem{
		tableLock: ksync.NewLock("semfs-table"),
		vnodes:    make(map[int]*vfs.Vnode),
		dirLock:   ksync.NewLock("semfs-dir"),
		dirents:   make(map[string]int),
	}
	fs.root = vfs.NewVnode(fs, -1, rootOps{})
	return fs
}

func (fs *Filesystem) Name() string              { return MountName }
func (fs *Filesystem) Root() (*vfs.Vnode, error) { return fs.root, nil }
func (fs *Filesystem) Sync() error               { return nil }

// Unmount refuses while any sem vnode is cached, mirroring SFS's
// EBUSY-on-open-files contract.
func (fs *Filesystem) Unmount() error {
	fs.tableLock.Acquire(internalHolder, noBlock{})
	defer fs.tableLock.Release(internalHolder)
	if len(fs.vnodes) > 0 {
		return syscall.EBUSY
	}
	return nil
}

func (fs *Filesystem) loadvnode(slot int) (*vfs.Vnode, error) {
	fs.tableLock.Acquire(internalHolder, noBlock{})
	defer fs.tableLock.Release(internalHolder)

	if v, ok := fs.vnodes[slot]; ok {
		v.IncRef(internalHolder)
		return v, nil
	}
	v := vfs.NewVnode(fs, slot, semOps{})
	fs.vnodes[slot] = v
	fs.sems[slot].hasVnode = true
	return v, nil
}

// reclaim drops slot's cached vnode and destroys the sem object if it's
// no longer reachable from the directory (spec §4.7 reclaim).
func (fs *Filesystem) reclaim(slot int) {
	fs.tableLock.Acquire(internalHolder, noBlock{})
	defer fs.tableLock.Release(internalHolder)

	delete(fs.vnodes, slot)
	sem := fs.sems[slot]
	sem.hasVnode = false
	if !sem.linked {
		fs.destroyLocked(slot)
	}
}

// destroyLocked frees slot back to the pool. Caller must hold tableLock.
func (fs *Filesystem) destroyLocked(slot int) {
	sem := fs.sems[slot]
	if sem.destroyed {
		panic("semfs: double-destroy of the same sem object")
	}
	sem.destroyed = true
	fs.sems[slot] = nil
	fs.freeSlots = append(fs.freeSlots, slot)
}

// creatSlot allocates a fresh sem object, reusing a freed slot index when
// one exists.
func (fs *Filesystem) creatSlot(name string) int {
	fs.tableLock.Acquire(internalHolder, noBlock{})
	defer fs.tableLock.Release(internalHolder)

	if n := len(fs.freeSlots); n > 0 {
		slot := fs.freeSlots[n-1]
		fs.freeSlots = fs.freeSlots[:n-1]
		fs.sems[slot] = newSemObject(name)
		return slot
	}
	fs.sems = append(fs.sems, newSemObject(name))
	return len(fs.sems) - 1
}

func (fs *Filesystem) semAt(slot int) *semObject {
	fs.tableLock.Acquire(internalHolder, noBlock{})
	defer fs.tableLock.Release(internalHolder)
	return fs.sems[slot]
}
