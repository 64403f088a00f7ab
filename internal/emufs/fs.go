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
	"sync"
	"syscall"

	"github.com/ops-class/os161-sub000/internal/vfs"
)

// Filesystem is one mounted emulator-passthrough volume: a softc driving
// the register protocol plus a per-handle vnode cache, maintained
// identically in spirit to SFS's per-inode cache (spec §4.6).
type Filesystem struct {
	name string
	sc   *softc

	mu    sync.Mutex
	cache map[uint32]*vfs.Vnode
}

// Mount wraps hw in a Filesystem ready to plug into a vfs.Table. It sends
// nothing to the device; Root mints the root handle's vnode on demand.
func Mount(name string, hw Hardware) (*Filesystem, error) {
	fs := &Filesystem{name: name, sc: newSoftc(hw), cache: make(map[uint32]*vfs.Vnode)}
	return fs, nil
}

func (fs *Filesystem) Name() string { return fs.name }

func (fs *Filesystem) Root() (*vfs.Vnode, error) {
	return fs.loadvnode(RootHandle)
}

// Sync is a no-op: the host is the actual persistence layer and every
// operation already lands there synchronously.
func (fs *Filesystem) Sync() error { return nil }

// Unmount is refused unconditionally: the device is not really "mounted"
// in any sense that tearing down could undo (spec §4.6).
func (fs *Filesystem) Unmount() error { return syscall.EBUSY }

func (fs *Filesystem) loadvnode(handle uint32) (*vfs.Vnode, error) {
	return fs.loadvnodeNamed(handle, "")
}

// loadvnodeNamed is loadvnode plus the path a handle was minted from,
// needed only for bookkeeping (nothing in this core re-derives a path
// from a handle after the fact).
func (fs *Filesystem) loadvnodeNamed(handle uint32, path string) (*vfs.Vnode, error) {
	fs.mu.Lock()
	if v, ok := fs.cache[handle]; ok {
		fs.mu.Unlock()
		v.IncRef(deviceHolder)
		return v, nil
	}
	fs.mu.Unlock()

	v := vfs.NewVnode(fs, &handleState{handle: handle, path: path}, fileOps{})

	fs.mu.Lock()
	if existing, ok := fs.cache[handle]; ok {
		fs.mu.Unlock()
		existing.IncRef(deviceHolder)
		return existing, nil
	}
	fs.cache[handle] = v
	fs.mu.Unlock()
	return v, nil
}

func (fs *Filesystem) forget(handle uint32) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.cache, handle)
}

// handleState is what a vnode's Data field holds: the handle plus the
// path it was opened from. The path is bookkeeping only; no operation
// reads it back.
type handleState struct {
	handle uint32
	path   string
}

func state(v *vfs.Vnode) *handleState { return v.Data.(*handleState) }
func fsOf(v *vfs.Vnode) *Filesystem    { return v.FS().(*Filesystem) }
