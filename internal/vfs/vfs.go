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

// Package vfs is the virtual file system indirection layer: a global
// device-name-to-filesystem table, a polymorphic file-object (vnode)
// type, and path lookup/lookparent (spec §4.4). internal/sfs,
// internal/emufs and internal/semfs each implement FileSystem and supply
// an Ops table; nothing in this package knows about on-disk layout,
// register protocols, or semaphore counters.
package vfs

import (
	"fmt"
	"path"
	"strings"
	"syscall"

	"github.com/jacobsa/syncutil"
	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/metrics"
)

// VType is a vnode's type, returned by Ops.Gettype.
type VType int

const (
	VFile VType = iota
	VDir
)

// Stat is the subset of inode metadata every filesystem can report.
type Stat struct {
	Type      VType
	Size      uint64
	LinkCount int
	BlockSize int
}

// Uio describes one kernel-buffer transfer into or out of a vnode. It
// plays the role of OS/161's struct uio, minus the user-pointer plumbing:
// internal/ucopy is responsible for getting bytes between user memory and
// a Uio.Buf before or after the VFS call, keeping this package free of
// any dependency on the user-copy boundary.
//
// Holder and Self identify the calling thread for operations that may
// need to block (semfs's P on an empty semaphore is the only consumer in
// this core); a filesystem whose ops never block ignores both.
type Uio struct {
	Buf    []byte
	Offset uint64
	Holder int64
	Self   ksync.Waiter
}

// Ops is a file-object's capability set (spec §3.2). Every unsupported
// operation returns a fixed, typed error so VFS callers never special-
// case a particular filesystem; StubOps supplies that behavior for every
// method so a concrete Ops implementation only needs to override what it
// actually supports.
type Ops interface {
	EachOpen(v *Vnode, flags int) error
	Reclaim(v *Vnode) error
	Read(v *Vnode, uio *Uio) (int, error)
	Readlink(v *Vnode, uio *Uio) (int, error)
	Getdirentry(v *Vnode, uio *Uio) (int, error)
	Write(v *Vnode, uio *Uio) (int, error)
	Ioctl(v *Vnode, op int, data []byte) error
	Stat(v *Vnode) (Stat, error)
	Gettype(v *Vnode) VType
	IsSeekable(v *Vnode) bool
	Fsync(v *Vnode) error
	Mmap(v *Vnode) error
	Truncate(v *Vnode, size uint64) error
	Namefile(v *Vnode, uio *Uio) (int, error)
	Creat(v *Vnode, name string, excl bool) (*Vnode, error)
	Symlink(v *Vnode, name, contents string) error
	Mkdir(v *Vnode, name string) error
	Link(v *Vnode, name string, target *Vnode) error
	Remove(v *Vnode, name string) error
	Rmdir(v *Vnode, name string) error
	Rename(v *Vnode, name string, newdir *Vnode, newname string) error
	Lookup(v *Vnode, name string) (*Vnode, error)
}

// StubOps answers every Ops method with the typed stub error a real
// filesystem hasn't overridden. Embed it by value in a concrete Ops type.
type StubOps struct{}

func (StubOps) EachOpen(*Vnode, int) error                   { return nil }
func (StubOps) Reclaim(*Vnode) error                         { return nil }
func (StubOps) Read(*Vnode, *Uio) (int, error)                { return 0, syscall.EISDIR }
func (StubOps) Readlink(*Vnode, *Uio) (int, error)            { return 0, syscall.EINVAL }
func (StubOps) Getdirentry(*Vnode, *Uio) (int, error)         { return 0, syscall.ENOTDIR }
func (StubOps) Write(*Vnode, *Uio) (int, error)               { return 0, syscall.EISDIR }
func (StubOps) Ioctl(*Vnode, int, []byte) error               { return syscall.ENOSYS }
func (StubOps) Stat(*Vnode) (Stat, error)                     { return Stat{}, syscall.ENOSYS }
func (StubOps) Gettype(*Vnode) VType                          { return VFile }
func (StubOps) IsSeekable(*Vnode) bool                        { return true }
func (StubOps) Fsync(*Vnode) error                            { return nil }
func (StubOps) Mmap(*Vnode) error                             { return syscall.ENOSYS }
func (StubOps) Truncate(*Vnode, uint64) error                 { return syscall.EISDIR }
func (StubOps) Namefile(*Vnode, *Uio) (int, error)            { return 0, syscall.ENOSYS }
func (StubOps) Creat(*Vnode, string, bool) (*Vnode, error)     { return nil, syscall.ENOTDIR }
func (StubOps) Symlink(*Vnode, string, string) error          { return syscall.ENOTDIR }
func (StubOps) Mkdir(*Vnode, string) error                     { return syscall.ENOTDIR }
func (StubOps) Link(*Vnode, string, *Vnode) error              { return syscall.ENOTDIR }
func (StubOps) Remove(*Vnode, string) error                    { return syscall.ENOTDIR }
func (StubOps) Rmdir(*Vnode, string) error                     { return syscall.ENOTDIR }
func (StubOps) Rename(*Vnode, string, *Vnode, string) error    { return syscall.ENOTDIR }
func (StubOps) Lookup(*Vnode, string) (*Vnode, error)          { return nil, syscall.ENOTDIR }

// Vnode is a reference-counted handle to a filesystem object (spec §3.2).
type Vnode struct {
	fs   FileSystem
	Data interface{}
	Ops  Ops

	refLock  ksync.Spinlock
	refcount int
}

// NewVnode wraps data/ops as a vnode of fs with an initial refcount of 1,
// owed to the caller (the lookup/creat that minted it).
func NewVnode(fs FileSystem, data interface{}, ops Ops) *Vnode {
	return &Vnode{fs: fs, Data: data, Ops: ops, refcount: 1}
}

func (v *Vnode) FS() FileSystem { return v.fs }

// IncRef adds one reference, owed to the caller.
func (v *Vnode) IncRef(holder int64) {
	v.refLock.Acquire(holder)
	v.refcount++
	v.refLock.Release()
}

// DecRef removes one reference and returns the resulting count. A
// filesystem's vnode cache holds no reference of its own (see NewVnode),
// so a count of exactly 1 means a single holder remains.
func (v *Vnode) DecRef(holder int64) int {
	v.refLock.Acquire(holder)
	v.refcount--
	n := v.refcount
	v.refLock.Release()
	return n
}

func (v *Vnode) RefCount(holder int64) int {
	v.refLock.Acquire(holder)
	defer v.refLock.Release()
	return v.refcount
}

// FileSystem is what every mounted filesystem implements to plug into the
// VFS table.
type FileSystem interface {
	Name() string
	Root() (*Vnode, error)
	Sync() error
	Unmount() error
}

// Table is the global device-name-to-filesystem table plus the boot fs
// alias (spec §4.4). Mount, Unmount, SetBootFS, ResolveBootFS, Get and
// Sync each hold a single coarse lock ("biglock") for their whole run.
// Lookup and Lookparent take it only to resolve the boot fs; their
// component-by-component walk runs without it. The lock is built as a
// syncutil.InvariantMutex the same way
// fs.fileSystem guards its own state — here the invariant is simply that
// bootFS, if set, names an entry that exists in byName.
type Table struct {
	mu     syncutil.InvariantMutex
	byName map[string]FileSystem
	bootFS string
}

// NewTable creates an empty VFS table.
func NewTable() *Table {
	t := &Table{byName: make(map[string]FileSystem)}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Table) checkInvariants() {
	if t.bootFS == "" {
		return
	}
	if _, ok := t.byName[t.bootFS]; !ok {
		panic(fmt.Sprintf("vfs: boot fs %q has no table entry", t.bootFS))
	}
}

// Mount registers fs under name. Mounting over an existing name panics: in
// the original kernel this is a caller bug checked at boot, not a runtime
// condition any syscall can trigger.
func (t *Table) Mount(name string, fs FileSystem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		panic(fmt.Sprintf("vfs: %q already mounted", name))
	}
	t.byName[name] = fs
}

// Unmount removes name from the table, first asking the filesystem to
// unmount (flushing any dirty state). Unmounting the boot fs clears the
// alias.
func (t *Table) Unmount(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.byName[name]
	if !ok {
		return syscall.ENOENT
	}
	if err := fs.Unmount(); err != nil {
		return err
	}
	delete(t.byName, name)
	if t.bootFS == name {
		t.bootFS = ""
	}
	return nil
}

// SetBootFS designates name (which must already be mounted) as the root
// used to resolve absolute paths.
func (t *Table) SetBootFS(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byName[name]; !ok {
		return syscall.ENOENT
	}
	t.bootFS = name
	return nil
}

// ResolveBootFS returns the filesystem currently designated as the boot
// fs, or ENODEV if none has been set.
func (t *Table) ResolveBootFS() (FileSystem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bootFS == "" {
		return nil, syscall.ENODEV
	}
	return t.byName[t.bootFS], nil
}

// Get returns the filesystem mounted under name.
func (t *Table) Get(name string) (FileSystem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.byName[name]
	if !ok {
		return nil, syscall.ENODEV
	}
	return fs, nil
}

// Sync flushes every mounted filesystem.
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, fs := range t.byName {
		if err := fs.Sync(); err != nil {
			return fmt.Errorf("vfs: sync %q: %w", name, err)
		}
	}
	return nil
}

// Lookup walks path starting from start (or from the boot fs root for an
// absolute path, i.e. one beginning with "/") component by component,
// using each intermediate vnode's Lookup op. It returns a vnode with a
// reference owed to the caller.
func (t *Table) Lookup(holder int64, start *Vnode, p string) (*Vnode, error) {
	cur, components, err := t.walkStart(start, p)
	if err != nil {
		return nil, err
	}
	cur.IncRef(holder)

	for _, name := range components {
		if name == "" {
			continue
		}
		next, err := cur.Ops.Lookup(cur, name)
		cur.DecRef(holder)
		if err != nil {
			return nil, err
		}
		cur = next
	}

	metrics.VFSLookupsTotal.Inc()
	return cur, nil
}

// Lookparent walks every component of path except the last, returning the
// parent vnode (referenced) plus the final component name — used by every
// modifying VFS operation (creat, mkdir, remove, rename, ...).
func (t *Table) Lookparent(holder int64, start *Vnode, p string) (*Vnode, string, error) {
	cur, components, err := t.walkStart(start, p)
	if err != nil {
		return nil, "", err
	}
	components = dropTrailingEmpty(components)
	if len(components) == 0 {
		return nil, "", syscall.EINVAL
	}

	cur.IncRef(holder)
	for _, name := range components[:len(components)-1] {
		if name == "" {
			continue
		}
		next, err := cur.Ops.Lookup(cur, name)
		cur.DecRef(holder)
		if err != nil {
			return nil, "", err
		}
		cur = next
	}

	return cur, components[len(components)-1], nil
}

func (t *Table) walkStart(start *Vnode, p string) (*Vnode, []string, error) {
	clean := path.Clean(p)
	if strings.HasPrefix(clean, "/") {
		boot, err := t.ResolveBootFS()
		if err != nil {
			return nil, nil, err
		}
		root, err := boot.Root()
		if err != nil {
			return nil, nil, err
		}
		return root, strings.Split(strings.TrimPrefix(clean, "/"), "/"), nil
	}
	if start == nil {
		return nil, nil, syscall.EINVAL
	}
	return start, strings.Split(clean, "/"), nil
}

func dropTrailingEmpty(components []string) []string {
	for len(components) > 0 && components[len(components)-1] == "" {
		components = components[:len(components)-1]
	}
	return components
}
