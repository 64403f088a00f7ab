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

// Package fuseexport wraps a mounted filesystem's vfs.Vnode tree in a
// fuseutil.FileSystem so it can be joined to a real kernel FUSE mount,
// for manual poking and integration testing (spec §6.4 names only the
// SFS image and semfs/emufs's own state as persisted; this package adds
// no state of its own, it is purely a translation layer). Grounded on
// gcsfuse's fs/fs.go: an inode table keyed by fuseops.InodeID, minted
// lazily from vfs.Vnodes and kept alive by a lookup count until the
// kernel sends ForgetInode.
package fuseexport

import (
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"

	"github.com/ops-class/os161-sub000/internal/ksync"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// FileSystem exports the tree rooted at a single vfs.FileSystem over
// FUSE. Unimplemented ops (symlinks, rename, mmap) fall through to
// NotImplementedFileSystem's ENOSYS; rename is not forwarded even though
// sfs directories implement it.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	uid uint32
	gid uint32

	fileMode os.FileMode
	dirMode  os.FileMode

	mu syncutil.InvariantMutex

	inodes      map[fuseops.InodeID]*inodeEntry
	nextInodeID fuseops.InodeID

	dirHandles   map[fuseops.HandleID]*dirHandle
	nextHandleID fuseops.HandleID

	holderSeq int64
}

type inodeEntry struct {
	vnode       *vfs.Vnode
	lookupCount uint64
}

// tableHolder identifies the inode table itself as a vfs refcount holder.
// The table keeps exactly one vfs-level reference alive per minted inode
// for as long as it appears in fs.inodes, no matter how many times the
// FUSE kernel looks the name up again. mintOrReuse gives back every
// extra reference a repeat Lookup/Creat picks up, the same way a single
// long-lived cache entry would.
const tableHolder = -2

type dirHandle struct {
	names []string
}

// New wraps root (the vfs root of whatever filesystem the caller wants
// exported, e.g. from vfs.Table.Get("bootfs:").Root()) as a
// fuseutil.FileSystem. uid/gid are stamped onto every inode, since this
// core has no per-file ownership model of its own.
func New(root *vfs.Vnode, uid, gid uint32) *FileSystem {
	fs := &FileSystem{
		uid:         uid,
		gid:         gid,
		fileMode:    0644,
		dirMode:     0755,
		inodes:      make(map[fuseops.InodeID]*inodeEntry),
		nextInodeID: fuseops.RootInodeID + 1,
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
	}
	fs.inodes[fuseops.RootInodeID] = &inodeEntry{vnode: root, lookupCount: 1}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs
}

func (fs *FileSystem) checkInvariants() {
	if _, ok := fs.inodes[fuseops.RootInodeID]; !ok {
		panic("fuseexport: root inode missing from table")
	}
}

// holder mints a fresh pseudo-thread identity for one FUSE request.
// Every ksync primitive this adapter touches (indirectly, through a
// filesystem like semfs that can genuinely block) needs one; requests
// already run on their own goroutine courtesy of fuseutil's dispatcher,
// so a channel-backed Waiter parks that goroutine exactly like a real
// sched.Thread would.
func (fs *FileSystem) holder() (int64, ksync.Waiter) {
	id := atomic.AddInt64(&fs.holderSeq, 1)
	return 1 << 40 + id, &requestWaiter{ch: make(chan struct{}, 1)}
}

type requestWaiter struct{ ch chan struct{} }

func (w *requestWaiter) Park() { <-w.ch }

func (w *requestWaiter) Resume() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (fs *FileSystem) entryLocked(id fuseops.InodeID) (*inodeEntry, error) {
	e, ok := fs.inodes[id]
	if !ok {
		return nil, syscall.ENOENT
	}
	return e, nil
}

// mintOrReuse returns the inode ID for v, allocating a fresh one and
// bumping its lookup count if this is the first time v has been seen,
// otherwise reusing the existing entry and bumping its count — mirrors
// gcsfuse's lookUpOrCreateChildInode bookkeeping (fs/fs.go).
func (fs *FileSystem) mintOrReuse(v *vfs.Vnode) fuseops.InodeID {
	for id, e := range fs.inodes {
		if e.vnode == v {
			e.lookupCount++
			v.DecRef(tableHolder)
			return id
		}
	}
	id := fs.nextInodeID
	fs.nextInodeID++
	fs.inodes[id] = &inodeEntry{vnode: v, lookupCount: 1}
	return id
}

func (fs *FileSystem) attrsFor(st vfs.Stat) fuseops.InodeAttributes {
	mode := fs.fileMode
	if st.Type == vfs.VDir {
		mode = os.ModeDir | fs.dirMode
	}
	now := time.Now()
	return fuseops.InodeAttributes{
		Size:  st.Size,
		Nlink: uint64(st.LinkCount),
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

func (fs *FileSystem) fillEntry(entry *fuseops.ChildInodeEntry, v *vfs.Vnode) error {
	st, err := v.Ops.Stat(v)
	if err != nil {
		return err
	}
	entry.Child = fs.mintOrReuse(v)
	entry.Attributes = fs.attrsFor(st)
	return nil
}

func (fs *FileSystem) Init(op *fuseops.InitOp) error { return nil }

// LookUpInode implements spec §6.4's translation layer: resolve a
// single path component under a known parent inode.
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	parent, err := fs.entryLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	child, err := parent.vnode.Ops.Lookup(parent.vnode, op.Name)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fillEntry(&op.Entry, child)
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	st, err := e.vnode.Ops.Stat(e.vnode)
	if err != nil {
		return err
	}
	op.Attributes = fs.attrsFor(st)
	return nil
}

// SetInodeAttributes only plumbs through size (ftruncate); this core
// has no mode/time model to honor chmod/utimes against, so those
// fields are accepted and silently ignored rather than rejected.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	if op.Size != nil {
		if err := e.vnode.Ops.Truncate(e.vnode, *op.Size); err != nil {
			return err
		}
	}

	st, err := e.vnode.Ops.Stat(e.vnode)
	if err != nil {
		return err
	}
	op.Attributes = fs.attrsFor(st)
	return nil
}

// ForgetInode decrements the inode's lookup count by op.N, calling the
// vnode's own Reclaim and dropping the table entry only once the count
// reaches zero. The kernel may hold several outstanding lookups on the
// same inode and forgets them with accumulating counts across several
// calls, not with one call per inode.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, ok := fs.inodes[op.Inode]
	if !ok {
		return nil
	}

	if op.N >= e.lookupCount {
		delete(fs.inodes, op.Inode)
		return e.vnode.Ops.Reclaim(e.vnode)
	}

	e.lookupCount -= op.N
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	parent, err := fs.entryLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	if err := parent.vnode.Ops.Mkdir(parent.vnode, op.Name); err != nil {
		return err
	}
	child, err := parent.vnode.Ops.Lookup(parent.vnode, op.Name)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fillEntry(&op.Entry, child)
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	parent, err := fs.entryLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	excl := op.Flags&os.O_EXCL != 0
	child, err := parent.vnode.Ops.Creat(parent.vnode, op.Name, excl)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.fillEntry(&op.Entry, child); err != nil {
		return err
	}
	fs.nextHandleID++
	op.Handle = fs.nextHandleID
	return nil
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	parent, err := fs.entryLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	return parent.vnode.Ops.Rmdir(parent.vnode, op.Name)
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	parent, err := fs.entryLocked(op.Parent)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	return parent.vnode.Ops.Remove(parent.vnode, op.Name)
}

// OpenDir snapshots the directory's current listing into a handle;
// ReadDir then serves pages out of that fixed snapshot, matching
// gcsfuse's dirHandle (fs/dir_handle.go) rather than re-walking the
// directory on every page.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	var names []string
	buf := make([]byte, 256)
	for offset := uint64(0); ; offset++ {
		n, err := e.vnode.Ops.Getdirentry(e.vnode, &vfs.Uio{Buf: buf, Offset: offset})
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		names = append(names, string(buf[:n]))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextHandleID++
	op.Handle = fs.nextHandleID
	fs.dirHandles[op.Handle] = &dirHandle{names: names}
	return nil
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	parent, perr := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if !ok {
		return syscall.EINVAL
	}
	if perr != nil {
		return perr
	}

	idx := int(op.Offset)
	for ; idx < len(dh.names); idx++ {
		name := dh.names[idx]
		fs.mu.Lock()
		child, err := parent.vnode.Ops.Lookup(parent.vnode, name)
		fs.mu.Unlock()
		if err != nil {
			continue
		}

		st, err := child.Ops.Stat(child)
		if err != nil {
			continue
		}
		dtype := fuseutil.DT_File
		if st.Type == vfs.VDir {
			dtype = fuseutil.DT_Directory
		}

		fs.mu.Lock()
		id := fs.mintOrReuse(child)
		fs.mu.Unlock()

		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(idx + 1),
			Inode:  id,
			Name:   name,
			Type:   dtype,
		}
		next := fuseutil.AppendDirent(op.Data, d)
		if len(next) > op.Size {
			break
		}
		op.Data = next
	}
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextHandleID++
	op.Handle = fs.nextHandleID
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	buf := make([]byte, op.Size)
	holder, self := fs.holder()
	n, err := e.vnode.Ops.Read(e.vnode, &vfs.Uio{Buf: buf, Offset: uint64(op.Offset), Holder: holder, Self: self})
	if err != nil {
		return err
	}
	op.Data = buf[:n]
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}

	holder, self := fs.holder()
	_, err = e.vnode.Ops.Write(e.vnode, &vfs.Uio{Buf: op.Data, Offset: uint64(op.Offset), Holder: holder, Self: self})
	return err
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	return e.vnode.Ops.Fsync(e.vnode)
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	e, err := fs.entryLocked(op.Inode)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	return e.vnode.Ops.Fsync(e.vnode)
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
