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

	"github.com/ops-class/os161-sub000/internal/metrics"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// ino extracts the inode number a vnode minted by this package carries in
// its Data field.
func ino(v *vfs.Vnode) uint32 { return v.Data.(uint32) }

func fsOf(v *vfs.Vnode) *Filesystem { return v.FS().(*Filesystem) }

// fileOps is the Ops table for a plain-file vnode (spec §4.5.9).
type fileOps struct {
	vfs.StubOps
}

func (fileOps) Reclaim(v *vfs.Vnode) error {
	if v.RefCount(unmountHolder) > 1 {
		return syscall.EBUSY
	}
	fsOf(v).reclaim(ino(v))
	metrics.VFSReclaimsTotal.Inc()
	return nil
}

func (fileOps) Read(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return 0, err
	}
	return fs.readData(ino(v), &in, uio.Offset, uio.Buf)
}

func (fileOps) Write(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return 0, err
	}
	return fs.writeData(ino(v), &in, uio.Offset, uio.Buf)
}

func (fileOps) Stat(v *vfs.Vnode) (vfs.Stat, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return vfs.Stat{}, err
	}
	return vfs.Stat{Type: vfs.VFile, Size: uint64(in.Size), LinkCount: int(in.LinkCount), BlockSize: BlockSize}, nil
}

func (fileOps) Gettype(*vfs.Vnode) vfs.VType { return vfs.VFile }

func (fileOps) Fsync(v *vfs.Vnode) error { return nil }

func (fileOps) Truncate(v *vfs.Vnode, size uint64) error {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}
	return fs.itrunc(ino(v), &in, size)
}

// dirOps is the Ops table for a directory vnode.
type dirOps struct {
	vfs.StubOps
}

func (dirOps) Reclaim(v *vfs.Vnode) error {
	if v.RefCount(unmountHolder) > 1 {
		return syscall.EBUSY
	}
	fsOf(v).reclaim(ino(v))
	metrics.VFSReclaimsTotal.Inc()
	return nil
}

func (dirOps) Stat(v *vfs.Vnode) (vfs.Stat, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return vfs.Stat{}, err
	}
	return vfs.Stat{Type: vfs.VDir, Size: uint64(in.Size), LinkCount: int(in.LinkCount), BlockSize: BlockSize}, nil
}

func (dirOps) Gettype(*vfs.Vnode) vfs.VType { return vfs.VDir }

func (dirOps) IsSeekable(*vfs.Vnode) bool { return false }

func (dirOps) Getdirentry(v *vfs.Vnode, uio *vfs.Uio) (int, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return 0, err
	}
	slot := int(uio.Offset)
	for slot < fs.numSlots(&in) {
		d, err := fs.readSlot(ino(v), &in, slot)
		if err != nil {
			return 0, err
		}
		slot++
		if d.Ino == NoIno {
			continue
		}
		name := d.NameString()
		n := copy(uio.Buf, name)
		return n, nil
	}
	return 0, nil
}

func (dirOps) Lookup(v *vfs.Vnode, name string) (*vfs.Vnode, error) {
	fs := fsOf(v)
	in, err := fs.readInode(ino(v))
	if err != nil {
		return nil, err
	}
	childIno, err := fs.lookonce(ino(v), &in, name)
	if err != nil {
		return nil, err
	}
	return fs.loadvnode(childIno)
}

func (dirOps) Creat(v *vfs.Vnode, name string, excl bool) (*vfs.Vnode, error) {
	fs := fsOf(v)
	dirIn, err := fs.readInode(ino(v))
	if err != nil {
		return nil, err
	}

	existingIno, _, found, err := fs.findname(ino(v), &dirIn, name)
	if err != nil {
		return nil, err
	}
	if found {
		if excl {
			return nil, syscall.EEXIST
		}
		return fs.loadvnode(existingIno)
	}

	childIno, err := fs.allocInode(TypeFile)
	if err != nil {
		return nil, err
	}
	childIn := Inode{Type: TypeFile, LinkCount: 1}
	if err := fs.writeInode(childIno, childIn); err != nil {
		return nil, err
	}

	if err := fs.link(ino(v), &dirIn, name, childIno); err != nil {
		fs.freeInodeBlocks(childIno, childIn)
		return nil, err
	}
	return fs.loadvnode(childIno)
}

func (dirOps) Mkdir(v *vfs.Vnode, name string) error {
	fs := fsOf(v)
	dirIn, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}
	if _, _, found, err := fs.findname(ino(v), &dirIn, name); err != nil {
		return err
	} else if found {
		return syscall.EEXIST
	}

	childIno, err := fs.allocInode(TypeDir)
	if err != nil {
		return err
	}
	childIn := Inode{Type: TypeDir, LinkCount: 2}
	if err := fs.writeInode(childIno, childIn); err != nil {
		return err
	}

	if err := fs.link(ino(v), &dirIn, name, childIno); err != nil {
		fs.freeInodeBlocks(childIno, childIn)
		return err
	}
	return nil
}

func (dirOps) Link(v *vfs.Vnode, name string, target *vfs.Vnode) error {
	fs := fsOf(v)
	if fsOf(target) != fs {
		return syscall.EXDEV
	}
	dirIn, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}
	if err := fs.link(ino(v), &dirIn, name, ino(target)); err != nil {
		return err
	}

	targetIn, err := fs.readInode(ino(target))
	if err != nil {
		return err
	}
	targetIn.LinkCount++
	return fs.writeInode(ino(target), targetIn)
}

func (dirOps) Remove(v *vfs.Vnode, name string) error {
	fs := fsOf(v)
	dirIn, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}

	childIno, _, found, err := fs.findname(ino(v), &dirIn, name)
	if err != nil {
		return err
	}
	if !found {
		return syscall.ENOENT
	}
	childIn, err := fs.readInode(childIno)
	if err != nil {
		return err
	}
	if childIn.Type == TypeDir {
		return syscall.EISDIR
	}

	if err := fs.unlink(ino(v), &dirIn, name); err != nil {
		return err
	}
	childIn.LinkCount--
	if childIn.LinkCount == 0 {
		return fs.freeInodeBlocks(childIno, childIn)
	}
	return fs.writeInode(childIno, childIn)
}

func (dirOps) Rmdir(v *vfs.Vnode, name string) error {
	fs := fsOf(v)
	dirIn, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}

	childIno, _, found, err := fs.findname(ino(v), &dirIn, name)
	if err != nil {
		return err
	}
	if !found {
		return syscall.ENOENT
	}
	childIn, err := fs.readInode(childIno)
	if err != nil {
		return err
	}
	if childIn.Type != TypeDir {
		return syscall.ENOTDIR
	}
	empty, err := fs.isEmptyDir(childIno, &childIn)
	if err != nil {
		return err
	}
	if !empty {
		return syscall.ENOTEMPTY
	}

	if err := fs.unlink(ino(v), &dirIn, name); err != nil {
		return err
	}
	return fs.freeInodeBlocks(childIno, childIn)
}

// Rename relocates name from v's directory to newname under newdir,
// implemented as link-the-new-name then unlink-the-old, rolling the link
// back if the unlink somehow fails (spec §4.5.9).
func (dirOps) Rename(v *vfs.Vnode, name string, newdir *vfs.Vnode, newname string) error {
	fs := fsOf(v)
	if fsOf(newdir) != fs {
		return syscall.EXDEV
	}

	srcIn, err := fs.readInode(ino(v))
	if err != nil {
		return err
	}
	childIno, _, found, err := fs.findname(ino(v), &srcIn, name)
	if err != nil {
		return err
	}
	if !found {
		return syscall.ENOENT
	}

	dstIn, err := fs.readInode(ino(newdir))
	if err != nil {
		return err
	}
	if _, _, exists, err := fs.findname(ino(newdir), &dstIn, newname); err != nil {
		return err
	} else if exists {
		return syscall.EEXIST
	}

	if err := fs.link(ino(newdir), &dstIn, newname, childIno); err != nil {
		return err
	}
	if err := fs.unlink(ino(v), &srcIn, name); err != nil {
		// roll back the new link so a failed rename doesn't leave the
		// entry reachable from two names.
		fs.unlink(ino(newdir), &dstIn, newname)
		return err
	}
	return nil
}
