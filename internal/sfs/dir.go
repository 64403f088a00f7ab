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
)

// A directory's data is simply a packed array of Direntry records, read
// and written through the same readData/writeData path a file's contents
// go through (spec §4.5.6).

func (fs *Filesystem) numSlots(in *Inode) int {
	return int(in.Size) / direntrySize
}

func (fs *Filesystem) readSlot(ino uint32, in *Inode, slot int) (Direntry, error) {
	buf := make([]byte, direntrySize)
	n, err := fs.readData(ino, in, uint64(slot*direntrySize), buf)
	if err != nil {
		return Direntry{}, err
	}
	if n < direntrySize {
		return Direntry{Ino: NoIno}, nil
	}
	return decodeDirentry(buf), nil
}

func (fs *Filesystem) writeSlot(ino uint32, in *Inode, slot int, d Direntry) error {
	_, err := fs.writeData(ino, in, uint64(slot*direntrySize), d.encode())
	return err
}

// findname scans dirIno's entries for name, returning its inode number,
// its slot index, and whether it was found.
func (fs *Filesystem) findname(dirIno uint32, dirIn *Inode, name string) (uint32, int, bool, error) {
	for slot := 0; slot < fs.numSlots(dirIn); slot++ {
		d, err := fs.readSlot(dirIno, dirIn, slot)
		if err != nil {
			return 0, 0, false, err
		}
		if d.Ino != NoIno && d.NameString() == name {
			return d.Ino, slot, true, nil
		}
	}
	return 0, 0, false, nil
}

// lookonce is findname plus the ENOENT translation Ops.Lookup needs.
func (fs *Filesystem) lookonce(dirIno uint32, dirIn *Inode, name string) (uint32, error) {
	ino, _, found, err := fs.findname(dirIno, dirIn, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, syscall.ENOENT
	}
	return ino, nil
}

// link adds a (name, ino) entry to dirIno, reusing the first empty slot
// if one exists or appending a fresh one otherwise. Callers must have
// already established that name is absent; link re-checks and panics if
// it turns out not to be, since that means two operations raced past the
// caller's own check without the directory's lock actually serializing
// them.
func (fs *Filesystem) link(dirIno uint32, dirIn *Inode, name string, ino uint32) error {
	if _, _, found, err := fs.findname(dirIno, dirIn, name); err != nil {
		return err
	} else if found {
		panic(fmt.Sprintf("sfs: link: %q already present in directory %d", name, dirIno))
	}

	var d Direntry
	if err := setName(&d, name); err != nil {
		return err
	}
	d.Ino = ino

	for slot := 0; slot < fs.numSlots(dirIn); slot++ {
		existing, err := fs.readSlot(dirIno, dirIn, slot)
		if err != nil {
			return err
		}
		if existing.Ino == NoIno {
			return fs.writeSlot(dirIno, dirIn, slot, d)
		}
	}
	return fs.writeSlot(dirIno, dirIn, fs.numSlots(dirIn), d)
}

// unlink clears name's slot, leaving a hole that a later link reuses. It
// does not shrink the directory's reported size.
func (fs *Filesystem) unlink(dirIno uint32, dirIn *Inode, name string) error {
	_, slot, found, err := fs.findname(dirIno, dirIn, name)
	if err != nil {
		return err
	}
	if !found {
		return syscall.ENOENT
	}
	return fs.writeSlot(dirIno, dirIn, slot, Direntry{Ino: NoIno})
}

// isEmptyDir reports whether dirIno has no entries beyond "." and ".."
// bookkeeping, which this layout doesn't materialize as real entries, so
// any live slot at all means non-empty.
func (fs *Filesystem) isEmptyDir(dirIno uint32, dirIn *Inode) (bool, error) {
	for slot := 0; slot < fs.numSlots(dirIn); slot++ {
		d, err := fs.readSlot(dirIno, dirIn, slot)
		if err != nil {
			return false, err
		}
		if d.Ino != NoIno {
			return false, nil
		}
	}
	return true, nil
}
