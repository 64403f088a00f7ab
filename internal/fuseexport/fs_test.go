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

package fuseexport

import (
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-class/os161-sub000/internal/blockdev"
	"github.com/ops-class/os161-sub000/internal/sfs"
)

func newTestFileSystem(t *testing.T) (*FileSystem, *fuseops.InodeID) {
	t.Helper()
	dev := blockdev.NewMemDevice(1024)
	require.NoError(t, sfs.Format(dev, "test"))
	volume, err := sfs.Mount("lhd0:", dev)
	require.NoError(t, err)

	root, err := volume.Root()
	require.NoError(t, err)

	fs := New(root, 1000, 1000)
	id := fuseops.InodeID(fuseops.RootInodeID)
	return fs, &id
}

func TestCreateFileThenLookUpInodeAgreeOnInode(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))
	assert.NotZero(t, createOp.Entry.Child)

	lookupOp := &fuseops.LookUpInodeOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.LookUpInode(lookupOp))
	assert.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)
}

func TestLookUpInodeMissingNameIsEnoent(t *testing.T) {
	fs, root := newTestFileSystem(t)

	err := fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: *root, Name: "nope"})
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestWriteFileThenReadFileRoundTrip(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))
	inode := createOp.Entry.Child

	require.NoError(t, fs.OpenFile(&fuseops.OpenFileOp{Inode: inode}))

	writeOp := &fuseops.WriteFileOp{Inode: inode, Offset: 0, Data: []byte("hello")}
	require.NoError(t, fs.WriteFile(writeOp))

	readOp := &fuseops.ReadFileOp{Inode: inode, Offset: 0, Size: 5}
	require.NoError(t, fs.ReadFile(readOp))
	assert.Equal(t, "hello", string(readOp.Data))
}

func TestSetInodeAttributesTruncatesSize(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))
	inode := createOp.Entry.Child

	size := uint64(0)
	require.NoError(t, fs.SetInodeAttributes(&fuseops.SetInodeAttributesOp{Inode: inode, Size: &size}))

	attrOp := &fuseops.GetInodeAttributesOp{Inode: inode}
	require.NoError(t, fs.GetInodeAttributes(attrOp))
	assert.Zero(t, attrOp.Attributes.Size)
}

func TestMkDirThenReadDirListsChild(t *testing.T) {
	fs, root := newTestFileSystem(t)

	mkdirOp := &fuseops.MkDirOp{Parent: *root, Name: "sub"}
	require.NoError(t, fs.MkDir(mkdirOp))

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "file"}
	require.NoError(t, fs.CreateFile(createOp))

	openOp := &fuseops.OpenDirOp{Inode: *root}
	require.NoError(t, fs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{Inode: *root, Handle: openOp.Handle, Offset: 0, Size: 4096}
	require.NoError(t, fs.ReadDir(readOp))
	assert.NotEmpty(t, readOp.Data)

	require.NoError(t, fs.ReleaseDirHandle(&fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))
}

func TestRmDirThenLookUpInodeIsEnoent(t *testing.T) {
	fs, root := newTestFileSystem(t)

	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: *root, Name: "sub"}))
	require.NoError(t, fs.RmDir(&fuseops.RmDirOp{Parent: *root, Name: "sub"}))

	err := fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: *root, Name: "sub"})
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestUnlinkRemovesFile(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))

	require.NoError(t, fs.Unlink(&fuseops.UnlinkOp{Parent: *root, Name: "a"}))

	err := fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: *root, Name: "a"})
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestForgetInodeCallsReclaim(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))
	inode := createOp.Entry.Child

	require.NoError(t, fs.ForgetInode(&fuseops.ForgetInodeOp{Inode: inode, N: 1}))

	fs.mu.Lock()
	_, ok := fs.inodes[inode]
	fs.mu.Unlock()
	assert.False(t, ok)
}

func TestForgetInodePartialCountKeepsEntryAlive(t *testing.T) {
	fs, root := newTestFileSystem(t)

	createOp := &fuseops.CreateFileOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.CreateFile(createOp))
	inode := createOp.Entry.Child

	lookupOp := &fuseops.LookUpInodeOp{Parent: *root, Name: "a"}
	require.NoError(t, fs.LookUpInode(lookupOp))

	require.NoError(t, fs.ForgetInode(&fuseops.ForgetInodeOp{Inode: inode, N: 1}))

	fs.mu.Lock()
	e, ok := fs.inodes[inode]
	fs.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.lookupCount)

	require.NoError(t, fs.ForgetInode(&fuseops.ForgetInodeOp{Inode: inode, N: 1}))

	fs.mu.Lock()
	_, ok = fs.inodes[inode]
	fs.mu.Unlock()
	assert.False(t, ok)
}
