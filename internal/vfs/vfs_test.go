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

package vfs

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFS is a tiny in-memory filesystem used only to exercise Table's
// lookup/lookparent/refcount machinery, independent of any real backend.
type memFS struct {
	name string
	root *Vnode
}

type memDir struct {
	StubOps
	children map[string]*Vnode
}

func (d *memDir) Lookup(v *Vnode, name string) (*Vnode, error) {
	child, ok := d.children[name]
	if !ok {
		return nil, syscall.ENOENT
	}
	return child, nil
}

func (d *memDir) Gettype(*Vnode) VType { return VDir }

func newMemFS(name string) *memFS {
	dirOps := &memDir{children: make(map[string]*Vnode)}
	fs := &memFS{name: name}
	fs.root = NewVnode(fs, nil, dirOps)

	leafOps := StubOps{}
	leaf := NewVnode(fs, "leaf-data", leafOps)
	dirOps.children["leaf"] = leaf

	return fs
}

func (f *memFS) Name() string        { return f.name }
func (f *memFS) Root() (*Vnode, error) { return f.root, nil }
func (f *memFS) Sync() error         { return nil }
func (f *memFS) Unmount() error      { return nil }

func TestMountAndResolveBootFS(t *testing.T) {
	tbl := NewTable()
	fs := newMemFS("lhd0:")
	tbl.Mount("lhd0:", fs)
	require.NoError(t, tbl.SetBootFS("lhd0:"))

	got, err := tbl.ResolveBootFS()
	require.NoError(t, err)
	assert.Same(t, fs, got)
}

func TestMountingSameNameTwicePanics(t *testing.T) {
	tbl := NewTable()
	tbl.Mount("lhd0:", newMemFS("lhd0:"))
	assert.Panics(t, func() { tbl.Mount("lhd0:", newMemFS("lhd0:")) })
}

func TestLookupAbsolutePath(t *testing.T) {
	tbl := NewTable()
	fs := newMemFS("lhd0:")
	tbl.Mount("lhd0:", fs)
	require.NoError(t, tbl.SetBootFS("lhd0:"))

	v, err := tbl.Lookup(1, nil, "/leaf")
	require.NoError(t, err)
	assert.Equal(t, "leaf-data", v.Data)
}

func TestLookupMissingNameReturnsENOENT(t *testing.T) {
	tbl := NewTable()
	fs := newMemFS("lhd0:")
	tbl.Mount("lhd0:", fs)
	require.NoError(t, tbl.SetBootFS("lhd0:"))

	_, err := tbl.Lookup(1, nil, "/nope")
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestLookparentReturnsParentAndLastComponent(t *testing.T) {
	tbl := NewTable()
	fs := newMemFS("lhd0:")
	tbl.Mount("lhd0:", fs)
	require.NoError(t, tbl.SetBootFS("lhd0:"))

	parent, last, err := tbl.Lookparent(1, nil, "/leaf")
	require.NoError(t, err)
	assert.Equal(t, "leaf", last)
	assert.Same(t, fs.root, parent)
}

func TestVnodeRefCounting(t *testing.T) {
	v := NewVnode(nil, nil, StubOps{})
	assert.Equal(t, 1, v.RefCount(1))

	v.IncRef(1)
	assert.Equal(t, 2, v.RefCount(1))

	assert.Equal(t, 1, v.DecRef(1))
}

func TestUnmountUnknownNameIsENOENT(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Unmount("nope:"), syscall.ENOENT)
}

func TestStubOpsReturnTypedErrors(t *testing.T) {
	var ops StubOps
	v := NewVnode(nil, nil, ops)

	_, err := ops.Read(v, &Uio{})
	assert.ErrorIs(t, err, syscall.EISDIR)

	_, err = ops.Getdirentry(v, &Uio{})
	assert.ErrorIs(t, err, syscall.ENOTDIR)

	err = ops.Mkdir(v, "x")
	assert.ErrorIs(t, err, syscall.ENOTDIR)
}
