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
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-class/os161-sub000/internal/vfs"
)

func TestOpenMissingPathTranslatesBadPathToEnoent(t *testing.T) {
	hw := NewMockHardware()
	fs, err := Mount("emu0:", hw)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)

	hw.ForceResult("nope", ResultBadPath)
	_, err = root.Ops.Lookup(root, "nope")
	assert.ErrorIs(t, err, syscall.ENOENT)

	assert.Zero(t, fs.sc.completion.Count())
	assert.False(t, fs.sc.lock.DoIHold(deviceHolder))
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	hw := NewMockHardware()
	fs, err := Mount("emu0:", hw)
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	child, err := root.Ops.Creat(root, "f", false)
	require.NoError(t, err)

	n, err := child.Ops.Write(child, &vfs.Uio{Buf: []byte("hello"), Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = child.Ops.Read(child, &vfs.Uio{Buf: out, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
}

func TestCreatExclOnExistingNameIsEexist(t *testing.T) {
	hw := NewMockHardware()
	fs, err := Mount("emu0:", hw)
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	_, err = root.Ops.Creat(root, "dup", true)
	require.NoError(t, err)
	_, err = root.Ops.Creat(root, "dup", true)
	assert.ErrorIs(t, err, syscall.EEXIST)
}

func TestUnmountIsAlwaysEbusy(t *testing.T) {
	fs, err := Mount("emu0:", NewMockHardware())
	require.NoError(t, err)
	assert.ErrorIs(t, fs.Unmount(), syscall.EBUSY)
}

func TestBadHandleResultPanics(t *testing.T) {
	hw := NewMockHardware()
	fs, err := Mount("emu0:", hw)
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	assert.Panics(t, func() {
		fs.sc.execute(Request{Op: OpRead, Handle: 9999})
		_ = root
	})
}
