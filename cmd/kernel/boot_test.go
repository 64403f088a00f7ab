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

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-class/os161-sub000/internal/sfs"
)

func TestJoinStatementsEmpty(t *testing.T) {
	assert.Equal(t, "", joinStatements(nil))
}

func TestJoinStatementsSeparatesWithSemicolons(t *testing.T) {
	got := joinStatements([]string{"mount sfs a.img lhd0:", "bootfs lhd0:"})
	assert.Equal(t, "mount sfs a.img lhd0:; bootfs lhd0:", got)
}

func TestOpenSFSFormatsAMissingImageThenMounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	fs, err := openSFS(path)
	require.NoError(t, err)
	require.NotNil(t, fs)

	root, err := fs.Root()
	require.NoError(t, err)
	st, err := root.Ops.Stat(root)
	require.NoError(t, err)
	assert.NotZero(t, st.BlockSize)
}

func TestOpenSFSReopensAnExistingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	first, err := openSFS(path)
	require.NoError(t, err)
	require.NoError(t, first.(*sfs.Filesystem).Unmount())

	second, err := openSFS(path)
	require.NoError(t, err)
	assert.NotNil(t, second)
}

func TestOpenEmuReturnsAUsableEmuFilesystem(t *testing.T) {
	fs, err := openEmu("emu0:")
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	_, err = root.Ops.Creat(root, "a", true)
	assert.NoError(t, err)
}

func TestOpenSemReturnsAUsableSemFilesystem(t *testing.T) {
	fs, err := openSem("sem0:")
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	_, err = root.Ops.Creat(root, "s", true)
	assert.NoError(t, err)
}
