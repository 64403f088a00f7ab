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

package menu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-class/os161-sub000/internal/semfs"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

func newTestDispatcher() *Dispatcher {
	table := vfs.NewTable()
	d := New(table)
	d.RegisterFS("sem", func(device string) (vfs.FileSystem, error) {
		return semfs.New(), nil
	})
	return d
}

func TestMountUnmountRoundTrip(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.Run("mount sem sem0:"))
	_, err := d.table.Get("sem0:")
	require.NoError(t, err)

	require.NoError(t, d.Run("unmount sem0:"))
	_, err = d.table.Get("sem0:")
	assert.Error(t, err)
}

func TestMountAcceptsExplicitName(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.Run("mount sem sem0: sem:"))
	_, err := d.table.Get("sem:")
	require.NoError(t, err)
}

func TestSemicolonSeparatedBatchRunsEveryStatement(t *testing.T) {
	d := newTestDispatcher()

	err := d.Run("mount sem sem0: sem:; bootfs sem:; sync")
	require.NoError(t, err)

	fs, err := d.table.ResolveBootFS()
	require.NoError(t, err)
	assert.Equal(t, "sem:", fs.Name())
}

func TestUnknownCommandIsReportedButDoesNotStopTheBatch(t *testing.T) {
	d := newTestDispatcher()

	err := d.Run("bogus; mount sem sem0: sem:")
	assert.Error(t, err)

	_, getErr := d.table.Get("sem:")
	assert.NoError(t, getErr)
}

func TestMountUnknownKindIsAnError(t *testing.T) {
	d := newTestDispatcher()
	assert.Error(t, d.Run("mount nope dev0:"))
}

func TestBootFSWithNoMountedFilesystemIsAnError(t *testing.T) {
	d := newTestDispatcher()
	assert.Error(t, d.Run("bootfs"))
}
