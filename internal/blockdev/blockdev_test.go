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

package blockdev

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(4)

	buf := make([]byte, BlockSize)
	copy(buf, []byte("hello"))
	require.NoError(t, d.WriteBlock(1, buf))

	out := make([]byte, BlockSize)
	require.NoError(t, d.ReadBlock(1, out))
	assert.Equal(t, buf, out)
}

func TestMemDeviceRejectsOutOfRangeBlock(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, BlockSize)
	assert.ErrorIs(t, d.ReadBlock(4, buf), syscall.EINVAL)
}

func TestMemDeviceRejectsWrongSizedBuffer(t *testing.T) {
	d := NewMemDevice(4)
	assert.ErrorIs(t, d.ReadBlock(0, make([]byte, 10)), syscall.EINVAL)
}

func TestReadBlockRetryingRecoversFromTransientEIO(t *testing.T) {
	d := NewMemDevice(4)
	d.FailEvery(2) // every second I/O call fails

	buf := make([]byte, BlockSize)
	require.NoError(t, ReadBlockRetrying(d, 0, buf))
}

func TestReadBlockRetryingGivesUpAfterMaxRetries(t *testing.T) {
	d := NewMemDevice(4)
	d.FailEvery(1) // every call fails

	buf := make([]byte, BlockSize)
	err := ReadBlockRetrying(d, 0, buf)
	assert.ErrorIs(t, err, syscall.EIO)
}

func TestReadBlockRetryingPanicsOnEINVAL(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, BlockSize)
	assert.Panics(t, func() { ReadBlockRetrying(d, 99, buf) })
}
