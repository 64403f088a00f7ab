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

package ucopy

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyOutCopyInRoundTrip(t *testing.T) {
	as := NewAddressSpace(4096)

	require.NoError(t, as.CopyOut(100, []byte("hello")))

	got, err := as.CopyIn(100, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCopyInRejectsAddressAtOrPastCeiling(t *testing.T) {
	as := NewAddressSpace(4096)

	_, err := as.CopyIn(4096, 1)
	assert.ErrorIs(t, err, syscall.EFAULT)

	_, err = as.CopyIn(4090, 10)
	assert.ErrorIs(t, err, syscall.EFAULT)
}

func TestCopyInRejectsWrappedRange(t *testing.T) {
	as := NewAddressSpace(4096)

	_, err := as.CopyIn(^uint64(0)-2, 10)
	assert.ErrorIs(t, err, syscall.EFAULT)
}

func TestCopyTouchesUnmappedHoleFaults(t *testing.T) {
	as := NewAddressSpace(4096)
	as.Unmap(200, 16)

	_, err := as.CopyIn(195, 10)
	assert.ErrorIs(t, err, syscall.EFAULT)

	err = as.CopyOut(205, []byte("x"))
	assert.ErrorIs(t, err, syscall.EFAULT)
}

func TestCopyInStringFindsTerminator(t *testing.T) {
	as := NewAddressSpace(4096)
	require.NoError(t, as.CopyOutString(50, "hello", 64))

	s, err := as.CopyInString(50, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestCopyInStringTooLongWithoutNULIsENAMETOOLONG(t *testing.T) {
	as := NewAddressSpace(4096)
	require.NoError(t, as.CopyOut(0, bytes8NoNul()))

	_, err := as.CopyInString(0, 8)
	assert.ErrorIs(t, err, syscall.ENAMETOOLONG)
}

func bytes8NoNul() []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = 'a'
	}
	return b
}

func TestCopyInStringTruncatedByCeilingIsEFAULT(t *testing.T) {
	as := NewAddressSpace(16)
	require.NoError(t, as.CopyOut(8, []byte{'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a'}))

	_, err := as.CopyInString(8, 64)
	assert.ErrorIs(t, err, syscall.EFAULT)
}

func TestCopyOutStringRejectsOversizedBuffer(t *testing.T) {
	as := NewAddressSpace(4096)
	err := as.CopyOutString(0, "this string is too long", 4)
	assert.ErrorIs(t, err, syscall.ENAMETOOLONG)
}
