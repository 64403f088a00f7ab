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

// Package emufs implements the emulator passthrough filesystem: a VFS
// backend whose real storage lives on the host, reached through a
// register-and-buffer protocol modeled on a LAMEbus-style device (spec
// §4.6, §6.2).
package emufs

import (
	"fmt"
	"syscall"
)

// Register offsets within the device's control-page, unused directly by
// this package (Hardware implementations model the protocol internally)
// but restated here since they're part of the spec'd interface.
const (
	RegHandle = 0
	RegOffset = 4
	RegIolen  = 8
	RegOper   = 12
	RegResult = 16

	IOBufferOffset = 32768
	MaxIO          = 4096
)

// Operation codes (spec §6.2).
const (
	OpOpen       uint32 = 1
	OpCreate     uint32 = 2
	OpExclCreate uint32 = 3
	OpClose      uint32 = 4
	OpRead       uint32 = 5
	OpReaddir    uint32 = 6
	OpWrite      uint32 = 7
	OpGetsize    uint32 = 8
	OpTrunc      uint32 = 9
)

// Result codes the hardware returns in RESULT.
const (
	ResultSuccess    uint32 = 0
	ResultBadHandle  uint32 = 1
	ResultBadOp      uint32 = 2
	ResultBadSize    uint32 = 3
	ResultBadPath    uint32 = 4
	ResultExists     uint32 = 5
	ResultIsDir      uint32 = 6
	ResultMedia      uint32 = 7
	ResultUnknown    uint32 = 8
	ResultNoHandles  uint32 = 9
	ResultNoSpace    uint32 = 10
	ResultNotDir     uint32 = 11
	ResultUnsupp     uint32 = 12
)

// RootHandle is the well-known handle identifying the root directory.
const RootHandle uint32 = 0

// translateResult maps a hardware result code to the kernel errno it
// represents, panicking for the three codes the spec calls a programming
// error (spec §4.6 table, §7 error taxonomy).
func translateResult(code uint32) error {
	switch code {
	case ResultSuccess:
		return nil
	case ResultBadHandle, ResultBadOp, ResultBadSize:
		panic(fmtBadResult(code))
	case ResultBadPath:
		return syscall.ENOENT
	case ResultExists:
		return syscall.EEXIST
	case ResultIsDir:
		return syscall.EISDIR
	case ResultMedia, ResultUnknown:
		return syscall.EIO
	case ResultNoHandles:
		return syscall.ENFILE
	case ResultNoSpace:
		return syscall.ENOSPC
	case ResultNotDir:
		return syscall.ENOTDIR
	case ResultUnsupp:
		return syscall.ENOSYS
	default:
		panic(fmtBadResult(code))
	}
}

func fmtBadResult(code uint32) string {
	return fmt.Sprintf("emufs: hardware returned programming-error result code %d", code)
}
