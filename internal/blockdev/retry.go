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
	"fmt"
	"syscall"

	"github.com/ops-class/os161-sub000/internal/metrics"
)

// MaxIORetries is how many times ReadBlockRetrying/WriteBlockRetrying
// retry a transfer that fails with EIO before giving up (spec §4.5.1).
const MaxIORetries = 10

// ReadBlockRetrying reads block n, retrying up to MaxIORetries times on
// EIO. An EINVAL (out-of-range or misaligned) is treated as an
// unrecoverable programming error and panics rather than being retried or
// returned.
func ReadBlockRetrying(dev Device, n uint32, buf []byte) error {
	var err error
	for i := 0; i < MaxIORetries; i++ {
		err = dev.ReadBlock(n, buf)
		if err == nil {
			return nil
		}
		if err == syscall.EINVAL {
			panic(fmt.Sprintf("blockdev: read_block(%d): invalid block number or buffer size", n))
		}
		metrics.SFSIORetriesTotal.Inc()
	}
	return err
}

// WriteBlockRetrying is ReadBlockRetrying's write-side counterpart.
func WriteBlockRetrying(dev Device, n uint32, buf []byte) error {
	var err error
	for i := 0; i < MaxIORetries; i++ {
		err = dev.WriteBlock(n, buf)
		if err == nil {
			return nil
		}
		if err == syscall.EINVAL {
			panic(fmt.Sprintf("blockdev: write_block(%d): invalid block number or buffer size", n))
		}
		metrics.SFSIORetriesTotal.Inc()
	}
	return err
}
