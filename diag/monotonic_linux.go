/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build linux

package diag

import (
	"golang.org/x/sys/unix"
)

// monotonicHertz is the tick rate reported alongside CLOCK_MONOTONIC_RAW:
// the kernel hands back a timespec in nanoseconds, so the rate is fixed.
const monotonicHertz = 1_000_000_000

// monotonicClock reads CLOCK_MONOTONIC_RAW, matching the teacher's
// fbclock/daemon.TimeMonotonicRaw use of the same clock ID.
func monotonicClock() (ticks uint64, hertz uint64) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, monotonicHertz
	}
	return uint64(ts.Sec)*monotonicHertz + uint64(ts.Nsec), monotonicHertz
}
