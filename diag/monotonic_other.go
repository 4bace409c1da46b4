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

//go:build !linux

package diag

import "time"

// monotonicHertz: time.Since resolution is nanoseconds on every
// supported non-Linux platform too.
const monotonicHertz = 1_000_000_000

var processStart = time.Now()

// monotonicClock falls back to time.Since(processStart), which is
// backed by the Go runtime's monotonic clock reading on every platform,
// for non-Linux builds where CLOCK_MONOTONIC_RAW isn't available.
func monotonicClock() (ticks uint64, hertz uint64) {
	return uint64(time.Since(processStart).Nanoseconds()), monotonicHertz
}
