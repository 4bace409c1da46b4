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

package controller

import (
	"container/ring"
	"sort"
)

// offsetFilter smooths last_phase_offset_ns over a configurable window
// before it reaches the servo, per spec.md §4.I's platform-dependent
// pre-filter: kernel-timestamping platforms use a short window (close to
// pass-through), user-space-timestamping platforms use a wider one since
// their receive timestamps are noisier.
type offsetFilter struct {
	samples *ring.Ring
	count   int
	size    int
}

// newOffsetFilter creates a filter over windowSize samples. windowSize<=1
// disables smoothing (Feed returns its input unchanged).
func newOffsetFilter(windowSize int) *offsetFilter {
	if windowSize < 1 {
		windowSize = 1
	}
	return &offsetFilter{samples: ring.New(windowSize), size: windowSize}
}

// Feed records offsetNS and returns the median of the current window.
func (f *offsetFilter) Feed(offsetNS int64) int64 {
	if f.size <= 1 {
		return offsetNS
	}
	f.samples.Value = offsetNS
	f.samples = f.samples.Next()
	if f.count < f.size {
		f.count++
	}

	values := make([]int64, 0, f.count)
	r := f.samples
	for i := 0; i < f.count; i++ {
		r = r.Prev()
		values = append(values, r.Value.(int64))
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[len(values)/2]
}

// Reset clears the window, called alongside servo.Reset on any re-settle
// or step.
func (f *offsetFilter) Reset() {
	f.samples = ring.New(f.size)
	f.count = 0
}
