//go:build !linux

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

package clock

import "time"

// SystemClock is unavailable outside Linux; there is no CLOCK_ADJTIME
// equivalent wired up for other platforms. Callers should fall back to
// FreeRunningClock. Its methods other than Close (which returns nil)
// report ErrUnsupportedPlatform; it
// exists only so SystemClock satisfies Platform on every build target.
type SystemClock struct{}

// NewSystemClock always fails on non-Linux platforms.
func NewSystemClock() (*SystemClock, error) {
	return nil, ErrUnsupportedPlatform
}

func (c *SystemClock) AdjustFrequencyPPM(adjPPM float64) error { return ErrUnsupportedPlatform }

func (c *SystemClock) Step(offset time.Duration, sign int8) error { return ErrUnsupportedPlatform }

func (c *SystemClock) FrequencyPPM() (float64, error) { return 0, ErrUnsupportedPlatform }

func (c *SystemClock) MaxFreqAdjPPM() (float64, error) { return 0, ErrUnsupportedPlatform }

func (c *SystemClock) Close() error { return nil }
