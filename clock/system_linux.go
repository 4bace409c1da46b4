//go:build linux

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

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SystemClock disciplines CLOCK_REALTIME via clock_adjtime(2). It restores
// the nominal frequency captured at construction time when closed.
type SystemClock struct {
	mu         sync.Mutex
	nominalPPB float64
	closed     bool
}

// NewSystemClock acquires the system clock, reading its current frequency
// and probing for the privilege needed to discipline it. The probe
// re-applies the frequency it just read, so it has no observable effect
// beyond confirming CAP_SYS_TIME is held; that frequency becomes the
// nominal value restored on Close.
func NewSystemClock() (*SystemClock, error) {
	freqPPB, _, err := FrequencyPPB(unix.CLOCK_REALTIME)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivilegeDenied, err)
	}
	if _, err := AdjFreqPPB(unix.CLOCK_REALTIME, freqPPB); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivilegeDenied, err)
	}
	return &SystemClock{nominalPPB: freqPPB}, nil
}

// AdjustFrequencyPPM sets the clock frequency offset to adjPPM relative to
// nominal, where a positive value speeds the clock up. CLOCK_REALTIME's
// tick direction is not inverted on Linux, so this is a plain PPM-to-PPB
// conversion with no sign flip.
func (c *SystemClock) AdjustFrequencyPPM(adjPPM float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAdjustmentRejected
	}
	state, err := AdjFreqPPB(unix.CLOCK_REALTIME, adjPPM*1000.0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdjustmentRejected, err)
	}
	if state != unix.TIME_OK {
		log.Warningf("clock: state %d is not TIME_OK after frequency adjustment", state)
	}
	return nil
}

// Step discontinuously moves the wallclock by sign*offset. A step that
// would make the wallclock negative is rejected without touching the
// clock.
func (c *SystemClock) Step(offset time.Duration, sign int8) error {
	if sign < 0 && time.Now().Add(-offset).Before(time.Unix(0, 0)) {
		return fmt.Errorf("%w: step would yield a negative wallclock", ErrStepRejected)
	}
	signed := offset
	if sign < 0 {
		signed = -offset
	}
	state, err := Step(unix.CLOCK_REALTIME, signed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStepRejected, err)
	}
	if state != unix.TIME_OK {
		log.Warningf("clock: state %d is not TIME_OK after step", state)
	}
	return nil
}

// FrequencyPPM reads the clock's current frequency offset from nominal.
func (c *SystemClock) FrequencyPPM() (float64, error) {
	freqPPB, _, err := FrequencyPPB(unix.CLOCK_REALTIME)
	return freqPPB / 1000.0, err
}

// MaxFreqAdjPPM returns the maximum frequency adjustment the clock
// tolerates.
func (c *SystemClock) MaxFreqAdjPPM() (float64, error) {
	freqPPB, _, err := MaxFreqPPB(unix.CLOCK_REALTIME)
	return freqPPB / 1000.0, err
}

// Close restores the nominal frequency captured at NewSystemClock.
func (c *SystemClock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_, err := AdjFreqPPB(unix.CLOCK_REALTIME, c.nominalPPB)
	return err
}
