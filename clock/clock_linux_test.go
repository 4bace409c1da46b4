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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestSystemClockAdjFreqSignConvention exercises the real clock_adjtime(2)
// path behind SystemClock, rather than the FreeRunningClock fake that
// TestAdjFreqSignConvention in platform_test.go covers. It pins down the
// same "positive PPM = speed up" contract against CLOCK_MONOTONIC_RAW,
// which the kernel never disciplines and so gives a stable baseline to
// measure CLOCK_REALTIME's drift against.
//
// Requires CAP_SYS_TIME. NewSystemClock probes for that privilege itself
// by reading back and reapplying the current frequency, so a failure
// there is this test's own skip condition rather than a separate check.
func TestSystemClockAdjFreqSignConvention(t *testing.T) {
	c, err := NewSystemClock()
	if err != nil {
		if errors.Is(err, ErrPrivilegeDenied) {
			t.Skipf("clock_adjtime requires CAP_SYS_TIME, skipping: %v", err)
		}
		t.Fatalf("NewSystemClock: %v", err)
	}
	defer func() {
		require.NoError(t, c.Close())
	}()

	const adjPPM = 500.0 // near the kernel's usual tolerance ceiling, large enough to measure over a short sleep
	require.NoError(t, c.AdjustFrequencyPPM(adjPPM))

	realStart := mustClockGettime(t, unix.CLOCK_REALTIME)
	monoStart := mustClockGettime(t, unix.CLOCK_MONOTONIC_RAW)
	time.Sleep(2 * time.Second)
	realElapsed := mustClockGettime(t, unix.CLOCK_REALTIME).Sub(realStart)
	monoElapsed := mustClockGettime(t, unix.CLOCK_MONOTONIC_RAW).Sub(monoStart)

	require.Greater(t, realElapsed, monoElapsed,
		"a positive frequency adjustment should make CLOCK_REALTIME run fast relative to the undisciplined CLOCK_MONOTONIC_RAW")
}

func mustClockGettime(t *testing.T, clockid int32) time.Time {
	t.Helper()
	var ts unix.Timespec
	require.NoError(t, unix.ClockGettime(clockid, &ts))
	sec, nsec := ts.Unix()
	return time.Unix(sec, nsec)
}
