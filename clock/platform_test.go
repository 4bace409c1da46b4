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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestAdjFreqSignConvention pins down the "positive PPM = speed up"
// contract from the controller's point of view: whatever a Platform
// implementation does internally, a positive adjPPM must read back as
// positive.
func TestAdjFreqSignConvention(t *testing.T) {
	var c Platform = NewFreeRunningClock()
	require.NoError(t, c.AdjustFrequencyPPM(12.5))
	got, err := c.FrequencyPPM()
	require.NoError(t, err)
	require.Equal(t, 12.5, got)

	require.NoError(t, c.AdjustFrequencyPPM(-8.0))
	got, err = c.FrequencyPPM()
	require.NoError(t, err)
	require.Equal(t, -8.0, got)
}

func TestStepAppliesSignedOffset(t *testing.T) {
	c := NewFreeRunningClock()
	require.NoError(t, c.Step(250*time.Millisecond, 1))
	require.Equal(t, 250*time.Millisecond, c.LastStep())

	require.NoError(t, c.Step(250*time.Millisecond, -1))
	require.Equal(t, -250*time.Millisecond, c.LastStep())
}

func TestMaxFreqAdjPPMIsPositive(t *testing.T) {
	c := NewFreeRunningClock()
	max, err := c.MaxFreqAdjPPM()
	require.NoError(t, err)
	require.Greater(t, max, 0.0)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewFreeRunningClock()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
