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

package status

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewSysStatsRegistersGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewSysStats(reg)
	require.NoError(t, err)
	require.NotNil(t, s)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["dantesyncd_process_cpu_percent"])
	require.True(t, names["dantesyncd_process_rss_bytes"])
	require.True(t, names["dantesyncd_process_open_fds"])
	require.True(t, names["dantesyncd_process_num_threads"])
}

func TestSysStatsCollectPopulatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewSysStats(reg)
	require.NoError(t, err)

	s.Collect()

	require.Greater(t, gaugeValue(t, s.rssBytes.WithLabelValues()), float64(0))
	require.Greater(t, gaugeValue(t, s.numThreads.WithLabelValues()), float64(0))
}
