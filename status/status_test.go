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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreGetReturnsZeroValueInitially(t *testing.T) {
	s := NewStore()
	require.Equal(t, SyncStatus{}, s.Get())
}

func TestStoreSetThenGetRoundTrips(t *testing.T) {
	s := NewStore()
	want := SyncStatus{
		OffsetNS:  1234,
		DriftPPM:  -5.5,
		GMUUID:    [6]byte{1, 2, 3, 4, 5, 6},
		HasGMUUID: true,
		Settled:   true,
		UpdatedTS: time.Unix(1000, 0),
	}
	s.Set(want)
	require.Equal(t, want, s.Get())
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.Set(SyncStatus{OffsetNS: int64(n)})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
}
