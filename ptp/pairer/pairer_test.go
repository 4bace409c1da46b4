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

package pairer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var uuidA = [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
var uuidB = [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

func TestMatchedPairEmittedOnce(t *testing.T) {
	p := New()
	p.InsertSync(1, 2_000_000_000, uuidA)
	pair, ok := p.ResolveFollowUp(1, 1_000_000_000, uuidA)
	require.True(t, ok)
	require.Equal(t, Pair{T1: 1_000_000_000, T2: 2_000_000_000}, pair)

	// A second FollowUp for the same sequence id finds nothing: it was
	// already removed.
	_, ok = p.ResolveFollowUp(1, 1_000_000_000, uuidA)
	require.False(t, ok)
}

func TestUUIDMismatchDropsSilently(t *testing.T) {
	p := New()
	p.InsertSync(5, 100, uuidA)
	_, ok := p.ResolveFollowUp(5, 50, uuidB)
	require.False(t, ok)
	// entry remains pending for a correct FollowUp (or GC) later.
	require.Equal(t, 1, p.Len())
}

func TestDuplicateSyncSupersedes(t *testing.T) {
	p := New()
	p.InsertSync(9, 100, uuidA)
	p.InsertSync(9, 200, uuidA)
	pair, ok := p.ResolveFollowUp(9, 10, uuidA)
	require.True(t, ok)
	require.Equal(t, int64(200), pair.T2)
}

func TestGarbageCollectionBoundsTable(t *testing.T) {
	p := New()
	base := time.Now()
	tick := base
	p.now = func() time.Time { return tick }

	for i := 0; i < 150; i++ {
		p.InsertSync(uint16(i), int64(i), uuidA)
		tick = tick.Add(40 * time.Millisecond)
	}
	// by now more than 5s has passed since the earliest entries were
	// enqueued and the table exceeded the soft bound, so old entries must
	// have been evicted.
	require.LessOrEqual(t, p.Len(), 150)
	require.True(t, p.Len() < 150, "expected some entries to be GC'd, got %d", p.Len())
}

func TestGarbageCollectionRespectsSoftBound(t *testing.T) {
	p := New()
	tick := time.Now()
	p.now = func() time.Time { return tick }

	for i := 0; i < softBound; i++ {
		p.InsertSync(uint16(i), int64(i), uuidA)
	}
	require.Equal(t, softBound, p.Len())

	// age everything well past maxAge; the next insert takes the table
	// past the soft bound, so GC runs and evicts the aged entries.
	tick = tick.Add(10 * time.Second)
	p.InsertSync(uint16(9000), 0, uuidA) // pushes size to softBound+1, triggers gc
	require.Less(t, p.Len(), softBound+1)
}
