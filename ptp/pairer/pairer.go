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

// Package pairer matches PTPv1 Sync messages to their FollowUp, producing
// (T1, T2) pairs for the servo. It is a small bounded table keyed by
// sequence id, garbage collected by age once it grows past a soft bound.
package pairer

import "time"

// softBound is the table size above which GC by age runs.
const softBound = 100

// maxAge is how long a pending Sync may sit in the table before GC
// considers it stale.
const maxAge = 5 * time.Second

// pendingSync is a Sync waiting for its FollowUp.
type pendingSync struct {
	rxWallclockNS int64
	sourceUUID    [6]byte
	enqueuedAt    time.Time
}

// Pair is a matched Sync/FollowUp producing the two timestamps the servo
// needs: T1 (master transmit, from FollowUp) and T2 (slave receive, from
// Sync arrival).
type Pair struct {
	T1 int64
	T2 int64
}

// Pairer is the bounded sequence-id -> pendingSync table described in
// spec §4.F. It is not safe for concurrent use; the controller owns it
// exclusively.
type Pairer struct {
	pending map[uint16]pendingSync
	now     func() time.Time
}

// New creates an empty Pairer.
func New() *Pairer {
	return &Pairer{
		pending: make(map[uint16]pendingSync),
		now:     time.Now,
	}
}

// InsertSync records a Sync's receive timestamp and source under its
// sequence id. A duplicate Sync for the same sequence id overwrites the
// previous entry, matching the "duplicate Sync supersedes" invariant.
func (p *Pairer) InsertSync(sequenceID uint16, rxWallclockNS int64, sourceUUID [6]byte) {
	p.pending[sequenceID] = pendingSync{
		rxWallclockNS: rxWallclockNS,
		sourceUUID:    sourceUUID,
		enqueuedAt:    p.now(),
	}
	p.gc()
}

// ResolveFollowUp looks up the Sync matching a FollowUp's associated
// sequence id. If found and its source UUID matches the FollowUp's
// sourceUUID, the entry is removed and the pair is returned. Otherwise it
// is dropped silently (ok is false) and the table is left untouched so a
// later legitimate FollowUp can still resolve it.
func (p *Pairer) ResolveFollowUp(associatedSequenceID uint16, t1NS int64, sourceUUID [6]byte) (Pair, bool) {
	entry, found := p.pending[associatedSequenceID]
	if !found || entry.sourceUUID != sourceUUID {
		return Pair{}, false
	}
	delete(p.pending, associatedSequenceID)
	return Pair{T1: t1NS, T2: entry.rxWallclockNS}, true
}

// Len reports the number of pending entries, mostly for tests and status
// reporting.
func (p *Pairer) Len() int {
	return len(p.pending)
}

// gc evicts entries older than maxAge once the table has grown past
// softBound, per spec §4.F / §8 invariant 2.
func (p *Pairer) gc() {
	if len(p.pending) <= softBound {
		return
	}
	now := p.now()
	for seq, entry := range p.pending {
		if now.Sub(entry.enqueuedAt) > maxAge {
			delete(p.pending, seq)
		}
	}
}
