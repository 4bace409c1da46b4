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

// Package status publishes the controller's current sync state
// (component H) to whichever external collaborators want to read it:
// the diagnostic UDP server, the status IPC socket, and Prometheus.
package status

import (
	"sync"
	"time"
)

// SyncStatus is the single snapshot the controller writes and every
// reader (status IPC, diagnostic server, Prometheus adapter) reads.
// GMUUID is the all-zero value until a Sync/FollowUp pair carrying
// grandmaster discovery information has been seen.
type SyncStatus struct {
	OffsetNS  int64     `json:"offset_ns"`
	DriftPPM  float64   `json:"drift_ppm"`
	GMUUID    [6]byte   `json:"gm_uuid"`
	HasGMUUID bool      `json:"has_gm_uuid"`
	Settled   bool      `json:"settled"`
	UpdatedTS time.Time `json:"updated_ts"`
}

// Store is a mutual-exclusion guarded SyncStatus snapshot. It is written
// by the controller (single writer) and read by any number of
// publishers (status IPC, diagnostic server, metrics). The lock is never
// held across I/O, per spec.md §5 - Get and Set both just copy the
// struct.
type Store struct {
	mu  sync.RWMutex
	cur SyncStatus
}

// NewStore creates a Store with the zero-value SyncStatus, matching the
// "created with defaults at controller init" lifecycle from spec.md §3.
func NewStore() *Store {
	return &Store{}
}

// Set overwrites the current snapshot. Called by the controller after
// every applied servo step or state transition.
func (s *Store) Set(status SyncStatus) {
	s.mu.Lock()
	s.cur = status
	s.mu.Unlock()
}

// Get returns the latest snapshot.
func (s *Store) Get() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}
