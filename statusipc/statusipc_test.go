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

package statusipc

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dantesync/dantesyncd/status"
)

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("unix", path)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func readRecord(t *testing.T, conn net.Conn) status.SyncStatus {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	header := make([]byte, 4)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(header)
	payload := make([]byte, n)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	var got status.SyncStatus
	require.NoError(t, json.Unmarshal(payload, &got))
	return got
}

func TestPublishDeliversRecordToConnectedClient(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "status.sock")
	s, err := Listen(sockPath)
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, sockPath)
	defer conn.Close()

	// give the accept loop a moment to register the connection
	time.Sleep(20 * time.Millisecond)

	want := status.SyncStatus{OffsetNS: 4200, DriftPPM: 1.25, Settled: true}
	require.NoError(t, s.Publish(want))

	got := readRecord(t, conn)
	require.Equal(t, want.OffsetNS, got.OffsetNS)
	require.Equal(t, want.DriftPPM, got.DriftPPM)
	require.True(t, got.Settled)
}

func TestPublishFansOutToMultipleClients(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "status.sock")
	s, err := Listen(sockPath)
	require.NoError(t, err)
	defer s.Close()

	connA := dial(t, sockPath)
	defer connA.Close()
	connB := dial(t, sockPath)
	defer connB.Close()
	time.Sleep(20 * time.Millisecond)

	want := status.SyncStatus{OffsetNS: -99}
	require.NoError(t, s.Publish(want))

	gotA := readRecord(t, connA)
	gotB := readRecord(t, connB)
	require.Equal(t, want.OffsetNS, gotA.OffsetNS)
	require.Equal(t, want.OffsetNS, gotB.OffsetNS)
}

func TestPublishDropsDisconnectedClientWithoutError(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "status.sock")
	s, err := Listen(sockPath)
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, sockPath)
	time.Sleep(20 * time.Millisecond)
	conn.Close()

	require.NoError(t, s.Publish(status.SyncStatus{OffsetNS: 1}))
	require.NoError(t, s.Publish(status.SyncStatus{OffsetNS: 2}))
}

func TestCloseRemovesSocketFile(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "status.sock")
	s, err := Listen(sockPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = net.Dial("unix", sockPath)
	require.Error(t, err)
}
