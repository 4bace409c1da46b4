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

package diag

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dantesync/dantesyncd/status"
)

func TestParseRequestRejectsBadMagic(t *testing.T) {
	buf := make([]byte, requestSize)
	_, err := ParseRequest(buf)
	require.Error(t, err)
}

func TestParseRequestRejectsShortBuffer(t *testing.T) {
	_, err := ParseRequest([]byte{0x44, 0x53})
	require.Error(t, err)
}

func TestRequestBytesRoundTrip(t *testing.T) {
	req := Request{ID: 99}
	got, err := ParseRequest(req.Bytes())
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	resp := Response{
		ID:             7,
		WallclockNS:    123456789,
		MonotonicTicks: 42,
		OffsetNS:       -1500,
		DriftPPM1000:   2500,
		AppliedPPM1000: 2500,
		Mode:           ModeLocked,
		Locked:         true,
		GMUUID:         [6]byte{1, 2, 3, 4, 5, 6},
		MonotonicHertz: 1_000_000_000,
	}
	buf := resp.Bytes()
	require.Len(t, buf, responseSize)

	got, err := ParseResponse(buf)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestModeFromStatus(t *testing.T) {
	require.Equal(t, ModeInit, modeFromStatus(status.SyncStatus{}))
	require.Equal(t, ModeSettling, modeFromStatus(status.SyncStatus{HasGMUUID: true}))
	require.Equal(t, ModeLocked, modeFromStatus(status.SyncStatus{HasGMUUID: true, Settled: true}))
}

func TestServerAnswersQuery(t *testing.T) {
	store := status.NewStore()
	store.Set(status.SyncStatus{
		OffsetNS:  -500,
		DriftPPM:  1.234,
		Settled:   true,
		HasGMUUID: true,
		GMUUID:    [6]byte{9, 8, 7, 6, 5, 4},
	})

	s := New(store)

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	s.conn = ln
	go s.serve()
	defer s.Close()

	client, err := net.DialUDP("udp", nil, ln.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	req := make([]byte, requestSize)
	req[0], req[1], req[2], req[3] = 0x44, 0x53, 0x59, 0x4E
	req[4], req[5], req[6], req[7] = 0, 0, 0, 99
	_, err = client.Write(req)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, responseSize)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, responseSize, n)

	resp, err := ParseResponse(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(99), resp.ID)
	require.Equal(t, int64(-500), resp.OffsetNS)
	require.True(t, resp.Locked)
	require.Equal(t, ModeLocked, resp.Mode)
	require.Equal(t, [6]byte{9, 8, 7, 6, 5, 4}, resp.GMUUID)
}
