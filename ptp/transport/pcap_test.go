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

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dantesync/dantesyncd/ptp/protocol"
)

// buildFrame assembles a minimal Ethernet/IPv4/UDP frame carrying a PTPv1
// header, with just enough of the IP/UDP fields filled in for
// decodeFrame to classify it.
func buildFrame(dstPort int, payload []byte) []byte {
	frame := make([]byte, ethIPUDPHeaderLen+len(payload))
	frame[12] = etherTypeIPv4Hi
	frame[13] = etherTypeIPv4Lo
	frame[23] = ipProtoUDP
	frame[36] = byte(dstPort >> 8)
	frame[37] = byte(dstPort)
	copy(frame[ethIPUDPHeaderLen:], payload)
	return frame
}

func TestDecodeFrameAcceptsPTPTraffic(t *testing.T) {
	hdr := protocol.NewHeader(protocol.Sync, 7, [6]byte{1, 2, 3, 4, 5, 6})
	frame := buildFrame(protocol.EventPort, hdr.Bytes())
	now := time.Now()

	pkt, ok := decodeFrame(frame, now)
	require.True(t, ok)
	require.Equal(t, protocol.Sync, pkt.Header.MessageType)
	require.Equal(t, uint16(7), pkt.Header.SequenceID)
	require.Equal(t, now, pkt.RxTime)
}

func TestDecodeFrameRejectsWrongPort(t *testing.T) {
	hdr := protocol.NewHeader(protocol.Sync, 1, [6]byte{})
	frame := buildFrame(53, hdr.Bytes())

	_, ok := decodeFrame(frame, time.Now())
	require.False(t, ok)
}

func TestDecodeFrameRejectsNonIPv4(t *testing.T) {
	hdr := protocol.NewHeader(protocol.Sync, 1, [6]byte{})
	frame := buildFrame(protocol.EventPort, hdr.Bytes())
	frame[12] = 0x86 // IPv6 ethertype
	frame[13] = 0xdd

	_, ok := decodeFrame(frame, time.Now())
	require.False(t, ok)
}

func TestDecodeFrameRejectsShortFrame(t *testing.T) {
	_, ok := decodeFrame(make([]byte, 10), time.Now())
	require.False(t, ok)
}

func TestPcapRecvPacketReturnsNilOnPollTimeout(t *testing.T) {
	tr := &pcapTransport{
		packets: make(chan *Packet),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	start := time.Now()
	pkt, err := tr.RecvPacket(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Nil(t, pkt)
	require.GreaterOrEqual(t, elapsed, recvPollInterval)
	require.Less(t, elapsed, recvPollInterval+time.Second, "RecvPacket should not block well past its poll interval")
}
