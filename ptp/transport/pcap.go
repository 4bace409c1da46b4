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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/pcap"
	"golang.org/x/net/ipv4"

	"github.com/dantesync/dantesyncd/ptp/protocol"
)

// pcapSnaplen comfortably covers the largest PTPv1 frame; Dante never
// sends jumbo PTP traffic.
const pcapSnaplen = 256

// pcapReadTimeout is pcap's own poll interval, independent of rcvTimeout;
// kept short so the listen goroutine notices Close (t.done) quickly.
const pcapReadTimeout = 1 * time.Millisecond

const (
	ethIPUDPHeaderLen = 42 // Ethernet(14) + IPv4(20) + UDP(8)
	etherTypeIPv4Hi   = 0x08
	etherTypeIPv4Lo   = 0x00
	ipProtoUDP        = 17
)

// pcapTransport captures PTP multicast traffic off the wire directly,
// for platforms or NICs where a plain socket doesn't give per-packet
// kernel RX timestamps. IGMP membership is established by joining the
// multicast group on ordinary UDP sockets held open for the lifetime of
// the capture; pcap itself never joins a multicast group.
type pcapTransport struct {
	handle  *pcap.Handle
	igmp    []*net.UDPConn
	packets chan *Packet
	errs    chan error
	done    chan struct{}
}

// NewPcap opens a live capture on iface, filtered to PTP multicast
// traffic, and joins the Dante PTP multicast group so the switch
// forwards it to this host.
func NewPcap(iface string) (Transport, error) {
	handle, err := pcap.OpenLive(iface, pcapSnaplen, true, pcapReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: pcap open %q: %w", iface, err)
	}
	filter := fmt.Sprintf("udp and dst host %s and (dst port %d or dst port %d)",
		protocol.MulticastAddr, protocol.EventPort, protocol.GeneralPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("transport: pcap filter: %w", err)
	}

	igmp, err := joinMulticast(iface)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("transport: join multicast: %w", err)
	}

	t := &pcapTransport{
		handle:  handle,
		igmp:    igmp,
		packets: make(chan *Packet, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go t.listen()
	return t, nil
}

// joinMulticast binds one UDP socket per PTP port and joins the Dante
// multicast group on each, purely to trigger IGMP membership; pcap reads
// the actual traffic separately.
func joinMulticast(iface string) ([]*net.UDPConn, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	group := net.ParseIP(protocol.MulticastAddr)

	var conns []*net.UDPConn
	for _, port := range []int{protocol.EventPort, protocol.GeneralPort} {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err != nil {
			closeAll(conns)
			return nil, fmt.Errorf("listen port %d: %w", port, err)
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
			closeAll(conns)
			conn.Close()
			return nil, fmt.Errorf("join group on port %d: %w", port, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeAll(conns []*net.UDPConn) {
	for _, c := range conns {
		c.Close()
	}
}

// listen reads captured frames until t.done is closed, skipping anything
// that isn't a PTP multicast datagram and decoding the rest.
func (t *pcapTransport) listen() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		data, ci, err := t.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			select {
			case t.errs <- fmt.Errorf("transport: pcap read: %w", err):
			default:
			}
			continue
		}

		pkt, ok := decodeFrame(data, ci.Timestamp)
		if !ok {
			continue
		}
		select {
		case t.packets <- pkt:
		case <-t.done:
			return
		}
	}
}

// decodeFrame extracts the PTPv1 payload from an Ethernet/IPv4/UDP frame.
// rxTime is pcap's capture timestamp, which is wall-clock on Linux but
// may be monotonic on some platforms; callers stepping the system clock
// should prefer an NTP-driven timestamp for absolute time.
func decodeFrame(data []byte, rxTime time.Time) (*Packet, bool) {
	if len(data) < ethIPUDPHeaderLen+protocol.HeaderSize {
		return nil, false
	}
	if data[12] != etherTypeIPv4Hi || data[13] != etherTypeIPv4Lo {
		return nil, false
	}
	if data[23] != ipProtoUDP {
		return nil, false
	}
	dstPort := int(data[36])<<8 | int(data[37])
	if dstPort != protocol.EventPort && dstPort != protocol.GeneralPort {
		return nil, false
	}

	payload := data[ethIPUDPHeaderLen:]
	hdr, err := protocol.ParseHeader(payload)
	if err != nil {
		return nil, false
	}
	body := make([]byte, len(payload)-protocol.HeaderSize)
	copy(body, payload[protocol.HeaderSize:])

	return &Packet{Header: hdr, Body: body, RxTime: rxTime}, true
}

// RecvPacket returns the next decoded PTP packet captured off the wire,
// or (nil, nil) if recvPollInterval elapses with nothing captured.
func (t *pcapTransport) RecvPacket(ctx context.Context) (*Packet, error) {
	select {
	case pkt := <-t.packets:
		return pkt, nil
	case err := <-t.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(recvPollInterval):
		return nil, nil
	}
}

// Reset is a no-op; pcap's own BPF filter needs no runtime reset.
func (t *pcapTransport) Reset() error {
	return nil
}

// Close stops the capture, drops IGMP membership and closes the handle.
func (t *pcapTransport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	closeAll(t.igmp)
	t.handle.Close()
	return nil
}
