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

//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantesync/dantesyncd/ptp/protocol"
	"github.com/dantesync/dantesyncd/timestamp"
)

// rcvTimeout bounds each blocking Recvmsg call so the listener goroutines
// notice ctx cancellation and Close promptly instead of wedging forever
// on a multicast group that has gone quiet.
const rcvTimeout = 500 * time.Millisecond

// bsdTransport listens on the PTP event (319) and general (320) multicast
// ports with two raw sockets, each read by its own goroutine into a
// shared channel.
type bsdTransport struct {
	sockets []*multicastSocket
	packets chan *Packet
	errs    chan error
	done    chan struct{}
}

// multicastSocket is one joined, timestamp-enabled PTP socket.
type multicastSocket struct {
	fd   int
	port int
}

// NewBSD opens raw sockets on the PTP event and general ports, joins the
// Dante PTP multicast group on iface, and enables kernel RX timestamps.
func NewBSD(iface string) (Transport, error) {
	ifaceAddr, err := interfaceIPv4(iface)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve interface %q: %w", iface, err)
	}

	t := &bsdTransport{
		packets: make(chan *Packet, 64),
		errs:    make(chan error, 2),
		done:    make(chan struct{}),
	}
	for _, port := range []int{protocol.EventPort, protocol.GeneralPort} {
		sock, err := newMulticastSocket(port, ifaceAddr)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("transport: open port %d: %w", port, err)
		}
		t.sockets = append(t.sockets, sock)
		go t.listen(sock)
	}
	return t, nil
}

// interfaceIPv4 returns the first IPv4 address bound to the
// named interface, or INADDR_ANY's interface if iface is empty.
func interfaceIPv4(iface string) (net.IP, error) {
	if iface == "" {
		return net.IPv4zero, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address on interface %q", iface)
}

// newMulticastSocket creates, binds and joins a single PTP multicast port.
func newMulticastSocket(port int, ifaceAddr net.IP) (*multicastSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}

	local := timestamp.IPToSockaddr(net.IPv4zero, port)
	if err := unix.Bind(fd, local); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], net.ParseIP(protocol.MulticastAddr).To4())
	copy(mreq.Interface[:], ifaceAddr.To4())
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("join multicast group: %w", err)
	}
	if err := unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("disable multicast loopback: %w", err)
	}

	if err := timestamp.EnableSWTimestampsRx(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("enable RX timestamps: %w", err)
	}

	tv := unix.NsecToTimeval(rcvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("SO_RCVTIMEO: %w", err)
	}

	return &multicastSocket{fd: fd, port: port}, nil
}

// listen reads packets from sock until t.done is closed, decoding the
// PTPv1 header and forwarding successfully parsed packets to t.packets.
// Malformed packets and non-PTP traffic on the port are dropped silently;
// EAGAIN/EWOULDBLOCK from the SO_RCVTIMEO deadline is expected idle
// behavior, not an error.
func (t *bsdTransport) listen(sock *multicastSocket) {
	buf := make([]byte, timestamp.PayloadSizeBytes)
	oob := make([]byte, timestamp.ControlSizeBytes)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, _, rxTime, err := timestamp.ReadPacketWithRXTimestampBuf(sock.fd, buf, oob)
		if err != nil {
			if errIsTimeout(err) {
				continue
			}
			select {
			case t.errs <- fmt.Errorf("transport: recv on port %d: %w", sock.port, err):
			default:
			}
			continue
		}

		hdr, err := protocol.ParseHeader(buf[:n])
		if err != nil {
			continue
		}
		body := make([]byte, n-protocol.HeaderSize)
		copy(body, buf[protocol.HeaderSize:n])

		pkt := &Packet{Header: hdr, Body: body, RxTime: rxTime}
		select {
		case t.packets <- pkt:
		case <-t.done:
			return
		}
	}
}

func errIsTimeout(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// RecvPacket returns the next decoded packet from either port, blocking
// until one arrives, an internal backend error surfaces, ctx ends, or
// recvPollInterval elapses with nothing to report.
func (t *bsdTransport) RecvPacket(ctx context.Context) (*Packet, error) {
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

// Reset is a no-op; the bsd backend has no sticky error state to clear.
func (t *bsdTransport) Reset() error {
	return nil
}

// Close stops the listener goroutines and closes both sockets.
func (t *bsdTransport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	var firstErr error
	for _, sock := range t.sockets {
		if err := unix.Close(sock.fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
