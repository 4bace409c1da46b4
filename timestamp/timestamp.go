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

// Package timestamp provides the kernel RX-timestamp plumbing used by the
// Berkeley-socket receive backend (component B): enabling SO_TIMESTAMPING
// on a socket, reading a packet alongside the kernel's idea of when it
// arrived, and converting between net.IP/netip.Addr and unix.Sockaddr.
// There is no TX or hardware-timestamp path here - this system never
// transmits PTP traffic and offloaded hardware timestamping is out of
// scope.
package timestamp

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// ControlSizeBytes is the socket control message buffer size; if a
	// read falls behind, multiple timestamps may be queued so it is best
	// read promptly.
	ControlSizeBytes = 128
	// PayloadSizeBytes comfortably covers a 36-byte PTPv1 header plus
	// its largest body.
	PayloadSizeBytes = 128
)

// Timestamp is the RX timestamp source a socket is configured for.
type Timestamp int

const (
	// SWRX is a kernel (software) RX timestamp.
	SWRX Timestamp = iota
)

// Unsupported is reported for an unrecognized Timestamp value.
const Unsupported = "Unsupported"

var timestampToString = map[Timestamp]string{
	SWRX: "software_rx",
}

// MarshalText encodes the timestamp type.
func (t Timestamp) MarshalText() ([]byte, error) {
	if _, ok := timestampToString[t]; ok {
		return []byte(t.String()), nil
	}
	return []byte(Unsupported), fmt.Errorf("unknown timestamp type %q", Unsupported)
}

// String renders the timestamp type.
func (t Timestamp) String() string {
	if v, ok := timestampToString[t]; ok {
		return v
	}
	return Unsupported
}

func timestampFromString(value string) (*Timestamp, error) {
	for k, v := range timestampToString {
		if v == value {
			return &k, nil
		}
	}
	return nil, fmt.Errorf("unknown timestamp type %q", value)
}

// UnmarshalText decodes the timestamp type.
func (t *Timestamp) UnmarshalText(value []byte) error {
	return t.Set(string(value))
}

// Set parses value into t, for use as a flag.Value.
func (t *Timestamp) Set(value string) error {
	ts, err := timestampFromString(value)
	if err != nil {
		return err
	}
	*t = *ts
	return nil
}

// Type satisfies the cobra.Value / pflag.Value interface.
func (t *Timestamp) Type() string {
	return "timestamp"
}

// ConnFd returns the file descriptor backing conn.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var intfd int
	err = sc.Control(func(fd uintptr) {
		intfd = int(fd)
	})
	if err != nil {
		return -1, err
	}
	return intfd, nil
}

// ReadPacketWithRXTimestamp reads one packet and its kernel RX timestamp.
func ReadPacketWithRXTimestamp(connFd int) ([]byte, unix.Sockaddr, time.Time, error) {
	buf := make([]byte, PayloadSizeBytes)
	oob := make([]byte, ControlSizeBytes)

	bbuf, sa, t, err := ReadPacketWithRXTimestampBuf(connFd, buf, oob)
	return buf[:bbuf], sa, t, err
}

// ReadPacketWithRXTimestampBuf reads one packet into buf and returns its
// length, sender address, and kernel RX timestamp. oob may be reused
// across calls.
func ReadPacketWithRXTimestampBuf(connFd int, buf, oob []byte) (int, unix.Sockaddr, time.Time, error) {
	bbuf, boob, _, saddr, err := unix.Recvmsg(connFd, buf, oob, 0)
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("failed to read timestamp: %w", err)
	}

	timestamp, err := socketControlMessageTimestamp(oob, boob)
	return bbuf, saddr, timestamp, err
}

// IPToSockaddr converts an IP and port into a socket address.
func IPToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if ip.To4() != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip.To4())
		return sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa
}

// AddrToSockaddr converts a netip.Addr and port into a socket address.
func AddrToSockaddr(ip netip.Addr, port int) unix.Sockaddr {
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: port, Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: port, Addr: ip.As16()}
}

// SockaddrToIP converts a socket address to an IP.
func SockaddrToIP(sa unix.Sockaddr) net.IP {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Addr[0:]
	case *unix.SockaddrInet6:
		return sa.Addr[0:]
	}
	return nil
}

// SockaddrToAddr converts a socket address to a netip.Addr.
func SockaddrToAddr(sa unix.Sockaddr) netip.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(sa.Addr).Unmap()
	case *unix.SockaddrInet6:
		return netip.AddrFrom16(sa.Addr).Unmap()
	}
	return netip.Addr{}
}

// SockaddrToPort converts a socket address to a port.
func SockaddrToPort(sa unix.Sockaddr) int {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Port
	case *unix.SockaddrInet6:
		return sa.Port
	}
	return 0
}

// NewSockaddrWithPort clones sa with a different port.
func NewSockaddrWithPort(sa unix.Sockaddr, port int) unix.Sockaddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &unix.SockaddrInet4{Addr: sa.Addr, Port: port}
	case *unix.SockaddrInet6:
		return &unix.SockaddrInet6{Addr: sa.Addr, Port: port}
	}
	return nil
}
