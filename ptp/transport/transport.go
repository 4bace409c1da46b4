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

// Package transport implements the PTPv1 multicast receive path
// (component B): joining 224.0.1.129 on the PTP event and general ports
// and handing decoded packets, with their receive timestamp, to the
// controller. Two backends exist because Dante devices are reachable
// either as a directly addressable kernel socket (bsdTransport) or, on
// platforms where per-packet kernel RX timestamps aren't available
// through a plain socket, via a live pcap capture (pcapTransport).
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dantesync/dantesyncd/ptp/protocol"
)

// ErrUnsupportedPlatform is returned by NewBSD on platforms without a raw
// multicast socket implementation.
var ErrUnsupportedPlatform = errors.New("transport: bsd backend unsupported on this platform")

// recvPollInterval bounds how long RecvPacket blocks with no packet
// available before returning (nil, nil), so a caller's cooperative loop
// keeps servicing its other channels (NTP results, status ticks) even
// while the PTP grandmaster is silent. Both backends honor it.
const recvPollInterval = 200 * time.Millisecond

// Packet is one decoded PTPv1 message together with the wallclock time
// the kernel (or pcap) recorded it arriving.
type Packet struct {
	Header protocol.Header
	Body   []byte
	RxTime time.Time
}

// Transport receives PTPv1 multicast packets from the network.
type Transport interface {
	// RecvPacket blocks until a packet arrives, ctx is cancelled, or an
	// internal poll interval elapses. A (nil, nil) return means "no
	// packet this interval, caller should re-poll" and is not an error.
	RecvPacket(ctx context.Context) (*Packet, error)
	// Reset clears any internal backoff/error state. Both backends treat
	// it as a no-op; it exists so the controller can call it uniformly
	// after a sustained gap in traffic without type-switching.
	Reset() error
	// Close releases the underlying sockets/handles.
	Close() error
}

// Backend selects a Transport implementation.
type Backend string

// Supported backend names, matching config.Network.Backend.
const (
	BackendBSD  Backend = "bsd"
	BackendPcap Backend = "pcap"
)

// New constructs the Transport named by backend, listening on iface.
func New(backend Backend, iface string) (Transport, error) {
	switch backend {
	case BackendBSD, "":
		return NewBSD(iface)
	case BackendPcap:
		return NewPcap(iface)
	default:
		return nil, fmt.Errorf("transport: unknown backend %q", backend)
	}
}
