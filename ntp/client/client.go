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

// Package client implements the secondary NTP phase source (component C):
// a one-shot SNTP query used by the controller to keep the wallclock's
// absolute time aligned, since PTPv1 on Dante networks carries only
// sub-second phase.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dantesync/dantesyncd/ntp/protocol"
)

// requestSettings is LI=0 (no warning), VN=3, Mode=3 (client).
const requestSettings = 0x1B

// DefaultTimeout bounds a single query when the caller's context carries
// no deadline.
const DefaultTimeout = 2 * time.Second

// Client queries one SNTP server for the offset between the local
// wallclock and "true" time.
type Client struct {
	addr    string
	timeout time.Duration
}

// New creates a Client for the given "host:port" address. If port is
// omitted, 123 (the standard NTP port) is assumed.
func New(addr string, timeout time.Duration) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "123")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Query performs one SNTP exchange and returns the offset needed to
// correct the local clock: true_time = local + sign*magnitude, matching
// clock.Platform.Step's contract directly. Any transport, DNS, or
// protocol failure is returned as a plain error; the controller is
// responsible for retry scheduling.
func (c *Client) Query(ctx context.Context) (magnitude time.Duration, sign int8, err error) {
	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	conn, err := net.DialTimeout("udp", c.addr, c.timeout)
	if err != nil {
		return 0, 0, fmt.Errorf("ntp client: dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, 0, fmt.Errorf("ntp client: set deadline: %w", err)
	}

	req := &protocol.Packet{Settings: requestSettings}
	buf, err := req.Bytes()
	if err != nil {
		return 0, 0, fmt.Errorf("ntp client: encode request: %w", err)
	}

	clientTransmitTime := time.Now()
	if _, err := conn.Write(buf); err != nil {
		return 0, 0, fmt.Errorf("ntp client: send to %s: %w", c.addr, err)
	}

	respBuf := make([]byte, protocol.PacketSizeBytes)
	n, err := conn.Read(respBuf)
	if err != nil {
		return 0, 0, fmt.Errorf("ntp client: recv from %s: %w", c.addr, err)
	}
	clientReceiveTime := time.Now()

	resp, err := protocol.BytesToPacket(respBuf[:n])
	if err != nil {
		return 0, 0, fmt.Errorf("ntp client: decode reply: %w", err)
	}

	serverReceiveTime := protocol.Unix(resp.RxTimeSec, resp.RxTimeFrac)
	serverTransmitTime := protocol.Unix(resp.TxTimeSec, resp.TxTimeFrac)

	delayNS := protocol.AvgNetworkDelay(clientTransmitTime, serverReceiveTime, serverTransmitTime, clientReceiveTime)
	trueTime := protocol.CurrentRealTime(serverTransmitTime, delayNS)
	offsetNS := protocol.CalculateOffset(trueTime, clientReceiveTime)

	magnitude, sign = protocol.SignedOffset(offsetNS)
	log.Debugf("ntp client: server=%s offset=%s sign=%d round-trip-delay=%dns", c.addr, magnitude, sign, delayNS)
	return magnitude, sign, nil
}
