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

package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	ntp "github.com/dantesync/dantesyncd/ntp/protocol"
)

// precision is reported as a power of two in line with spec §6: −20 ≈ 1µs.
const precision = -20

// task carries everything a worker needs to answer one request
// independently of the listener goroutine that received it.
type task struct {
	addr     *net.UDPAddr
	received time.Time
	request  *ntp.Packet
}

// Server is the reduced NTP responder: one listener goroutine feeding a
// small worker pool, matching the teacher's worker-pool shape without its
// multi-listener/VIP-announce machinery.
type Server struct {
	Config Config
	tasks  chan task
	conn   *net.UDPConn
}

// New creates a Server from cfg. cfg is validated before use.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{Config: cfg}, nil
}

// Start binds the listening socket, launches the workers, and serves
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.Port})
	if err != nil {
		return fmt.Errorf("ntp server: listen on %s:%d: %w", s.Config.IP, s.Config.Port, err)
	}
	s.conn = conn
	s.tasks = make(chan task, s.Config.Workers)

	log.Infof("ntp server: listening on %s:%d, %d workers", s.Config.IP, s.Config.Port, s.Config.Workers)

	for i := 0; i < s.Config.Workers; i++ {
		go s.startWorker()
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.listen()
	return nil
}

// Close shuts down the listening socket, unblocking listen.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Server) listen() {
	buf := make([]byte, ntp.PacketSizeBytes)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			log.Debugf("ntp server: listener exiting: %v", err)
			return
		}
		received := s.Config.ReadNow()

		request, err := ntp.BytesToPacket(buf[:n])
		if err != nil {
			log.Debugf("ntp server: failed to parse request from %s: %v", addr, err)
			continue
		}
		s.tasks <- task{addr: addr, received: received, request: request}
	}
}

func (s *Server) startWorker() {
	response := &ntp.Packet{}
	s.fillStaticHeaders(response)
	for t := range s.tasks {
		t.serve(s.conn, response, s.Config.ReadNow())
	}
}

func (s *Server) fillStaticHeaders(response *ntp.Packet) {
	response.Stratum = uint8(s.Config.Stratum)
	response.Precision = precision
	response.RootDelay = 0
	response.RootDispersion = 1
	response.ReferenceID = binary.BigEndian.Uint32([]byte(fmt.Sprintf("%-4s", s.Config.RefID)))
}

func (t *task) serve(conn *net.UDPConn, response *ntp.Packet, now time.Time) {
	if !t.request.ValidSettingsFormat() {
		log.Debugf("ntp server: invalid request from %s, discarding", t.addr)
		return
	}

	fillResponse(now, t.received, t.request, response)
	out, err := response.Bytes()
	if err != nil {
		log.Errorf("ntp server: failed to encode response: %v", err)
		return
	}
	if _, err := conn.WriteToUDP(out, t.addr); err != nil {
		log.Debugf("ntp server: failed to reply to %s: %v", t.addr, err)
	}
}

// fillResponse copies the client's transmit timestamp into the originate
// slot and stamps receive/transmit timestamps from the disciplined
// wallclock, per spec §6.
func fillResponse(now, received time.Time, request, response *ntp.Packet) {
	response.Settings = (request.Settings & 0x38) + 4 // keep VN, LI=0, mode=4 (server)
	response.Poll = request.Poll

	response.OrigTimeSec = request.TxTimeSec
	response.OrigTimeFrac = request.TxTimeFrac

	rxSec, rxFrac := ntp.Time(received)
	response.RxTimeSec = rxSec
	response.RxTimeFrac = rxFrac

	txSec, txFrac := ntp.Time(now)
	response.TxTimeSec = txSec
	response.TxTimeFrac = txFrac

	// RefTime: when the clock was last disciplined. We don't yet have a
	// feed of that from the controller here, so report the transmit time
	// rounded down to the nearest 1000s, matching the teacher's
	// "consistent enough for chrony/ntpd sanity checks" approach.
	lastSync := time.Unix(now.Unix()/1000*1000, 0)
	refSec, refFrac := ntp.Time(lastSync)
	response.RefTimeSec = refSec
	response.RefTimeFrac = refFrac
}
