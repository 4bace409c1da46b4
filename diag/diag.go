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

// Package diag implements the external diagnostic query protocol on
// UDP/31900: an 8-byte request echoes back a 64-byte response carrying
// the controller's current offset, drift, and lock state, letting
// dantesyncctl (and other LAN peers) verify a host's view of sync
// without touching the status IPC socket.
package diag

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dantesync/dantesyncd/status"
)

// Port is the well-known UDP port the diagnostic server listens on.
const Port = 31900

const (
	requestSize  = 8
	responseSize = 64

	requestMagic  uint32 = 0x4453594E // "DSYN"
	responseMagic uint32 = 0x44535952 // "DSYR"
)

// Mode mirrors the controller's state machine for wire purposes.
type Mode uint8

// Wire values for Mode, per the diagnostic protocol's mode byte.
const (
	ModeInit     Mode = 0
	ModeSettling Mode = 1
	ModeLocked   Mode = 2
)

// Request is a decoded 8-byte diagnostic query.
type Request struct {
	ID uint32
}

// Bytes encodes r as an 8-byte wire request, for clients such as
// dantesyncctl.
func (r Request) Bytes() []byte {
	buf := make([]byte, requestSize)
	binary.BigEndian.PutUint32(buf[0:4], requestMagic)
	binary.BigEndian.PutUint32(buf[4:8], r.ID)
	return buf
}

// ParseRequest validates and decodes an 8-byte request packet.
func ParseRequest(buf []byte) (Request, error) {
	if len(buf) < requestSize {
		return Request{}, fmt.Errorf("diag: short request, got %d bytes", len(buf))
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != requestMagic {
		return Request{}, fmt.Errorf("diag: bad request magic 0x%08x", magic)
	}
	return Request{ID: binary.BigEndian.Uint32(buf[4:8])}, nil
}

// Response is the decoded form of the 64-byte diagnostic reply, kept
// mainly so tests and dantesyncctl can assert on individual fields
// without re-parsing the wire layout by hand.
type Response struct {
	ID             uint32
	WallclockNS    uint64
	MonotonicTicks uint64
	OffsetNS       int64
	DriftPPM1000   int32
	AppliedPPM1000 int32
	Mode           Mode
	Locked         bool
	GMUUID         [6]byte
	MonotonicHertz uint64
}

// Bytes encodes r as a 64-byte wire response.
func (r Response) Bytes() []byte {
	buf := make([]byte, responseSize)
	binary.BigEndian.PutUint32(buf[0:4], responseMagic)
	binary.BigEndian.PutUint32(buf[4:8], r.ID)
	binary.BigEndian.PutUint64(buf[8:16], r.WallclockNS)
	binary.BigEndian.PutUint64(buf[16:24], r.MonotonicTicks)
	binary.BigEndian.PutUint64(buf[24:32], uint64(r.OffsetNS))
	binary.BigEndian.PutUint32(buf[32:36], uint32(r.DriftPPM1000))
	binary.BigEndian.PutUint32(buf[36:40], uint32(r.AppliedPPM1000))
	buf[40] = byte(r.Mode)
	if r.Locked {
		buf[41] = 1
	}
	copy(buf[42:48], r.GMUUID[:])
	binary.BigEndian.PutUint64(buf[48:56], r.MonotonicHertz)
	// buf[56:64] reserved, left zero.
	return buf
}

// ParseResponse decodes a 64-byte wire response, used by dantesyncctl.
func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < responseSize {
		return Response{}, fmt.Errorf("diag: short response, got %d bytes", len(buf))
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != responseMagic {
		return Response{}, fmt.Errorf("diag: bad response magic 0x%08x", magic)
	}
	var r Response
	r.ID = binary.BigEndian.Uint32(buf[4:8])
	r.WallclockNS = binary.BigEndian.Uint64(buf[8:16])
	r.MonotonicTicks = binary.BigEndian.Uint64(buf[16:24])
	r.OffsetNS = int64(binary.BigEndian.Uint64(buf[24:32]))
	r.DriftPPM1000 = int32(binary.BigEndian.Uint32(buf[32:36]))
	r.AppliedPPM1000 = int32(binary.BigEndian.Uint32(buf[36:40]))
	r.Mode = Mode(buf[40])
	r.Locked = buf[41] != 0
	copy(r.GMUUID[:], buf[42:48])
	r.MonotonicHertz = binary.BigEndian.Uint64(buf[48:56])
	return r, nil
}

// modeFromStatus derives the wire Mode from a SyncStatus snapshot. The
// controller only distinguishes INIT/SETTLING/LOCKED; a GM UUID seen at
// all implies at least one valid pair, i.e. SETTLING.
func modeFromStatus(s status.SyncStatus) Mode {
	switch {
	case s.Settled:
		return ModeLocked
	case s.HasGMUUID:
		return ModeSettling
	default:
		return ModeInit
	}
}

// Server answers diagnostic queries from a *status.Store. now and
// monotonic are overridden in tests; production callers get them from
// Start via the platform defaults.
type Server struct {
	store     *status.Store
	conn      *net.UDPConn
	now       func() time.Time
	monotonic func() (ticks uint64, hertz uint64)
}

// New creates a Server reading from store. The caller still needs to
// call Start to bind the socket and begin serving.
func New(store *status.Store) *Server {
	return &Server{
		store:     store,
		now:       time.Now,
		monotonic: monotonicClock,
	}
}

// Start binds UDP/31900 on addr (host:port form; pass ":31900" or
// "0.0.0.0:31900") and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("diag: resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("diag: listen on %s: %w", addr, err)
	}
	s.conn = conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Infof("diag: listening on %s", addr)
	s.serve()
	return nil
}

// Close unblocks serve by closing the listening socket.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Server) serve() {
	buf := make([]byte, requestSize)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			log.Debugf("diag: listener exiting: %v", err)
			return
		}
		req, err := ParseRequest(buf[:n])
		if err != nil {
			log.Debugf("diag: discarding request from %s: %v", src, err)
			continue
		}
		resp := s.buildResponse(req)
		if _, err := s.conn.WriteToUDP(resp.Bytes(), src); err != nil {
			log.Debugf("diag: failed to reply to %s: %v", src, err)
		}
	}
}

func (s *Server) buildResponse(req Request) Response {
	st := s.store.Get()
	ticks, hertz := s.monotonic()
	return Response{
		ID:             req.ID,
		WallclockNS:    uint64(s.now().UnixNano()),
		MonotonicTicks: ticks,
		OffsetNS:       st.OffsetNS,
		DriftPPM1000:   int32(st.DriftPPM * 1000),
		AppliedPPM1000: int32(st.DriftPPM * 1000),
		Mode:           modeFromStatus(st),
		Locked:         st.Settled,
		GMUUID:         st.GMUUID,
		MonotonicHertz: hertz,
	}
}
