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

// Package statusipc publishes status.SyncStatus snapshots to local
// consumers (the tray UI) over a Unix domain socket. Each connected
// client gets one length-prefixed record per Publish call; a disconnected
// or slow client is dropped rather than allowed to block the publisher.
package statusipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dantesync/dantesyncd/status"
)

// writeTimeout bounds how long Publish will block on a single slow
// client before giving up on it for this round.
const writeTimeout = 200 * time.Millisecond

// Server accepts connections on a Unix domain socket and fans out
// SyncStatus snapshots to every connected client.
type Server struct {
	path     string
	listener net.Listener

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// Listen creates the Unix domain socket at path, removing any stale
// socket file left behind by a previous run.
func Listen(path string) (*Server, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("removing stale status socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on status socket %s: %w", path, err)
	}
	s := &Server{
		path:     path,
		listener: l,
		clients:  make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Errorf("status ipc accept failed: %v", err)
				return
			}
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
	}
}

// Publish marshals status as JSON and writes it, little-endian u32
// length prefixed, to every currently connected client. Clients that
// fail to keep up are closed and dropped.
func (s *Server) Publish(st status.SyncStatus) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling sync status: %w", err)
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			s.dropLocked(conn)
			continue
		}
		if _, err := conn.Write(header); err != nil {
			s.dropLocked(conn)
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			s.dropLocked(conn)
			continue
		}
	}
	return nil
}

// dropLocked closes and removes conn from the client set. Caller must
// hold s.mu.
func (s *Server) dropLocked(conn net.Conn) {
	conn.Close()
	delete(s.clients, conn)
}

// Close stops accepting new clients, closes all connected clients, and
// removes the socket file.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()

	s.mu.Lock()
	for conn := range s.clients {
		s.dropLocked(conn)
	}
	s.mu.Unlock()

	os.RemoveAll(s.path)
	return err
}
