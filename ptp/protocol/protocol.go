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

// Package protocol decodes the PTPv1 "PTP_PORT" dialect used by Dante
// audio devices. Only the Sync and FollowUp messages carry data this
// system consumes; all other message types are recognized but not
// parsed further.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Multicast/port constants for PTPv1 as used on Dante networks.
const (
	MulticastAddr = "224.0.1.129"
	EventPort     = 319
	GeneralPort   = 320
)

// ErrShort is returned when a buffer is too small to hold the structure
// being parsed.
var ErrShort = errors.New("ptp: short packet")

// ErrMalformed denotes structurally invalid input; none of the parsers in
// this package return it.
var ErrMalformed = errors.New("ptp: malformed packet")

// MessageType enumerates the PTPv1 control byte values this system cares
// about. Unknown values map to Other.
type MessageType uint8

// PTPv1 control-byte message types.
const (
	Sync MessageType = iota
	DelayReq
	FollowUp
	DelayResp
	Management
	Other
)

var messageTypeNames = map[MessageType]string{
	Sync:       "SYNC",
	DelayReq:   "DELAY_REQ",
	FollowUp:   "FOLLOW_UP",
	DelayResp:  "DELAY_RESP",
	Management: "MANAGEMENT",
	Other:      "OTHER",
}

func (m MessageType) String() string {
	if s, ok := messageTypeNames[m]; ok {
		return s
	}
	return "OTHER"
}

// messageTypeFromControl maps the wire control byte to MessageType.
func messageTypeFromControl(control uint8) MessageType {
	switch control {
	case 0:
		return Sync
	case 1:
		return DelayReq
	case 2:
		return FollowUp
	case 3:
		return DelayResp
	case 4:
		return Management
	default:
		return Other
	}
}

// controlFromMessageType is the inverse of messageTypeFromControl, used by
// Header.Bytes to serialize a synthetic header (mainly for tests).
func controlFromMessageType(m MessageType) uint8 {
	switch m {
	case Sync:
		return 0
	case DelayReq:
		return 1
	case FollowUp:
		return 2
	case DelayResp:
		return 3
	case Management:
		return 4
	default:
		return 5
	}
}

// HeaderSize is the fixed size in bytes of a PTPv1 header.
const HeaderSize = 36

// Header is the common 36-byte PTPv1 header.
type Header struct {
	VersionPTP    uint8
	MessageLength uint16
	MessageType   MessageType
	SourceUUID    [6]byte
	SequenceID    uint16
	Control       uint8
}

// NewHeader builds a Header for the given message type, sequence id and
// source UUID, deriving Control from MessageType. Used by tests to
// construct synthetic packets.
func NewHeader(msgType MessageType, seq uint16, uuid [6]byte) Header {
	return Header{
		MessageType: msgType,
		SequenceID:  seq,
		SourceUUID:  uuid,
		Control:     controlFromMessageType(msgType),
	}
}

// ParseHeader decodes a PTPv1 header from the front of data. data must be
// at least HeaderSize bytes.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, ErrShort
	}
	h.VersionPTP = data[0] >> 4
	h.MessageLength = binary.BigEndian.Uint16(data[2:4])
	// bytes 4:20 are the subdomain, skipped.
	h.Control = data[32]
	copy(h.SourceUUID[:], data[22:28])
	h.SequenceID = binary.BigEndian.Uint16(data[30:32])
	h.MessageType = messageTypeFromControl(h.Control)
	return h, nil
}

// Bytes serializes a Header back into a HeaderSize-byte wire buffer. Fields
// this system never reads (subdomain, source communication technology,
// source port id, flags) are zeroed; it exists primarily to exercise the
// round-trip invariant in tests.
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.VersionPTP << 4
	binary.BigEndian.PutUint16(buf[2:4], h.MessageLength)
	copy(buf[22:28], h.SourceUUID[:])
	binary.BigEndian.PutUint16(buf[30:32], h.SequenceID)
	buf[32] = h.Control
	return buf
}

func (h Header) String() string {
	return fmt.Sprintf("Header(type=%s seq=%d uuid=%x)", h.MessageType, h.SequenceID, h.SourceUUID)
}

// FollowUpBodySize is the fixed size of a FollowUp body following the
// common header.
const FollowUpBodySize = 16

// Timestamp is a PTPv1 wire timestamp: 32-bit seconds plus 32-bit
// nanoseconds since the PTP epoch.
type Timestamp struct {
	Seconds     uint32
	Nanoseconds uint32
}

// Nanos canonicalizes the timestamp into a signed 64-bit nanosecond count.
func (t Timestamp) Nanos() int64 {
	return int64(t.Seconds)*1_000_000_000 + int64(t.Nanoseconds)
}

// FollowUpBody is the payload of a PTPv1 FollowUp message.
type FollowUpBody struct {
	AssociatedSequenceID   uint16
	PreciseOriginTimestamp Timestamp
}

// ParseFollowUpBody decodes a FollowUp body from data, which must start
// right after the common header and be at least FollowUpBodySize bytes.
func ParseFollowUpBody(data []byte) (FollowUpBody, error) {
	var b FollowUpBody
	if len(data) < FollowUpBodySize {
		return b, ErrShort
	}
	// 6 bytes of padding precede the associated sequence id.
	b.AssociatedSequenceID = binary.BigEndian.Uint16(data[6:8])
	b.PreciseOriginTimestamp.Seconds = binary.BigEndian.Uint32(data[8:12])
	b.PreciseOriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(data[12:16])
	return b, nil
}

// Bytes serializes a FollowUpBody back into a FollowUpBodySize-byte wire
// buffer, for round-trip tests.
func (b FollowUpBody) Bytes() []byte {
	buf := make([]byte, FollowUpBodySize)
	binary.BigEndian.PutUint16(buf[6:8], b.AssociatedSequenceID)
	binary.BigEndian.PutUint32(buf[8:12], b.PreciseOriginTimestamp.Seconds)
	binary.BigEndian.PutUint32(buf[12:16], b.PreciseOriginTimestamp.Nanoseconds)
	return buf
}

// SyncBodyGMOffset is the offset of the grandmaster UUID within a Sync
// message body, used only for optional grandmaster discovery.
const SyncBodyGMOffset = 13

// ParseSyncGMUUID extracts the 6-byte grandmaster UUID that some Dante
// devices carry in the Sync body, at offset 13. This is best-effort
// discovery information; it is not required for phase-offset extraction.
func ParseSyncGMUUID(data []byte) ([6]byte, error) {
	var uuid [6]byte
	if len(data) < SyncBodyGMOffset+6 {
		return uuid, ErrShort
	}
	copy(uuid[:], data[SyncBodyGMOffset:SyncBodyGMOffset+6])
	return uuid, nil
}
