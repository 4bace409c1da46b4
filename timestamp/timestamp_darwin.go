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

package timestamp

import (
	"encoding/binary"
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unix.Cmsghdr size differs depending on platform
var socketControlMessageHeaderOffset = binary.Size(unix.Cmsghdr{})

var timestamping = unix.SO_TIMESTAMP

// byteToTime converts bytes into a timestamp
func byteToTime(data []byte) (time.Time, error) {
	// darwin/freebsd support only SO_TIMESTAMP mode, which returns timeval
	timeval := (*unix.Timeval)(unsafe.Pointer(&data[0]))
	return time.Unix(timeval.Unix()), nil
}

// scmDataToTime parses SocketControlMessage Data field into time.Time.
func scmDataToTime(data []byte) (ts time.Time, err error) {
	size := binary.Size(unix.Timeval{})

	ts, err = byteToTime(data[0:size])
	if err != nil {
		return ts, err
	}
	if ts.UnixNano() == 0 {
		return ts, errors.New("got zero timestamp")
	}
	return ts, nil
}

// socketControlMessageTimestamp parses the timestamp out of a control message.
func socketControlMessageTimestamp(b []byte, _ int) (time.Time, error) {
	return scmDataToTime(b[socketControlMessageHeaderOffset:])
}

// EnableSWTimestampsRx enables kernel RX timestamps on the socket.
func EnableSWTimestampsRx(connFd int) error {
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, 1)
}

// EnableTimestamps enables timestamps on the socket based on requested type.
func EnableTimestamps(ts Timestamp, connFd int) error {
	switch ts {
	case SWRX:
		return EnableSWTimestampsRx(connFd)
	default:
		return errors.New("unrecognized timestamp type")
	}
}
