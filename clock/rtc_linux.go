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

package clock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// rtcDevice is the hardware real-time clock device persisted to on the
// cadence described by spec.md §4.G item 6.
const rtcDevice = "/dev/rtc0"

// PersistRTC writes t to the hardware RTC via RTC_SET_TIME, the same
// ioctl family facebook-time's phc package uses for PHC device access.
// Absent or unsupported RTC hardware (containers, most VMs) is reported
// as an error the caller is expected to log and ignore.
func PersistRTC(t time.Time) error {
	f, err := os.OpenFile(rtcDevice, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", rtcDevice, err)
	}
	defer f.Close()

	tm := t.UTC()
	rtcTime := unix.RTCTime{
		Sec:   int32(tm.Second()),
		Min:   int32(tm.Minute()),
		Hour:  int32(tm.Hour()),
		Mday:  int32(tm.Day()),
		Mon:   int32(tm.Month() - 1),
		Year:  int32(tm.Year() - 1900),
		Wday:  int32(tm.Weekday()),
		Yday:  int32(tm.YearDay() - 1),
		Isdst: 0,
	}
	if err := unix.IoctlSetRTCTime(int(f.Fd()), &rtcTime); err != nil {
		return fmt.Errorf("RTC_SET_TIME: %w", err)
	}
	return nil
}
