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

/*
Package clock wraps the CLOCK_ADJTIME syscall and exposes it through the
Platform interface (component D): acquiring the clock, reading and
adjusting its frequency in PPM, stepping it discontinuously, and
restoring its nominal frequency on Close.

The low-level Adjtime/FrequencyPPB/AdjFreqPPB/Step/MaxFreqPPB functions
are Linux-only; SystemClock wraps them on Linux, and
ErrUnsupportedPlatform is returned by NewSystemClock elsewhere.
FreeRunningClock implements the same interface without touching the OS,
for tests and dry-run mode.
*/
package clock
