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

// Package servo implements the PI control loop that turns a measured
// phase offset into a frequency adjustment in PPM.
package servo

import (
	log "github.com/sirupsen/logrus"
)

// Config holds the PI servo's tunables, loaded from SystemConfig.
type Config struct {
	KP             float64
	KI             float64
	MaxIntegralPPM float64
}

// DefaultConfig returns the LAN defaults noted in the spec: kp≈0.0005,
// ki≈0.00005, integral clamp of 100 PPM.
func DefaultConfig() Config {
	return Config{
		KP:             0.0005,
		KI:             0.00005,
		MaxIntegralPPM: 100,
	}
}

// PiServo maps a phase offset in nanoseconds to a frequency adjustment in
// PPM, with an anti-windup integral term. It holds no notion of wall time
// or sequence, and makes no I/O calls; the controller (package
// sync/controller) is the sole caller of Sample.
type PiServo struct {
	cfg      Config
	integral float64
}

// New creates a PiServo from cfg.
func New(cfg Config) *PiServo {
	return &PiServo{cfg: cfg}
}

// Sample computes the frequency adjustment in PPM needed to correct
// offsetNS towards zero.
//
// error is -offsetNS: a positive (local-ahead) offset must produce a
// negative (slow-down) adjustment. The integral term accumulates
// error*ki and is clamped to ±MaxIntegralPPM; the proportional term is
// error*kp. Sample does not itself clamp the combined output to
// MaxFreqAdjPPM - that clamp is the controller's responsibility, since
// only the controller knows the configured clock-wide limit.
func (s *PiServo) Sample(offsetNS int64) float64 {
	errorPPM := -float64(offsetNS)

	s.integral += errorPPM * s.cfg.KI
	if s.integral > s.cfg.MaxIntegralPPM {
		s.integral = s.cfg.MaxIntegralPPM
	} else if s.integral < -s.cfg.MaxIntegralPPM {
		s.integral = -s.cfg.MaxIntegralPPM
	}

	proportional := errorPPM * s.cfg.KP
	adjPPM := proportional + s.integral

	log.Debugf("servo: offset=%dns proportional=%.4fppm integral=%.4fppm adj=%.4fppm", offsetNS, proportional, s.integral, adjPPM)
	return adjPPM
}

// Reset zeroes the integral term. Called by the controller on every
// re-settle or step, so the servo never carries wind-up across a
// discontinuity it didn't correct for.
func (s *PiServo) Reset() {
	s.integral = 0
}

// Integral returns the current integral term, mostly for tests and status
// reporting.
func (s *PiServo) Integral() float64 {
	return s.integral
}
