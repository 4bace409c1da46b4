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

// Package controller implements the core state machine (component G):
// it drains the PTPv1 receive transport, pairs Sync/FollowUp into
// (T1, T2), derives a phase offset, drives the PI servo and the
// platform clock, and periodically steps the wallclock from the
// secondary NTP source. See spec.md §4.G for the algorithm this is
// built from.
package controller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dantesync/dantesyncd/clock"
	"github.com/dantesync/dantesyncd/config"
	ntpclient "github.com/dantesync/dantesyncd/ntp/client"
	"github.com/dantesync/dantesyncd/ptp/pairer"
	"github.com/dantesync/dantesyncd/ptp/protocol"
	"github.com/dantesync/dantesyncd/ptp/transport"
	"github.com/dantesync/dantesyncd/servo"
	"github.com/dantesync/dantesyncd/status"
)

// maxDeltaNS bounds the plausibility window alongside the
// platform-dependent minDeltaNS, per spec.md §4.G item 2.
const maxDeltaNS = 2_000_000_000

// statusLogInterval is how often the controller logs a status line,
// independent of how often SyncStatus is published (which happens
// on every applied update).
const statusLogInterval = 30 * time.Second

// State is the controller's position in the INIT/SETTLING/LOCKED state
// machine described in spec.md §4.G.
type State int

// Controller states.
const (
	StateInit State = iota
	StateSettling
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSettling:
		return "SETTLING"
	case StateLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// ntpResult is one SNTP query outcome, handed from the helper goroutine
// to the main loop over a buffered channel.
type ntpResult struct {
	magnitude time.Duration
	sign      int8
	err       error
}

// Controller owns the pairer, servo, and platform clock and runs the
// single cooperative loop described in spec.md §5.
type Controller struct {
	cfg       *config.SystemConfig
	transport transport.Transport
	clock     clock.Platform
	ntp       *ntpclient.Client
	servo     *servo.PiServo
	pairer    *pairer.Pairer
	store     *status.Store
	filter    *offsetFilter

	state       State
	validCount  int
	calibration int
	prevT1      int64
	prevT2      int64

	lastPhaseOffsetNS int64
	lastAdjPPM        float64
	gmUUID            [6]byte
	hasGMUUID         bool

	initialEpochOffsetNS int64
	epochAligned         bool

	lastRTCUpdate time.Time

	startedAt time.Time
}

// New builds a Controller from its already-constructed dependencies.
// The caller owns opening the transport and platform clock and is
// responsible for closing them after Run returns.
func New(cfg *config.SystemConfig, tr transport.Transport, plat clock.Platform, ntp *ntpclient.Client, store *status.Store) *Controller {
	return &Controller{
		cfg:       cfg,
		transport: tr,
		clock:     plat,
		ntp:       ntp,
		servo: servo.New(servo.Config{
			KP:             cfg.Servo.KP,
			KI:             cfg.Servo.KI,
			MaxIntegralPPM: cfg.Servo.MaxIntegralPPM,
		}),
		pairer: pairer.New(),
		store:  store,
		filter: newOffsetFilter(cfg.Filters.SampleWindowSize),
	}
}

// Run drives the controller until ctx is cancelled. It returns the
// first non-nil error from either the main loop or the NTP helper
// goroutine; a cancelled ctx surfaces as ctx.Err(), which callers should
// treat as an orderly shutdown.
func (c *Controller) Run(ctx context.Context) error {
	c.startedAt = time.Now()
	c.lastRTCUpdate = time.Time{}

	eg, ctx := errgroup.WithContext(ctx)
	results := make(chan ntpResult, 1)

	eg.Go(func() error { return c.runNTPLoop(ctx, results) })
	eg.Go(func() error { return c.runMainLoop(ctx, results) })

	return eg.Wait()
}

// runNTPLoop queries the secondary NTP source on cfg.NTP.QueryPeriod and
// forwards each outcome to results, non-blockingly: a result the main
// loop hasn't yet consumed is replaced rather than queued, since only
// the latest absolute-time reading matters.
func (c *Controller) runNTPLoop(ctx context.Context, results chan<- ntpResult) error {
	ticker := time.NewTicker(c.cfg.NTP.QueryPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			qctx, cancel := context.WithTimeout(ctx, c.cfg.NTP.Timeout)
			magnitude, sign, err := c.ntp.Query(qctx)
			cancel()
			select {
			case results <- ntpResult{magnitude: magnitude, sign: sign, err: err}:
			default:
				select {
				case <-results:
				default:
				}
				results <- ntpResult{magnitude: magnitude, sign: sign, err: err}
			}
		}
	}
}

// runMainLoop is the single-threaded cooperative loop of spec.md §5: it
// drains the transport, processes at most one PTP message per
// iteration, and services the NTP result channel and periodic status
// logging between receives.
func (c *Controller) runMainLoop(ctx context.Context, results <-chan ntpResult) error {
	statusTicker := time.NewTicker(statusLogInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-results:
			c.handleNTPResult(res)
		case <-statusTicker.C:
			c.logStatus()
		default:
		}

		pkt, err := c.transport.RecvPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("controller: transport recv failed: %v", err)
			continue
		}
		if pkt == nil {
			// idle sleep, per spec.md §5 suspension point (b)
			time.Sleep(time.Millisecond)
			continue
		}
		c.handlePacket(pkt)
	}
}

func (c *Controller) handlePacket(pkt *transport.Packet) {
	switch pkt.Header.MessageType {
	case protocol.Sync:
		c.pairer.InsertSync(pkt.Header.SequenceID, pkt.RxTime.UnixNano(), pkt.Header.SourceUUID)
		if uuid, err := protocol.ParseSyncGMUUID(pkt.Body); err == nil {
			c.gmUUID = uuid
			c.hasGMUUID = true
		}
	case protocol.FollowUp:
		body, err := protocol.ParseFollowUpBody(pkt.Body)
		if err != nil {
			return
		}
		pair, ok := c.pairer.ResolveFollowUp(body.AssociatedSequenceID, body.PreciseOriginTimestamp.Nanos(), pkt.Header.SourceUUID)
		if !ok {
			return
		}
		c.handlePair(pair.T1, pair.T2)
	default:
		// DelayReq/DelayResp/Management are recognized but unused: this
		// is a one-way phase follower, not a two-way delay measurement.
	}
}

// handlePair runs algorithm steps 1-7 of spec.md §4.G on one valid
// (T1, T2) pair.
func (c *Controller) handlePair(t1NS, t2NS int64) {
	// step 1: phase offset, normalized to (-5e8, +5e8]
	offsetNS := (t2NS % 1_000_000_000) - (t1NS % 1_000_000_000)
	if offsetNS > 500_000_000 {
		offsetNS -= 1_000_000_000
	} else if offsetNS <= -500_000_000 {
		offsetNS += 1_000_000_000
	}
	c.lastPhaseOffsetNS = offsetNS

	// step 2: plausibility
	if c.prevT1 != 0 && c.prevT2 != 0 {
		deltaT1 := t1NS - c.prevT1
		deltaT2 := t2NS - c.prevT2
		if !inRange(deltaT1, c.cfg.Filters.MinDeltaNS, maxDeltaNS) || !inRange(deltaT2, c.cfg.Filters.MinDeltaNS, maxDeltaNS) {
			log.Debugf("controller: implausible pair delta1=%dns delta2=%dns, dropping", deltaT1, deltaT2)
			c.prevT1, c.prevT2 = t1NS, t2NS
			return
		}
	}

	// calibration: absorb the platform's first few noisy samples (0 on
	// kernel-timestamping platforms) without counting them or feeding the
	// servo, per spec.md §4.I.
	if c.calibration < c.cfg.Filters.CalibrationSamples {
		c.calibration++
		c.prevT1, c.prevT2 = t1NS, t2NS
		return
	}

	c.validCount++
	if c.validCount >= c.cfg.Controller.SettlingThreshold {
		if c.state != StateLocked {
			c.onFirstLock(t1NS, t2NS, offsetNS)
			if c.state != StateLocked {
				// step issued; reset() already ran and put us back in INIT.
				return
			}
		}

		smoothedOffsetNS := c.filter.Feed(offsetNS)
		adjPPM := c.servo.Sample(smoothedOffsetNS)
		maxAdj, err := c.clock.MaxFreqAdjPPM()
		if err != nil {
			maxAdj = c.cfg.Servo.MaxFreqAdjPPM
		}
		if limit := c.cfg.Servo.MaxFreqAdjPPM; limit > 0 && limit < maxAdj {
			maxAdj = limit
		}
		adjPPM = clampPPM(adjPPM, maxAdj)
		c.lastAdjPPM = adjPPM

		if err := c.clock.AdjustFrequencyPPM(adjPPM); err != nil {
			log.Warnf("controller: frequency adjustment failed: %v", err)
		}

		c.maybePersistRTC(false)
	} else {
		c.state = StateSettling
	}

	c.prevT1, c.prevT2 = t1NS, t2NS
	c.publishStatus()
}

// onFirstLock implements step 3: the INIT->LOCKED transition, including
// the one-time large-offset step that guarantees the servo's
// small-signal regime.
func (c *Controller) onFirstLock(t1NS, t2NS, offsetNS int64) {
	c.initialEpochOffsetNS = t2NS - t1NS
	c.epochAligned = true

	if abs64(offsetNS) > c.cfg.Controller.StepThresholdNS {
		sign := int8(1)
		if offsetNS > 0 {
			sign = -1
		}
		stepDuration := time.Duration(abs64(offsetNS)) * time.Nanosecond
		log.Infof("controller: initial phase offset %dns exceeds step threshold, stepping clock", offsetNS)
		if err := c.clock.Step(stepDuration, sign); err != nil {
			log.Errorf("controller: initial step failed: %v", err)
			// fall through to servo operation per spec.md §4.G failure semantics
			c.state = StateLocked
			c.maybePersistRTC(true)
			return
		}
		c.resetAfterStep()
		return
	}

	c.state = StateLocked
	log.Infof("controller: sync established, first lock")
	c.maybePersistRTC(true)
}

// resetAfterStep returns the controller to INIT after a first-lock step,
// clearing the pairer, servo, and prev-pair state so the next pair is
// evaluated from a clean slate.
func (c *Controller) resetAfterStep() {
	c.state = StateInit
	c.validCount = 0
	c.calibration = 0
	c.prevT1, c.prevT2 = 0, 0
	c.servo.Reset()
	c.filter.Reset()
	c.pairer = pairer.New()
}

// handleNTPResult implements step 5: absolute-time discipline from the
// secondary NTP source. NTP is the sole authority for UTC; PTP supplies
// only frequency and sub-second phase.
func (c *Controller) handleNTPResult(res ntpResult) {
	if res.err != nil {
		log.Warnf("controller: NTP query failed: %v", res.err)
		return
	}
	if res.magnitude <= c.cfg.NTP.StepThreshold {
		log.Debugf("controller: NTP offset %v within threshold, not stepping", res.magnitude)
		return
	}
	log.Infof("controller: NTP offset %v exceeds threshold, stepping clock", res.magnitude)
	if err := c.clock.Step(res.magnitude, res.sign); err != nil {
		log.Errorf("controller: NTP-driven step failed: %v", err)
	}
}

// maybePersistRTC implements step 6: RTC persistence at most once per
// cfg.Controller.RTCUpdatePeriod, plus unconditionally on first lock.
func (c *Controller) maybePersistRTC(force bool) {
	if !force && time.Since(c.lastRTCUpdate) < c.cfg.Controller.RTCUpdatePeriod {
		return
	}
	if err := clock.PersistRTC(time.Now()); err != nil {
		log.Debugf("controller: RTC persist skipped: %v", err)
	}
	c.lastRTCUpdate = time.Now()
}

// publishStatus implements step 7's bookkeeping half: writing the
// SyncStatus snapshot every reader sees.
func (c *Controller) publishStatus() {
	c.store.Set(status.SyncStatus{
		OffsetNS:  c.lastPhaseOffsetNS,
		DriftPPM:  c.lastAdjPPM,
		GMUUID:    c.gmUUID,
		HasGMUUID: c.hasGMUUID,
		Settled:   c.state == StateLocked,
		UpdatedTS: time.Now(),
	})
}

func (c *Controller) logStatus() {
	if c.state != StateLocked {
		log.Infof("controller: %s (%d/%d valid pairs)", c.state, c.validCount, c.cfg.Controller.SettlingThreshold)
		return
	}
	log.Infof("controller: %s offset=%dns adj=%.4fppm", c.state, c.lastPhaseOffsetNS, c.lastAdjPPM)
}

func inRange(v, lo, hi int64) bool {
	return v >= lo && v <= hi
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampPPM(adjPPM, maxAbs float64) float64 {
	if maxAbs <= 0 {
		return adjPPM
	}
	if adjPPM > maxAbs {
		return maxAbs
	}
	if adjPPM < -maxAbs {
		return -maxAbs
	}
	return adjPPM
}
