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

// Package controller implements the clock controller thread (spec
// §4.4): it binds a master and slave clock domain, computes a
// PI-plus-rate correction factor, and drives a pll.Driver. The
// coalesced wake-up is modelled with a single-slot buffered channel,
// the way the teacher's worker goroutines select over a bounded queue
// channel (ptp/ptp4u/server/worker.go) rather than a queue, matching
// spec §9's "single-slot condition variable, not a queue".
package controller

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/clockdomain"
	"github.com/avbsh/streamhandler/pll"
)

// LockState is the controller's own state machine (spec §4.4), distinct
// from clockdomain.LockState.
type LockState int

const (
	StateInit LockState = iota
	StateUnlocked
	StateLockingRate
	StateLockingPhase
	StateLocked
	StateOff
)

func (s LockState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUnlocked:
		return "unlocked"
	case StateLockingRate:
		return "lockingRate"
	case StateLockingPhase:
		return "lockingPhase"
	case StateLocked:
		return "locked"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// Config carries the PI-plus-rate tunables (spec §4.4), with the
// original's documented defaults.
type Config struct {
	Gain           float64 // default 100e-9
	Coeff1         float64 // default 0.5
	Coeff2         float64 // default 1-Coeff1 (gain-neutral), override explicitly if needed
	Coeff3         float64 // default 0.8
	Coeff4         float64 // default 0.0
	HoldOffNs      uint64  // default 60_000_000
	LockCountMax   uint64  // default 5
	LockThresholdPPM float64 // scaled 1e-6, default 2e-6 absolute (i.e. 2 passed in ppm-like units already scaled)
	WaitUs         uint64  // default 25000, minimum 1000 (>= 1ms)
	UpperLimitPPM  float64 // default 100 (=> upper=1+100e-6)
	LowerLimitPPM  float64 // default 100 (=> lower=1/(1+100e-6))
	Engage         bool    // default true
	DriverParam    string
}

// DefaultConfig returns the original's documented defaults.
func DefaultConfig() Config {
	return Config{
		Gain:             100e-9,
		Coeff1:           0.5,
		Coeff2:           0.5,
		Coeff3:           0.8,
		Coeff4:           0.0,
		HoldOffNs:        60_000_000,
		LockCountMax:     5,
		LockThresholdPPM: 2.0,
		WaitUs:           25000,
		UpperLimitPPM:    100,
		LowerLimitPPM:    100,
		Engage:           true,
	}
}

const waitMinUs = 1000

// Controller is a cooperating thread binding two clock domains as
// master and slave.
type Controller struct {
	cfg    Config
	master *clockdomain.Domain
	slave  *clockdomain.Domain
	driver pll.Driver

	upperLimit float64
	lowerLimit float64

	wake chan struct{} // single-slot coalesced signal, see package doc

	mu    sync.Mutex
	state LockState
}

// New binds master and slave, registers the controller as their
// client, and validates the driver. Call Run to start the thread.
func New(cfg Config, master, slave *clockdomain.Domain, driver pll.Driver) (*Controller, error) {
	if cfg.WaitUs < waitMinUs {
		log.WithField("configured", cfg.WaitUs).Warn("clockcontroller: wait interval too small, clamped")
		cfg.WaitUs = waitMinUs
	}
	c := &Controller{
		cfg:        cfg,
		master:     master,
		slave:      slave,
		driver:     driver,
		upperLimit: 1.0 + cfg.UpperLimitPPM*1e-6,
		lowerLimit: 1.0 / (1.0 + cfg.LowerLimitPPM*1e-6),
		wake:       make(chan struct{}, 1),
		state:      StateInit,
	}
	if err := slave.RegisterClient(c); err != nil {
		return nil, err
	}
	if err := master.RegisterClient(c); err != nil {
		_ = slave.UnregisterClient(c)
		return nil, err
	}
	return c, nil
}

// Close unregisters the controller from both domains.
func (c *Controller) Close() {
	_ = c.slave.UnregisterClient(c)
	_ = c.master.UnregisterClient(c)
}

// NotifyUpdateRatio signals the thread when the slave domain updates;
// master notifications are ignored here, mirroring the original's
// notifyUpdateRatio which only signals on the slave.
func (c *Controller) NotifyUpdateRatio(_ float64, domain *clockdomain.Domain) {
	if domain != c.slave {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// NotifyUpdateLockState drops the controller back to unlocked whenever
// either bound domain reports anything below locked while the
// controller itself believed it was further along.
func (c *Controller) NotifyUpdateLockState(newState clockdomain.LockState, domain *clockdomain.Domain) {
	if domain != c.master && domain != c.slave {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if newState < clockdomain.LockLocked && c.state > StateUnlocked {
		c.state = StateUnlocked
	}
}

// State returns the controller's current state.
func (c *Controller) State() LockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run blocks, executing the control loop until ctx is cancelled. It is
// meant to be run under an errgroup alongside the engine's other
// cooperating goroutines (spec §5).
func (c *Controller) Run(ctx context.Context) error {
	var lastCountMaster, lastCountSlave int64
	var lastTimeMaster, lastTimeSlave uint64
	var offset int64
	var holdOff uint64
	var lockCount uint64
	var lastDev, bufDev, bufRate float64

	coeff2 := c.cfg.Coeff2
	lockThreshold := c.cfg.LockThresholdPPM * 1e-6

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}

		correction0 := 1.0

		masterCountU, masterTime := c.master.GetEventCount()
		slaveCountU, slaveTime := c.slave.GetEventCount()
		masterCount := int64(masterCountU)
		slaveCount := int64(slaveCountU)

		deltaTM := int64(masterTime) - int64(lastTimeMaster)
		deltaTS := int64(slaveTime) - int64(lastTimeSlave)
		timeOffset := float64(int64(masterTime) - int64(slaveTime))

		if int64(slaveTime)-int64(lastTimeSlave) < 0 {
			c.master.SetResetRequest()
			holdOff = 0
		}

		var masterRate, slaveRate float64
		c.mu.Lock()
		if deltaTM == 0 {
			c.state = StateUnlocked
		} else {
			masterRate = float64(masterCount-lastCountMaster) / float64(deltaTM)
		}
		if deltaTS == 0 {
			c.state = StateUnlocked
		} else {
			slaveRate = float64(slaveCount-lastCountSlave) / float64(deltaTS)
		}

		deviation := float64((slaveCount-masterCount)-offset) + timeOffset*masterRate

		switch c.state {
		case StateInit:
			c.state = StateUnlocked
		case StateUnlocked:
			if c.master.GetLockState() == clockdomain.LockLocked {
				lockCount = 0
				c.state = StateLockingRate
				holdOff = 0
			}
		case StateLockingRate:
			masterFiltered := c.master.GetRateRatio()
			slaveFiltered := c.slave.GetRateRatio()
			if math.Abs(masterFiltered-slaveFiltered) < lockThreshold {
				lockCount++
				if lockCount > c.cfg.LockCountMax {
					lockCount = 0
					c.state = StateLockingPhase
					offset = slaveCount - masterCount + int64(timeOffset*masterRate)
					lastDev = 0
				}
			} else {
				lockCount = 0
			}
			fallthrough
		case StateLockingPhase, StateLocked:
			if masterTime > holdOff || masterTime < holdOff-c.cfg.HoldOffNs {
				if slaveRate != 0 {
					correction0 = masterRate / slaveRate
				}
				holdOff = masterTime + c.cfg.HoldOffNs
			}
			if c.state >= StateLockingPhase {
				rate := deviation - lastDev
				lastDev = deviation

				bufDev = c.cfg.Coeff1*(-deviation) + coeff2*bufDev
				bufRate = c.cfg.Coeff3*(-rate) + c.cfg.Coeff4*bufRate

				correction0 = correction0 + (bufDev+bufRate)*c.cfg.Gain

				if c.state == StateLockingPhase && math.Abs(deviation) < 1.0 {
					c.state = StateLocked
				}
				if math.Abs(deviation) > 10.0 {
					lockCount = 0
					correction0 = 1.0
					c.state = StateLockingRate
					holdOff = 0
				}
			}
		case StateOff:
			correction0 = 1.0
		}
		state := c.state
		c.mu.Unlock()

		lastCountMaster, lastCountSlave = masterCount, slaveCount
		lastTimeMaster, lastTimeSlave = masterTime, slaveTime

		correction := correction0
		if correction > c.upperLimit {
			correction = c.upperLimit
		}
		if correction < c.lowerLimit {
			correction = c.lowerLimit
		}

		if c.cfg.Engage && correction != 1.0 {
			if err := c.driver.UpdateRelative(c.cfg.DriverParam, (correction-1.0)*1e6); err != nil {
				log.WithError(err).Warn("clockcontroller: driver update failed")
			}
		}

		log.WithFields(log.Fields{
			"state":      state,
			"deviation":  deviation,
			"correction": correction - 1.0,
		}).Trace("clockcontroller: tick")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(c.cfg.WaitUs) * time.Microsecond):
		}
	}
}
