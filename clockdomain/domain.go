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

// Package clockdomain implements the rate-ratio clock-domain framework
// shared by every stream: a two-filter (fast/slow) low-pass rate-ratio
// tracker, a four-state lock machine, and a single-client notification
// slot. Variant domains (ptp, raw-monotonic, software, receive-stream,
// alsa) embed *Domain and supply their own event-count refresh.
package clockdomain

import (
	"math"
	"sync"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/avberr"
)

// Type tags the domain's variant, grounded on the spec's Data Model
// "type tag (ptp|raw|sw|rx|alsa|hw-capture)". alsa and hw-capture name
// the same variant; ALSA is the one this package constructs.
type Type int

const (
	TypePTP Type = iota
	TypeRaw
	TypeSW
	TypeRx
	TypeALSA
)

// LockState is the clock domain's lock machine state (spec §4.2).
type LockState int

const (
	LockInit LockState = iota
	LockUnlocked
	LockLocking
	LockLocked
)

func (s LockState) String() string {
	switch s {
	case LockInit:
		return "init"
	case LockUnlocked:
		return "unlocked"
	case LockLocking:
		return "locking"
	case LockLocked:
		return "locked"
	default:
		return "unknown"
	}
}

const (
	minRateRatio = 0.0
	maxRateRatio = 10.0
)

// Client is the single-implementer capability a clock domain notifies
// on ratio updates and lock-state transitions (spec §9 "Polymorphism":
// "a trait or function pair passed at register time").
type Client interface {
	NotifyUpdateRatio(rateRatio float64, domain *Domain)
	NotifyUpdateLockState(state LockState, domain *Domain)
}

// EventCountRefresher is the variant-specific "event count refresh"
// hook (spec §9), called by GetEventCount before reading the counter
// under lock. Variants that have nothing to lazily refresh may leave
// this nil.
type EventCountRefresher interface {
	OnGetEventCount(d *Domain)
}

// Domain is the base rate-ratio clock domain shared by every variant.
type Domain struct {
	mu sync.Mutex

	id       uint32
	typ      Type
	eventRate float64

	rateRatioFast float64
	rateRatioSlow float64
	rateRatioBits uint64 // externally visible ratio, post-clamp/compensation, as float64 bits for lock-free reads

	eventCount    uint64
	eventTimeNs   uint64 // PTP ns of the last update

	lockState LockState
	resetRequest bool

	// filter configuration
	tc          float64 // time constant, seconds
	callRate    float64 // average calls per second
	coeffFastLocked   float64
	coeffFastUnlocked float64
	coeffSlowLocked   float64
	coeffSlowUnlocked float64

	threshold1 float64 // fast band, as (1+ppm*1e-6)
	threshold2 float64 // slow band

	driftCompensation float64 // multiplier, linear in ppm over +-1e6

	client Client

	refresher EventCountRefresher

	stats *welford.Stats // rolling rate-ratio stats for diagnostics, grounded on fbclock/daemon/math.go's use of welford

	debugMinRatio float64
	debugMaxRatio float64
}

// Config bundles the construction-time parameters for NewDomain.
type Config struct {
	ID        uint32
	Type      Type
	EventRate float64
	// TimeConstantSec and CallRate seed setFilter; pass 0 to leave the
	// domain with identity (no-op) filter coefficients until SetFilter
	// is called explicitly.
	TimeConstantSec float64
	CallRate        float64
	// Threshold1PPM / Threshold2PPM seed SetLockThreshold1/2; 0 leaves
	// the threshold at 1.0, a zero-width band that only exactly equal
	// ratios satisfy.
	Threshold1PPM float64
	Threshold2PPM float64
}

// NewDomain constructs a Domain in LockInit state with rateRatio == 1.0.
func NewDomain(cfg Config) *Domain {
	d := &Domain{
		id:                cfg.ID,
		typ:               cfg.Type,
		eventRate:         cfg.EventRate,
		rateRatioFast:     1.0,
		rateRatioSlow:     1.0,
		rateRatioBits:     math.Float64bits(1.0),
		lockState:         LockInit,
		driftCompensation: 1.0,
		threshold1:        1.0,
		threshold2:        1.0,
		stats:             welford.New(),
		debugMinRatio:     math.Inf(1),
		debugMaxRatio:     math.Inf(-1),
	}
	if cfg.Threshold1PPM != 0 {
		d.SetLockThreshold1(cfg.Threshold1PPM)
	}
	if cfg.Threshold2PPM != 0 {
		d.SetLockThreshold2(cfg.Threshold2PPM)
	}
	if cfg.TimeConstantSec != 0 && cfg.CallRate != 0 {
		d.SetFilter(cfg.TimeConstantSec, cfg.CallRate)
	} else {
		// identity coefficients: fast filter tracks immediately, slow
		// filter tracks immediately; callers relying on gradual
		// convergence must call SetFilter themselves.
		d.coeffFastLocked, d.coeffFastUnlocked = 0, 0
		d.coeffSlowLocked, d.coeffSlowUnlocked = 0, 0
	}
	return d
}

// ID returns the domain's unique clock id.
func (d *Domain) ID() uint32 { return d.id }

// Type returns the domain's variant tag.
func (d *Domain) Type() Type { return d.typ }

// EventRate returns the domain's nominal event rate in Hz.
func (d *Domain) EventRate() float64 { return d.eventRate }

// setRefresher is used by variant constructors to install their
// OnGetEventCount hook; unexported because only this package's variant
// files call it, at construction time.
func (d *Domain) setRefresher(r EventCountRefresher) { d.refresher = r }

// SetFilter sets the time constant (seconds) and expected call rate,
// deriving the four filter coefficients via coeff = exp(-1/(tc*fs*k))
// for k in {1, long-term, unlock, long-term*unlock}. Forces the lock
// state back to unlocked if it was beyond that (spec §4.2).
func (d *Domain) SetFilter(tc, callsPerSec float64) {
	const longTerm = 10.0
	const unlock = 0.1

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tc = tc
	d.callRate = callsPerSec

	coeff := func(k float64) float64 {
		if tc <= 0 || callsPerSec <= 0 || k <= 0 {
			return 0
		}
		return math.Exp(-1.0 / (tc * callsPerSec * k))
	}

	d.coeffFastLocked = coeff(1.0)
	d.coeffFastUnlocked = coeff(unlock)
	d.coeffSlowLocked = coeff(longTerm)
	d.coeffSlowUnlocked = coeff(longTerm * unlock)

	var changed bool
	var newState LockState
	if d.lockState != LockInit && d.lockState != LockUnlocked {
		changed, newState = d.setLockStateLocked(LockUnlocked)
	}
	client := d.client
	d.mu.Unlock()
	if changed && client != nil {
		client.NotifyUpdateLockState(newState, d)
	}
	d.mu.Lock()
}

// SetLockThreshold1 sets the fast symmetric threshold as (1+ppm*1e-6).
func (d *Domain) SetLockThreshold1(ppm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold1 = 1.0 + ppm*1e-6
}

// SetLockThreshold2 sets the slow symmetric threshold as (1+ppm*1e-6).
func (d *Domain) SetLockThreshold2(ppm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold2 = 1.0 + ppm*1e-6
}

// SetDriftCompensation sets a piecewise-linear compensation multiplier
// over +-1e6 ppm; out of range returns ErrInvalidParam (spec S3).
func (d *Domain) SetDriftCompensation(ppm float64) error {
	if ppm > 1e6 || ppm < -1e6 {
		return avberr.ErrInvalidParam
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driftCompensation = 1.0 - ppm*1e-6
	return nil
}

// DriftCompensation returns the current compensation multiplier.
func (d *Domain) DriftCompensation() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driftCompensation
}

// RegisterClient installs the domain's single notification client.
// Duplicate register returns ErrAlreadyInUse.
func (d *Domain) RegisterClient(c Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return avberr.ErrAlreadyInUse
	}
	d.client = c
	return nil
}

// UnregisterClient removes c as the domain's client. A mismatched
// unregister returns ErrInvalidParam.
func (d *Domain) UnregisterClient(c Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != c {
		return avberr.ErrInvalidParam
	}
	d.client = nil
	return nil
}

// GetRateRatio is the lock-free rate-ratio read path (spec §5: "may
// return a value from an in-flight update, acceptable by design").
func (d *Domain) GetRateRatio() float64 {
	return math.Float64frombits(loadFloat64(&d.rateRatioBits))
}

// GetLockState returns the current lock state.
func (d *Domain) GetLockState() LockState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockState
}

// GetEventCount returns the current count and the PTP ns timestamp of
// its last update, first invoking the variant's OnGetEventCount hook
// outside the lock, then reading the pair under lock (grounded on
// IasAvbClockDomain::getEventCount, which refreshes before locking).
func (d *Domain) GetEventCount() (count uint64, timestampNs uint64) {
	if d.refresher != nil {
		d.refresher.OnGetEventCount(d)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventCount, d.eventTimeNs
}

// setEventCount is called by variant refreshers (and the rx domain)
// under no external lock; it takes the domain lock itself. Event count
// must never decrease.
func (d *Domain) setEventCount(count uint64, timestampNs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if count < d.eventCount {
		log.WithFields(log.Fields{"domain": d.id, "have": d.eventCount, "got": count}).
			Warn("clockdomain: rejecting non-monotonic event count")
		return
	}
	d.eventCount = count
	d.eventTimeNs = timestampNs
}

// SetResetRequest raises the single-read, auto-clearing reset-request
// flag streams poll to learn they must resync after an epoch change.
func (d *Domain) SetResetRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetRequest = true
}

// GetResetRequest reads and clears the reset-request flag.
func (d *Domain) GetResetRequest() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.resetRequest
	d.resetRequest = false
	return r
}

// UpdateRateRatio is the measurement entry point (spec §4.2). It
// rejects ratios outside (0, 10], feeds the fast and slow filters with
// lock-state-dependent coefficients, advances the lock state machine,
// then clamps to the slow band and applies drift compensation to
// produce the externally visible rate ratio.
func (d *Domain) UpdateRateRatio(newRatio float64) error {
	if newRatio <= minRateRatio || newRatio > maxRateRatio {
		return avberr.ErrInvalidParam
	}

	d.mu.Lock()

	locked := d.lockState == LockLocked
	fastCoeff := d.coeffFastUnlocked
	slowCoeff := d.coeffSlowUnlocked
	if locked {
		fastCoeff = d.coeffFastLocked
		slowCoeff = d.coeffSlowLocked
	}

	prevFast := d.rateRatioFast
	d.rateRatioFast = fastCoeff*d.rateRatioFast + (1-fastCoeff)*newRatio
	d.rateRatioSlow = slowCoeff*d.rateRatioSlow + (1-slowCoeff)*newRatio

	lockChanged, newLockState := d.advanceLockStateLocked(newRatio, prevFast)

	lower := d.rateRatioSlow / d.threshold2
	upper := d.rateRatioSlow * d.threshold2
	visible := newRatio
	if visible < lower {
		visible = lower
	} else if visible > upper {
		visible = upper
	}
	visible *= d.driftCompensation
	storeFloat64(&d.rateRatioBits, math.Float64bits(visible))

	if visible < d.debugMinRatio {
		d.debugMinRatio = visible
	}
	if visible > d.debugMaxRatio {
		d.debugMaxRatio = visible
	}
	d.stats.Add(visible)

	client := d.client
	d.mu.Unlock()

	if client != nil {
		client.NotifyUpdateRatio(visible, d)
		if lockChanged {
			client.NotifyUpdateLockState(newLockState, d)
		}
	}
	return nil
}

// advanceLockStateLocked runs the lock state machine (spec §4.2) and
// reports whether the state changed, deferring the client notification
// to the caller so it can fire after d.mu is released. prevFast is the
// fast-filter value before newRatio was folded in; while locked, a
// newRatio outside threshold1 of it unlocks. Must be called with d.mu
// held.
func (d *Domain) advanceLockStateLocked(newRatio, prevFast float64) (changed bool, newState LockState) {
	switch d.lockState {
	case LockInit:
		return d.setLockStateLocked(LockLocking)
	case LockLocking:
		fastOK := withinBand(newRatio, d.rateRatioFast, d.threshold1)
		slowOK := withinBand(d.rateRatioFast, d.rateRatioSlow, d.threshold1)
		if fastOK && slowOK {
			return d.setLockStateLocked(LockLocked)
		}
	case LockLocked:
		if !withinBand(newRatio, prevFast, d.threshold1) ||
			!withinBand(d.rateRatioFast, d.rateRatioSlow, d.threshold2) {
			return d.setLockStateLocked(LockUnlocked)
		}
	case LockUnlocked:
		fastOK := withinBand(newRatio, d.rateRatioFast, d.threshold1)
		slowOK := withinBand(d.rateRatioFast, d.rateRatioSlow, d.threshold1)
		if fastOK && slowOK {
			return d.setLockStateLocked(LockLocked)
		}
	}
	return false, d.lockState
}

func withinBand(a, b, threshold float64) bool {
	if b == 0 {
		return a == 0
	}
	ratio := a / b
	lo := 1.0 / threshold
	hi := threshold
	if lo > hi {
		lo, hi = hi, lo
	}
	return ratio >= lo && ratio <= hi
}

// setLockStateLocked transitions state and reports the change so the
// caller can notify the client after releasing d.mu. Must be called
// with d.mu held.
func (d *Domain) setLockStateLocked(newState LockState) (changed bool, state LockState) {
	if newState == d.lockState {
		return false, d.lockState
	}
	d.lockState = newState
	return true, newState
}
