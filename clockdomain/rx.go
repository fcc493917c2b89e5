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

package clockdomain

import "sync"

// RxConfig carries the configuration keys the original reads for a
// receive-stream clock domain (cClkRxTimeConstant, cClkRxDeviation*,
// cClkRxLockTreshold1/2, cRxClkUpdateInterval).
type RxConfig struct {
	TimeConstantMs    float64 // default 100
	DeviationLongterm float64 // default 10.0
	DeviationUnlock   float64 // default 1.0
	LockThreshold1PPM float64 // default 10000
	LockThreshold2PPM float64 // default 100
	UpdateIntervalUs  uint64  // skip-time override, 0 = every update
}

// DefaultRxConfig returns the original's documented defaults.
func DefaultRxConfig() RxConfig {
	return RxConfig{
		TimeConstantMs:    100,
		DeviationLongterm: 10.0,
		DeviationUnlock:   1.0,
		LockThreshold1PPM: 10000,
		LockThreshold2PPM: 100,
	}
}

// Rx is a receive-stream-derived clock domain: it reconstructs a
// 64-bit timestamp from the 32-bit AVTP field, recovering the epoch on
// wrap or on a PTP epoch-counter advance, and feeds the base filter
// from the stream's own media-clock/wall-clock deltas (spec §4.3
// "Receive-stream domain"), grounded on IasAvbRxStreamClockDomain.
type Rx struct {
	*Domain

	mu sync.Mutex

	ptpNow func() uint64 // current PTP time source, for epoch recovery
	epoch  func() uint64 // PTP proxy epoch counter, for forced refresh

	lastEpochSeen  uint64
	lastTimestamp  uint64 // reconstructed 64-bit timestamp of the last update
	initialized    bool
}

// NewRx constructs a receive-stream clock domain. ptpNow and epoch are
// typically backed by the same ptpproxy.Proxy used elsewhere.
func NewRx(id uint32, cfg RxConfig, eventRate float64, ptpNow, epoch func() uint64) *Rx {
	r := &Rx{
		Domain: NewDomain(Config{
			ID:              id,
			Type:            TypeRx,
			EventRate:       eventRate,
			TimeConstantSec: cfg.TimeConstantMs * 1e-3,
			CallRate:        eventRate,
			Threshold1PPM:   cfg.LockThreshold1PPM,
			Threshold2PPM:   cfg.LockThreshold2PPM,
		}),
		ptpNow: ptpNow,
		epoch:  epoch,
	}
	return r
}

// Reset re-bases the domain on a freshly observed 32-bit AVTP
// timestamp, reconstructing its upper bits from the current PTP time
// (mirrors IasAvbRxStreamClockDomain::reset).
func (r *Rx) Reset(class uint32, timestamp32 uint32, eventRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = class
	r.Domain.eventRate = eventRate
	full := r.reconstructLocked(timestamp32)
	r.lastTimestamp = full
	r.lastEpochSeen = r.epoch()
	r.initialized = true
	r.Domain.setEventCount(0, full)
}

// reconstructLocked rebuilds the full 64-bit timestamp from a 32-bit
// AVTP field by taking the high 32 bits of the current PTP time and
// detecting wrap against the last reconstructed value; must be called
// with r.mu held.
func (r *Rx) reconstructLocked(timestamp32 uint32) uint64 {
	now := r.ptpNow()
	high := now &^ 0xFFFFFFFF
	candidate := high | uint64(timestamp32)

	if r.initialized {
		lowLast := uint32(r.lastTimestamp)
		// detect wrap in either direction relative to the last value
		if timestamp32 < lowLast && lowLast-timestamp32 > 0x80000000 {
			candidate = high + 0x100000000 | uint64(timestamp32)
		} else if timestamp32 > lowLast && timestamp32-lowLast > 0x80000000 {
			if high >= 0x100000000 {
				candidate = (high - 0x100000000) | uint64(timestamp32)
			} else {
				candidate = uint64(timestamp32)
			}
		}
	}
	return candidate
}

// Update feeds the base filter with the ratio of media-clock events to
// elapsed wall-clock time since the last update (spec §4.3), and
// refreshes the epoch-derived high bits if the PTP proxy reports an
// epoch change since the last call.
func (r *Rx) Update(events uint64, timestamp32 uint32, deltaMediaClock uint64, deltaWallClockNs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return
	}

	count, ts := r.Domain.GetEventCount()
	newCount := count + events
	newTs := ts + deltaWallClockNs
	if e := r.epoch(); e != r.lastEpochSeen {
		r.lastEpochSeen = e
		newTs = r.reconstructLocked(timestamp32)
	}
	r.Domain.setEventCount(newCount, newTs)
	r.lastTimestamp = newTs

	if deltaWallClockNs > 0 {
		ratio := float64(deltaMediaClock) / float64(deltaWallClockNs) / (r.Domain.eventRate / 1e9)
		_ = r.Domain.UpdateRateRatio(ratio)
	}
}

// Invalidate forces the base domain back to unlocked by rerunning
// SetFilter with call rate 1, the way IasAvbRxStreamClockDomain's
// invalidate() does.
func (r *Rx) Invalidate() {
	r.Domain.SetFilter(r.Domain.tc, 1)
}
