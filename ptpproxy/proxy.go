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

// Package ptpproxy exposes gPTP time and raw-monotonic time, their
// cross-timestamps, an epoch counter, and conversions between the
// local system clock and the PTP clock (spec §4.1). It is a thin,
// pure-Go reimplementation grounded on clock/clock.go's
// clock_gettime-based reads rather than the teacher's cgo fbclock
// bridge, which this domain has no hardware library to link against.
package ptpproxy

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/avbsh/streamhandler/avberr"
)

// refreshInterval is how long an extrapolated getLocalTime reading is
// trusted before the proxy re-reads the NIC PTP hardware clock (spec
// §4.1: "re-reads the NIC when more than ~125 ms has elapsed").
const refreshInterval = 125 * time.Millisecond

// epochStepThresholdNs is the deviation between the extrapolated value
// and a fresh NIC read that signals a phase step (spec §4.1: "2 ms").
const epochStepThresholdNs = 2 * time.Millisecond

// Proxy is the PTP proxy implementation. It reads a PTP hardware clock
// device (typically /dev/ptp0, bound to the NIC's PHC) via
// clock_gettime and derives raw-monotonic and wall-clock readings from
// CLOCK_MONOTONIC_RAW and CLOCK_REALTIME.
type Proxy struct {
	mu sync.Mutex

	clockID int32 // PHC clock id as passed to New
	ready   bool

	lastRefresh   time.Time
	lastLocalNs   uint64
	rawEpochBase  uint64 // first raw sample, subtracted so the first sample is non-zero
	rawEpochSet   bool
	epochCounter  uint64

	// linear conversion factors, recalibrated on each refresh
	sysToPtpOffsetNs int64
	rawToPtpOffsetNs int64
}

// New constructs a Proxy bound to the given PHC clock id. Pass
// unix.CLOCK_REALTIME if no PHC device is available (loopback/test
// mode); production deployments pass the clock id derived from the
// NIC's /dev/ptpN file descriptor.
func New(clockID int32) (*Proxy, error) {
	p := &Proxy{clockID: clockID}
	if _, err := p.readClock(clockID); err != nil {
		return nil, fmt.Errorf("%w: %v", avberr.ErrInitializationFailed, err)
	}
	p.ready = true
	return p, nil
}

func (p *Proxy) readClock(clockID int32) (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockID, &ts); err != nil {
		return 0, err
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec), nil
}

// GetTsc returns the monotonic local clock in ns.
func (p *Proxy) GetTsc() uint64 {
	ns, err := p.readClock(unix.CLOCK_MONOTONIC)
	if err != nil {
		return 0
	}
	return ns
}

// GetRaw returns monotonic-raw time in ns, with an epoch fix-up so
// that the first sample returned to any caller is non-zero.
func (p *Proxy) GetRaw() uint64 {
	ns, err := p.readClock(unix.CLOCK_MONOTONIC_RAW)
	if err != nil {
		return 0
	}
	p.mu.Lock()
	if !p.rawEpochSet {
		p.rawEpochBase = ns
		p.rawEpochSet = true
	}
	base := p.rawEpochBase
	p.mu.Unlock()
	return ns - base + 1
}

// GetLocalTime returns ns extrapolated from the NIC PTP hardware
// clock, re-reading it when more than refreshInterval has elapsed.
func (p *Proxy) GetLocalTime() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.lastRefresh.IsZero() || now.Sub(p.lastRefresh) > refreshInterval {
		fresh, err := p.readClock(p.clockID)
		if err == nil {
			if p.lastLocalNs != 0 {
				extrapolated := p.lastLocalNs + uint64(now.Sub(p.lastRefresh).Nanoseconds())
				var deviation int64
				if fresh > extrapolated {
					deviation = int64(fresh - extrapolated)
				} else {
					deviation = int64(extrapolated - fresh)
				}
				if deviation > epochStepThresholdNs.Nanoseconds() {
					p.epochCounter++
				}
			}
			p.lastLocalNs = fresh
			p.lastRefresh = now
		}
	} else {
		p.lastLocalNs += uint64(now.Sub(p.lastRefresh).Nanoseconds())
		p.lastRefresh = now
	}
	return p.lastLocalNs
}

// GetPtpTime is defined identical to GetLocalTime (spec §4.1 and the
// open question in spec §9: "the comment admits this is an assumption
// and may need separation if the underlying clock diverges").
func (p *Proxy) GetPtpTime() uint64 {
	return p.GetLocalTime()
}

// SysToPtp converts a CLOCK_REALTIME ns value to PTP time using a
// periodically recalibrated linear offset.
func (p *Proxy) SysToPtp(sysNs uint64) uint64 {
	p.recalibrate()
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(int64(sysNs) + p.sysToPtpOffsetNs)
}

// RawToPtp converts a CLOCK_MONOTONIC_RAW ns value to PTP time.
func (p *Proxy) RawToPtp(rawNs uint64) uint64 {
	p.recalibrate()
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(int64(rawNs) + p.rawToPtpOffsetNs)
}

// PtpToSys converts a PTP time value back to CLOCK_REALTIME ns.
func (p *Proxy) PtpToSys(ptpNs uint64) uint64 {
	p.recalibrate()
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(int64(ptpNs) - p.sysToPtpOffsetNs)
}

// recalibrate refreshes the linear sys->ptp and raw->ptp offsets from
// three simultaneous-ish clock reads.
func (p *Proxy) recalibrate() {
	sys, errSys := p.readClock(unix.CLOCK_REALTIME)
	raw, errRaw := p.readClock(unix.CLOCK_MONOTONIC_RAW)
	ptp := p.GetLocalTime()
	if errSys != nil || errRaw != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sysToPtpOffsetNs = int64(ptp) - int64(sys)
	p.rawToPtpOffsetNs = int64(ptp) - int64(raw)
}

// GetEpochCounter returns the number of phase steps observed so far.
func (p *Proxy) GetEpochCounter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epochCounter
}

// IsPtpReady reports whether the proxy was initialized successfully.
func (p *Proxy) IsPtpReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// TriggerStorePersistenceData asks the external PTP daemon to persist
// its own state (spec §6 "Persisted state"); the core persists
// nothing itself. A real deployment would signal the daemon process;
// here it is a no-op hook callers may override by composition.
func (p *Proxy) TriggerStorePersistenceData() error {
	return nil
}
