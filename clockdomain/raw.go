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

// RawTimeSource is the subset of ptpproxy.Proxy a raw-monotonic clock
// domain needs.
type RawTimeSource interface {
	GetRaw() uint64
	RawToPtp(raw uint64) uint64
}

// Raw mirrors the PTP domain but is driven by the real measured ratio
// between raw-monotonic and PTP time (spec §4.3 "Raw-monotonic
// domain") — the only variant whose base filter is driven by wall-
// clock measurement rather than a synthetic counter.
type Raw struct {
	*Domain
	proxy RawTimeSource

	mu       sync.Mutex
	lastRaw  uint64
	lastPtp  uint64
	startRaw uint64
	startPtp uint64
}

// NewRaw constructs a raw-monotonic clock domain, immediately locked
// like the PTP domain.
func NewRaw(id uint32, proxy RawTimeSource) *Raw {
	r := &Raw{
		Domain: NewDomain(Config{
			ID:            id,
			Type:          TypeRaw,
			EventRate:     48000,
			Threshold1PPM: 100000,
			Threshold2PPM: 100000,
		}),
		proxy: proxy,
	}
	r.Domain.setRefresher(r)
	r.startRaw = proxy.GetRaw()
	r.lastRaw = r.startRaw
	r.startPtp = proxy.RawToPtp(r.startRaw)
	r.lastPtp = r.startPtp
	_ = r.UpdateRateRatio(1.0)
	_ = r.UpdateRateRatio(1.0)
	return r
}

// OnGetEventCount reads the raw clock, converts to PTP time, and
// updates the base rate ratio with the observed ratio between the
// raw-to-PTP delta and the raw delta, then refreshes the synthetic
// 48kHz counter the same way the PTP domain does.
func (r *Raw) OnGetEventCount(d *Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rawNow := r.proxy.GetRaw()
	ptpNow := r.proxy.RawToPtp(rawNow)

	deltaRaw := rawNow - r.lastRaw
	deltaPtp := ptpNow - r.lastPtp
	if deltaRaw > 0 {
		ratio := float64(deltaPtp) / float64(deltaRaw)
		_ = d.UpdateRateRatio(ratio)
	}
	r.lastRaw = rawNow
	r.lastPtp = ptpNow

	snapped := ptpNow - (ptpNow % ptpGranularityNs)
	events := ((ptpNow - r.startPtp) / 62500) * 3
	d.setEventCount(events, snapped)
}
