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

// PTPTimeSource is the subset of ptpproxy.Proxy a PTP clock domain needs.
type PTPTimeSource interface {
	GetPtpTime() uint64
}

const ptpGranularityNs = 125000

// PTP simulates a 48 kHz counter synchronous to PTP time (spec §4.3
// "PTP domain"). It force-locks at construction by calling
// UpdateRateRatio(1.0) twice, grounded on IasAvbPtpClockDomain's
// constructor.
type PTP struct {
	*Domain
	proxy     PTPTimeSource
	startTime uint64
	lastUpdate uint64
}

// NewPTP constructs a PTP clock domain at eventRate 48000 Hz with
// thresholds 100000/100000 ppm, immediately locked.
func NewPTP(id uint32, proxy PTPTimeSource) *PTP {
	p := &PTP{
		Domain: NewDomain(Config{
			ID:            id,
			Type:          TypePTP,
			EventRate:     48000,
			Threshold1PPM: 100000,
			Threshold2PPM: 100000,
		}),
		proxy: proxy,
	}
	p.Domain.setRefresher(p)
	p.startTime = proxy.GetPtpTime()
	p.lastUpdate = p.startTime
	// Force-lock at construction, mirroring the original two back-to-back
	// updateRateRatio(1.0) calls.
	_ = p.UpdateRateRatio(1.0)
	_ = p.UpdateRateRatio(1.0)
	return p
}

// OnGetEventCount snaps current PTP time to the 125us granularity and
// derives a synthetic event count of (elapsed/62500)*3, the exact
// formula from IasAvbPtpClockDomain::onGetEventCount.
func (p *PTP) OnGetEventCount(d *Domain) {
	now := p.proxy.GetPtpTime()
	snapped := now - (now % ptpGranularityNs)
	p.lastUpdate = snapped
	elapsed := snapped - p.startTime
	events := (elapsed / 62500) * 3
	d.setEventCount(events, snapped)
}
