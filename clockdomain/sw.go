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

// SW is a measurement-driven clock domain; callers advance it directly
// by reporting elapsed events and elapsed local/TSC time (spec §4.3
// "Software domain"), grounded on IasAvbSwClockDomain.
type SW struct {
	*Domain
}

// SWConfig carries the four configuration keys read from the registry
// in the original (cClkSwTimeConstant, cClkSwDeviationLongterm,
// cClkSwDeviationUnlock, cClkSwLockTreshold1/2).
type SWConfig struct {
	TimeConstantMs   float64 // default 20000
	DeviationLongterm float64 // default 50.0 (unused directly; folds into thresholds)
	DeviationUnlock   float64 // default 0.5
	LockThreshold1PPM float64 // default 1000000
	LockThreshold2PPM float64 // default 100
	EventRate         float64
}

// DefaultSWConfig returns the original's documented defaults.
func DefaultSWConfig(eventRate float64) SWConfig {
	return SWConfig{
		TimeConstantMs:    20000,
		DeviationLongterm: 50.0,
		DeviationUnlock:   0.5,
		LockThreshold1PPM: 1000000,
		LockThreshold2PPM: 100,
		EventRate:         eventRate,
	}
}

// NewSW constructs a software clock domain from cfg.
func NewSW(id uint32, cfg SWConfig) *SW {
	s := &SW{
		Domain: NewDomain(Config{
			ID:              id,
			Type:            TypeSW,
			EventRate:       cfg.EventRate,
			TimeConstantSec: cfg.TimeConstantMs * 1e-3,
			CallRate:        cfg.EventRate,
			Threshold1PPM:   cfg.LockThreshold1PPM,
			Threshold2PPM:   cfg.LockThreshold2PPM,
		}),
	}
	return s
}

// Reset reconfigures the filter calling rate without changing other
// filter parameters (mirrors IasAvbSwClockDomain::reset).
func (s *SW) Reset(avgCallsPerSec float64) {
	s.Domain.SetFilter(s.Domain.tc, avgCallsPerSec)
}

// Advance increments the event count and feeds the base filter with
// elapsedTSC/elapsed as the observed rate ratio.
func (s *SW) Advance(events uint64, elapsedNs, elapsedTSC uint64) error {
	count, ts := s.Domain.GetEventCount()
	newCount := count + events
	s.Domain.setEventCount(newCount, ts+elapsedNs)
	if elapsedNs == 0 {
		return nil
	}
	return s.Domain.UpdateRateRatio(float64(elapsedTSC) / float64(elapsedNs))
}

// UpdateRelative multiplies the current externally-visible ratio by
// relErr; intended as bend feedback (spec §4.3).
func (s *SW) UpdateRelative(relErr float64) error {
	return s.Domain.UpdateRateRatio(s.Domain.GetRateRatio() * relErr)
}
