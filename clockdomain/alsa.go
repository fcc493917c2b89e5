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

// ALSA is the hardware-capture clock domain variant. The original
// source ships this variant with an empty onGetEventCount — behavior
// is explicitly left TBD by the spec's open questions, which direct
// implementers to mirror the raw-monotonic domain's semantics if an
// implementation is needed. We do exactly that: ALSA embeds the same
// measured-ratio refresh Raw uses, driven by the same PTP/raw time
// source, so a hardware-capture device that can report its own raw
// counter gets working lock/ratio behavior for free.
type ALSA struct {
	*Raw
}

// NewALSA constructs an ALSA clock domain. A nominalRate of 0 keeps the
// raw domain's default event rate; it does not disable the domain.
func NewALSA(id uint32, proxy RawTimeSource, nominalRate float64) *ALSA {
	a := &ALSA{Raw: NewRaw(id, proxy)}
	a.Domain.id = id
	a.Domain.typ = TypeALSA
	if nominalRate > 0 {
		a.Domain.eventRate = nominalRate
	}
	return a
}
