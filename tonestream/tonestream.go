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

// Package tonestream implements the signal-generator pseudo-source
// used to feed an audio stream's local ring buffer without a real
// ALSA device attached (spec "Test-tone stream").
package tonestream

import (
	"math"

	"github.com/avbsh/streamhandler/avberr"
	"github.com/avbsh/streamhandler/buffer"
)

// Generator writes a fixed-frequency sine tone into a local audio
// ring buffer, one period's worth of samples at a time.
type Generator struct {
	Fs         float64
	ToneHz     float64
	Amplitude  int16
	Channels   int

	phase float64
}

// NewGenerator constructs a tone generator. amplitude is the peak
// sample value (e.g. 0x4000 for a -6dBFS tone at 16-bit depth).
func NewGenerator(fs, toneHz float64, amplitude int16, channels int) (*Generator, error) {
	if fs <= 0 || toneHz <= 0 || channels <= 0 {
		return nil, avberr.ErrInvalidParam
	}
	return &Generator{Fs: fs, ToneHz: toneHz, Amplitude: amplitude, Channels: channels}, nil
}

// FillPeriod writes samplesPerChannel interleaved samples of the tone
// into ring, advancing the generator's phase, and enqueues a matching
// descriptor anchored to timestampNs.
func (g *Generator) FillPeriod(ring *buffer.Ring, desc *buffer.DescFIFO, timestampNs uint64, samplesPerChannel int) error {
	buf := make([]int16, samplesPerChannel*g.Channels)
	step := 2 * math.Pi * g.ToneHz / g.Fs
	for i := 0; i < samplesPerChannel; i++ {
		v := int16(float64(g.Amplitude) * math.Sin(g.phase))
		g.phase += step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		for ch := 0; ch < g.Channels; ch++ {
			buf[i*g.Channels+ch] = v
		}
	}

	idx, err := ring.Write(buf)
	if err != nil {
		return err
	}
	desc.Enqueue(buffer.Descriptor{
		TimestampNs: timestampNs,
		BufIndex:    idx,
		SampleCount: uint32(samplesPerChannel),
	})
	return nil
}
