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

package avtp

import (
	"encoding/binary"

	"github.com/avbsh/streamhandler/avberr"
)

// FormatCode identifies the audio payload encoding. Only SAF16 is
// wire-supported (spec Non-goals: "only SAF16 is wire-formatted").
type FormatCode uint8

const FormatSAF16 FormatCode = 0x02

// SampleFreqCode is the 4-bit sample-frequency code.
type SampleFreqCode uint8

const (
	SampleFreq48000 SampleFreqCode = 0x5
	SampleFreq24000 SampleFreqCode = 0x9
)

// audioSpecificLen is the length of the audio-specific fields that
// follow CommonHeader: formatCode(1) sfc|channels(1) bitDepth(1)
// streamDataLength(2) packetInfo(1) reserved(2) = 8 bytes.
const audioSpecificLen = 8

// AudioHeaderLen is the total audio AVTPDU header length.
const AudioHeaderLen = CommonHeaderLen + audioSpecificLen

// SparseTimestampBit marks the stream as providing valid timestamps
// only every 8th packet (spec §6).
const SparseTimestampBit = 0x10

// AudioHeader is the full wire header for an audio AVTPDU.
type AudioHeader struct {
	CommonHeader
	FormatCode       FormatCode
	SampleFreqCode   SampleFreqCode
	ChannelsPerFrame uint8 // 4 bits on the wire
	BitDepth         uint8
	StreamDataLength uint16
	Sparse           bool // packet-info bit 0x10
	TimestampUncertain bool
}

// MarshalBinaryTo writes the header into b, returning the number of
// bytes written.
func (h *AudioHeader) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < AudioHeaderLen {
		return 0, avberr.ErrInvalidParam
	}
	n, err := commonHeaderMarshalBinaryTo(&h.CommonHeader, b)
	if err != nil {
		return 0, err
	}
	if h.TimestampUncertain {
		b[3] |= 0x01
	}
	b[n] = byte(h.FormatCode)
	b[n+1] = (byte(h.SampleFreqCode) << 4) | (h.ChannelsPerFrame & 0x0F)
	b[n+2] = h.BitDepth
	binary.BigEndian.PutUint16(b[n+3:n+5], h.StreamDataLength)
	var packetInfo byte
	if h.Sparse {
		packetInfo |= SparseTimestampBit
	}
	b[n+5] = packetInfo
	b[n+6] = 0
	b[n+7] = 0
	return AudioHeaderLen, nil
}

// UnmarshalAudioHeader parses b into a new AudioHeader.
func UnmarshalAudioHeader(b []byte) (*AudioHeader, int, error) {
	if len(b) < AudioHeaderLen {
		return nil, 0, avberr.ErrInvalidParam
	}
	h := &AudioHeader{}
	n, err := unmarshalCommonHeader(b, &h.CommonHeader)
	if err != nil {
		return nil, 0, err
	}
	h.TimestampUncertain = b[3]&0x01 != 0
	h.FormatCode = FormatCode(b[n])
	h.SampleFreqCode = SampleFreqCode(b[n+1] >> 4)
	h.ChannelsPerFrame = b[n+1] & 0x0F
	h.BitDepth = b[n+2]
	h.StreamDataLength = binary.BigEndian.Uint16(b[n+3 : n+5])
	h.Sparse = b[n+5]&SparseTimestampBit != 0
	return h, AudioHeaderLen, nil
}

// PackSAF16 writes interleaved big-endian 16-bit signed samples into b.
func PackSAF16(b []byte, samples []int16) (int, error) {
	need := len(samples) * 2
	if len(b) < need {
		return 0, avberr.ErrInvalidParam
	}
	for i, s := range samples {
		binary.BigEndian.PutUint16(b[i*2:i*2+2], uint16(s))
	}
	return need, nil
}

// UnpackSAF16 reads n interleaved big-endian 16-bit signed samples
// from b into out (len(out) must be >= n).
func UnpackSAF16(b []byte, n int, out []int16) error {
	if len(b) < n*2 || len(out) < n {
		return avberr.ErrInvalidParam
	}
	for i := 0; i < n; i++ {
		out[i] = int16(binary.BigEndian.Uint16(b[i*2 : i*2+2]))
	}
	return nil
}
