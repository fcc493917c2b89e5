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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioHeaderRoundTrip(t *testing.T) {
	h := &AudioHeader{
		CommonHeader: CommonHeader{
			Subtype:        SubtypeAudio,
			StreamValid:    true,
			Version:        0,
			SequenceNum:    42,
			TimestampValid: true,
			StreamID:       0x1122334455667788,
			Timestamp:      123456789,
		},
		FormatCode:       FormatSAF16,
		SampleFreqCode:   SampleFreq48000,
		ChannelsPerFrame: 2,
		BitDepth:         16,
		StreamDataLength: 24,
		Sparse:           true,
	}
	buf := make([]byte, AudioHeaderLen)
	n, err := h.MarshalBinaryTo(buf)
	require.NoError(t, err)
	require.Equal(t, AudioHeaderLen, n)

	got, n2, err := UnmarshalAudioHeader(buf)
	require.NoError(t, err)
	require.Equal(t, AudioHeaderLen, n2)
	require.Equal(t, h.StreamID, got.StreamID)
	require.Equal(t, h.SequenceNum, got.SequenceNum)
	require.True(t, got.TimestampValid)
	require.Equal(t, h.FormatCode, got.FormatCode)
	require.Equal(t, h.SampleFreqCode, got.SampleFreqCode)
	require.Equal(t, h.ChannelsPerFrame, got.ChannelsPerFrame)
	require.True(t, got.Sparse)
}

func TestMarshalRejectsShortBuffer(t *testing.T) {
	h := &AudioHeader{}
	_, err := h.MarshalBinaryTo(make([]byte, 4))
	require.Error(t, err)
}

func TestSAF16RoundTrip(t *testing.T) {
	samples := []int16{1, -2, 3, -4, 32767, -32768}
	buf := make([]byte, len(samples)*2)
	n, err := PackSAF16(buf, samples)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	out := make([]int16, len(samples))
	require.NoError(t, UnpackSAF16(buf, len(samples), out))
	require.Equal(t, samples, out)
}

func TestCRFHeaderRoundTripLatest(t *testing.T) {
	h := &CRFHeader{
		Mode:              CRFModeLatest,
		MediaClockRestart: 1,
		Type:              CRSTypeAudio,
		StreamID:          0xaabbccdd11223344,
		Pull:              0,
		BaseFrequency:     48000,
		TimestampsPerPdu:  6,
		TimestampInterval: 160,
	}
	buf := make([]byte, CRFHeaderLenLatest)
	n, err := MarshalCRFHeaderTo(h, buf)
	require.NoError(t, err)
	require.Equal(t, CRFHeaderLenLatest, n)
	require.Equal(t, byte(SubtypeCRFLatest), buf[0])

	got, n2, err := UnmarshalCRFHeader(buf)
	require.NoError(t, err)
	require.Equal(t, CRFHeaderLenLatest, n2)
	require.Equal(t, h.StreamID, got.StreamID)
	require.Equal(t, h.BaseFrequency, got.BaseFrequency)
	require.Equal(t, h.TimestampsPerPdu, got.TimestampsPerPdu)
	require.Equal(t, h.TimestampInterval, got.TimestampInterval)
	require.Equal(t, h.MediaClockRestart, got.MediaClockRestart)
}

func TestCRFHeaderRoundTripD6(t *testing.T) {
	h := &CRFHeader{
		Mode:             CRFModeD6,
		Type:             CRSTypeAudio,
		StreamID:         1,
		BaseFrequency:    24000,
		TimestampsPerPdu: 3,
	}
	buf := make([]byte, CRFHeaderLenD6)
	n, err := MarshalCRFHeaderTo(h, buf)
	require.NoError(t, err)
	require.Equal(t, CRFHeaderLenD6, n)
	require.Equal(t, byte(SubtypeCRFd6), buf[0])
}

func TestPackUnpackTimestamps(t *testing.T) {
	ts := []uint64{1, 2, 3, 4}
	buf := make([]byte, 32)
	n, err := PackTimestamps(buf, ts)
	require.NoError(t, err)
	require.Equal(t, 32, n)

	got, err := UnpackTimestamps(buf, 4)
	require.NoError(t, err)
	require.Equal(t, ts, got)
}
