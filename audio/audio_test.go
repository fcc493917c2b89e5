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

package audio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
	"github.com/avbsh/streamhandler/clockdomain"
	"github.com/avbsh/streamhandler/tspec"
)

func newTestDomain() *clockdomain.Domain {
	return clockdomain.NewDomain(clockdomain.Config{
		ID:        1,
		Type:      clockdomain.TypeSW,
		EventRate: 48000,
	})
}

// TestReferencePlaneResetWithNoClockS5 mirrors S5: a transmit stream
// asked to prepare a packet before its clock domain has ever reported
// a nonzero time emits a dummy packet scheduled 10ms out, and the
// reference plane stays at zero.
func TestReferencePlaneResetWithNoClockS5(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 48, 6)
	require.NoError(t, err)
	domain := newTestDomain()

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(1), domain))
	require.NoError(t, s.TransmitInit(TransmitConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 2, PoolSize: 2,
	}))

	pkt := s.Base.Pool.Get()
	require.NotNil(t, pkt)

	const launch = uint64(1_000_000)
	next, err := s.PrepareTransmitPacket(pkt, launch, nil)
	require.NoError(t, err)
	require.Equal(t, launch+dummyPacketRetryNs, next)
	require.Equal(t, uint64(0), s.refPlaneSampleTime)
}

func buildAudioPacket(t *testing.T, seq uint8, samplesPerChannel int, channels int) []byte {
	t.Helper()
	h := &avtp.AudioHeader{
		CommonHeader: avtp.CommonHeader{
			Subtype:        avtp.SubtypeAudio,
			StreamValid:    true,
			SequenceNum:    seq,
			TimestampValid: true,
			StreamID:       1,
		},
		FormatCode:       avtp.FormatSAF16,
		SampleFreqCode:   avtp.SampleFreq48000,
		ChannelsPerFrame: uint8(channels),
		BitDepth:         16,
		StreamDataLength: uint16(samplesPerChannel * channels * 2),
	}
	buf := make([]byte, avtp.AudioHeaderLen+samplesPerChannel*channels*2)
	n, err := h.MarshalBinaryTo(buf)
	require.NoError(t, err)
	require.Equal(t, avtp.AudioHeaderLen, n)
	return buf
}

// TestReceiveValidationHysteresisS6 mirrors S6.
func TestReceiveValidationHysteresisS6(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 48, 6)
	require.NoError(t, err)
	domain := newTestDomain()

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionReceive, ts, tspec.StreamID(1), domain))
	require.NoError(t, s.ReceiveInit(ReceiveConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 2,
		ValidationThreshold: 100,
	}))

	for i := 0; i < 99; i++ {
		buf := buildAudioPacket(t, uint8(i), int(s.SamplesPerChannelPerPacket), 2)
		require.NoError(t, s.ReceivePacket(buf, nil))
	}
	require.Equal(t, avbstream.StateInvalidData, s.Base.State())

	buf := buildAudioPacket(t, 99, int(s.SamplesPerChannelPerPacket), 2)
	require.NoError(t, s.ReceivePacket(buf, nil))
	require.Equal(t, avbstream.StateValid, s.Base.State())

	// A seq-num-mismatched packet drops back to invalid-data.
	bad := buildAudioPacket(t, 50, int(s.SamplesPerChannelPerPacket), 2)
	require.NoError(t, s.ReceivePacket(bad, nil))
	require.Equal(t, avbstream.StateInvalidData, s.Base.State())
	require.Equal(t, uint64(1), s.Base.Diag.SeqNumMismatch)
}

// TestSequenceNumberWrapToleratedP7 mirrors P7: 0xFF -> 0x00 is not a
// mismatch.
func TestSequenceNumberWrapToleratedP7(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 48, 6)
	require.NoError(t, err)
	domain := newTestDomain()

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionReceive, ts, tspec.StreamID(1), domain))
	require.NoError(t, s.ReceiveInit(ReceiveConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 2,
		ValidationThreshold: 2,
	}))

	buf1 := buildAudioPacket(t, 0xFE, int(s.SamplesPerChannelPerPacket), 2)
	require.NoError(t, s.ReceivePacket(buf1, nil))
	buf2 := buildAudioPacket(t, 0xFF, int(s.SamplesPerChannelPerPacket), 2)
	require.NoError(t, s.ReceivePacket(buf2, nil))
	require.Equal(t, avbstream.StateValid, s.Base.State())

	buf3 := buildAudioPacket(t, 0x00, int(s.SamplesPerChannelPerPacket), 2)
	require.NoError(t, s.ReceivePacket(buf3, nil))
	require.Equal(t, uint64(0), s.Base.Diag.SeqNumMismatch)
	require.Equal(t, avbstream.StateValid, s.Base.State())
}

func TestTransmitInitRejectsNonSAF16(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 48, 6)
	require.NoError(t, err)
	domain := newTestDomain()

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(1), domain))
	require.Error(t, s.TransmitInit(TransmitConfig{Format: 0x01, Fs: 48000, Channels: 2}))
	require.Error(t, s.TransmitInit(TransmitConfig{Format: avtp.FormatSAF16, Fs: 44100, Channels: 2}))
}
