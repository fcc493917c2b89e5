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

// newTickingDomain returns an SW domain already advanced past t=0, so
// PrepareTransmitPacket runs its full packing path instead of the
// dummy-packet path a fresh domain takes.
func newTickingDomain(t *testing.T) *clockdomain.SW {
	t.Helper()
	sw := clockdomain.NewSW(1, clockdomain.DefaultSWConfig(48000))
	require.NoError(t, sw.Advance(48000, 1_000_000_000, 1_000_000_000))
	return sw
}

// TestTransmitReceiveRoundTripP4 mirrors P4: a full AVTPDU built by one
// stream's PrepareTransmitPacket decodes, through ReceivePacket on a
// second stream, into the same interleaved sample values that went in.
func TestTransmitReceiveRoundTripP4(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 1500, 1)
	require.NoError(t, err)

	txDomain := newTickingDomain(t)

	var tx Stream
	require.NoError(t, tx.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(7), txDomain.Domain))
	require.NoError(t, tx.TransmitInit(TransmitConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 2, PoolSize: 2,
	}))

	var rx Stream
	require.NoError(t, rx.Base.Init(avbstream.DirectionReceive, ts, tspec.StreamID(7), txDomain.Domain))
	require.NoError(t, rx.ReceiveInit(ReceiveConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 2, ValidationMode: ValidationNever,
	}))

	pkt := tx.Base.Pool.Get()
	require.NotNil(t, pkt)

	// channel 0 counts up from 100, channel 1 counts down from -100.
	readFn := func(ch, want int, out []int16) int {
		for i := 0; i < want; i++ {
			if ch == 0 {
				out[i] = int16(100 + i)
			} else {
				out[i] = int16(-100 - i)
			}
		}
		return want
	}
	_, err = tx.PrepareTransmitPacket(pkt, 2_000_000_000, readFn)
	require.NoError(t, err)

	got := make(map[int][]int16)
	writeFn := func(ch int, samples []int16) {
		cp := make([]int16, len(samples))
		copy(cp, samples)
		got[ch] = cp
	}
	require.NoError(t, rx.ReceivePacket(pkt.Buf, writeFn))

	require.Len(t, got[0], int(tx.SamplesPerChannelPerPacket))
	require.Len(t, got[1], int(tx.SamplesPerChannelPerPacket))
	for i := range got[0] {
		require.Equal(t, int16(100+i), got[0][i])
		require.Equal(t, int16(-100-i), got[1][i])
	}
	require.Equal(t, uint64(1), rx.Base.Diag.FramesRx)
}

// TestSparseTimestampingEveryEighthPacketP5 mirrors P5: with Sparse
// set, exactly every 8th packet in a run carries a valid timestamp,
// verified across a full sequence rather than a single header's bit.
func TestSparseTimestampingEveryEighthPacketP5(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 1500, 1)
	require.NoError(t, err)

	domain := newTickingDomain(t)

	var tx Stream
	require.NoError(t, tx.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(9), domain.Domain))
	require.NoError(t, tx.TransmitInit(TransmitConfig{
		Format: avtp.FormatSAF16, Fs: 48000, Channels: 1, PoolSize: 1, Sparse: true,
	}))

	launch := uint64(2_000_000_000)
	for i := 0; i < 24; i++ {
		pkt := tx.Base.Pool.Get()
		require.NotNil(t, pkt)
		next, err := tx.PrepareTransmitPacket(pkt, launch, nil)
		require.NoError(t, err)
		launch = next

		h, _, err := avtp.UnmarshalAudioHeader(pkt.Buf)
		require.NoError(t, err)
		require.Equal(t, i%8 == 0, h.TimestampValid, "packet %d", i)

		tx.Base.Pool.Put(pkt)
	}
}
