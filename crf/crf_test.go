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

package crf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
	"github.com/avbsh/streamhandler/clockdomain"
	"github.com/avbsh/streamhandler/tspec"
)

func newLockedDomain(t *testing.T) *clockdomain.Domain {
	t.Helper()
	sw := clockdomain.NewSW(1, clockdomain.DefaultSWConfig(48000))
	require.NoError(t, sw.Advance(48000, 1_000_000_000, 1_000_000_000))
	require.NoError(t, sw.Domain.UpdateRateRatio(1.0))
	require.NoError(t, sw.Domain.UpdateRateRatio(1.0))
	return sw.Domain
}

// TestMRBitTogglesOncePerLockTransitionP6 mirrors P6: the toggle
// changes exactly once per unlock->lock transition and is stable
// across at least the next 8 PDUs.
func TestMRBitTogglesOncePerLockTransitionP6(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 24, 6)
	require.NoError(t, err)
	domain := newLockedDomain(t)

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(7), domain))
	require.NoError(t, s.TransmitInit(TransmitConfig{
		Mode: avtp.CRFModeLatest, BaseFrequency: 48000, TimestampsPerPDU: 6, PoolSize: 2,
	}))

	pkt := s.Base.Pool.Get()
	require.NotNil(t, pkt)

	_, err = s.PrepareTransmitPacket(pkt)
	require.NoError(t, err)
	firstMR := s.mrBit
	require.Equal(t, uint8(1), firstMR) // domain was already locked at construction: init->locked counts as a transition

	for i := 0; i < 8; i++ {
		_, err := s.PrepareTransmitPacket(pkt)
		require.NoError(t, err)
		require.Equal(t, firstMR, s.mrBit)
	}
}

// TestTransmitRetriesWithNoMasterTime verifies the CRF dummy-packet
// retry path mirrors the audio stream's S5 behavior.
func TestTransmitRetriesWithNoMasterTime(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 24, 6)
	require.NoError(t, err)
	domain := clockdomain.NewDomain(clockdomain.Config{ID: 2, Type: clockdomain.TypeSW, EventRate: 48000})

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(8), domain))
	require.NoError(t, s.TransmitInit(TransmitConfig{
		Mode: avtp.CRFModeLatest, BaseFrequency: 48000, TimestampsPerPDU: 6, PoolSize: 2,
	}))

	pkt := s.Base.Pool.Get()
	launch, err := s.PrepareTransmitPacket(pkt)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), launch)
	require.Equal(t, uint64(0), s.refPlaneEventTime)
}

func TestCRFHeaderLenByMode(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 24, 6)
	require.NoError(t, err)
	domain := clockdomain.NewDomain(clockdomain.Config{ID: 3, Type: clockdomain.TypeSW, EventRate: 48000})

	var s Stream
	require.NoError(t, s.Base.Init(avbstream.DirectionTransmit, ts, tspec.StreamID(9), domain))
	require.NoError(t, s.TransmitInit(TransmitConfig{
		Mode: avtp.CRFModeD6, BaseFrequency: 48000, TimestampsPerPDU: 6, PoolSize: 1,
	}))
	require.Equal(t, avtp.CRFHeaderLenD6+6*8, s.Base.Pool.PDUSize())
}
