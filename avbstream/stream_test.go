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

package avbstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/tspec"
)

func TestAdjustPresentationTimeOffsetRoundsUp(t *testing.T) {
	var b Base
	b.PresentationTimeOffsetNs = 1875000 // class-high default
	b.AdjustPresentationTimeOffset(20833)
	require.Equal(t, uint32(0), b.PresentationTimeOffsetNs%20833)
	require.GreaterOrEqual(t, b.PresentationTimeOffsetNs, uint32(1875000))
}

func TestAdjustPresentationTimeOffsetZeroStepNoop(t *testing.T) {
	var b Base
	b.PresentationTimeOffsetNs = 12345
	b.AdjustPresentationTimeOffset(0)
	require.Equal(t, uint32(12345), b.PresentationTimeOffsetNs)
}

func TestInitRejectsZeroIntervalFrames(t *testing.T) {
	var b Base
	require.Error(t, b.Init(DirectionTransmit, tspec.TSpec{}, tspec.StreamID(1), nil))
}

func TestSetActiveTransitionsState(t *testing.T) {
	ts, err := tspec.New(tspec.ClassHigh, 48, 6)
	require.NoError(t, err)
	var b Base
	require.NoError(t, b.Init(DirectionTransmit, ts, tspec.StreamID(1), nil))
	b.SetState(StateValid)
	b.SetActive(true)
	require.True(t, b.Active())
	require.Equal(t, StateValid, b.State())

	b.SetActive(false)
	require.False(t, b.Active())
	require.Equal(t, StateInactive, b.State())
}

func TestPacketPoolGetPutRoundTrip(t *testing.T) {
	p := NewPacketPool(2, 64)
	a := p.Get()
	require.NotNil(t, a)
	require.Len(t, a.Buf, 64)
	c := p.Get()
	require.NotNil(t, c)
	require.Nil(t, p.Get())

	p.Put(a)
	require.NotNil(t, p.Get())
}
