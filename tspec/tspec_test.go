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

package tspec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S1/P8: 2ch/48kHz/6spp class-A stream bandwidth == 5824 kbit/s;
// 2ch/24kHz/3spp == 5440 kbit/s.
func TestRequiredBandwidthScenarioS1(t *testing.T) {
	ResetTables()

	ts, err := New(ClassHigh, 24+2*2*6, 1)
	require.NoError(t, err)
	require.InDelta(t, 5824.0, ts.RequiredBandwidthKbps(), 1e-9)

	ts2, err := New(ClassHigh, 36, 1)
	require.NoError(t, err)
	require.InDelta(t, 5440.0, ts2.RequiredBandwidthKbps(), 1e-9)
}

func TestNewRejectsZeroIntervalFrames(t *testing.T) {
	_, err := New(ClassHigh, 48, 0)
	require.Error(t, err)
}

func TestStreamIDRoundTrip(t *testing.T) {
	id := StreamID(0x0102030405060708)
	b := id.Bytes()
	got, err := StreamIDFromBytes(b[:])
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestClassDerivedFields(t *testing.T) {
	ResetTables()
	ts, err := New(ClassHigh, 48, 1)
	require.NoError(t, err)
	require.Equal(t, uint8(3), ts.VlanPriority())
	require.Equal(t, uint16(2), ts.VlanID())
	require.Equal(t, uint32(125000), ts.ObservationIntervalNs())
	require.InDelta(t, 8000.0, ts.PacketsPerSecond(), 1e-9)
}
