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

package engine

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/tspec"
)

func TestClassFromString(t *testing.T) {
	c, err := classFromString("high")
	require.NoError(t, err)
	require.Equal(t, tspec.ClassHigh, c)

	c, err = classFromString("B")
	require.NoError(t, err)
	require.Equal(t, tspec.ClassLow, c)

	_, err = classFromString("bogus")
	require.Error(t, err)
}

func TestDirectionFromString(t *testing.T) {
	d, err := directionFromString("tx")
	require.NoError(t, err)
	require.Equal(t, avbstream.DirectionTransmit, d)

	d, err = directionFromString("receive")
	require.NoError(t, err)
	require.Equal(t, avbstream.DirectionReceive, d)

	_, err = directionFromString("sideways")
	require.Error(t, err)
}

func TestFrameBuildsUntaggedAndTaggedEthernet(t *testing.T) {
	base := &avbstream.Base{
		SrcMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC: net.HardwareAddr{0x91, 0xe0, 0xf0, 0x00, 0xfe, 0x00},
	}
	// large enough that neither frame is padded up to the 60-byte
	// Ethernet minimum, so the tag's 4 bytes show in the length
	payload := make([]byte, 64)
	untagged, err := frame(base, payload)
	require.NoError(t, err)
	require.Greater(t, len(untagged), 14)

	base.VlanID = 2
	base.VlanPriority = 3
	tagged, err := frame(base, payload)
	require.NoError(t, err)
	require.Equal(t, len(untagged)+4, len(tagged))
}
