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

package tonestream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/buffer"
)

func TestGeneratorFillsPeriodAndEnqueuesDescriptor(t *testing.T) {
	g, err := NewGenerator(48000, 1000, 16000, 2)
	require.NoError(t, err)

	ring := buffer.NewRing(256)
	desc := buffer.NewDescFIFO(4)

	require.NoError(t, g.FillPeriod(ring, desc, 1_000_000, 6))
	require.Equal(t, 1, desc.Len())

	d, err := desc.Dequeue()
	require.NoError(t, err)
	require.Equal(t, uint32(6), d.SampleCount)
	require.Equal(t, uint64(1_000_000), d.TimestampNs)
}

func TestNewGeneratorRejectsInvalidParams(t *testing.T) {
	_, err := NewGenerator(0, 1000, 16000, 2)
	require.Error(t, err)
}
