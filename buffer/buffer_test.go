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

package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDescFIFOEvictsOldestOnOverflow mirrors S4: enqueueing beyond
// capacity silently drops the tail (oldest) descriptor rather than
// the newest.
func TestDescFIFOEvictsOldestOnOverflow(t *testing.T) {
	f := NewDescFIFO(2)
	f.Enqueue(Descriptor{TimestampNs: 1, BufIndex: 0, SampleCount: 8})
	f.Enqueue(Descriptor{TimestampNs: 2, BufIndex: 8, SampleCount: 8})
	f.Enqueue(Descriptor{TimestampNs: 3, BufIndex: 16, SampleCount: 8})
	require.Equal(t, 2, f.Len())

	d, err := f.Dequeue()
	require.NoError(t, err)
	require.Equal(t, uint64(2), d.TimestampNs)

	d, err = f.Dequeue()
	require.NoError(t, err)
	require.Equal(t, uint64(3), d.TimestampNs)
}

func TestDescFIFODequeueEmptyReturnsErr(t *testing.T) {
	f := NewDescFIFO(4)
	_, err := f.Dequeue()
	require.Error(t, err)
}

// TestDescFIFOPeekX verifies P3: PeekX(0) is the oldest live element
// and does not remove it.
func TestDescFIFOPeekX(t *testing.T) {
	f := NewDescFIFO(4)
	f.Enqueue(Descriptor{TimestampNs: 10})
	f.Enqueue(Descriptor{TimestampNs: 20})
	f.Enqueue(Descriptor{TimestampNs: 30})

	d, err := f.PeekX(0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), d.TimestampNs)

	d, err = f.PeekX(2)
	require.NoError(t, err)
	require.Equal(t, uint64(30), d.TimestampNs)

	_, err = f.PeekX(3)
	require.Error(t, err)
	require.Equal(t, 3, f.Len())
}

func TestDescFIFOResetRequestAutoClears(t *testing.T) {
	f := NewDescFIFO(4)
	f.Enqueue(Descriptor{TimestampNs: 1})
	f.Reset()
	require.Equal(t, 0, f.Len())
	require.True(t, f.GetResetRequest())
	require.False(t, f.GetResetRequest())
}

func TestRingWriteReadRoundTrip(t *testing.T) {
	r := NewRing(16)
	idx, err := r.Write([]int16{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	out := make([]int16, 4)
	require.NoError(t, r.ReadAt(idx, out))
	require.Equal(t, []int16{1, 2, 3, 4}, out)
}

func TestRingReadAtOverwrittenPositionErrors(t *testing.T) {
	r := NewRing(4)
	_, err := r.Write([]int16{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = r.Write([]int16{5, 6, 7, 8})
	require.NoError(t, err)

	out := make([]int16, 4)
	require.Error(t, r.ReadAt(0, out))
}

func TestRingWriteRejectsOversizedChunk(t *testing.T) {
	r := NewRing(4)
	_, err := r.Write([]int16{1, 2, 3, 4, 5})
	require.Error(t, err)
}
